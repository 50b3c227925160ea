package gopaddle

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolClosed is returned by Get once the pool has been destroyed.
var ErrPoolClosed = errors.New("predictor pool is closed")

// Pool hands out clones of one predictor to concurrent callers, one caller per predictor at a time.
type Pool struct {
	all   []*Predictor
	items chan *Predictor
	done  chan struct{}
	once  sync.Once
}

// NewPool takes ownership of base and clones it until the pool holds size predictors.
// On error every clone made so far is destroyed; base is left to the caller.
func NewPool(base *Predictor, size int) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}
	pool := &Pool{
		all:   make([]*Predictor, 0, size),
		items: make(chan *Predictor, size),
		done:  make(chan struct{}),
	}
	pool.all = append(pool.all, base)
	for len(pool.all) < size {
		c, err := base.Clone()
		if err != nil {
			var destroyErr error
			for _, p := range pool.all[1:] {
				destroyErr = errors.Join(destroyErr, p.Destroy())
			}
			return nil, errors.Join(err, destroyErr)
		}
		pool.all = append(pool.all, c)
	}
	for _, p := range pool.all {
		pool.items <- p
	}
	return pool, nil
}

// Size is the number of predictors in the pool.
func (p *Pool) Size() int {
	return len(p.all)
}

// Get waits for a free predictor. Only the wait can be cancelled through ctx.
func (p *Pool) Get(ctx context.Context) (*Predictor, error) {
	select {
	case <-p.done:
		return nil, ErrPoolClosed
	default:
	}
	select {
	case pred := <-p.items:
		return pred, nil
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a predictor taken with Get.
func (p *Pool) Put(pred *Predictor) {
	select {
	case <-p.done:
		return
	default:
	}
	p.items <- pred
}

// Destroy destroys every predictor of the pool, base included. Call it once all predictors are back.
func (p *Pool) Destroy() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		for _, pred := range p.all {
			err = errors.Join(err, pred.Destroy())
		}
		p.all = nil
	})
	return err
}
