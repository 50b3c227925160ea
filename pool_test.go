package gopaddle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knights-analytics/gopaddle/capi"
	"github.com/knights-analytics/gopaddle/config"
)

func TestPool(t *testing.T) {
	rec := capi.NewRecorder()
	base, err := NewPredictor(config.Defaults(config.ModelFromDir("m")), testOptions(rec, nil)...)
	require.NoError(t, err)

	pool, err := NewPool(base, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, pool.Size())
	assert.Equal(t, 2, rec.Count("PD_PredictorClone"))

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(v float32) {
			defer wg.Done()
			p, getErr := pool.Get(context.Background())
			if !assert.NoError(t, getErr) {
				return
			}
			defer pool.Put(p)
			in, inErr := p.Input("x")
			if !assert.NoError(t, inErr) {
				return
			}
			defer in.Close()
			assert.NoError(t, in.Reshape([]int32{1}))
			assert.NoError(t, CopyFromCPU(in, []float32{v}))
			assert.NoError(t, p.Run())
		}(float32(i))
	}
	wg.Wait()

	require.NoError(t, pool.Destroy())
	require.NoError(t, pool.Destroy())
	assert.Zero(t, rec.LivePredictors())
	assert.Equal(t, StateDestroyed, base.State())

	_, err = pool.Get(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolGetHonoursContext(t *testing.T) {
	rec := capi.NewRecorder()
	base, err := NewPredictor(config.Defaults(config.ModelFromDir("m")), testOptions(rec, nil)...)
	require.NoError(t, err)
	pool, err := NewPool(base, 1)
	require.NoError(t, err)
	defer pool.Destroy()

	p, err := pool.Get(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pool.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Put(p)
	again, err := pool.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, p, again)
	pool.Put(again)
}

func TestPoolInvalidSize(t *testing.T) {
	rec := capi.NewRecorder()
	base, err := NewPredictor(config.Defaults(config.ModelFromDir("m")), testOptions(rec, nil)...)
	require.NoError(t, err)
	defer base.Destroy()

	_, err = NewPool(base, 0)
	assert.Error(t, err)
}
