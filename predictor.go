// Package gopaddle runs Paddle Inference models from Go through the Paddle Inference C API.
// A config.Config is translated into native configuration calls in a fixed order.
// The resulting Predictor owns its native handle until Destroy.
package gopaddle

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/knights-analytics/gopaddle/capi"
	"github.com/knights-analytics/gopaddle/config"
	"github.com/knights-analytics/gopaddle/metrics"
	"github.com/knights-analytics/gopaddle/util/logging"
	"github.com/knights-analytics/gopaddle/util/safeconv"
)

// State is the lifecycle stage of a Predictor.
type State int32

const (
	StateUnconfigured State = iota
	// StateConfiguring means a native config handle exists and sections are being applied.
	StateConfiguring
	// StateReady means the predictor owns a native predictor handle.
	StateReady
	// StateDestroyed means the native handle has been released.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Predictor owns one native predictor handle.
//
// A Predictor is not safe for concurrent use. To run from several goroutines, give each
// one its own Clone, or use a Pool. Run blocks until the engine returns and cannot be
// cancelled; destroying a predictor while Run is in flight is undefined.
type Predictor struct {
	id      string
	engine  capi.Engine
	handle  capi.PredictorHandle
	state   atomic.Int32
	logger  zerolog.Logger
	metrics *metrics.Metrics
	timings *timings

	destroyOnce sync.Once
}

// NewPredictor builds the native config described by cfg and creates a predictor from it.
// Construction either returns a ready predictor or releases every native handle it acquired.
func NewPredictor(cfg config.Config, opts ...PredictorOption) (*Predictor, error) {
	o := predictorOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.engine == nil {
		engine, err := capi.Native()
		if err != nil {
			return nil, err
		}
		o.engine = engine
	}
	if o.logger == nil {
		l := logging.Logger()
		o.logger = &l
	}
	if o.metrics == nil {
		o.metrics = metrics.Default
	}

	p := &Predictor{
		id:      uuid.NewString(),
		engine:  o.engine,
		metrics: o.metrics,
		timings: &timings{},
	}
	p.logger = o.logger.With().Str("predictor", p.id).Logger()

	if err := cfg.Validate(); err != nil {
		p.metrics.RecordConstruction(false)
		return nil, err
	}

	handle, err := p.configure(&cfg)
	if err != nil {
		p.metrics.RecordConstruction(false)
		return nil, err
	}
	p.ready(handle)
	p.metrics.RecordConstruction(true)
	return p, nil
}

// configure runs Configuring: it owns the native config handle until PD_PredictorCreate takes it.
func (p *Predictor) configure(cfg *config.Config) (handle capi.PredictorHandle, err error) {
	p.state.Store(int32(StateConfiguring))
	h := p.engine.ConfigCreate()
	owned := true
	defer func() {
		if owned {
			p.engine.ConfigDestroy(h)
		}
		if err != nil {
			p.state.Store(int32(StateUnconfigured))
		}
	}()

	applied, err := translate(p.engine, h, cfg, p.metrics.RecordSection)
	if err != nil {
		return handle, fmt.Errorf("configuring predictor: %w", err)
	}

	owned = false
	handle = p.engine.PredictorCreate(h)
	if handle.IsNil() {
		return handle, errors.New("native engine failed to create the predictor, check the model source and the engine log")
	}
	p.logger.Debug().Strs("sections", applied).Str("model", cfg.Model.Kind().String()).Msg("predictor created")
	return handle, nil
}

func (p *Predictor) ready(handle capi.PredictorHandle) {
	p.handle = handle
	p.state.Store(int32(StateReady))
	runtime.SetFinalizer(p, (*Predictor).finalize)
}

func (p *Predictor) finalize() {
	if p.State() == StateReady {
		p.logger.Warn().Msg("predictor garbage collected without Destroy")
	}
	_ = p.Destroy()
}

// ID identifies the predictor in logs.
func (p *Predictor) ID() string {
	return p.id
}

// State reports the lifecycle stage.
func (p *Predictor) State() State {
	return State(p.state.Load())
}

func (p *Predictor) live() error {
	if p.State() != StateReady {
		return ErrDestroyed
	}
	return nil
}

// Run executes the model on the current inputs. A *RunError leaves the predictor ready:
// correct the inputs and call Run again.
func (p *Predictor) Run() error {
	if err := p.live(); err != nil {
		return err
	}
	// p must outlive the native call, or its finalizer may release the handle mid-run
	defer runtime.KeepAlive(p)
	start := time.Now()
	ok := p.engine.PredictorRun(p.handle) == capi.True
	elapsed := time.Since(start)
	p.timings.add(elapsed, ok)
	p.metrics.RecordRun(ok, elapsed)
	if !ok {
		p.logger.Warn().Dur("elapsed", elapsed).Msg("predictor run failed")
		return &RunError{PredictorID: p.id}
	}
	return nil
}

// Input returns a view onto the named input slot. Each call returns a new view onto the same slot.
// The name crosses the boundary as a C string, so it is cut at the first NUL byte.
func (p *Predictor) Input(name string) (*Tensor, error) {
	return p.tensor(name, false)
}

// Output returns a view onto the named output slot, as Input does.
func (p *Predictor) Output(name string) (*Tensor, error) {
	return p.tensor(name, true)
}

func (p *Predictor) tensor(name string, output bool) (*Tensor, error) {
	if err := p.live(); err != nil {
		return nil, err
	}
	defer runtime.KeepAlive(p)
	var h capi.TensorHandle
	if output {
		h = p.engine.PredictorGetOutputHandle(p.handle, name)
	} else {
		h = p.engine.PredictorGetInputHandle(p.handle, name)
	}
	if h.IsNil() {
		return nil, &tensorNotFoundError{name: name, output: output}
	}
	return newTensor(p, h), nil
}

// InputNames lists the model inputs.
func (p *Predictor) InputNames() ([]string, error) {
	if err := p.live(); err != nil {
		return nil, err
	}
	defer runtime.KeepAlive(p)
	return p.engine.PredictorGetInputNames(p.handle), nil
}

// OutputNames lists the model outputs.
func (p *Predictor) OutputNames() ([]string, error) {
	if err := p.live(); err != nil {
		return nil, err
	}
	defer runtime.KeepAlive(p)
	return p.engine.PredictorGetOutputNames(p.handle), nil
}

// InputNum is the number of model inputs.
func (p *Predictor) InputNum() (int, error) {
	if err := p.live(); err != nil {
		return 0, err
	}
	defer runtime.KeepAlive(p)
	return safeconv.Uint64ToInt(p.engine.PredictorGetInputNum(p.handle)), nil
}

// OutputNum is the number of model outputs.
func (p *Predictor) OutputNum() (int, error) {
	if err := p.live(); err != nil {
		return 0, err
	}
	defer runtime.KeepAlive(p)
	return safeconv.Uint64ToInt(p.engine.PredictorGetOutputNum(p.handle)), nil
}

// Clone asks the engine for a second predictor sharing the optimized program. The clone owns
// its own handle: destroying either one leaves the other usable.
func (p *Predictor) Clone() (*Predictor, error) {
	if err := p.live(); err != nil {
		return nil, err
	}
	defer runtime.KeepAlive(p)
	h := p.engine.PredictorClone(p.handle)
	if h.IsNil() {
		return nil, fmt.Errorf("native engine failed to clone predictor %s", p.id)
	}
	c := &Predictor{
		id:      uuid.NewString(),
		engine:  p.engine,
		metrics: p.metrics,
		timings: &timings{},
	}
	c.logger = p.logger.With().Str("clone", c.id).Logger()
	c.ready(h)
	c.metrics.RecordClone()
	c.logger.Debug().Msg("predictor cloned")
	return c, nil
}

// ClearIntermediateTensor is a pass-through kept for API compatibility. It performs no action.
func (p *Predictor) ClearIntermediateTensor() error {
	return p.live()
}

// Destroy releases the native handle. It is safe to call more than once; later calls do nothing.
// Tensors obtained from p report ErrDestroyed afterwards.
func (p *Predictor) Destroy() error {
	p.destroyOnce.Do(func() {
		runtime.SetFinalizer(p, nil)
		if p.State() != StateReady {
			p.state.Store(int32(StateDestroyed))
			return
		}
		p.state.Store(int32(StateDestroyed))
		p.engine.PredictorDestroy(p.handle)
		p.handle = capi.PredictorHandle{}
		p.metrics.RecordDestroy()
		p.logger.Debug().Msg("predictor destroyed")
	})
	return nil
}
