package gopaddle

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knights-analytics/gopaddle/capi"
	"github.com/knights-analytics/gopaddle/config"
	"github.com/knights-analytics/gopaddle/metrics"
)

func testOptions(rec *capi.Recorder, m *metrics.Metrics) []PredictorOption {
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	return []PredictorOption{WithEngine(rec), WithLogger(zerolog.Nop()), WithMetrics(m)}
}

func newTestPredictor(t *testing.T, cfg config.Config, opts ...capi.RecorderOption) (*Predictor, *capi.Recorder) {
	t.Helper()
	rec := capi.NewRecorder(opts...)
	p, err := NewPredictor(cfg, testOptions(rec, nil)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, p.Destroy())
	})
	return p, rec
}

func setInput(t *testing.T, p *Predictor, name string, shape []int32, data []float32) {
	t.Helper()
	in, err := p.Input(name)
	require.NoError(t, err)
	defer func() { assert.NoError(t, in.Close()) }()
	require.NoError(t, in.Reshape(shape))
	require.NoError(t, CopyFromCPU(in, data))
}

func TestNewPredictorCPUThreads(t *testing.T) {
	cfg, err := config.New(config.ModelFromDir("model"), config.WithCPUThreads(4))
	require.NoError(t, err)

	p, rec := newTestPredictor(t, cfg)
	assert.Equal(t, StateReady, p.State())
	assert.NotEmpty(t, p.ID())
	assert.Equal(t, []string{
		"PD_ConfigCreate",
		"PD_ConfigSetModelDir",
		"PD_ConfigSetCpuMathLibraryNumThreads",
		"PD_ConfigSwitchIrOptim",
		"PD_ConfigSwitchIrDebug",
		"PD_ConfigEnableMemoryOptim",
		"PD_PredictorCreate",
	}, rec.Names())
	assert.Equal(t, []any{int32(4)}, findCall(t, rec, "PD_ConfigSetCpuMathLibraryNumThreads").Args)
	assert.Equal(t, []any{capi.True}, findCall(t, rec, "PD_ConfigSwitchIrOptim").Args)
	assert.Equal(t, []any{capi.True}, findCall(t, rec, "PD_ConfigEnableMemoryOptim").Args)
	assert.Empty(t, gpuCalls(rec))
	assert.Zero(t, rec.Count("PD_ConfigEnableXpu"))
	assert.Zero(t, rec.Count("PD_ConfigEnableONNXRuntime"))
	// the config handle went to the predictor, it is not destroyed separately
	assert.Zero(t, rec.Count("PD_ConfigDestroy"))
	assert.Zero(t, rec.LiveConfigs())
}

func TestNewPredictorGPUWithTensorRT(t *testing.T) {
	cfg, err := config.New(config.ModelFromFiles("m.pdmodel", "m.pdiparams"),
		config.WithGPU(512, 0),
		config.WithCUDNN(),
		config.WithTensorRT(config.TensorRT{
			WorkspaceSize:   1 << 20,
			MaxBatchSize:    1,
			MinSubgraphSize: 3,
			Precision:       config.PrecisionFloat32,
		}),
	)
	require.NoError(t, err)

	_, rec := newTestPredictor(t, cfg)
	assert.Equal(t, []string{"PD_ConfigEnableUseGpu", "PD_ConfigEnableCudnn", "PD_ConfigEnableTensorRtEngine"}, gpuCalls(rec))
	assert.Zero(t, rec.Count("PD_ConfigSetTrtDynamicShapeInfo"))
	assert.Equal(t, []any{uint64(512), int32(0)}, findCall(t, rec, "PD_ConfigEnableUseGpu").Args)
	assert.Equal(t, []any{int64(1 << 20), int32(1), int32(3), capi.PrecisionFloat32, capi.False, capi.False},
		findCall(t, rec, "PD_ConfigEnableTensorRtEngine").Args)
}

func TestNewPredictorMismatchedDynamicShapes(t *testing.T) {
	trt := config.DefaultTensorRT()
	trt.DynamicShapes = []config.DynamicShapeInfo{
		{Name: "a", MinShape: []int32{1, 3, 224}, MaxShape: []int32{1, 3, 224}, OptimShape: []int32{1, 3, 224}},
		{Name: "b", MinShape: []int32{1, 3, 224}, MaxShape: []int32{1, 3, 224, 224}, OptimShape: []int32{1, 3, 224, 224}},
	}
	cfg := config.Defaults(config.ModelFromDir("m"))
	cfg.GPU = &config.GPU{MemoryPoolInitSizeMB: 100, TensorRT: &trt}

	rec := capi.NewRecorder()
	m := metrics.New(prometheus.NewRegistry())
	p, err := NewPredictor(cfg, testOptions(rec, m)...)
	assert.Nil(t, p)
	assert.ErrorIs(t, err, ErrPrecondition)
	var perr *PreconditionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "gpu", perr.Section)
	assert.Empty(t, rec.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Constructions.WithLabelValues("failure")))
}

func TestConfigureReleasesPartialConfig(t *testing.T) {
	trt := config.DefaultTensorRT()
	trt.DynamicShapes = []config.DynamicShapeInfo{{Name: "x", MinShape: []int32{1}, MaxShape: []int32{1, 2}, OptimShape: []int32{1}}}
	cfg := config.Defaults(config.ModelFromDir("m"))
	cfg.GPU = &config.GPU{TensorRT: &trt}

	rec := capi.NewRecorder()
	p := &Predictor{engine: rec, logger: zerolog.Nop(), metrics: metrics.New(prometheus.NewRegistry()), timings: &timings{}}
	_, err := p.configure(&cfg)
	require.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, StateUnconfigured, p.State())
	assert.Equal(t, []string{"PD_ConfigCreate", "PD_ConfigSetModelDir", "PD_ConfigDestroy"}, rec.Names())
	assert.Equal(t, 1, rec.DestroyedConfigs())
	assert.Zero(t, rec.LiveConfigs())
}

func TestNewPredictorCreateFailure(t *testing.T) {
	rec := capi.NewRecorder(capi.WithFailingPredictorCreate())
	m := metrics.New(prometheus.NewRegistry())
	p, err := NewPredictor(config.Defaults(config.ModelFromDir("m")), testOptions(rec, m)...)
	assert.Nil(t, p)
	require.Error(t, err)
	// PD_PredictorCreate consumed the handle, destroying it again would be a double free
	assert.Zero(t, rec.Count("PD_ConfigDestroy"))
	assert.Zero(t, rec.LiveConfigs())
	assert.Zero(t, rec.LivePredictors())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Constructions.WithLabelValues("failure")))
	assert.Zero(t, testutil.ToFloat64(m.PredictorsLive))
}

func TestModelAppliedFirst(t *testing.T) {
	trt := config.DefaultTensorRT()
	builds := [][]config.WithOption{
		{config.WithProfile(), config.WithCPUThreads(2)},
		{config.WithDisableLog(), config.WithGPU(100, 0), config.WithTensorRT(trt), config.WithMKLDNN("conv2d")},
		{config.WithLiteEngine(config.LiteEngine{Precision: config.PrecisionInt8}), config.WithXPU(config.DefaultXPU()), config.WithONNXRuntime(true)},
		{config.WithOptimCacheDir("cache"), config.WithIRDebug(true), config.WithMemoryOptimization(false)},
	}
	models := []config.Model{
		config.ModelFromDir("m"),
		config.ModelFromFiles("m.pdmodel", "m.pdiparams"),
		config.ModelFromMemory([]byte("program"), []byte("params")),
	}
	for _, model := range models {
		for _, opts := range builds {
			cfg, err := config.New(model, opts...)
			require.NoError(t, err)
			_, rec := newTestPredictor(t, cfg)
			names := rec.Names()
			require.GreaterOrEqual(t, len(names), 2)
			assert.Equal(t, "PD_ConfigCreate", names[0])
			assert.Contains(t, []string{"PD_ConfigSetModel", "PD_ConfigSetModelDir", "PD_ConfigSetModelBuffer"}, names[1])
		}
	}
}

func TestInputViewsShareSlot(t *testing.T) {
	p, _ := newTestPredictor(t, config.Defaults(config.ModelFromDir("m")))

	first, err := p.Input("x")
	require.NoError(t, err)
	second, err := p.Input("x")
	require.NoError(t, err)

	require.NoError(t, first.Reshape([]int32{2, 2}))
	require.NoError(t, CopyFromCPU(first, []float32{1, 2, 3, 4}))

	shape, err := second.Shape()
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 2}, shape)
	data, err := CopyToCPU[float32](second)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, data)

	require.NoError(t, first.Close())
	require.NoError(t, second.Close())
}

func TestRunFailureThenSuccess(t *testing.T) {
	p, _ := newTestPredictor(t, config.Defaults(config.ModelFromDir("m")))

	err := p.Run()
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.Equal(t, p.ID(), runErr.PredictorID)
	assert.Equal(t, StateReady, p.State())

	setInput(t, p, "x", []int32{1, 3}, []float32{0.5, 1.5, 2.5})
	require.NoError(t, p.Run())

	out, err := p.Output("out")
	require.NoError(t, err)
	defer out.Close()
	data, err := CopyToCPU[float32](out)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 1.5, 2.5}, data)

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Runs)
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Len(t, p.GetStats(), 2)
}

func TestNamesAndCounts(t *testing.T) {
	p, _ := newTestPredictor(t, config.Defaults(config.ModelFromDir("m")),
		capi.WithInputNames("ids", "mask"), capi.WithOutputNames("logits"))

	inputs, err := p.InputNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"ids", "mask"}, inputs)
	outputs, err := p.OutputNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"logits"}, outputs)

	n, err := p.InputNum()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = p.OutputNum()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = p.Input("logits")
	assert.ErrorIs(t, err, ErrUnknownTensor)
	_, err = p.Output("missing")
	assert.ErrorIs(t, err, ErrUnknownTensor)
	assert.Contains(t, err.Error(), "OutputNames")
}

func TestCloneIndependence(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	rec := capi.NewRecorder()
	p, err := NewPredictor(config.Defaults(config.ModelFromDir("m")), testOptions(rec, m)...)
	require.NoError(t, err)
	defer p.Destroy()

	setInput(t, p, "x", []int32{2}, []float32{1, 2})
	in, err := p.Input("x")
	require.NoError(t, err)
	defer in.Close()

	clone, err := p.Clone()
	require.NoError(t, err)
	assert.NotEqual(t, p.ID(), clone.ID())
	assert.Equal(t, 2, rec.LivePredictors())

	// the clone has its own slots
	_, err = clone.Input("x")
	require.NoError(t, err)
	assert.Error(t, clone.Run())

	require.NoError(t, clone.Destroy())
	assert.Equal(t, StateDestroyed, clone.State())
	assert.Equal(t, 1, rec.LivePredictors())

	shape, err := in.Shape()
	require.NoError(t, err)
	assert.Equal(t, []int32{2}, shape)
	require.NoError(t, p.Run())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Clones))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Destroys))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PredictorsLive))
}

func TestDestroy(t *testing.T) {
	rec := capi.NewRecorder()
	p, err := NewPredictor(config.Defaults(config.ModelFromDir("m")), testOptions(rec, nil)...)
	require.NoError(t, err)

	in, err := p.Input("x")
	require.NoError(t, err)

	require.NoError(t, p.Destroy())
	require.NoError(t, p.Destroy())
	assert.Equal(t, 1, rec.Count("PD_PredictorDestroy"))
	assert.Equal(t, StateDestroyed, p.State())
	assert.Zero(t, rec.LivePredictors())

	assert.ErrorIs(t, p.Run(), ErrDestroyed)
	_, err = p.Input("x")
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = p.InputNames()
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = p.OutputNum()
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = p.Clone()
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, p.ClearIntermediateTensor(), ErrDestroyed)

	_, err = in.Shape()
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, in.Reshape([]int32{1}), ErrDestroyed)
	// releasing the view is still allowed
	require.NoError(t, in.Close())
	assert.Zero(t, rec.LiveTensors())
}

func TestClearIntermediateTensorIsNoOp(t *testing.T) {
	p, rec := newTestPredictor(t, config.Defaults(config.ModelFromDir("m")))
	before := len(rec.Calls())
	require.NoError(t, p.ClearIntermediateTensor())
	assert.Len(t, rec.Calls(), before)
}

func TestNativeDisabledByDefault(t *testing.T) {
	if _, err := capi.Native(); err == nil {
		t.Skip("native engine compiled in")
	}
	_, err := NewPredictor(config.Defaults(config.ModelFromDir("m")))
	assert.True(t, errors.Is(err, ErrNativeDisabled))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unconfigured", StateUnconfigured.String())
	assert.Equal(t, "configuring", StateConfiguring.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "destroyed", StateDestroyed.String())
}

func TestHandlesOutliveNativeCalls(t *testing.T) {
	// collect garbage in the middle of each call, while nothing but the call references the owner
	rec := capi.NewRecorder(capi.WithBeforeCall(func(name string) {
		switch name {
		case "PD_PredictorGetInputNames", "PD_PredictorGetOutputNum", "PD_TensorGetShape":
			runtime.GC()
			runtime.GC()
			time.Sleep(10 * time.Millisecond)
		}
	}))
	newUnowned := func() *Predictor {
		p, err := NewPredictor(config.Defaults(config.ModelFromDir("m")), testOptions(rec, nil)...)
		require.NoError(t, err)
		return p
	}
	inputOf := func(p *Predictor) *Tensor {
		in, err := p.Input("x")
		require.NoError(t, err)
		require.NoError(t, in.Reshape([]int32{2, 2}))
		return in
	}

	assert.NotPanics(t, func() {
		names, err := newUnowned().InputNames()
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, names)
	})
	assert.NotPanics(t, func() {
		n, err := newUnowned().OutputNum()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
	assert.NotPanics(t, func() {
		shape, err := inputOf(newUnowned()).Shape()
		require.NoError(t, err)
		assert.Equal(t, []int32{2, 2}, shape)
	})
}
