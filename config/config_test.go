package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Defaults(ModelFromDir("model"))
	assert.True(t, c.IROptimization)
	assert.True(t, c.MemoryOptimization)
	assert.False(t, c.IRDebug)
	assert.Nil(t, c.GPU)
	assert.Nil(t, c.OptimCacheDir)
	assert.NoError(t, c.Validate())
}

func TestModelValidate(t *testing.T) {
	tests := []struct {
		name  string
		model Model
		ok    bool
		kind  ModelKind
	}{
		{"dir", ModelFromDir("m"), true, ModelDir},
		{"files", ModelFromFiles("m.pdmodel", "m.pdiparams"), true, ModelFiles},
		{"memory", ModelFromMemory([]byte{1}, []byte{2}), true, ModelMemory},
		{"none", Model{}, false, ModelNone},
		{"files missing params", Model{ProgFile: "m.pdmodel"}, false, ModelFiles},
		{"empty program buffer", ModelFromMemory([]byte{}, []byte{2}), false, ModelMemory},
		{"two sources", Model{Dir: "m", ProgFile: "a", ParamsFile: "b"}, false, ModelFiles},
		{"unresolved urls", Model{ProgURL: "a", ParamsURL: "b"}, false, ModelURLs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.model.Kind())
			err := tt.model.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}
}

func TestDynamicShapeSize(t *testing.T) {
	info := DynamicShapeInfo{Name: "x", MinShape: []int32{1, 3, 224}, MaxShape: []int32{1, 3, 224}, OptimShape: []int32{1, 3, 224}}
	n, err := info.ShapeSize()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	info.MaxShape = []int32{1, 3, 224, 224}
	info.OptimShape = []int32{1, 3, 224, 224}
	_, err = info.ShapeSize()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "gpu", verr.Section)
	assert.Contains(t, verr.Reason, "3, 4 and 4")
}

func TestNewWithOptions(t *testing.T) {
	trt := DefaultTensorRT()
	trt.Precision = PrecisionHalf
	c, err := New(ModelFromFiles("m.pdmodel", "m.pdiparams"),
		WithCPUThreads(4),
		WithMKLDNN("conv2d", "pool2d"),
		WithMKLDNNCacheCapacity(10),
		WithGPU(100, 0),
		WithCUDNN(),
		WithTensorRT(trt),
		WithDynamicShape("x", []int32{1, 3}, []int32{8, 3}, []int32{4, 3}),
		WithIRDebug(true),
		WithOptimCacheDir("/tmp/cache"),
		WithProfile(),
	)
	require.NoError(t, err)
	assert.Equal(t, 4, c.CPU.Threads)
	assert.Equal(t, []string{"conv2d", "pool2d"}, c.CPU.MKLDNN.Ops)
	assert.Equal(t, 10, c.CPU.MKLDNN.CacheCapacity)
	assert.True(t, c.GPU.EnableCUDNN)
	require.Len(t, c.GPU.TensorRT.DynamicShapes, 1)
	assert.Equal(t, PrecisionHalf, c.GPU.TensorRT.Precision)
	assert.Equal(t, "/tmp/cache", *c.OptimCacheDir)
	assert.True(t, c.IRDebug)
	assert.True(t, c.Profile)
}

func TestOptionPreconditions(t *testing.T) {
	_, err := New(ModelFromDir("m"), WithTensorRT(DefaultTensorRT()))
	assert.Error(t, err)

	_, err = New(ModelFromDir("m"), WithGPU(100, 0), WithDynamicShape("x", nil, nil, nil))
	assert.Error(t, err)

	_, err = New(ModelFromDir("m"), WithGPU(100, 0), WithTensorRT(DefaultTensorRT()),
		WithDynamicShape("x", []int32{1}, []int32{1, 2}, []int32{1, 2}))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = New(ModelFromDir("m"), WithOptimCacheDir(""))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = New(ModelFromDir("m"), WithLiteEngine(LiteEngine{Precision: "fp64"}))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidateJoinsErrors(t *testing.T) {
	c := Defaults(Model{})
	c.XPU = &XPU{}
	err := c.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "model", verr.Section)
	assert.Contains(t, err.Error(), "xpu")
}

func TestMKLDNNEmptyListIsNotNil(t *testing.T) {
	c, err := New(ModelFromDir("m"), WithMKLDNN())
	require.NoError(t, err)
	assert.NotNil(t, c.CPU.MKLDNN.Ops)
	assert.Empty(t, c.CPU.MKLDNN.Ops)
	assert.Nil(t, c.CPU.MKLDNN.Bfloat16Ops)
}

func TestParseKeepsDefaults(t *testing.T) {
	c, err := Parse([]byte(`{"model": {"dir": "m"}, "ir_debug": true}`), ".json")
	require.NoError(t, err)
	assert.True(t, c.IROptimization)
	assert.True(t, c.MemoryOptimization)
	assert.True(t, c.IRDebug)

	c, err = Parse([]byte("model:\n  dir: m\nir_optimization: false\n"), ".yaml")
	require.NoError(t, err)
	assert.False(t, c.IROptimization)
	assert.True(t, c.MemoryOptimization)

	_, err = Parse([]byte("x"), ".toml")
	assert.Error(t, err)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "predictor.yaml")
	content := `
model:
  prog_file: inference.pdmodel
  params_file: inference.pdiparams
cpu:
  threads: 2
  mkldnn:
    ops: [conv2d]
gpu:
  memory_pool_init_size_mb: 500
  device_id: 0
  tensor_rt:
    workspace_size: 1048576
    max_batch_size: 1
    min_subgraph_size: 3
    precision: int8
    dynamic_shapes:
      - name: x
        min_shape: [1, 3, 112, 112]
        max_shape: [1, 3, 448, 448]
        optim_shape: [1, 3, 224, 224]
optimization_cache_dir: cache
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "inference.pdmodel"), c.Model.ProgFile)
	assert.Equal(t, filepath.Join(dir, "inference.pdiparams"), c.Model.ParamsFile)
	assert.Equal(t, 2, c.CPU.Threads)
	require.NotNil(t, c.GPU)
	require.NotNil(t, c.GPU.TensorRT)
	assert.Equal(t, PrecisionInt8, c.GPU.TensorRT.Precision)
	assert.Equal(t, []int32{1, 3, 224, 224}, c.GPU.TensorRT.DynamicShapes[0].OptimShape)
	assert.Equal(t, "cache", *c.OptimCacheDir)
}

func TestLoadJSONResolvesURLs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.pdmodel"), []byte("program"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.pdiparams"), []byte("params"), 0o600))
	path := filepath.Join(dir, "predictor.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model": {"prog_url": "m.pdmodel", "params_url": "m.pdiparams"}}`), 0o600))

	c, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, ModelMemory, c.Model.Kind())
	assert.Equal(t, []byte("program"), c.Model.ProgBuffer)
	assert.Equal(t, []byte("params"), c.Model.ParamsBuffer)
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "predictor.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model": {"dir": "m"}, "lite": {"precision": "double"}}`), 0o600))
	_, err := Load(context.Background(), path)
	assert.True(t, errors.Is(err, ErrInvalid))

	_, err = Load(context.Background(), filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestMarshalSkipsBuffers(t *testing.T) {
	c := Defaults(ModelFromMemory([]byte("program"), []byte("params")))
	out, err := Marshal(c, ".json")
	require.NoError(t, err)
	assert.NotContains(t, string(out), "program")

	back, err := Parse(out, ".json")
	require.NoError(t, err)
	assert.Equal(t, ModelNone, back.Model.Kind())
}

func TestCloneIsDeep(t *testing.T) {
	dla := int32(0)
	trt := DefaultTensorRT()
	trt.DLACore = &dla
	base, err := New(ModelFromDir("m"),
		WithMKLDNN("conv2d"),
		WithGPU(256, 0),
		WithTensorRT(trt),
		WithDynamicShape("x", []int32{1, 3}, []int32{8, 3}, []int32{4, 3}),
		WithXPU(DefaultXPU()),
		WithLiteEngine(LiteEngine{Precision: PrecisionHalf, PassesFilter: []string{"fuse"}}),
		WithOptimCacheDir("/tmp/cache"),
	)
	require.NoError(t, err)

	c := base.Clone()
	c.CPU.MKLDNN.Ops[0] = "fc"
	c.GPU.DeviceID = 1
	*c.GPU.TensorRT.DLACore = 1
	c.GPU.TensorRT.DynamicShapes[0].MaxShape[0] = 16
	c.XPU.Locked = true
	c.Lite.PassesFilter[0] = "other"
	*c.OptimCacheDir = "/elsewhere"

	assert.Equal(t, []string{"conv2d"}, base.CPU.MKLDNN.Ops)
	assert.Equal(t, int32(0), base.GPU.DeviceID)
	assert.Equal(t, int32(0), *base.GPU.TensorRT.DLACore)
	assert.Equal(t, []int32{8, 3}, base.GPU.TensorRT.DynamicShapes[0].MaxShape)
	assert.False(t, base.XPU.Locked)
	assert.Equal(t, []string{"fuse"}, base.Lite.PassesFilter)
	assert.Equal(t, "/tmp/cache", *base.OptimCacheDir)
}

func TestDynamicShapeDoesNotWriteThroughCopies(t *testing.T) {
	base, err := New(ModelFromDir("m"), WithGPU(256, 0), WithTensorRT(DefaultTensorRT()),
		WithDynamicShape("x", []int32{1}, []int32{4}, []int32{2}))
	require.NoError(t, err)

	// a plain copy shares the GPU section until an option replaces it
	shared := base
	require.NoError(t, WithDynamicShape("y", []int32{1}, []int32{4}, []int32{2})(&shared))

	assert.Len(t, base.GPU.TensorRT.DynamicShapes, 1)
	assert.Len(t, shared.GPU.TensorRT.DynamicShapes, 2)
	assert.Equal(t, "y", shared.GPU.TensorRT.DynamicShapes[1].Name)
}
