// Package config describes how a predictor should be built.
//
// Everything here is plain data: building, copying or validating a Config never
// touches the native engine. A plain copy of a Config shares its optional sections and
// slices; use Clone before modifying a copy. The translator in the root package turns a Config
// into native calls.
package config

import (
	"errors"
	"fmt"
	"slices"
)

// Precision is the compute precision requested from TensorRT or Lite.
type Precision string

const (
	PrecisionFloat32 Precision = "float32"
	PrecisionHalf    Precision = "half"
	PrecisionInt8    Precision = "int8"
)

func (p Precision) valid() bool {
	switch p {
	case PrecisionFloat32, PrecisionHalf, PrecisionInt8:
		return true
	}
	return false
}

// Config aggregates every setting applied onto a native config handle.
type Config struct {
	// Model is always applied first.
	Model Model `json:"model" yaml:"model"`
	CPU   CPU   `json:"cpu" yaml:"cpu"`
	// GPU enables CUDA execution when set.
	GPU *GPU `json:"gpu,omitempty" yaml:"gpu,omitempty"`
	// XPU enables Kunlun XPU execution when set.
	XPU *XPU `json:"xpu,omitempty" yaml:"xpu,omitempty"`
	// ONNXRuntime switches execution to ONNX Runtime when set.
	ONNXRuntime *ONNXRuntime `json:"onnx_runtime,omitempty" yaml:"onnx_runtime,omitempty"`
	// IROptimization turns graph IR optimization on. Default true.
	IROptimization bool `json:"ir_optimization" yaml:"ir_optimization"`
	// IRDebug dumps a dot file after every IR pass. Default false.
	IRDebug bool `json:"ir_debug" yaml:"ir_debug"`
	// Lite runs supported subgraphs through Paddle Lite when set.
	Lite *LiteEngine `json:"lite,omitempty" yaml:"lite,omitempty"`
	// MemoryOptimization enables memory/GPU memory reuse. Default true.
	MemoryOptimization bool `json:"memory_optimization" yaml:"memory_optimization"`
	// OptimCacheDir is where optimization caches (TensorRT engines among them) are written.
	// It is required for TensorRT int8 with a model loaded from memory.
	OptimCacheDir    *string `json:"optimization_cache_dir,omitempty" yaml:"optimization_cache_dir,omitempty"`
	DisableFCPadding bool    `json:"disable_fc_padding" yaml:"disable_fc_padding"`
	// Profile prints per-op timings when the predictor finishes.
	Profile bool `json:"profile" yaml:"profile"`
	// DisableLog silences glog output from the engine.
	DisableLog bool `json:"disable_log" yaml:"disable_log"`
}

// Defaults returns a Config for model with IR optimization and memory optimization on.
func Defaults(model Model) Config {
	return Config{
		Model:              model,
		IROptimization:     true,
		MemoryOptimization: true,
	}
}

// Clone returns a deep copy of c. Model buffers are shared, they are never written to.
func (c Config) Clone() Config {
	out := c
	if c.CPU.MKLDNN != nil {
		m := *c.CPU.MKLDNN
		m.Ops = slices.Clone(m.Ops)
		m.Bfloat16Ops = slices.Clone(m.Bfloat16Ops)
		out.CPU.MKLDNN = &m
	}
	if c.GPU != nil {
		g := *c.GPU
		if g.TensorRT != nil {
			trt := g.TensorRT.clone()
			g.TensorRT = &trt
		}
		out.GPU = &g
	}
	if c.XPU != nil {
		x := *c.XPU
		x.AutotuneFile = clonePtr(x.AutotuneFile)
		out.XPU = &x
	}
	if c.ONNXRuntime != nil {
		o := *c.ONNXRuntime
		out.ONNXRuntime = &o
	}
	if c.Lite != nil {
		l := *c.Lite
		l.PassesFilter = slices.Clone(l.PassesFilter)
		l.OpsFilter = slices.Clone(l.OpsFilter)
		out.Lite = &l
	}
	out.OptimCacheDir = clonePtr(c.OptimCacheDir)
	return out
}

func (t TensorRT) clone() TensorRT {
	out := t
	out.DLACore = clonePtr(t.DLACore)
	if t.DynamicShapes != nil {
		out.DynamicShapes = make([]DynamicShapeInfo, len(t.DynamicShapes))
		for i, d := range t.DynamicShapes {
			out.DynamicShapes[i] = DynamicShapeInfo{
				Name:       d.Name,
				MinShape:   slices.Clone(d.MinShape),
				MaxShape:   slices.Clone(d.MaxShape),
				OptimShape: slices.Clone(d.OptimShape),
			}
		}
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// CPU configures the math library and MKLDNN.
type CPU struct {
	// Threads is applied only when positive.
	Threads int     `json:"threads,omitempty" yaml:"threads,omitempty"`
	MKLDNN  *MKLDNN `json:"mkldnn,omitempty" yaml:"mkldnn,omitempty"`
}

// MKLDNN configures oneDNN acceleration on CPU.
type MKLDNN struct {
	// CacheCapacity bounds the per-input-shape cache; applied only when positive.
	CacheCapacity int `json:"cache_capacity,omitempty" yaml:"cache_capacity,omitempty"`
	// Ops, when non-nil, enables MKLDNN and restricts it to these ops.
	Ops []string `json:"ops,omitempty" yaml:"ops,omitempty"`
	// Bfloat16Ops, when non-nil, enables MKLDNN bfloat16 for these ops.
	Bfloat16Ops []string `json:"bfloat16_ops,omitempty" yaml:"bfloat16_ops,omitempty"`
}

// GPU configures CUDA execution.
type GPU struct {
	// MemoryPoolInitSizeMB is the initial GPU memory pool, in MB.
	MemoryPoolInitSizeMB uint64 `json:"memory_pool_init_size_mb" yaml:"memory_pool_init_size_mb"`
	DeviceID             int32  `json:"device_id" yaml:"device_id"`
	// EnableMultiStream binds one stream per thread.
	EnableMultiStream bool      `json:"enable_multi_stream" yaml:"enable_multi_stream"`
	EnableCUDNN       bool      `json:"enable_cudnn" yaml:"enable_cudnn"`
	TensorRT          *TensorRT `json:"tensor_rt,omitempty" yaml:"tensor_rt,omitempty"`
}

// TensorRT configures the Paddle-TRT subgraph engine. It only takes effect with GPU enabled.
// Models carrying LoD information (BERT, ERNIE and similar) need DynamicShapes.
type TensorRT struct {
	WorkspaceSize int64 `json:"workspace_size" yaml:"workspace_size"`
	// MaxBatchSize bounds the runtime batch size.
	MaxBatchSize int32 `json:"max_batch_size" yaml:"max_batch_size"`
	// MinSubgraphSize is the node count above which a subgraph runs in TensorRT.
	MinSubgraphSize int32     `json:"min_subgraph_size" yaml:"min_subgraph_size"`
	Precision       Precision `json:"precision" yaml:"precision"`
	// UseStatic serializes the optimized engine to disk on first run and reloads it afterwards.
	UseStatic bool `json:"use_static" yaml:"use_static"`
	// UseCalibMode runs int8 offline calibration.
	UseCalibMode  bool               `json:"use_calib_mode" yaml:"use_calib_mode"`
	DynamicShapes []DynamicShapeInfo `json:"dynamic_shapes,omitempty" yaml:"dynamic_shapes,omitempty"`
	// DisablePluginFP16 keeps TensorRT plugins out of fp16. Only meaningful with DynamicShapes.
	DisablePluginFP16 bool `json:"disable_plugin_fp16" yaml:"disable_plugin_fp16"`
	EnableOSS         bool `json:"enable_oss" yaml:"enable_oss"`
	// DLACore selects a DLA device, 0 to count-1.
	DLACore *int32 `json:"dla_core,omitempty" yaml:"dla_core,omitempty"`
}

// DefaultTensorRT mirrors the engine's own defaults: 1 MiB workspace, batch 1, subgraphs of 3+ nodes, float32.
func DefaultTensorRT() TensorRT {
	return TensorRT{
		WorkspaceSize:   1 << 20,
		MaxBatchSize:    1,
		MinSubgraphSize: 3,
		Precision:       PrecisionFloat32,
	}
}

// DynamicShapeInfo is the shape range of one input under TensorRT.
// MinShape, MaxShape and OptimShape must have the same length.
type DynamicShapeInfo struct {
	Name       string  `json:"name" yaml:"name"`
	MinShape   []int32 `json:"min_shape" yaml:"min_shape"`
	MaxShape   []int32 `json:"max_shape" yaml:"max_shape"`
	OptimShape []int32 `json:"optim_shape" yaml:"optim_shape"`
}

// ShapeSize returns the common rank of the three shapes.
func (d DynamicShapeInfo) ShapeSize() (int, error) {
	if len(d.MinShape) != len(d.MaxShape) || len(d.MinShape) != len(d.OptimShape) {
		return 0, &ValidationError{
			Section: "gpu",
			Field:   "tensor_rt.dynamic_shapes[" + d.Name + "]",
			Reason: fmt.Sprintf("min, max and optim shapes must have the same length, got %d, %d and %d",
				len(d.MinShape), len(d.MaxShape), len(d.OptimShape)),
		}
	}
	return len(d.MinShape), nil
}

// XPU configures Kunlun XPU execution.
type XPU struct {
	// L3WorkspaceSize is the L3 cache reserved on the card.
	L3WorkspaceSize int32 `json:"l3_workspace_size" yaml:"l3_workspace_size"`
	// Locked keeps the L3 cache exclusive. When false several models may share it and run sequentially.
	Locked bool `json:"locked" yaml:"locked"`
	// Autotune searches conv algorithms the first time each shape is seen.
	Autotune bool `json:"autotune" yaml:"autotune"`
	// AutotuneFile replays tuned algorithms instead of searching. Nil passes NULL to the engine.
	AutotuneFile *string `json:"autotune_file,omitempty" yaml:"autotune_file,omitempty"`
	// Precision of multi_encoder.
	Precision string `json:"precision" yaml:"precision"`
	// AdaptiveSeqlen marks multi_encoder inputs as variable length.
	AdaptiveSeqlen bool `json:"adaptive_seqlen" yaml:"adaptive_seqlen"`
}

// DefaultXPU mirrors the engine's defaults.
func DefaultXPU() XPU {
	return XPU{
		L3WorkspaceSize: 0xfffc00,
		Autotune:        true,
		Precision:       "int16",
	}
}

// ONNXRuntime switches execution to ONNX Runtime.
type ONNXRuntime struct {
	EnableOptimization bool `json:"enable_optimization" yaml:"enable_optimization"`
}

// LiteEngine runs supported subgraphs through Paddle Lite.
type LiteEngine struct {
	Precision    Precision `json:"precision" yaml:"precision"`
	ZeroCopy     bool      `json:"zero_copy" yaml:"zero_copy"`
	PassesFilter []string  `json:"passes_filter,omitempty" yaml:"passes_filter,omitempty"`
	OpsFilter    []string  `json:"ops_filter,omitempty" yaml:"ops_filter,omitempty"`
}

// ErrInvalid is matched by every ValidationError.
var ErrInvalid = errors.New("invalid configuration")

// ValidationError is a precondition violation found before any native call for Section.
type ValidationError struct {
	Section string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s configuration: %s: %s", e.Section, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Validate checks the CPU section.
func (c CPU) Validate() error {
	if c.MKLDNN == nil {
		return nil
	}
	for _, op := range c.MKLDNN.Ops {
		if op == "" {
			return &ValidationError{Section: "cpu", Field: "mkldnn.ops", Reason: "empty op name"}
		}
	}
	for _, op := range c.MKLDNN.Bfloat16Ops {
		if op == "" {
			return &ValidationError{Section: "cpu", Field: "mkldnn.bfloat16_ops", Reason: "empty op name"}
		}
	}
	return nil
}

// Validate checks the GPU section, TensorRT included.
func (g *GPU) Validate() error {
	if g == nil || g.TensorRT == nil {
		return nil
	}
	trt := g.TensorRT
	if !trt.Precision.valid() {
		return &ValidationError{Section: "gpu", Field: "tensor_rt.precision", Reason: fmt.Sprintf("unknown precision %q", trt.Precision)}
	}
	for i, info := range trt.DynamicShapes {
		if info.Name == "" {
			return &ValidationError{Section: "gpu", Field: fmt.Sprintf("tensor_rt.dynamic_shapes[%d]", i), Reason: "empty tensor name"}
		}
		if _, err := info.ShapeSize(); err != nil {
			return err
		}
	}
	if trt.DLACore != nil && *trt.DLACore < 0 {
		return &ValidationError{Section: "gpu", Field: "tensor_rt.dla_core", Reason: "must not be negative"}
	}
	return nil
}

// Validate checks the XPU section.
func (x *XPU) Validate() error {
	if x == nil {
		return nil
	}
	if x.Precision == "" {
		return &ValidationError{Section: "xpu", Field: "precision", Reason: "must be set"}
	}
	return nil
}

// Validate checks the Lite section.
func (l *LiteEngine) Validate() error {
	if l == nil {
		return nil
	}
	if !l.Precision.valid() {
		return &ValidationError{Section: "lite", Field: "precision", Reason: fmt.Sprintf("unknown precision %q", l.Precision)}
	}
	return nil
}

// Validate checks every section and joins the violations.
func (c Config) Validate() error {
	errs := []error{
		c.Model.Validate(),
		c.CPU.Validate(),
		c.GPU.Validate(),
		c.XPU.Validate(),
		c.Lite.Validate(),
	}
	if c.OptimCacheDir != nil && *c.OptimCacheDir == "" {
		errs = append(errs, &ValidationError{Section: "optim_cache_dir", Field: "optimization_cache_dir", Reason: "must not be empty when set"})
	}
	return errors.Join(errs...)
}
