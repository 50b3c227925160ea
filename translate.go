package gopaddle

import (
	"fmt"

	"github.com/knights-analytics/gopaddle/capi"
	"github.com/knights-analytics/gopaddle/config"
	"github.com/knights-analytics/gopaddle/util/safeconv"
)

// section applies one part of a Config onto a native config handle.
// A nil enabled means the section always runs.
type section struct {
	name    string
	enabled func(c *config.Config) bool
	apply   func(e capi.Engine, h capi.ConfigHandle, c *config.Config) error
}

// sections is the order the engine expects settings in. The model must come first.
var sections = []section{
	{name: "model", apply: applyModel},
	{name: "cpu", apply: applyCPU},
	{name: "gpu", enabled: func(c *config.Config) bool { return c.GPU != nil }, apply: applyGPU},
	{name: "xpu", enabled: func(c *config.Config) bool { return c.XPU != nil }, apply: applyXPU},
	{name: "onnxruntime", enabled: func(c *config.Config) bool { return c.ONNXRuntime != nil }, apply: applyONNXRuntime},
	{name: "ir_optim", apply: func(e capi.Engine, h capi.ConfigHandle, c *config.Config) error {
		e.ConfigSwitchIrOptim(h, capi.BoolOf(c.IROptimization))
		return nil
	}},
	{name: "ir_debug", apply: func(e capi.Engine, h capi.ConfigHandle, c *config.Config) error {
		e.ConfigSwitchIrDebug(h, capi.BoolOf(c.IRDebug))
		return nil
	}},
	{name: "lite", enabled: func(c *config.Config) bool { return c.Lite != nil }, apply: applyLite},
	{name: "memory_optim", apply: func(e capi.Engine, h capi.ConfigHandle, c *config.Config) error {
		e.ConfigEnableMemoryOptim(h, capi.BoolOf(c.MemoryOptimization))
		return nil
	}},
	{name: "optim_cache_dir", enabled: func(c *config.Config) bool { return c.OptimCacheDir != nil }, apply: func(e capi.Engine, h capi.ConfigHandle, c *config.Config) error {
		if *c.OptimCacheDir == "" {
			return &PreconditionError{Section: "optim_cache_dir", Field: "optimization_cache_dir", Reason: "must not be empty when set"}
		}
		e.ConfigSetOptimCacheDir(h, *c.OptimCacheDir)
		return nil
	}},
	{name: "fc_padding", enabled: func(c *config.Config) bool { return c.DisableFCPadding }, apply: func(e capi.Engine, h capi.ConfigHandle, _ *config.Config) error {
		e.ConfigDisableFCPadding(h)
		return nil
	}},
	{name: "profile", enabled: func(c *config.Config) bool { return c.Profile }, apply: func(e capi.Engine, h capi.ConfigHandle, _ *config.Config) error {
		e.ConfigEnableProfile(h)
		return nil
	}},
	{name: "glog", enabled: func(c *config.Config) bool { return c.DisableLog }, apply: func(e capi.Engine, h capi.ConfigHandle, _ *config.Config) error {
		e.ConfigDisableGlogInfo(h)
		return nil
	}},
}

// SectionOrder returns the names of the configuration sections in the order they are applied.
func SectionOrder() []string {
	names := make([]string, len(sections))
	for i, s := range sections {
		names[i] = s.name
	}
	return names
}

// translate applies every enabled section of c onto h, in order, and returns the names of
// the sections applied. It stops at the first error; calls already issued are not undone.
func translate(e capi.Engine, h capi.ConfigHandle, c *config.Config, onSection func(name string)) ([]string, error) {
	applied := make([]string, 0, len(sections))
	for _, s := range sections {
		if s.enabled != nil && !s.enabled(c) {
			continue
		}
		if err := s.apply(e, h, c); err != nil {
			return applied, err
		}
		applied = append(applied, s.name)
		if onSection != nil {
			onSection(s.name)
		}
	}
	return applied, nil
}

func applyModel(e capi.Engine, h capi.ConfigHandle, c *config.Config) error {
	if err := c.Model.Validate(); err != nil {
		return err
	}
	m := c.Model
	switch m.Kind() {
	case config.ModelFiles:
		e.ConfigSetModel(h, m.ProgFile, m.ParamsFile)
	case config.ModelDir:
		e.ConfigSetModelDir(h, m.Dir)
	case config.ModelMemory:
		e.ConfigSetModelBuffer(h, m.ProgBuffer, m.ParamsBuffer)
	default:
		return &PreconditionError{Section: "model", Field: "model", Reason: fmt.Sprintf("unsupported model source %s", m.Kind())}
	}
	return nil
}

func applyCPU(e capi.Engine, h capi.ConfigHandle, c *config.Config) error {
	if err := c.CPU.Validate(); err != nil {
		return err
	}
	if c.CPU.Threads > 0 {
		e.ConfigSetCpuMathLibraryNumThreads(h, safeconv.IntToInt32(c.CPU.Threads))
	}
	m := c.CPU.MKLDNN
	if m == nil {
		return nil
	}
	if m.CacheCapacity > 0 {
		e.ConfigSetMkldnnCacheCapacity(h, safeconv.IntToInt32(m.CacheCapacity))
	}
	if m.Ops != nil {
		e.ConfigEnableMKLDNN(h)
		e.ConfigSetMkldnnOp(h, m.Ops)
	}
	if m.Bfloat16Ops != nil {
		e.ConfigEnableMkldnnBfloat16(h)
		e.ConfigSetBfloat16Op(h, m.Bfloat16Ops)
	}
	return nil
}

// dynamicShapes is the dynamic-shape list flattened into the parallel arrays
// PD_ConfigSetTrtDynamicShapeInfo takes.
type dynamicShapes struct {
	names     []string
	shapesNum []uint64
	min       [][]int32
	max       [][]int32
	optim     [][]int32
}

// flattenDynamicShapes checks every entry before building anything, so one bad entry rejects the batch.
func flattenDynamicShapes(infos []config.DynamicShapeInfo) (dynamicShapes, error) {
	sizes := make([]uint64, len(infos))
	for i, info := range infos {
		n, err := info.ShapeSize()
		if err != nil {
			return dynamicShapes{}, err
		}
		sizes[i] = safeconv.IntToUint64(n)
	}
	d := dynamicShapes{
		names:     make([]string, len(infos)),
		shapesNum: sizes,
		min:       make([][]int32, len(infos)),
		max:       make([][]int32, len(infos)),
		optim:     make([][]int32, len(infos)),
	}
	for i, info := range infos {
		d.names[i] = info.Name
		d.min[i] = info.MinShape
		d.max[i] = info.MaxShape
		d.optim[i] = info.OptimShape
	}
	return d, nil
}

func nativePrecision(section string, p config.Precision) (capi.Precision, error) {
	switch p {
	case config.PrecisionFloat32:
		return capi.PrecisionFloat32, nil
	case config.PrecisionHalf:
		return capi.PrecisionHalf, nil
	case config.PrecisionInt8:
		return capi.PrecisionInt8, nil
	}
	return 0, &PreconditionError{Section: section, Field: "precision", Reason: fmt.Sprintf("unknown precision %q", p)}
}

func applyGPU(e capi.Engine, h capi.ConfigHandle, c *config.Config) error {
	g := c.GPU
	if err := g.Validate(); err != nil {
		return err
	}
	var (
		trtPrecision capi.Precision
		shapes       dynamicShapes
	)
	if trt := g.TensorRT; trt != nil {
		var err error
		if trtPrecision, err = nativePrecision("gpu", trt.Precision); err != nil {
			return err
		}
		if shapes, err = flattenDynamicShapes(trt.DynamicShapes); err != nil {
			return err
		}
	}

	e.ConfigEnableUseGpu(h, g.MemoryPoolInitSizeMB, g.DeviceID)
	if g.EnableMultiStream {
		e.ConfigEnableGpuMultiStream(h)
	}
	if g.EnableCUDNN {
		e.ConfigEnableCudnn(h)
	}
	trt := g.TensorRT
	if trt == nil {
		return nil
	}
	e.ConfigEnableTensorRtEngine(h, trt.WorkspaceSize, trt.MaxBatchSize, trt.MinSubgraphSize, trtPrecision,
		capi.BoolOf(trt.UseStatic), capi.BoolOf(trt.UseCalibMode))
	if len(shapes.names) > 0 {
		e.ConfigSetTrtDynamicShapeInfo(h, shapes.names, shapes.shapesNum, shapes.min, shapes.max, shapes.optim,
			capi.BoolOf(trt.DisablePluginFP16))
	}
	if trt.EnableOSS {
		e.ConfigEnableTensorRtOSS(h)
	}
	if trt.DLACore != nil {
		e.ConfigEnableTensorRtDla(h, *trt.DLACore)
	}
	return nil
}

func applyXPU(e capi.Engine, h capi.ConfigHandle, c *config.Config) error {
	x := c.XPU
	if err := x.Validate(); err != nil {
		return err
	}
	e.ConfigEnableXpu(h, x.L3WorkspaceSize, capi.BoolOf(x.Locked), capi.BoolOf(x.Autotune), x.AutotuneFile,
		x.Precision, capi.BoolOf(x.AdaptiveSeqlen))
	return nil
}

func applyONNXRuntime(e capi.Engine, h capi.ConfigHandle, c *config.Config) error {
	e.ConfigEnableONNXRuntime(h)
	if c.ONNXRuntime.EnableOptimization {
		e.ConfigEnableORTOptimization(h)
	}
	return nil
}

func applyLite(e capi.Engine, h capi.ConfigHandle, c *config.Config) error {
	l := c.Lite
	precision, err := nativePrecision("lite", l.Precision)
	if err != nil {
		return err
	}
	e.ConfigEnableLiteEngine(h, precision, capi.BoolOf(l.ZeroCopy), l.PassesFilter, l.OpsFilter)
	return nil
}
