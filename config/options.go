package config

import (
	"errors"
	"slices"
)

// WithOption is the interface for all config option functions.
type WithOption func(c *Config) error

// New returns the defaults for model with opts applied in order, validated.
func New(model Model, opts ...WithOption) (Config, error) {
	c := Defaults(model)
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return Config{}, err
		}
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// WithCPUThreads Sets the number of math library threads. Values below 1 leave the engine default.
func WithCPUThreads(n int) WithOption {
	return func(c *Config) error {
		c.CPU.Threads = n
		return nil
	}
}

func mkldnn(c *Config) *MKLDNN {
	if c.CPU.MKLDNN == nil {
		c.CPU.MKLDNN = &MKLDNN{}
	}
	return c.CPU.MKLDNN
}

// WithMKLDNN Enables MKLDNN for ops. An empty list still enables MKLDNN for every supported op.
func WithMKLDNN(ops ...string) WithOption {
	return func(c *Config) error {
		m := mkldnn(c)
		m.Ops = append([]string{}, ops...)
		return nil
	}
}

// WithMKLDNNCacheCapacity Bounds the MKLDNN cache for inputs of varying shape.
func WithMKLDNNCacheCapacity(capacity int) WithOption {
	return func(c *Config) error {
		mkldnn(c).CacheCapacity = capacity
		return nil
	}
}

// WithMKLDNNBfloat16 Runs ops in bfloat16 under MKLDNN.
func WithMKLDNNBfloat16(ops ...string) WithOption {
	return func(c *Config) error {
		mkldnn(c).Bfloat16Ops = append([]string{}, ops...)
		return nil
	}
}

// WithGPU Runs on the CUDA device deviceID with an initial memory pool of memoryMB.
func WithGPU(memoryMB uint64, deviceID int32) WithOption {
	return func(c *Config) error {
		if deviceID < 0 {
			return &ValidationError{Section: "gpu", Field: "device_id", Reason: "must not be negative"}
		}
		if c.GPU == nil {
			c.GPU = &GPU{}
		}
		c.GPU.MemoryPoolInitSizeMB = memoryMB
		c.GPU.DeviceID = deviceID
		return nil
	}
}

var errGPURequired = errors.New("GPU must be enabled first, use WithGPU")

// WithGPUMultiStream Binds one CUDA stream per thread. Requires WithGPU.
func WithGPUMultiStream() WithOption {
	return func(c *Config) error {
		if c.GPU == nil {
			return errGPURequired
		}
		c.GPU.EnableMultiStream = true
		return nil
	}
}

// WithCUDNN Enables cuDNN. Requires WithGPU.
func WithCUDNN() WithOption {
	return func(c *Config) error {
		if c.GPU == nil {
			return errGPURequired
		}
		c.GPU.EnableCUDNN = true
		return nil
	}
}

// WithTensorRT Runs supported subgraphs in TensorRT. Requires WithGPU.
func WithTensorRT(trt TensorRT) WithOption {
	return func(c *Config) error {
		if c.GPU == nil {
			return errGPURequired
		}
		c.GPU.TensorRT = &trt
		return nil
	}
}

// WithDynamicShape Adds the shape range of one input. Requires WithTensorRT.
func WithDynamicShape(name string, minShape, maxShape, optimShape []int32) WithOption {
	return func(c *Config) error {
		if c.GPU == nil || c.GPU.TensorRT == nil {
			return errors.New("TensorRT must be enabled first, use WithTensorRT")
		}
		info := DynamicShapeInfo{Name: name, MinShape: minShape, MaxShape: maxShape, OptimShape: optimShape}
		if _, err := info.ShapeSize(); err != nil {
			return err
		}
		// copy on write, c may share its GPU section with another Config
		gpu := *c.GPU
		trt := gpu.TensorRT.clone()
		trt.DynamicShapes = append(trt.DynamicShapes, DynamicShapeInfo{
			Name:       name,
			MinShape:   slices.Clone(minShape),
			MaxShape:   slices.Clone(maxShape),
			OptimShape: slices.Clone(optimShape),
		})
		gpu.TensorRT = &trt
		c.GPU = &gpu
		return nil
	}
}

// WithXPU Runs on a Kunlun XPU. Start from DefaultXPU.
func WithXPU(xpu XPU) WithOption {
	return func(c *Config) error {
		c.XPU = &xpu
		return nil
	}
}

// WithONNXRuntime Runs the model through ONNX Runtime.
func WithONNXRuntime(enableOptimization bool) WithOption {
	return func(c *Config) error {
		c.ONNXRuntime = &ONNXRuntime{EnableOptimization: enableOptimization}
		return nil
	}
}

// WithIROptimization Enable/Disable graph IR optimization. Default is true.
func WithIROptimization(enable bool) WithOption {
	return func(c *Config) error {
		c.IROptimization = enable
		return nil
	}
}

// WithIRDebug Enable/Disable a dot dump after every IR pass. Default is false.
func WithIRDebug(enable bool) WithOption {
	return func(c *Config) error {
		c.IRDebug = enable
		return nil
	}
}

// WithLiteEngine Runs supported subgraphs through Paddle Lite.
func WithLiteEngine(lite LiteEngine) WithOption {
	return func(c *Config) error {
		c.Lite = &lite
		return nil
	}
}

// WithMemoryOptimization Enable/Disable memory reuse. Default is true.
func WithMemoryOptimization(enable bool) WithOption {
	return func(c *Config) error {
		c.MemoryOptimization = enable
		return nil
	}
}

// WithOptimCacheDir Sets where optimization caches are written.
func WithOptimCacheDir(dir string) WithOption {
	return func(c *Config) error {
		if dir == "" {
			return &ValidationError{Section: "optim_cache_dir", Field: "optimization_cache_dir", Reason: "must not be empty"}
		}
		c.OptimCacheDir = &dir
		return nil
	}
}

// WithDisableFCPadding Turns off padding of fully connected ops.
func WithDisableFCPadding() WithOption {
	return func(c *Config) error {
		c.DisableFCPadding = true
		return nil
	}
}

// WithProfile Prints per-op timings.
func WithProfile() WithOption {
	return func(c *Config) error {
		c.Profile = true
		return nil
	}
}

// WithDisableLog Silences the engine's glog output.
func WithDisableLog() WithOption {
	return func(c *Config) error {
		c.DisableLog = true
		return nil
	}
}
