// Package capi is the boundary with the Paddle Inference C API.
//
// It declares the opaque handle types and the Engine interface, which lists every
// foreign entry point the rest of the module depends on. Native returns the cgo
// implementation (only available with `-tags PADDLE`), and Recorder is an
// instrumented in-process engine that records each call in order.
package capi

import (
	"errors"
	"unsafe"
)

// ErrNativeDisabled is returned by Native when the module was built without cgo or the PADDLE tag.
var ErrNativeDisabled = errors.New("paddle inference is not enabled, run `go build -tags PADDLE` with cgo enabled")

// Bool is the two-valued native flag (PD_Bool).
type Bool int8

const (
	False Bool = 0
	True  Bool = 1
)

// BoolOf maps a Go bool onto the native flag without inversion.
func BoolOf(b bool) Bool {
	if b {
		return True
	}
	return False
}

// Precision mirrors PD_PrecisionType.
type Precision int32

const (
	PrecisionFloat32 Precision = 0
	PrecisionInt8    Precision = 1
	PrecisionHalf    Precision = 2
)

func (p Precision) String() string {
	switch p {
	case PrecisionFloat32:
		return "float32"
	case PrecisionInt8:
		return "int8"
	case PrecisionHalf:
		return "half"
	default:
		return "unknown"
	}
}

// DataType mirrors PD_DataType.
type DataType int32

const (
	DataUnknown DataType = -1
	DataFloat32 DataType = 0
	DataInt32   DataType = 1
	DataInt64   DataType = 2
	DataUint8   DataType = 3
	DataInt8    DataType = 4
)

func (d DataType) String() string {
	switch d {
	case DataFloat32:
		return "float32"
	case DataInt32:
		return "int32"
	case DataInt64:
		return "int64"
	case DataUint8:
		return "uint8"
	case DataInt8:
		return "int8"
	default:
		return "unknown"
	}
}

// ConfigHandle is an opaque PD_Config pointer.
type ConfigHandle struct{ ptr unsafe.Pointer }

// PredictorHandle is an opaque PD_Predictor pointer.
type PredictorHandle struct{ ptr unsafe.Pointer }

// TensorHandle is an opaque PD_Tensor pointer.
type TensorHandle struct{ ptr unsafe.Pointer }

func NewConfigHandle(p unsafe.Pointer) ConfigHandle       { return ConfigHandle{ptr: p} }
func NewPredictorHandle(p unsafe.Pointer) PredictorHandle { return PredictorHandle{ptr: p} }
func NewTensorHandle(p unsafe.Pointer) TensorHandle       { return TensorHandle{ptr: p} }

func (h ConfigHandle) Ptr() unsafe.Pointer    { return h.ptr }
func (h PredictorHandle) Ptr() unsafe.Pointer { return h.ptr }
func (h TensorHandle) Ptr() unsafe.Pointer    { return h.ptr }

func (h ConfigHandle) IsNil() bool    { return h.ptr == nil }
func (h PredictorHandle) IsNil() bool { return h.ptr == nil }
func (h TensorHandle) IsNil() bool    { return h.ptr == nil }

// Engine is the catalog of foreign entry points, grouped the way pd_inference_api.h groups them.
//
// Handles passed in must be live. PredictorCreate takes ownership of the config handle
// whether or not it succeeds; callers must not destroy or reuse it afterwards.
type Engine interface {
	// config lifetime
	ConfigCreate() ConfigHandle
	ConfigDestroy(c ConfigHandle)

	// model source
	ConfigSetModel(c ConfigHandle, progFile, paramsFile string)
	ConfigSetModelDir(c ConfigHandle, dir string)
	ConfigSetModelBuffer(c ConfigHandle, prog, params []byte)

	// cpu
	ConfigSetCpuMathLibraryNumThreads(c ConfigHandle, threads int32)
	ConfigEnableMKLDNN(c ConfigHandle)
	ConfigSetMkldnnCacheCapacity(c ConfigHandle, capacity int32)
	ConfigSetMkldnnOp(c ConfigHandle, ops []string)
	ConfigEnableMkldnnBfloat16(c ConfigHandle)
	ConfigSetBfloat16Op(c ConfigHandle, ops []string)

	// gpu and tensorrt
	ConfigEnableUseGpu(c ConfigHandle, memoryPoolInitSizeMB uint64, deviceID int32)
	ConfigEnableGpuMultiStream(c ConfigHandle)
	ConfigEnableCudnn(c ConfigHandle)
	ConfigEnableTensorRtEngine(c ConfigHandle, workspaceSize int64, maxBatchSize, minSubgraphSize int32, precision Precision, useStatic, useCalibMode Bool)
	// ConfigSetTrtDynamicShapeInfo installs all shape triples in one call. shapesNum[i] is the
	// length of minShapes[i], maxShapes[i] and optimShapes[i].
	ConfigSetTrtDynamicShapeInfo(c ConfigHandle, names []string, shapesNum []uint64, minShapes, maxShapes, optimShapes [][]int32, disablePluginFp16 Bool)
	ConfigEnableTensorRtOSS(c ConfigHandle)
	ConfigEnableTensorRtDla(c ConfigHandle, dlaCore int32)

	// xpu; a nil autotuneFile crosses as a NULL pointer
	ConfigEnableXpu(c ConfigHandle, l3WorkspaceSize int32, locked, autotune Bool, autotuneFile *string, precision string, adaptiveSeqlen Bool)

	// onnxruntime
	ConfigEnableONNXRuntime(c ConfigHandle)
	ConfigEnableORTOptimization(c ConfigHandle)

	// global knobs
	ConfigSwitchIrOptim(c ConfigHandle, on Bool)
	ConfigSwitchIrDebug(c ConfigHandle, on Bool)
	ConfigEnableLiteEngine(c ConfigHandle, precision Precision, zeroCopy Bool, passesFilter, opsFilter []string)
	ConfigEnableMemoryOptim(c ConfigHandle, on Bool)
	ConfigSetOptimCacheDir(c ConfigHandle, dir string)
	ConfigDisableFCPadding(c ConfigHandle)
	ConfigEnableProfile(c ConfigHandle)
	ConfigDisableGlogInfo(c ConfigHandle)

	// predictor
	PredictorCreate(c ConfigHandle) PredictorHandle
	PredictorClone(p PredictorHandle) PredictorHandle
	PredictorDestroy(p PredictorHandle)
	PredictorRun(p PredictorHandle) Bool
	PredictorGetInputNames(p PredictorHandle) []string
	PredictorGetOutputNames(p PredictorHandle) []string
	PredictorGetInputNum(p PredictorHandle) uint64
	PredictorGetOutputNum(p PredictorHandle) uint64
	PredictorGetInputHandle(p PredictorHandle, name string) TensorHandle
	PredictorGetOutputHandle(p PredictorHandle, name string) TensorHandle

	// tensor
	TensorDestroy(t TensorHandle)
	TensorReshape(t TensorHandle, shape []int32)
	TensorGetShape(t TensorHandle) []int32
	TensorGetDataType(t TensorHandle) DataType
	TensorGetName(t TensorHandle) string
	// TensorCopyFromCPU copies src ([]float32, []int32, []int64, []uint8 or []int8) into the slot.
	TensorCopyFromCPU(t TensorHandle, src any) error
	// TensorCopyToCPU fills dst, which must match the slot's data type and element count.
	TensorCopyToCPU(t TensorHandle, dst any) error
}
