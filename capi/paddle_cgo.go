//go:build cgo && PADDLE

package capi

// Include and library paths come from CGO_CFLAGS / CGO_LDFLAGS, see `gopaddle env`.

/*
#cgo LDFLAGS: -lpaddle_inference_c
#include <stdlib.h>
#include <stdint.h>
#include "pd_inference_api.h"
*/
import "C"

import (
	"fmt"
	"unsafe"
)

type nativeEngine struct{}

// Native returns the engine backed by libpaddle_inference_c.
func Native() (Engine, error) {
	return nativeEngine{}, nil
}

func cfg(c ConfigHandle) *C.PD_Config           { return (*C.PD_Config)(c.ptr) }
func pred(p PredictorHandle) *C.PD_Predictor    { return (*C.PD_Predictor)(p.ptr) }
func tens(t TensorHandle) *C.PD_Tensor          { return (*C.PD_Tensor)(t.ptr) }
func cbool(b Bool) C.PD_Bool                    { return C.PD_Bool(b) }
func cprecision(p Precision) C.PD_PrecisionType { return C.PD_PrecisionType(p) }

func (nativeEngine) ConfigCreate() ConfigHandle {
	return NewConfigHandle(unsafe.Pointer(C.PD_ConfigCreate()))
}

func (nativeEngine) ConfigDestroy(c ConfigHandle) {
	C.PD_ConfigDestroy(cfg(c))
}

func (nativeEngine) ConfigSetModel(c ConfigHandle, progFile, paramsFile string) {
	var a cArena
	defer a.free()
	C.PD_ConfigSetModel(cfg(c), a.str(progFile), a.str(paramsFile))
}

func (nativeEngine) ConfigSetModelDir(c ConfigHandle, dir string) {
	var a cArena
	defer a.free()
	C.PD_ConfigSetModelDir(cfg(c), a.str(dir))
}

func (nativeEngine) ConfigSetModelBuffer(c ConfigHandle, prog, params []byte) {
	// the engine copies both buffers before returning
	var progPtr, paramsPtr *C.char
	if len(prog) > 0 {
		progPtr = (*C.char)(unsafe.Pointer(&prog[0]))
	}
	if len(params) > 0 {
		paramsPtr = (*C.char)(unsafe.Pointer(&params[0]))
	}
	C.PD_ConfigSetModelBuffer(cfg(c), progPtr, C.size_t(len(prog)), paramsPtr, C.size_t(len(params)))
}

func (nativeEngine) ConfigSetCpuMathLibraryNumThreads(c ConfigHandle, threads int32) {
	C.PD_ConfigSetCpuMathLibraryNumThreads(cfg(c), C.int32_t(threads))
}

func (nativeEngine) ConfigEnableMKLDNN(c ConfigHandle) {
	C.PD_ConfigEnableMKLDNN(cfg(c))
}

func (nativeEngine) ConfigSetMkldnnCacheCapacity(c ConfigHandle, capacity int32) {
	C.PD_ConfigSetMkldnnCacheCapacity(cfg(c), C.int32_t(capacity))
}

func (nativeEngine) ConfigSetMkldnnOp(c ConfigHandle, ops []string) {
	var a cArena
	defer a.free()
	C.PD_ConfigSetMkldnnOp(cfg(c), C.size_t(len(ops)), a.strArray(ops))
}

func (nativeEngine) ConfigEnableMkldnnBfloat16(c ConfigHandle) {
	C.PD_ConfigEnableMkldnnBfloat16(cfg(c))
}

func (nativeEngine) ConfigSetBfloat16Op(c ConfigHandle, ops []string) {
	var a cArena
	defer a.free()
	C.PD_ConfigSetBfloat16Op(cfg(c), C.size_t(len(ops)), a.strArray(ops))
}

func (nativeEngine) ConfigEnableUseGpu(c ConfigHandle, memoryPoolInitSizeMB uint64, deviceID int32) {
	C.PD_ConfigEnableUseGpu(cfg(c), C.uint64_t(memoryPoolInitSizeMB), C.int32_t(deviceID))
}

func (nativeEngine) ConfigEnableGpuMultiStream(c ConfigHandle) {
	C.PD_ConfigEnableGpuMultiStream(cfg(c))
}

func (nativeEngine) ConfigEnableCudnn(c ConfigHandle) {
	C.PD_ConfigEnableCudnn(cfg(c))
}

func (nativeEngine) ConfigEnableTensorRtEngine(c ConfigHandle, workspaceSize int64, maxBatchSize, minSubgraphSize int32, precision Precision, useStatic, useCalibMode Bool) {
	C.PD_ConfigEnableTensorRtEngine(cfg(c), C.int64_t(workspaceSize), C.int32_t(maxBatchSize), C.int32_t(minSubgraphSize),
		cprecision(precision), cbool(useStatic), cbool(useCalibMode))
}

func (nativeEngine) ConfigSetTrtDynamicShapeInfo(c ConfigHandle, names []string, shapesNum []uint64, minShapes, maxShapes, optimShapes [][]int32, disablePluginFp16 Bool) {
	var a cArena
	defer a.free()
	C.PD_ConfigSetTrtDynamicShapeInfo(cfg(c),
		C.size_t(len(names)),
		a.strArray(names),
		a.sizeArray(shapesNum),
		a.int32Matrix(minShapes),
		a.int32Matrix(maxShapes),
		a.int32Matrix(optimShapes),
		cbool(disablePluginFp16))
}

func (nativeEngine) ConfigEnableTensorRtOSS(c ConfigHandle) {
	C.PD_ConfigEnableTensorRtOSS(cfg(c))
}

func (nativeEngine) ConfigEnableTensorRtDla(c ConfigHandle, dlaCore int32) {
	C.PD_ConfigEnableTensorRtDla(cfg(c), C.int32_t(dlaCore))
}

func (nativeEngine) ConfigEnableXpu(c ConfigHandle, l3WorkspaceSize int32, locked, autotune Bool, autotuneFile *string, precision string, adaptiveSeqlen Bool) {
	var a cArena
	defer a.free()
	C.PD_ConfigEnableXpu(cfg(c), C.int32_t(l3WorkspaceSize), cbool(locked), cbool(autotune),
		a.optStr(autotuneFile), a.str(precision), cbool(adaptiveSeqlen))
}

func (nativeEngine) ConfigEnableONNXRuntime(c ConfigHandle) {
	C.PD_ConfigEnableONNXRuntime(cfg(c))
}

func (nativeEngine) ConfigEnableORTOptimization(c ConfigHandle) {
	C.PD_ConfigEnableORTOptimization(cfg(c))
}

func (nativeEngine) ConfigSwitchIrOptim(c ConfigHandle, on Bool) {
	C.PD_ConfigSwitchIrOptim(cfg(c), cbool(on))
}

func (nativeEngine) ConfigSwitchIrDebug(c ConfigHandle, on Bool) {
	C.PD_ConfigSwitchIrDebug(cfg(c), cbool(on))
}

func (nativeEngine) ConfigEnableLiteEngine(c ConfigHandle, precision Precision, zeroCopy Bool, passesFilter, opsFilter []string) {
	var a cArena
	defer a.free()
	C.PD_ConfigEnableLiteEngine(cfg(c), cprecision(precision), cbool(zeroCopy),
		C.size_t(len(passesFilter)), a.strArray(passesFilter),
		C.size_t(len(opsFilter)), a.strArray(opsFilter))
}

func (nativeEngine) ConfigEnableMemoryOptim(c ConfigHandle, on Bool) {
	C.PD_ConfigEnableMemoryOptim(cfg(c), cbool(on))
}

func (nativeEngine) ConfigSetOptimCacheDir(c ConfigHandle, dir string) {
	var a cArena
	defer a.free()
	C.PD_ConfigSetOptimCacheDir(cfg(c), a.str(dir))
}

func (nativeEngine) ConfigDisableFCPadding(c ConfigHandle) {
	C.PD_ConfigDisableFCPadding(cfg(c))
}

func (nativeEngine) ConfigEnableProfile(c ConfigHandle) {
	C.PD_ConfigEnableProfile(cfg(c))
}

func (nativeEngine) ConfigDisableGlogInfo(c ConfigHandle) {
	C.PD_ConfigDisableGlogInfo(cfg(c))
}

func (nativeEngine) PredictorCreate(c ConfigHandle) PredictorHandle {
	return NewPredictorHandle(unsafe.Pointer(C.PD_PredictorCreate(cfg(c))))
}

func (nativeEngine) PredictorClone(p PredictorHandle) PredictorHandle {
	return NewPredictorHandle(unsafe.Pointer(C.PD_PredictorClone(pred(p))))
}

func (nativeEngine) PredictorDestroy(p PredictorHandle) {
	C.PD_PredictorDestroy(pred(p))
}

func (nativeEngine) PredictorRun(p PredictorHandle) Bool {
	return Bool(C.PD_PredictorRun(pred(p)))
}

func cstrArray(arr *C.PD_OneDimArrayCstr) []string {
	if arr == nil {
		return nil
	}
	defer C.PD_OneDimArrayCstrDestroy(arr)
	if arr.size == 0 {
		return []string{}
	}
	items := unsafe.Slice(arr.data, int(arr.size))
	names := make([]string, len(items))
	for i, s := range items {
		names[i] = C.GoString(s)
	}
	return names
}

func (nativeEngine) PredictorGetInputNames(p PredictorHandle) []string {
	return cstrArray(C.PD_PredictorGetInputNames(pred(p)))
}

func (nativeEngine) PredictorGetOutputNames(p PredictorHandle) []string {
	return cstrArray(C.PD_PredictorGetOutputNames(pred(p)))
}

func (nativeEngine) PredictorGetInputNum(p PredictorHandle) uint64 {
	return uint64(C.PD_PredictorGetInputNum(pred(p)))
}

func (nativeEngine) PredictorGetOutputNum(p PredictorHandle) uint64 {
	return uint64(C.PD_PredictorGetOutputNum(pred(p)))
}

func (nativeEngine) PredictorGetInputHandle(p PredictorHandle, name string) TensorHandle {
	var a cArena
	defer a.free()
	return NewTensorHandle(unsafe.Pointer(C.PD_PredictorGetInputHandle(pred(p), a.str(name))))
}

func (nativeEngine) PredictorGetOutputHandle(p PredictorHandle, name string) TensorHandle {
	var a cArena
	defer a.free()
	return NewTensorHandle(unsafe.Pointer(C.PD_PredictorGetOutputHandle(pred(p), a.str(name))))
}

func (nativeEngine) TensorDestroy(t TensorHandle) {
	C.PD_TensorDestroy(tens(t))
}

func (nativeEngine) TensorReshape(t TensorHandle, shape []int32) {
	var a cArena
	defer a.free()
	C.PD_TensorReshape(tens(t), C.size_t(len(shape)), a.int32Array(shape))
}

func (nativeEngine) TensorGetShape(t TensorHandle) []int32 {
	arr := C.PD_TensorGetShape(tens(t))
	if arr == nil {
		return nil
	}
	defer C.PD_OneDimArrayInt32Destroy(arr)
	if arr.size == 0 {
		return []int32{}
	}
	dims := unsafe.Slice(arr.data, int(arr.size))
	shape := make([]int32, len(dims))
	for i, d := range dims {
		shape[i] = int32(d)
	}
	return shape
}

func (nativeEngine) TensorGetDataType(t TensorHandle) DataType {
	return DataType(C.PD_TensorGetDataType(tens(t)))
}

func (nativeEngine) TensorGetName(t TensorHandle) string {
	return C.GoString(C.PD_TensorGetName(tens(t)))
}

func (nativeEngine) TensorCopyFromCPU(t TensorHandle, src any) error {
	switch v := src.(type) {
	case []float32:
		if len(v) > 0 {
			C.PD_TensorCopyFromCpuFloat(tens(t), (*C.float)(unsafe.Pointer(&v[0])))
		}
	case []int32:
		if len(v) > 0 {
			C.PD_TensorCopyFromCpuInt32(tens(t), (*C.int32_t)(unsafe.Pointer(&v[0])))
		}
	case []int64:
		if len(v) > 0 {
			C.PD_TensorCopyFromCpuInt64(tens(t), (*C.int64_t)(unsafe.Pointer(&v[0])))
		}
	case []uint8:
		if len(v) > 0 {
			C.PD_TensorCopyFromCpuUint8(tens(t), (*C.uint8_t)(unsafe.Pointer(&v[0])))
		}
	case []int8:
		if len(v) > 0 {
			C.PD_TensorCopyFromCpuInt8(tens(t), (*C.int8_t)(unsafe.Pointer(&v[0])))
		}
	default:
		return fmt.Errorf("unsupported tensor source type %T", src)
	}
	return nil
}

func (nativeEngine) TensorCopyToCPU(t TensorHandle, dst any) error {
	switch v := dst.(type) {
	case []float32:
		if len(v) > 0 {
			C.PD_TensorCopyToCpuFloat(tens(t), (*C.float)(unsafe.Pointer(&v[0])))
		}
	case []int32:
		if len(v) > 0 {
			C.PD_TensorCopyToCpuInt32(tens(t), (*C.int32_t)(unsafe.Pointer(&v[0])))
		}
	case []int64:
		if len(v) > 0 {
			C.PD_TensorCopyToCpuInt64(tens(t), (*C.int64_t)(unsafe.Pointer(&v[0])))
		}
	case []uint8:
		if len(v) > 0 {
			C.PD_TensorCopyToCpuUint8(tens(t), (*C.uint8_t)(unsafe.Pointer(&v[0])))
		}
	case []int8:
		if len(v) > 0 {
			C.PD_TensorCopyToCpuInt8(tens(t), (*C.int8_t)(unsafe.Pointer(&v[0])))
		}
	default:
		return fmt.Errorf("unsupported tensor destination type %T", dst)
	}
	return nil
}
