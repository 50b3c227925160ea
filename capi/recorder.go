package capi

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"unsafe"
)

// Call is one recorded foreign call, named after its C entry point.
type Call struct {
	Name string
	Args []any
}

func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		switch v := a.(type) {
		case nil:
			args[i] = "NULL"
		case string:
			args[i] = fmt.Sprintf("%q", v)
		case []byte:
			args[i] = fmt.Sprintf("<%d bytes>", len(v))
		default:
			args[i] = fmt.Sprintf("%v", v)
		}
	}
	return c.Name + "(" + strings.Join(args, ", ") + ")"
}

// RecorderOption configures a Recorder.
type RecorderOption func(r *Recorder)

// WithInputNames sets the input names every recorded predictor declares. Default is "x".
func WithInputNames(names ...string) RecorderOption {
	return func(r *Recorder) {
		r.inputNames = slices.Clone(names)
	}
}

// WithOutputNames sets the output names every recorded predictor declares. Default is "out".
func WithOutputNames(names ...string) RecorderOption {
	return func(r *Recorder) {
		r.outputNames = slices.Clone(names)
	}
}

// WithFailingPredictorCreate makes PD_PredictorCreate return NULL (after consuming the config).
func WithFailingPredictorCreate() RecorderOption {
	return func(r *Recorder) {
		r.failCreate = true
	}
}

// Recorder is an in-process Engine that records every call in order and simulates
// predictors with an identity model: after Run, output i holds a copy of input
// i mod len(inputs). Run fails while any input has no data.
//
// Misuse of a handle (use after destroy, use of a consumed config, double destroy)
// panics, so tests fail loudly on lifetime bugs.
type Recorder struct {
	mu          sync.Mutex
	calls       []Call
	inputNames  []string
	outputNames []string
	failCreate  bool
	beforeCall  func(name string)

	liveConfigs    int
	destroyedCfgs  int
	livePredictors int
	liveTensors    int
}

type handleState int

const (
	stateLive handleState = iota
	stateConsumed
	stateDestroyed
)

type recConfig struct {
	state handleState
}

type recPredictor struct {
	state   handleState
	inputs  map[string]*recSlot
	outputs map[string]*recSlot
}

type recSlot struct {
	name  string
	shape []int32
	dtype DataType
	data  any
}

type recTensor struct {
	owner     *recPredictor
	slot      *recSlot
	destroyed bool
}

// WithBeforeCall runs hook before every engine call, outside the Recorder's lock.
func WithBeforeCall(hook func(name string)) RecorderOption {
	return func(r *Recorder) {
		r.beforeCall = hook
	}
}

// NewRecorder creates a Recorder.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		inputNames:  []string{"x"},
		outputNames: []string{"out"},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Calls returns a copy of every call recorded so far.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Names returns the entry point names recorded so far, in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.calls))
	for i, c := range r.calls {
		names[i] = c.Name
	}
	return names
}

// Count returns how many times the named entry point was called.
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

// Reset forgets the recorded calls. Handle bookkeeping is kept.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// LiveConfigs is the number of config handles neither destroyed nor consumed.
func (r *Recorder) LiveConfigs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveConfigs
}

// DestroyedConfigs is the number of PD_ConfigDestroy calls that released a handle.
func (r *Recorder) DestroyedConfigs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyedCfgs
}

// LivePredictors is the number of predictor handles not yet destroyed.
func (r *Recorder) LivePredictors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.livePredictors
}

// LiveTensors is the number of tensor wrappers not yet destroyed.
func (r *Recorder) LiveTensors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveTensors
}

func (r *Recorder) record(name string, args ...any) {
	r.calls = append(r.calls, Call{Name: name, Args: args})
}

func (r *Recorder) config(name string, c ConfigHandle) *recConfig {
	if c.IsNil() {
		panic(fmt.Sprintf("capi.Recorder: %s on NULL config", name))
	}
	rc := (*recConfig)(c.Ptr())
	switch rc.state {
	case stateConsumed:
		panic(fmt.Sprintf("capi.Recorder: %s on config already consumed by PD_PredictorCreate", name))
	case stateDestroyed:
		panic(fmt.Sprintf("capi.Recorder: %s on destroyed config", name))
	}
	return rc
}

func (r *Recorder) predictor(name string, p PredictorHandle) *recPredictor {
	if p.IsNil() {
		panic(fmt.Sprintf("capi.Recorder: %s on NULL predictor", name))
	}
	rp := (*recPredictor)(p.Ptr())
	if rp.state != stateLive {
		panic(fmt.Sprintf("capi.Recorder: %s on destroyed predictor", name))
	}
	return rp
}

func (r *Recorder) tensor(name string, t TensorHandle) *recTensor {
	if t.IsNil() {
		panic(fmt.Sprintf("capi.Recorder: %s on NULL tensor", name))
	}
	rt := (*recTensor)(t.Ptr())
	if rt.destroyed {
		panic(fmt.Sprintf("capi.Recorder: %s on destroyed tensor", name))
	}
	if rt.owner.state != stateLive {
		panic(fmt.Sprintf("capi.Recorder: %s on tensor of destroyed predictor", name))
	}
	return rt
}

func (r *Recorder) lock(name string) {
	if r.beforeCall != nil {
		r.beforeCall(name)
	}
	r.mu.Lock()
}

// configCall records a setter on a live config.
func (r *Recorder) configCall(name string, c ConfigHandle, args ...any) {
	r.lock(name)
	defer r.mu.Unlock()
	r.config(name, c)
	r.record(name, args...)
}

func (r *Recorder) ConfigCreate() ConfigHandle {
	r.lock("PD_ConfigCreate")
	defer r.mu.Unlock()
	r.record("PD_ConfigCreate")
	r.liveConfigs++
	return NewConfigHandle(unsafe.Pointer(&recConfig{}))
}

func (r *Recorder) ConfigDestroy(c ConfigHandle) {
	r.lock("PD_ConfigDestroy")
	defer r.mu.Unlock()
	rc := r.config("PD_ConfigDestroy", c)
	r.record("PD_ConfigDestroy")
	rc.state = stateDestroyed
	r.liveConfigs--
	r.destroyedCfgs++
}

func (r *Recorder) ConfigSetModel(c ConfigHandle, progFile, paramsFile string) {
	r.configCall("PD_ConfigSetModel", c, progFile, paramsFile)
}

func (r *Recorder) ConfigSetModelDir(c ConfigHandle, dir string) {
	r.configCall("PD_ConfigSetModelDir", c, dir)
}

func (r *Recorder) ConfigSetModelBuffer(c ConfigHandle, prog, params []byte) {
	r.configCall("PD_ConfigSetModelBuffer", c, slices.Clone(prog), slices.Clone(params))
}

func (r *Recorder) ConfigSetCpuMathLibraryNumThreads(c ConfigHandle, threads int32) {
	r.configCall("PD_ConfigSetCpuMathLibraryNumThreads", c, threads)
}

func (r *Recorder) ConfigEnableMKLDNN(c ConfigHandle) {
	r.configCall("PD_ConfigEnableMKLDNN", c)
}

func (r *Recorder) ConfigSetMkldnnCacheCapacity(c ConfigHandle, capacity int32) {
	r.configCall("PD_ConfigSetMkldnnCacheCapacity", c, capacity)
}

func (r *Recorder) ConfigSetMkldnnOp(c ConfigHandle, ops []string) {
	r.configCall("PD_ConfigSetMkldnnOp", c, slices.Clone(ops))
}

func (r *Recorder) ConfigEnableMkldnnBfloat16(c ConfigHandle) {
	r.configCall("PD_ConfigEnableMkldnnBfloat16", c)
}

func (r *Recorder) ConfigSetBfloat16Op(c ConfigHandle, ops []string) {
	r.configCall("PD_ConfigSetBfloat16Op", c, slices.Clone(ops))
}

func (r *Recorder) ConfigEnableUseGpu(c ConfigHandle, memoryPoolInitSizeMB uint64, deviceID int32) {
	r.configCall("PD_ConfigEnableUseGpu", c, memoryPoolInitSizeMB, deviceID)
}

func (r *Recorder) ConfigEnableGpuMultiStream(c ConfigHandle) {
	r.configCall("PD_ConfigEnableGpuMultiStream", c)
}

func (r *Recorder) ConfigEnableCudnn(c ConfigHandle) {
	r.configCall("PD_ConfigEnableCudnn", c)
}

func (r *Recorder) ConfigEnableTensorRtEngine(c ConfigHandle, workspaceSize int64, maxBatchSize, minSubgraphSize int32, precision Precision, useStatic, useCalibMode Bool) {
	r.configCall("PD_ConfigEnableTensorRtEngine", c, workspaceSize, maxBatchSize, minSubgraphSize, precision, useStatic, useCalibMode)
}

func (r *Recorder) ConfigSetTrtDynamicShapeInfo(c ConfigHandle, names []string, shapesNum []uint64, minShapes, maxShapes, optimShapes [][]int32, disablePluginFp16 Bool) {
	clone := func(m [][]int32) [][]int32 {
		out := make([][]int32, len(m))
		for i, row := range m {
			out[i] = slices.Clone(row)
		}
		return out
	}
	r.configCall("PD_ConfigSetTrtDynamicShapeInfo", c, slices.Clone(names), slices.Clone(shapesNum),
		clone(minShapes), clone(maxShapes), clone(optimShapes), disablePluginFp16)
}

func (r *Recorder) ConfigEnableTensorRtOSS(c ConfigHandle) {
	r.configCall("PD_ConfigEnableTensorRtOSS", c)
}

func (r *Recorder) ConfigEnableTensorRtDla(c ConfigHandle, dlaCore int32) {
	r.configCall("PD_ConfigEnableTensorRtDla", c, dlaCore)
}

func (r *Recorder) ConfigEnableXpu(c ConfigHandle, l3WorkspaceSize int32, locked, autotune Bool, autotuneFile *string, precision string, adaptiveSeqlen Bool) {
	var file any
	if autotuneFile != nil {
		file = *autotuneFile
	}
	r.configCall("PD_ConfigEnableXpu", c, l3WorkspaceSize, locked, autotune, file, precision, adaptiveSeqlen)
}

func (r *Recorder) ConfigEnableONNXRuntime(c ConfigHandle) {
	r.configCall("PD_ConfigEnableONNXRuntime", c)
}

func (r *Recorder) ConfigEnableORTOptimization(c ConfigHandle) {
	r.configCall("PD_ConfigEnableORTOptimization", c)
}

func (r *Recorder) ConfigSwitchIrOptim(c ConfigHandle, on Bool) {
	r.configCall("PD_ConfigSwitchIrOptim", c, on)
}

func (r *Recorder) ConfigSwitchIrDebug(c ConfigHandle, on Bool) {
	r.configCall("PD_ConfigSwitchIrDebug", c, on)
}

func (r *Recorder) ConfigEnableLiteEngine(c ConfigHandle, precision Precision, zeroCopy Bool, passesFilter, opsFilter []string) {
	r.configCall("PD_ConfigEnableLiteEngine", c, precision, zeroCopy, slices.Clone(passesFilter), slices.Clone(opsFilter))
}

func (r *Recorder) ConfigEnableMemoryOptim(c ConfigHandle, on Bool) {
	r.configCall("PD_ConfigEnableMemoryOptim", c, on)
}

func (r *Recorder) ConfigSetOptimCacheDir(c ConfigHandle, dir string) {
	r.configCall("PD_ConfigSetOptimCacheDir", c, dir)
}

func (r *Recorder) ConfigDisableFCPadding(c ConfigHandle) {
	r.configCall("PD_ConfigDisableFCPadding", c)
}

func (r *Recorder) ConfigEnableProfile(c ConfigHandle) {
	r.configCall("PD_ConfigEnableProfile", c)
}

func (r *Recorder) ConfigDisableGlogInfo(c ConfigHandle) {
	r.configCall("PD_ConfigDisableGlogInfo", c)
}

func (r *Recorder) newPredictor() *recPredictor {
	rp := &recPredictor{
		inputs:  make(map[string]*recSlot, len(r.inputNames)),
		outputs: make(map[string]*recSlot, len(r.outputNames)),
	}
	for _, name := range r.inputNames {
		rp.inputs[name] = &recSlot{name: name, dtype: DataFloat32}
	}
	for _, name := range r.outputNames {
		rp.outputs[name] = &recSlot{name: name, dtype: DataFloat32}
	}
	r.livePredictors++
	return rp
}

func (r *Recorder) PredictorCreate(c ConfigHandle) PredictorHandle {
	r.lock("PD_PredictorCreate")
	defer r.mu.Unlock()
	rc := r.config("PD_PredictorCreate", c)
	r.record("PD_PredictorCreate")
	rc.state = stateConsumed
	r.liveConfigs--
	if r.failCreate {
		return PredictorHandle{}
	}
	return NewPredictorHandle(unsafe.Pointer(r.newPredictor()))
}

func (r *Recorder) PredictorClone(p PredictorHandle) PredictorHandle {
	r.lock("PD_PredictorClone")
	defer r.mu.Unlock()
	r.predictor("PD_PredictorClone", p)
	r.record("PD_PredictorClone")
	return NewPredictorHandle(unsafe.Pointer(r.newPredictor()))
}

func (r *Recorder) PredictorDestroy(p PredictorHandle) {
	r.lock("PD_PredictorDestroy")
	defer r.mu.Unlock()
	rp := r.predictor("PD_PredictorDestroy", p)
	r.record("PD_PredictorDestroy")
	rp.state = stateDestroyed
	r.livePredictors--
}

func (r *Recorder) PredictorRun(p PredictorHandle) Bool {
	r.lock("PD_PredictorRun")
	defer r.mu.Unlock()
	rp := r.predictor("PD_PredictorRun", p)
	r.record("PD_PredictorRun")
	for _, name := range r.inputNames {
		if rp.inputs[name].data == nil {
			return False
		}
	}
	if len(r.inputNames) == 0 {
		return True
	}
	for i, name := range r.outputNames {
		in := rp.inputs[r.inputNames[i%len(r.inputNames)]]
		out := rp.outputs[name]
		out.shape = slices.Clone(in.shape)
		out.dtype = in.dtype
		out.data = cloneData(in.data)
	}
	return True
}

func (r *Recorder) PredictorGetInputNames(p PredictorHandle) []string {
	r.lock("PD_PredictorGetInputNames")
	defer r.mu.Unlock()
	r.predictor("PD_PredictorGetInputNames", p)
	r.record("PD_PredictorGetInputNames")
	return slices.Clone(r.inputNames)
}

func (r *Recorder) PredictorGetOutputNames(p PredictorHandle) []string {
	r.lock("PD_PredictorGetOutputNames")
	defer r.mu.Unlock()
	r.predictor("PD_PredictorGetOutputNames", p)
	r.record("PD_PredictorGetOutputNames")
	return slices.Clone(r.outputNames)
}

func (r *Recorder) PredictorGetInputNum(p PredictorHandle) uint64 {
	r.lock("PD_PredictorGetInputNum")
	defer r.mu.Unlock()
	r.predictor("PD_PredictorGetInputNum", p)
	r.record("PD_PredictorGetInputNum")
	return uint64(len(r.inputNames))
}

func (r *Recorder) PredictorGetOutputNum(p PredictorHandle) uint64 {
	r.lock("PD_PredictorGetOutputNum")
	defer r.mu.Unlock()
	r.predictor("PD_PredictorGetOutputNum", p)
	r.record("PD_PredictorGetOutputNum")
	return uint64(len(r.outputNames))
}

func (r *Recorder) getHandle(call string, p PredictorHandle, name string, output bool) TensorHandle {
	r.lock(call)
	defer r.mu.Unlock()
	rp := r.predictor(call, p)
	r.record(call, name)
	slots := rp.inputs
	if output {
		slots = rp.outputs
	}
	slot, ok := slots[name]
	if !ok {
		return TensorHandle{}
	}
	r.liveTensors++
	return NewTensorHandle(unsafe.Pointer(&recTensor{owner: rp, slot: slot}))
}

func (r *Recorder) PredictorGetInputHandle(p PredictorHandle, name string) TensorHandle {
	return r.getHandle("PD_PredictorGetInputHandle", p, name, false)
}

func (r *Recorder) PredictorGetOutputHandle(p PredictorHandle, name string) TensorHandle {
	return r.getHandle("PD_PredictorGetOutputHandle", p, name, true)
}

func (r *Recorder) TensorDestroy(t TensorHandle) {
	r.lock("PD_TensorDestroy")
	defer r.mu.Unlock()
	if t.IsNil() {
		panic("capi.Recorder: PD_TensorDestroy on NULL tensor")
	}
	rt := (*recTensor)(t.Ptr())
	if rt.destroyed {
		panic("capi.Recorder: PD_TensorDestroy on destroyed tensor")
	}
	// the wrapper may outlive its predictor, releasing it is always valid
	r.record("PD_TensorDestroy")
	rt.destroyed = true
	r.liveTensors--
}

func (r *Recorder) TensorReshape(t TensorHandle, shape []int32) {
	r.lock("PD_TensorReshape")
	defer r.mu.Unlock()
	rt := r.tensor("PD_TensorReshape", t)
	r.record("PD_TensorReshape", slices.Clone(shape))
	rt.slot.shape = slices.Clone(shape)
}

func (r *Recorder) TensorGetShape(t TensorHandle) []int32 {
	r.lock("PD_TensorGetShape")
	defer r.mu.Unlock()
	rt := r.tensor("PD_TensorGetShape", t)
	r.record("PD_TensorGetShape")
	if rt.slot.shape == nil {
		return []int32{}
	}
	return slices.Clone(rt.slot.shape)
}

func (r *Recorder) TensorGetDataType(t TensorHandle) DataType {
	r.lock("PD_TensorGetDataType")
	defer r.mu.Unlock()
	rt := r.tensor("PD_TensorGetDataType", t)
	r.record("PD_TensorGetDataType")
	return rt.slot.dtype
}

func (r *Recorder) TensorGetName(t TensorHandle) string {
	r.lock("PD_TensorGetName")
	defer r.mu.Unlock()
	rt := r.tensor("PD_TensorGetName", t)
	r.record("PD_TensorGetName")
	return rt.slot.name
}

func (r *Recorder) TensorCopyFromCPU(t TensorHandle, src any) error {
	r.lock("PD_TensorCopyFromCpu")
	defer r.mu.Unlock()
	rt := r.tensor("PD_TensorCopyFromCpu", t)
	dtype := dataTypeOf(src)
	if dtype == DataUnknown {
		return fmt.Errorf("unsupported tensor source type %T", src)
	}
	r.record("PD_TensorCopyFromCpu", dtype)
	rt.slot.dtype = dtype
	rt.slot.data = cloneData(src)
	return nil
}

func (r *Recorder) TensorCopyToCPU(t TensorHandle, dst any) error {
	r.lock("PD_TensorCopyToCpu")
	defer r.mu.Unlock()
	rt := r.tensor("PD_TensorCopyToCpu", t)
	dtype := dataTypeOf(dst)
	r.record("PD_TensorCopyToCpu", dtype)
	if dtype != rt.slot.dtype {
		return fmt.Errorf("tensor %s holds %s, destination is %s", rt.slot.name, rt.slot.dtype, dtype)
	}
	var n int
	switch d := dst.(type) {
	case []float32:
		n = copy(d, asSlice[float32](rt.slot.data))
	case []int32:
		n = copy(d, asSlice[int32](rt.slot.data))
	case []int64:
		n = copy(d, asSlice[int64](rt.slot.data))
	case []uint8:
		n = copy(d, asSlice[uint8](rt.slot.data))
	case []int8:
		n = copy(d, asSlice[int8](rt.slot.data))
	}
	if n != lenData(dst) {
		return fmt.Errorf("tensor %s holds %d elements, destination has room for %d", rt.slot.name, n, lenData(dst))
	}
	return nil
}

func dataTypeOf(v any) DataType {
	switch v.(type) {
	case []float32:
		return DataFloat32
	case []int32:
		return DataInt32
	case []int64:
		return DataInt64
	case []uint8:
		return DataUint8
	case []int8:
		return DataInt8
	default:
		return DataUnknown
	}
}

func asSlice[T any](v any) []T {
	s, _ := v.([]T)
	return s
}

func lenData(v any) int {
	switch d := v.(type) {
	case []float32:
		return len(d)
	case []int32:
		return len(d)
	case []int64:
		return len(d)
	case []uint8:
		return len(d)
	case []int8:
		return len(d)
	default:
		return 0
	}
}

func cloneData(v any) any {
	switch d := v.(type) {
	case []float32:
		return slices.Clone(d)
	case []int32:
		return slices.Clone(d)
	case []int64:
		return slices.Clone(d)
	case []uint8:
		return slices.Clone(d)
	case []int8:
		return slices.Clone(d)
	default:
		return nil
	}
}
