package gopaddle

import (
	"fmt"
	"runtime"
	"sync"

	"gorgonia.org/tensor"

	"github.com/knights-analytics/gopaddle/capi"
	"github.com/knights-analytics/gopaddle/util/safeconv"
)

// Element is a Go type the engine can copy tensor data as.
type Element interface {
	float32 | int32 | int64 | uint8 | int8
}

// DataTypeOf returns the native data type matching T.
func DataTypeOf[T Element]() capi.DataType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return capi.DataFloat32
	case int32:
		return capi.DataInt32
	case int64:
		return capi.DataInt64
	case uint8:
		return capi.DataUint8
	case int8:
		return capi.DataInt8
	}
	return capi.DataUnknown
}

// Tensor is a view onto one named input or output slot of a Predictor. It does not own the
// slot, which belongs to the predictor: once the predictor is destroyed every method returns
// ErrDestroyed. Close releases the view itself.
type Tensor struct {
	predictor *Predictor
	handle    capi.TensorHandle

	mu     sync.Mutex
	closed bool
}

func newTensor(p *Predictor, h capi.TensorHandle) *Tensor {
	t := &Tensor{predictor: p, handle: h}
	runtime.SetFinalizer(t, (*Tensor).Close)
	return t
}

func (t *Tensor) live() error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return fmt.Errorf("tensor view closed: %w", ErrDestroyed)
	}
	return t.predictor.live()
}

// Name is the slot name as reported by the engine.
func (t *Tensor) Name() (string, error) {
	if err := t.live(); err != nil {
		return "", err
	}
	defer runtime.KeepAlive(t)
	return t.predictor.engine.TensorGetName(t.handle), nil
}

// Shape is the current shape of the slot. An input has no shape until Reshape.
func (t *Tensor) Shape() ([]int32, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	defer runtime.KeepAlive(t)
	return t.predictor.engine.TensorGetShape(t.handle), nil
}

// Reshape sets the shape of an input slot. It must be called before CopyFromCPU.
func (t *Tensor) Reshape(shape []int32) error {
	if err := t.live(); err != nil {
		return err
	}
	defer runtime.KeepAlive(t)
	for _, d := range shape {
		if d < 0 {
			return fmt.Errorf("invalid shape %v: negative dimension", shape)
		}
	}
	t.predictor.engine.TensorReshape(t.handle, shape)
	return nil
}

// DataType is the element type currently held by the slot.
func (t *Tensor) DataType() (capi.DataType, error) {
	if err := t.live(); err != nil {
		return capi.DataUnknown, err
	}
	defer runtime.KeepAlive(t)
	return t.predictor.engine.TensorGetDataType(t.handle), nil
}

// Close releases the view. The slot and its data stay with the predictor. Close may be
// called after the predictor was destroyed, and more than once.
func (t *Tensor) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	runtime.SetFinalizer(t, nil)
	t.predictor.engine.TensorDestroy(t.handle)
	t.handle = capi.TensorHandle{}
	return nil
}

// CopyFromCPU copies data into the slot of t. len(data) must match the element count of the
// shape set with Reshape.
func CopyFromCPU[T Element](t *Tensor, data []T) error {
	shape, err := t.Shape()
	if err != nil {
		return err
	}
	defer runtime.KeepAlive(t)
	if n := safeconv.Numel(shape); n != len(data) {
		return fmt.Errorf("tensor shape %v holds %d elements, got %d, call Reshape first", shape, n, len(data))
	}
	return t.predictor.engine.TensorCopyFromCPU(t.handle, data)
}

// CopyToCPU copies the slot of t out as a new slice. T must match the slot's data type.
func CopyToCPU[T Element](t *Tensor) ([]T, error) {
	dtype, err := t.DataType()
	if err != nil {
		return nil, err
	}
	if want := DataTypeOf[T](); dtype != want {
		return nil, fmt.Errorf("%w: tensor holds %s, requested %s", ErrTypeMismatch, dtype, want)
	}
	shape, err := t.Shape()
	if err != nil {
		return nil, err
	}
	out := make([]T, safeconv.Numel(shape))
	defer runtime.KeepAlive(t)
	if err = t.predictor.engine.TensorCopyToCPU(t.handle, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ToDense copies the slot of t into a gorgonia dense tensor of the same shape and type.
func ToDense(t *Tensor) (*tensor.Dense, error) {
	dtype, err := t.DataType()
	if err != nil {
		return nil, err
	}
	var backing any
	switch dtype {
	case capi.DataFloat32:
		backing, err = CopyToCPU[float32](t)
	case capi.DataInt32:
		backing, err = CopyToCPU[int32](t)
	case capi.DataInt64:
		backing, err = CopyToCPU[int64](t)
	case capi.DataUint8:
		backing, err = CopyToCPU[uint8](t)
	case capi.DataInt8:
		backing, err = CopyToCPU[int8](t)
	default:
		return nil, fmt.Errorf("%w: cannot convert %s tensor", ErrTypeMismatch, dtype)
	}
	if err != nil {
		return nil, err
	}
	shape, err := t.Shape()
	if err != nil {
		return nil, err
	}
	dims := make([]int, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing)), nil
}

// FromDense reshapes t to the shape of d and copies its data in.
func FromDense(t *Tensor, d *tensor.Dense) error {
	shape := safeconv.IntSliceToInt32Slice(d.Shape())
	if err := t.Reshape(shape); err != nil {
		return err
	}
	switch data := d.Data().(type) {
	case []float32:
		return CopyFromCPU(t, data)
	case []int32:
		return CopyFromCPU(t, data)
	case []int64:
		return CopyFromCPU(t, data)
	case []uint8:
		return CopyFromCPU(t, data)
	case []int8:
		return CopyFromCPU(t, data)
	}
	return fmt.Errorf("%w: unsupported dense type %s", ErrTypeMismatch, d.Dtype())
}
