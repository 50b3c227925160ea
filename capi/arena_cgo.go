//go:build cgo && PADDLE

package capi

/*
#include <stdlib.h>
#include <stdint.h>
*/
import "C"

import "unsafe"

// cArena owns every C allocation made for a single foreign call. The buffers stay
// valid until free, which callers defer right after creating the arena, so batch
// calls carrying arrays of strings see all of them alive until the call returns.
type cArena struct {
	ptrs []unsafe.Pointer
}

func (a *cArena) alloc(size uintptr) unsafe.Pointer {
	p := C.malloc(C.size_t(size))
	a.ptrs = append(a.ptrs, p)
	return p
}

// str copies s into a NUL-terminated C buffer. The native side stops reading at
// the first NUL, so an embedded NUL truncates the string there.
func (a *cArena) str(s string) *C.char {
	p := C.CString(s)
	a.ptrs = append(a.ptrs, unsafe.Pointer(p))
	return p
}

// optStr returns NULL for an absent string.
func (a *cArena) optStr(s *string) *C.char {
	if s == nil {
		return nil
	}
	return a.str(*s)
}

func (a *cArena) strArray(ss []string) **C.char {
	if len(ss) == 0 {
		return nil
	}
	mem := a.alloc(uintptr(len(ss)) * unsafe.Sizeof((*C.char)(nil)))
	out := unsafe.Slice((**C.char)(mem), len(ss))
	for i, s := range ss {
		out[i] = a.str(s)
	}
	return (**C.char)(mem)
}

func (a *cArena) int32Array(v []int32) *C.int32_t {
	if len(v) == 0 {
		return nil
	}
	mem := a.alloc(uintptr(len(v)) * unsafe.Sizeof(C.int32_t(0)))
	out := unsafe.Slice((*C.int32_t)(mem), len(v))
	for i, x := range v {
		out[i] = C.int32_t(x)
	}
	return (*C.int32_t)(mem)
}

func (a *cArena) int32Matrix(rows [][]int32) **C.int32_t {
	if len(rows) == 0 {
		return nil
	}
	mem := a.alloc(uintptr(len(rows)) * unsafe.Sizeof((*C.int32_t)(nil)))
	out := unsafe.Slice((**C.int32_t)(mem), len(rows))
	for i, row := range rows {
		out[i] = a.int32Array(row)
	}
	return (**C.int32_t)(mem)
}

func (a *cArena) sizeArray(v []uint64) *C.size_t {
	if len(v) == 0 {
		return nil
	}
	mem := a.alloc(uintptr(len(v)) * unsafe.Sizeof(C.size_t(0)))
	out := unsafe.Slice((*C.size_t)(mem), len(v))
	for i, x := range v {
		out[i] = C.size_t(x)
	}
	return (*C.size_t)(mem)
}

func (a *cArena) free() {
	for _, p := range a.ptrs {
		C.free(p)
	}
	a.ptrs = nil
}
