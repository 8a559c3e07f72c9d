package vm

import (
	"github.com/secona/belalang-sub001/code"
	"github.com/secona/belalang-sub001/object"
)

// Frame tracks one call's execution state: which function is running, how
// far the instruction pointer has advanced through it, and where its
// locals begin on the VM's value stack. Belalang has no closures, so a
// Frame needs nothing beyond a direct reference to the called Function -
// there is no captured environment to carry along.
type Frame struct {
	fn *object.Function

	// ip is the instruction pointer, the offset of the instruction about
	// to execute within fn.Fn.Instructions. Starts at -1 so the dispatch
	// loop's pre-increment lands on 0 for the first instruction.
	ip int

	// basePointer is the stack index of this frame's first local variable
	// (and, for frame 0 and below, where its arguments were pushed).
	basePointer int
}

// NewFrame creates a frame for calling fn with its arguments already
// sitting on the stack starting at basePointer.
func NewFrame(fn *object.Function, basePointer int) *Frame {
	return &Frame{fn: fn, ip: -1, basePointer: basePointer}
}

// Instructions returns the bytecode of the function this frame is executing.
func (f *Frame) Instructions() code.Instructions {
	return f.fn.Fn.Instructions
}
