// Package vm implements Belalang's stack-based virtual machine.
//
// The VM fetches, decodes, and executes the bytecode produced by the
// compiler: it owns a value stack, a stack of call frames, a fixed-size
// globals vector, and the heap that backs every String, Array, and
// Function value. Every RuntimeError the VM can produce is one of a
// small, disjoint set of kinds rather than an ad hoc string, so callers
// (the REPL, the file runner) can match on it.
package vm

import (
	"context"
	"fmt"
	"math"

	"github.com/secona/belalang-sub001/code"
	"github.com/secona/belalang-sub001/compiler"
	"github.com/secona/belalang-sub001/heap"
	"github.com/secona/belalang-sub001/object"
)

const (
	// StackSize is the maximum number of values the value stack can hold.
	StackSize = 2048

	// GlobalsSize is the fixed size of the globals vector.
	GlobalsSize = 65536

	// MaxFrames is the maximum call depth.
	MaxFrames = 1024

	// interruptCheckInterval is how many dispatched instructions pass
	// between checks of the interrupt context, when one is configured.
	interruptCheckInterval = 1000

	// gcInterval is how many dispatched instructions pass between
	// mark-sweep cycle-collection passes. Reference counting alone
	// reclaims everything except a reference cycle (an array that holds,
	// directly or transitively, a reference back to itself via a mutating
	// index assignment) - mark-sweep runs periodically to catch those.
	gcInterval = 10000
)

// RuntimeErrorKind enumerates the disjoint ways VM execution can fail.
type RuntimeErrorKind int

const (
	ErrStackOverflow RuntimeErrorKind = iota
	ErrStackUnderflow
	ErrDivisionByZero
	ErrInvalidOperation
	ErrNotAFunction
	ErrUnknownInstruction
	ErrBuiltinFailure
	ErrInterrupted
)

func (k RuntimeErrorKind) String() string {
	switch k {
	case ErrStackOverflow:
		return "StackOverflow"
	case ErrStackUnderflow:
		return "StackUnderflow"
	case ErrDivisionByZero:
		return "DivisionByZero"
	case ErrInvalidOperation:
		return "InvalidOperation"
	case ErrNotAFunction:
		return "NotAFunction"
	case ErrUnknownInstruction:
		return "UnknownInstruction"
	case ErrBuiltinFailure:
		return "BuiltinFailure"
	case ErrInterrupted:
		return "Interrupted"
	default:
		return "RuntimeError"
	}
}

// RuntimeError is the error type returned by [VM.Run]. The VM never
// panics on a program error - every failure mode below unwinds to Run's
// caller as one of these.
type RuntimeError struct {
	Kind    RuntimeErrorKind
	Message string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func invalidOperation(lhs object.Object, op string, rhs object.Object) *RuntimeError {
	return &RuntimeError{
		Kind:    ErrInvalidOperation,
		Message: fmt.Sprintf("%s %s %s not supported", lhs.Type(), op, rhs.Type()),
	}
}

// VM executes compiled Belalang bytecode.
type VM struct {
	constants []object.Object

	stack []object.Object
	sp    int

	globals []object.Object

	frames      []*Frame
	framesIndex int

	heap *heap.Heap

	// materializedStrings and materializedFunctions cache the heap-backed
	// value an OpConstant index was lazily turned into, so executing the
	// same constant again reuses one heap object instead of allocating a
	// new one every time.
	materializedStrings   map[int]*object.String
	materializedFunctions map[int]*object.Function

	lastPopped object.Object

	ctx                 context.Context
	instructionsSince   int
	instructionsSinceGC int
}

// Option configures a VM at construction time.
type Option func(*VM)

// WithInterrupt makes Run check ctx for cancellation every so often,
// aborting with an Interrupted RuntimeError when it is done.
func WithInterrupt(ctx context.Context) Option {
	return func(vm *VM) { vm.ctx = ctx }
}

// New creates a VM to execute bytecode, with fresh globals and heap.
func New(bytecode *compiler.Bytecode, opts ...Option) *VM {
	mainFn := &object.CompiledFunction{Instructions: bytecode.Instructions}
	mainFrame := NewFrame(&object.Function{Fn: mainFn}, 0)

	frames := make([]*Frame, MaxFrames)
	frames[0] = mainFrame

	vm := &VM{
		constants:             bytecode.Constants,
		stack:                 make([]object.Object, StackSize),
		globals:               make([]object.Object, GlobalsSize),
		frames:                frames,
		framesIndex:           1,
		heap:                  heap.New(),
		materializedStrings:   make(map[int]*object.String),
		materializedFunctions: make(map[int]*object.Function),
		ctx:                   context.Background(),
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// NewWithGlobalsStore creates a VM that continues execution against a
// pre-existing globals vector, as the REPL does so declarations survive
// from one line to the next. Each call still gets its own heap: values
// already stored in globals keep working as ordinary Go values, but the
// new heap does not know about them, so this VM's own Release calls on
// objects older than it are harmless no-ops rather than true collection.
func NewWithGlobalsStore(bytecode *compiler.Bytecode, globals []object.Object, opts ...Option) *VM {
	vm := New(bytecode, opts...)
	vm.globals = globals
	return vm
}

// Heap exposes the VM's heap, mainly for tests that want to assert on
// live-object counts.
func (vm *VM) Heap() *heap.Heap { return vm.heap }

func (vm *VM) currentFrame() *Frame {
	return vm.frames[vm.framesIndex-1]
}

func (vm *VM) pushFrame(f *Frame) {
	vm.frames[vm.framesIndex] = f
	vm.framesIndex++
}

func (vm *VM) popFrame() *Frame {
	vm.framesIndex--
	return vm.frames[vm.framesIndex]
}

// push places obj on top of the stack without touching its ref count.
// Most call sites should use pushValue instead; push is for zero-sum
// moves where the caller has already accounted for the reference.
func (vm *VM) push(obj object.Object) error {
	if vm.sp >= StackSize {
		return &RuntimeError{Kind: ErrStackOverflow, Message: "stack overflow"}
	}
	vm.stack[vm.sp] = obj
	vm.sp++
	return nil
}

// pop removes and returns the top of the stack without touching its ref
// count.
func (vm *VM) pop() (object.Object, error) {
	if vm.sp == 0 {
		return nil, &RuntimeError{Kind: ErrStackUnderflow, Message: "stack underflow"}
	}
	vm.sp--
	return vm.stack[vm.sp], nil
}

// pushValue pushes obj and retains it: use this whenever a new stack
// slot is being created for a value that already exists elsewhere
// (loading a global/local/builtin, materializing a constant) or for a
// freshly computed result.
func (vm *VM) pushValue(obj object.Object) error {
	if err := vm.push(obj); err != nil {
		return err
	}
	vm.retain(obj)
	return nil
}

func (vm *VM) retain(obj object.Object) {
	if ho, ok := obj.(heap.Object); ok {
		heap.Retain(ho)
	}
}

func (vm *VM) release(obj object.Object) {
	if ho, ok := obj.(heap.Object); ok {
		vm.heap.Release(ho)
	}
}

// LastPoppedStackItem returns the most recently discarded top-of-stack
// value: the result of the last expression statement executed, used by
// the REPL to print a result after every line.
func (vm *VM) LastPoppedStackItem() object.Object {
	return vm.lastPopped
}

// Run executes the VM's bytecode from the beginning of its main frame.
// On a RuntimeError it unwinds the call frames back to the main frame and
// drains the value stack before returning the error; objects that were
// only referenced from the drained stack are left to the next mark-sweep.
func (vm *VM) Run() (err error) {
	defer func() {
		if err != nil {
			clear(vm.stack)
			vm.sp = 0
			vm.framesIndex = 1
		}
	}()

	for {
		frame := vm.currentFrame()
		if frame.ip >= len(frame.Instructions())-1 {
			break
		}

		frame.ip++
		ip := frame.ip
		ins := frame.Instructions()
		op := code.Opcode(ins[ip])

		if err := vm.checkInterrupt(); err != nil {
			return err
		}

		switch op {
		case code.OpConstant:
			constIndex := int(code.ReadUint16(ins[ip+1:]))
			frame.ip += 2
			if err := vm.loadConstant(constIndex); err != nil {
				return err
			}

		case code.OpPop:
			if err := vm.executePop(); err != nil {
				return err
			}

		case code.OpTrue:
			if err := vm.pushValue(object.True); err != nil {
				return err
			}
		case code.OpFalse:
			if err := vm.pushValue(object.False); err != nil {
				return err
			}
		case code.OpNull:
			if err := vm.pushValue(object.NullValue); err != nil {
				return err
			}

		case code.OpAdd, code.OpSub, code.OpMul, code.OpDiv, code.OpMod:
			if err := vm.executeArithmetic(op); err != nil {
				return err
			}

		case code.OpEqual, code.OpNotEqual, code.OpGreaterThan:
			if err := vm.executeComparison(op); err != nil {
				return err
			}

		case code.OpAnd, code.OpOr:
			if err := vm.executeLogical(op); err != nil {
				return err
			}

		case code.OpBang:
			if err := vm.executeBang(); err != nil {
				return err
			}
		case code.OpMinus:
			if err := vm.executeMinus(); err != nil {
				return err
			}

		case code.OpJump:
			offset := code.ReadInt16(ins[ip+1:])
			frame.ip = ip + 3 + int(offset) - 1

		case code.OpJumpIfFalse:
			offset := code.ReadInt16(ins[ip+1:])
			frame.ip += 2
			condition, err := vm.pop()
			if err != nil {
				return err
			}
			truthy := isTruthy(condition)
			vm.release(condition)
			if !truthy {
				frame.ip = ip + 3 + int(offset) - 1
			}

		case code.OpJumpIfTrue:
			offset := code.ReadInt16(ins[ip+1:])
			frame.ip += 2
			condition, err := vm.pop()
			if err != nil {
				return err
			}
			truthy := isTruthy(condition)
			vm.release(condition)
			if truthy {
				frame.ip = ip + 3 + int(offset) - 1
			}

		case code.OpSetGlobal:
			idx := int(code.ReadUint16(ins[ip+1:]))
			frame.ip += 2
			val, err := vm.pop()
			if err != nil {
				return err
			}
			vm.release(vm.globals[idx])
			vm.globals[idx] = val

		case code.OpGetGlobal:
			idx := int(code.ReadUint16(ins[ip+1:]))
			frame.ip += 2
			if err := vm.pushValue(vm.globals[idx]); err != nil {
				return err
			}

		case code.OpSetLocal:
			idx := int(code.ReadUint8(ins[ip+1:]))
			frame.ip++
			val, err := vm.pop()
			if err != nil {
				return err
			}
			slot := frame.basePointer + idx
			vm.release(vm.stack[slot])
			vm.stack[slot] = val

		case code.OpGetLocal:
			idx := int(code.ReadUint8(ins[ip+1:]))
			frame.ip++
			slot := frame.basePointer + idx
			if err := vm.pushValue(vm.stack[slot]); err != nil {
				return err
			}

		case code.OpGetBuiltin:
			idx := int(code.ReadUint8(ins[ip+1:]))
			frame.ip++
			if err := vm.pushValue(object.Builtins[idx]); err != nil {
				return err
			}

		case code.OpArray:
			count := int(code.ReadUint16(ins[ip+1:]))
			frame.ip += 2
			if err := vm.executeArray(count); err != nil {
				return err
			}

		case code.OpIndex:
			if err := vm.executeIndex(); err != nil {
				return err
			}

		case code.OpSetIndex:
			if err := vm.executeSetIndex(); err != nil {
				return err
			}

		case code.OpCall:
			numArgs := int(code.ReadUint8(ins[ip+1:]))
			frame.ip++
			if err := vm.executeCall(numArgs); err != nil {
				return err
			}

		case code.OpReturnValue:
			if err := vm.executeReturn(); err != nil {
				return err
			}

		case code.OpReturn:
			if err := vm.executeReturnNull(); err != nil {
				return err
			}

		default:
			return &RuntimeError{Kind: ErrUnknownInstruction, Message: fmt.Sprintf("unknown opcode %d", op)}
		}
	}
	return nil
}

func (vm *VM) checkInterrupt() error {
	vm.instructionsSince++
	vm.instructionsSinceGC++

	if vm.instructionsSinceGC >= gcInterval {
		vm.instructionsSinceGC = 0
		vm.collectCycles()
	}

	if vm.instructionsSince < interruptCheckInterval {
		return nil
	}
	vm.instructionsSince = 0

	select {
	case <-vm.ctx.Done():
		return &RuntimeError{Kind: ErrInterrupted, Message: vm.ctx.Err().Error()}
	default:
		return nil
	}
}

// collectCycles runs a mark-sweep pass rooted at everything currently
// reachable from the value stack and the globals vector, reclaiming any
// reference cycle reference counting could never see on its own.
func (vm *VM) collectCycles() {
	roots := make([]heap.Object, 0, vm.sp+len(vm.globals))
	for i := 0; i < vm.sp; i++ {
		if ho, ok := vm.stack[i].(heap.Object); ok {
			roots = append(roots, ho)
		}
	}
	for _, g := range vm.globals {
		if ho, ok := g.(heap.Object); ok {
			roots = append(roots, ho)
		}
	}
	vm.heap.Mark(roots)
	vm.heap.Sweep()
}

// loadConstant pushes constants[index], lazily materializing a heap
// object for string and function constants the first time their index is
// loaded and reusing it on every subsequent load.
func (vm *VM) loadConstant(index int) error {
	switch c := vm.constants[index].(type) {
	case *object.StringConstant:
		str, ok := vm.materializedStrings[index]
		if !ok {
			str = object.NewString(vm.heap, c.Value)
			vm.materializedStrings[index] = str
		}
		return vm.pushValue(str)

	case *object.CompiledFunction:
		fn, ok := vm.materializedFunctions[index]
		if !ok {
			fn = object.NewFunction(vm.heap, c)
			vm.materializedFunctions[index] = fn
		}
		return vm.pushValue(fn)

	default:
		return vm.pushValue(vm.constants[index])
	}
}

func (vm *VM) executePop() error {
	val, err := vm.pop()
	if err != nil {
		return err
	}
	vm.lastPopped = val
	vm.release(val)
	return nil
}

func (vm *VM) executeArithmetic(op code.Opcode) error {
	right, err := vm.pop()
	if err != nil {
		return err
	}
	left, err := vm.pop()
	if err != nil {
		return err
	}

	result, rerr := binaryNumeric(left, op, right)
	vm.release(left)
	vm.release(right)
	if rerr != nil {
		return rerr
	}
	return vm.pushValue(result)
}

func binaryNumeric(left object.Object, op code.Opcode, right object.Object) (object.Object, error) {
	li, lIsInt := left.(*object.Integer)
	ri, rIsInt := right.(*object.Integer)

	if lIsInt && rIsInt {
		return integerArithmetic(li.Value, op, ri.Value)
	}

	lf, lOk := asFloat(left)
	rf, rOk := asFloat(right)
	if !lOk || !rOk {
		return nil, invalidOperation(left, opSymbol(op), right)
	}
	return floatArithmetic(lf, op, rf)
}

func asFloat(obj object.Object) (float64, bool) {
	switch v := obj.(type) {
	case *object.Integer:
		return float64(v.Value), true
	case *object.Float:
		return v.Value, true
	default:
		return 0, false
	}
}

func integerArithmetic(left int64, op code.Opcode, right int64) (object.Object, error) {
	switch op {
	case code.OpAdd:
		return &object.Integer{Value: left + right}, nil
	case code.OpSub:
		return &object.Integer{Value: left - right}, nil
	case code.OpMul:
		return &object.Integer{Value: left * right}, nil
	case code.OpDiv:
		if right == 0 {
			return nil, &RuntimeError{Kind: ErrDivisionByZero, Message: "division by zero"}
		}
		return &object.Integer{Value: left / right}, nil
	case code.OpMod:
		if right == 0 {
			return nil, &RuntimeError{Kind: ErrDivisionByZero, Message: "division by zero"}
		}
		return &object.Integer{Value: left % right}, nil
	default:
		return nil, &RuntimeError{Kind: ErrUnknownInstruction, Message: fmt.Sprintf("unknown arithmetic opcode %d", op)}
	}
}

func floatArithmetic(left float64, op code.Opcode, right float64) (object.Object, error) {
	switch op {
	case code.OpAdd:
		return &object.Float{Value: left + right}, nil
	case code.OpSub:
		return &object.Float{Value: left - right}, nil
	case code.OpMul:
		return &object.Float{Value: left * right}, nil
	case code.OpDiv:
		if right == 0 {
			return nil, &RuntimeError{Kind: ErrDivisionByZero, Message: "division by zero"}
		}
		return &object.Float{Value: left / right}, nil
	case code.OpMod:
		if right == 0 {
			return nil, &RuntimeError{Kind: ErrDivisionByZero, Message: "division by zero"}
		}
		return &object.Float{Value: math.Mod(left, right)}, nil
	default:
		return nil, &RuntimeError{Kind: ErrUnknownInstruction, Message: fmt.Sprintf("unknown arithmetic opcode %d", op)}
	}
}

func opSymbol(op code.Opcode) string {
	def, err := code.Lookup(byte(op))
	if err != nil {
		return "?"
	}
	return def.Name
}

func (vm *VM) executeComparison(op code.Opcode) error {
	right, err := vm.pop()
	if err != nil {
		return err
	}
	left, err := vm.pop()
	if err != nil {
		return err
	}

	switch op {
	case code.OpEqual:
		result := objectsEqual(left, right)
		vm.release(left)
		vm.release(right)
		return vm.pushValue(object.NativeBool(result))
	case code.OpNotEqual:
		result := !objectsEqual(left, right)
		vm.release(left)
		vm.release(right)
		return vm.pushValue(object.NativeBool(result))
	case code.OpGreaterThan:
		result, cerr := numericGreaterThan(left, right)
		vm.release(left)
		vm.release(right)
		if cerr != nil {
			return cerr
		}
		return vm.pushValue(object.NativeBool(result))
	default:
		return &RuntimeError{Kind: ErrUnknownInstruction, Message: fmt.Sprintf("unknown comparison opcode %d", op)}
	}
}

func numericGreaterThan(left, right object.Object) (bool, error) {
	li, lIsInt := left.(*object.Integer)
	ri, rIsInt := right.(*object.Integer)
	if lIsInt && rIsInt {
		return li.Value > ri.Value, nil
	}

	lf, lOk := asFloat(left)
	rf, rOk := asFloat(right)
	if !lOk || !rOk {
		return false, invalidOperation(left, "OpGreaterThan", right)
	}
	return lf > rf, nil
}

// objectsEqual implements Belalang's equality rule: values of different
// types are never equal; same-type equality is structural for the
// unboxed and String types, and by identity for Array and Function, since
// those are mutable/reference-like values.
func objectsEqual(left, right object.Object) bool {
	switch l := left.(type) {
	case *object.Integer:
		r, ok := right.(*object.Integer)
		return ok && l.Value == r.Value
	case *object.Float:
		r, ok := right.(*object.Float)
		return ok && l.Value == r.Value
	case *object.Boolean:
		r, ok := right.(*object.Boolean)
		return ok && l.Value == r.Value
	case *object.Null:
		_, ok := right.(*object.Null)
		return ok
	case *object.String:
		r, ok := right.(*object.String)
		return ok && l.Value == r.Value
	case *object.Array:
		r, ok := right.(*object.Array)
		return ok && l == r
	case *object.Function:
		r, ok := right.(*object.Function)
		return ok && l == r
	default:
		return left == right
	}
}

func (vm *VM) executeLogical(op code.Opcode) error {
	right, err := vm.pop()
	if err != nil {
		return err
	}
	left, err := vm.pop()
	if err != nil {
		return err
	}
	defer vm.release(left)
	defer vm.release(right)

	lb, lOk := left.(*object.Boolean)
	rb, rOk := right.(*object.Boolean)
	if !lOk || !rOk {
		return invalidOperation(left, opSymbol(op), right)
	}

	var result bool
	if op == code.OpAnd {
		result = lb.Value && rb.Value
	} else {
		result = lb.Value || rb.Value
	}
	return vm.pushValue(object.NativeBool(result))
}

func (vm *VM) executeBang() error {
	operand, err := vm.pop()
	if err != nil {
		return err
	}
	truthy := isTruthy(operand)
	vm.release(operand)
	return vm.pushValue(object.NativeBool(!truthy))
}

func (vm *VM) executeMinus() error {
	operand, err := vm.pop()
	if err != nil {
		return err
	}

	var result object.Object
	switch v := operand.(type) {
	case *object.Integer:
		result = &object.Integer{Value: -v.Value}
	case *object.Float:
		result = &object.Float{Value: -v.Value}
	default:
		vm.release(operand)
		return &RuntimeError{Kind: ErrInvalidOperation, Message: fmt.Sprintf("unary - not supported for %s", operand.Type())}
	}
	vm.release(operand)
	return vm.pushValue(result)
}

// isTruthy implements Belalang's truthiness rule: only false and null are
// falsy. Zero, the empty string, and the empty array are all truthy.
func isTruthy(obj object.Object) bool {
	switch v := obj.(type) {
	case *object.Boolean:
		return v.Value
	case *object.Null:
		return false
	default:
		return true
	}
}

func (vm *VM) executeArray(count int) error {
	elements := make([]object.Object, count)
	for i := count - 1; i >= 0; i-- {
		el, err := vm.pop()
		if err != nil {
			return err
		}
		elements[i] = el
	}
	arr := object.NewArray(vm.heap, elements)
	return vm.pushValue(arr)
}

func (vm *VM) executeIndex() error {
	index, err := vm.pop()
	if err != nil {
		return err
	}
	collection, err := vm.pop()
	if err != nil {
		return err
	}

	arr, ok := collection.(*object.Array)
	if !ok {
		vm.release(collection)
		return &RuntimeError{Kind: ErrInvalidOperation, Message: fmt.Sprintf("cannot index %s", collection.Type())}
	}
	idx, ok := index.(*object.Integer)
	if !ok {
		vm.release(collection)
		return &RuntimeError{Kind: ErrInvalidOperation, Message: fmt.Sprintf("index must be an integer, got %s", index.Type())}
	}
	if idx.Value < 0 || idx.Value >= int64(len(arr.Elements)) {
		vm.release(collection)
		return &RuntimeError{Kind: ErrInvalidOperation, Message: fmt.Sprintf("index %d out of bounds (len %d)", idx.Value, len(arr.Elements))}
	}

	element := arr.Elements[idx.Value]
	vm.retain(element)
	vm.release(collection)
	return vm.push(element)
}

func (vm *VM) executeSetIndex() error {
	index, err := vm.pop()
	if err != nil {
		return err
	}
	collection, err := vm.pop()
	if err != nil {
		return err
	}
	newValue, err := vm.pop()
	if err != nil {
		return err
	}

	arr, ok := collection.(*object.Array)
	if !ok {
		vm.release(collection)
		vm.release(newValue)
		return &RuntimeError{Kind: ErrInvalidOperation, Message: fmt.Sprintf("cannot index-assign to %s", collection.Type())}
	}
	idx, ok := index.(*object.Integer)
	if !ok {
		vm.release(collection)
		vm.release(newValue)
		return &RuntimeError{Kind: ErrInvalidOperation, Message: fmt.Sprintf("index must be an integer, got %s", index.Type())}
	}
	if idx.Value < 0 || idx.Value >= int64(len(arr.Elements)) {
		vm.release(collection)
		vm.release(newValue)
		return &RuntimeError{Kind: ErrInvalidOperation, Message: fmt.Sprintf("index %d out of bounds (len %d)", idx.Value, len(arr.Elements))}
	}

	oldElement := arr.Elements[idx.Value]
	vm.retain(newValue)
	arr.Elements[idx.Value] = newValue
	vm.release(oldElement)
	vm.release(collection)

	return vm.push(newValue)
}

func (vm *VM) executeCall(numArgs int) error {
	callee := vm.stack[vm.sp-1-numArgs]

	switch fn := callee.(type) {
	case *object.Function:
		return vm.callFunction(fn, numArgs)
	case *object.Builtin:
		return vm.callBuiltin(fn, numArgs)
	default:
		return &RuntimeError{Kind: ErrNotAFunction, Message: fmt.Sprintf("not a function: %s", callee.Type())}
	}
}

func (vm *VM) callFunction(fn *object.Function, numArgs int) error {
	if numArgs != fn.Fn.NumParameters {
		return &RuntimeError{
			Kind:    ErrInvalidOperation,
			Message: fmt.Sprintf("wrong number of arguments: want=%d, got=%d", fn.Fn.NumParameters, numArgs),
		}
	}
	if vm.framesIndex >= MaxFrames {
		return &RuntimeError{Kind: ErrStackOverflow, Message: "call stack overflow"}
	}

	basePointer := vm.sp - numArgs
	frame := NewFrame(fn, basePointer)
	vm.pushFrame(frame)

	vm.sp = basePointer + fn.Fn.NumLocals
	if vm.sp > StackSize {
		return &RuntimeError{Kind: ErrStackOverflow, Message: "stack overflow"}
	}
	for i := basePointer + numArgs; i < vm.sp; i++ {
		vm.stack[i] = object.NullValue
	}
	return nil
}

func (vm *VM) callBuiltin(fn *object.Builtin, numArgs int) error {
	args := make([]object.Object, numArgs)
	copy(args, vm.stack[vm.sp-numArgs:vm.sp])

	result, err := fn.Fn(vm.heap, args...)
	if err != nil {
		return &RuntimeError{Kind: ErrBuiltinFailure, Message: err.Error()}
	}

	vm.retain(result)
	for _, a := range args {
		vm.release(a)
	}
	vm.sp = vm.sp - numArgs - 1
	return vm.push(result)
}

func (vm *VM) executeReturn() error {
	returnValue, err := vm.pop()
	if err != nil {
		return err
	}
	return vm.doReturn(returnValue)
}

func (vm *VM) executeReturnNull() error {
	return vm.doReturn(object.NullValue)
}

// doReturn implements the spec's return sequence: the return value is
// protected with an extra reference before the old frame's stack slots
// (function value, arguments, locals) are released, so a value that was
// only alive because a local variable referenced it survives the
// teardown instead of being prematurely reclaimed.
func (vm *VM) doReturn(returnValue object.Object) error {
	vm.retain(returnValue)

	frame := vm.popFrame()
	for i := frame.basePointer - 1; i < vm.sp; i++ {
		vm.release(vm.stack[i])
	}
	vm.sp = frame.basePointer - 1

	return vm.push(returnValue)
}
