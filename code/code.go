// Package code provides bytecode instruction definitions and utilities for the compiler and virtual machine.
//
// This package defines the bytecode instruction set used by the compiler to generate
// executable code and by the virtual machine to execute programs. It includes opcode
// definitions, instruction encoding and decoding functions, and a disassembler.
//
// Jump targets are encoded as signed 16-bit offsets relative to the byte
// immediately following the jump instruction, not as absolute positions.
// This lets a compiled function's instructions be relocated (e.g. embedded
// in a constant pool and loaded independently) without fixing up jumps.
package code

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Instructions is a slice of bytes representing a sequence of instructions.
type Instructions []byte

// Opcode represents a single bytecode instruction used by the compiler and virtual machine.
type Opcode byte

// Bytecode instruction opcodes.
//
// Each opcode represents a specific operation that the virtual machine can execute.
// Instructions may have zero or more operands encoded after the opcode byte.
const (
	// OpConstant pushes a constant from the constant pool onto the stack.
	//
	// Operands: [constant_index:2]
	OpConstant Opcode = iota

	// OpAdd pops two values from the stack, adds them, and pushes the result.
	//
	// Stack: [a, b] -> [a + b]
	OpAdd

	// OpSub pops two values, subtracts the second from the first, and pushes the result.
	//
	// Stack: [a, b] -> [a - b]
	OpSub

	// OpMul pops two values, multiplies them, and pushes the result.
	//
	// Stack: [a, b] -> [a * b]
	OpMul

	// OpDiv pops two values, divides the first by the second, and pushes the result.
	//
	// Stack: [a, b] -> [a / b]
	OpDiv

	// OpMod pops two values, computes the first modulo the second, and pushes the result.
	//
	// Stack: [a, b] -> [a % b]
	OpMod

	// OpPop removes the top value from the stack and discards it.
	//
	// Stack: [value] -> []
	OpPop

	// OpTrue pushes the boolean value true onto the stack.
	OpTrue

	// OpFalse pushes the boolean value false onto the stack.
	OpFalse

	// OpNull pushes the null value onto the stack.
	OpNull

	// OpEqual pops two values, compares them for equality, and pushes the boolean result.
	OpEqual

	// OpNotEqual pops two values, compares them for inequality, and pushes the boolean result.
	OpNotEqual

	// OpGreaterThan pops two values and pushes true if the first is greater than the second.
	OpGreaterThan

	// OpAnd pops two booleans and pushes their eager logical AND.
	//
	// Unused by the compiler, which lowers "&&" to short-circuiting jumps
	// instead, but kept as a primitive for a future non-short-circuit mode.
	OpAnd

	// OpOr pops two booleans and pushes their eager logical OR.
	OpOr

	// OpMinus pops a value, negates it, and pushes the result.
	OpMinus

	// OpBang pops a value, applies logical NOT, and pushes the boolean result.
	OpBang

	// OpJump unconditionally jumps by the signed offset encoded as its operand.
	//
	// Operands: [offset:2] - signed, relative to the end of this instruction.
	OpJump

	// OpJumpIfFalse pops a value and jumps by the offset if it is not truthy.
	//
	// Operands: [offset:2] - signed, relative to the end of this instruction.
	//
	// Stack: [value] -> []
	OpJumpIfFalse

	// OpJumpIfTrue pops a value and jumps by the offset if it is truthy.
	//
	// Operands: [offset:2] - signed, relative to the end of this instruction.
	//
	// Stack: [value] -> []
	OpJumpIfTrue

	// OpGetGlobal retrieves a global variable by index and pushes its value onto the stack.
	//
	// Operands: [global_index:2]
	OpGetGlobal

	// OpSetGlobal pops a value and stores it in the global variable at the specified index.
	//
	// Operands: [global_index:2]
	//
	// Stack: [value] -> []
	OpSetGlobal

	// OpGetLocal retrieves a local variable by index and pushes its value onto the stack.
	//
	// Operands: [local_index:1]
	OpGetLocal

	// OpSetLocal pops a value and stores it in the local variable at the specified index.
	//
	// Operands: [local_index:1]
	//
	// Stack: [value] -> []
	OpSetLocal

	// OpGetBuiltin retrieves a builtin function by index and pushes it onto the stack.
	//
	// Operands: [builtin_index:1]
	OpGetBuiltin

	// OpArray pops the specified number of elements from the stack and creates an array.
	//
	// Operands: [element_count:2]
	//
	// Stack: [elem1, ..., elemN] -> [array]
	OpArray

	// OpIndex pops an index and a collection, retrieves the element at that index, and pushes it.
	//
	// Stack: [collection, index] -> [collection[index]]
	OpIndex

	// OpSetIndex pops an index, a collection, and the value below them (in that push
	// order: value first, then collection, then index), and writes the value into the
	// collection at that index. The value is pushed back so the assignment expression
	// keeps a result.
	//
	// Stack: [value, collection, index] -> [value]
	OpSetIndex

	// OpCall calls a function with the specified number of arguments.
	//
	// Operands: [num_args:1]
	//
	// Stack: [func, arg1, ..., argN] -> [return_value]
	OpCall

	// OpReturnValue pops a value from the stack and returns it from the current function.
	OpReturnValue

	// OpReturn returns from the current function without an explicit value (implicit null).
	OpReturn
)

// Definition represents an instruction definition with its name and operand widths.
type Definition struct {
	Name string

	// OperandWidths specifies the number of bytes each operand occupies.
	OperandWidths []int
}

// definitions is a map of opcodes to their definitions.
var definitions = map[Opcode]*Definition{
	OpConstant:    {"OpConstant", []int{2}},
	OpAdd:         {"OpAdd", []int{}},
	OpSub:         {"OpSub", []int{}},
	OpMul:         {"OpMul", []int{}},
	OpDiv:         {"OpDiv", []int{}},
	OpMod:         {"OpMod", []int{}},
	OpPop:         {"OpPop", []int{}},
	OpTrue:        {"OpTrue", []int{}},
	OpFalse:       {"OpFalse", []int{}},
	OpNull:        {"OpNull", []int{}},
	OpEqual:       {"OpEqual", []int{}},
	OpNotEqual:    {"OpNotEqual", []int{}},
	OpGreaterThan: {"OpGreaterThan", []int{}},
	OpAnd:         {"OpAnd", []int{}},
	OpOr:          {"OpOr", []int{}},
	OpMinus:       {"OpMinus", []int{}},
	OpBang:        {"OpBang", []int{}},
	OpJump:        {"OpJump", []int{2}},
	OpJumpIfFalse: {"OpJumpIfFalse", []int{2}},
	OpJumpIfTrue:  {"OpJumpIfTrue", []int{2}},
	OpGetGlobal:   {"OpGetGlobal", []int{2}},
	OpSetGlobal:   {"OpSetGlobal", []int{2}},
	OpGetLocal:    {"OpGetLocal", []int{1}},
	OpSetLocal:    {"OpSetLocal", []int{1}},
	OpGetBuiltin:  {"OpGetBuiltin", []int{1}},
	OpArray:       {"OpArray", []int{2}},
	OpIndex:       {"OpIndex", []int{}},
	OpSetIndex:    {"OpSetIndex", []int{}},
	OpCall:        {"OpCall", []int{1}},
	OpReturnValue: {"OpReturnValue", []int{}},
	OpReturn:      {"OpReturn", []int{}},
}

// jumpOpcodes identifies opcodes whose single 2-byte operand is a signed,
// instruction-relative offset rather than an unsigned index.
var jumpOpcodes = map[Opcode]bool{
	OpJump:        true,
	OpJumpIfFalse: true,
	OpJumpIfTrue:  true,
}

// Lookup returns the [Definition] for the given [Opcode].
func Lookup(op byte) (*Definition, error) {
	def, ok := definitions[Opcode(op)]
	if !ok {
		return nil, fmt.Errorf("opcode %d undefined", op)
	}
	return def, nil
}

// Make creates a byte slice representing an instruction using the provided opcode and operands.
//
// For jump opcodes, the operand is the signed offset; negative values encode
// correctly via two's complement through uint16 truncation.
func Make(op Opcode, operands ...int) []byte {
	def, ok := definitions[op]
	if !ok {
		return []byte{}
	}
	instructionLen := 1
	for _, w := range def.OperandWidths {
		instructionLen += w
	}
	instruction := make([]byte, instructionLen)
	instruction[0] = byte(op)
	offset := 1
	for i, operand := range operands {
		width := def.OperandWidths[i]
		switch width {
		case 1:
			instruction[offset] = byte(operand)
		case 2:
			binary.BigEndian.PutUint16(instruction[offset:], uint16(int16(operand)))
		}
		offset += width
	}
	return instruction
}

// String provides a human-readable string representation of the [Instructions],
// formatted as an address-prefixed disassembly listing.
func (ins Instructions) String() string {
	var out strings.Builder

	i := 0
	for i < len(ins) {
		def, err := Lookup(ins[i])
		if err != nil {
			_, _ = fmt.Fprintf(&out, "ERROR: %s\n", err)
			i++
			continue
		}
		operands, read := ReadOperands(def, ins[i+1:])
		_, _ = fmt.Fprintf(&out, "%04d %s\n", i, ins.fmtInstruction(Opcode(ins[i]), def, operands))
		i += read + 1
	}

	return out.String()
}

// fmtInstruction formats an instruction with its operands into a human-readable string.
func (ins Instructions) fmtInstruction(op Opcode, def *Definition, operands []int) string {
	operandCount := len(def.OperandWidths)

	if len(operands) != operandCount {
		return fmt.Sprintf("ERROR: operand len %d does not match defined %d\n", len(operands), operandCount)
	}

	switch operandCount {
	case 0:
		return def.Name
	case 1:
		if jumpOpcodes[op] {
			return fmt.Sprintf("%s %d", def.Name, int16(operands[0]))
		}
		return fmt.Sprintf("%s %d", def.Name, operands[0])
	case 2:
		return fmt.Sprintf("%s %d %d", def.Name, operands[0], operands[1])
	}
	return fmt.Sprintf("ERROR: unhandled operandCount for %s\n", def.Name)
}

// ReadOperands decodes operands from the specified instructions based
// on the definition and returns them with the total bytes read.
//
// Every 2-byte operand is returned as an unsigned value, including jump
// offsets; a caller recovers a signed jump offset by converting it to
// int16, as fmtInstruction does.
func ReadOperands(def *Definition, ins Instructions) ([]int, int) {
	operands := make([]int, len(def.OperandWidths))
	offset := 0

	for i, width := range def.OperandWidths {
		switch width {
		case 1:
			operands[i] = int(ReadUint8(ins[offset:]))
		case 2:
			operands[i] = int(ReadUint16(ins[offset:]))
		}
		offset += width
	}
	return operands, offset
}

// ReadUint16 decodes the first two bytes of the provided [Instructions] as uint16 in big-endian format.
func ReadUint16(ins Instructions) uint16 {
	return binary.BigEndian.Uint16(ins)
}

// ReadInt16 decodes the first two bytes of the provided [Instructions] as a
// signed, big-endian int16. Used for relative jump offsets.
func ReadInt16(ins Instructions) int16 {
	return int16(binary.BigEndian.Uint16(ins))
}

// ReadUint8 extracts the first byte from the provided [Instructions] slice and returns it as uint8.
func ReadUint8(ins Instructions) uint8 { return ins[0] }
