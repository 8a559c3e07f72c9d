// Package compiler transforms Belalang's AST into bytecode instructions.
//
// This package provides a compiler that traverses an AST produced by the
// parser and generates bytecode instructions that can be executed by a
// virtual machine. The compiler handles expression evaluation, control
// flow, variable scoping, function compilation, and constant management.
//
// # Architecture
//
// The compiler uses a stack-based bytecode generation approach with
// support for:
//
//   - A stack of compilation scopes for nested function literals
//   - Symbol tables for variable resolution (global, local, and builtin)
//   - Constant pooling for literals and compiled functions
//   - Optimizations such as replacing a tail OpPop with OpReturnValue
//
// # Compilation process
//
//  1. Expressions are compiled to push their results onto the stack
//  2. Operators pop operands from the stack and push results
//  3. Variables are resolved through symbol tables and compiled to load/store instructions
//  4. Control flow (if/while) is compiled using jumps, encoded relative to
//     the instruction that follows them so a function's bytecode can be
//     relocated without fixing up jump targets
//  5. Function literals are compiled in their own scope and stored as
//     constants; Belalang has no closures, so a function body may only
//     see its own locals, globals, and builtins - never an enclosing
//     function's locals
package compiler

import (
	"fmt"

	"github.com/secona/belalang-sub001/ast"
	"github.com/secona/belalang-sub001/code"
	"github.com/secona/belalang-sub001/object"
)

// DuplicateSymbolError is returned when a ":=" declaration redeclares a
// name already defined in the same scope.
type DuplicateSymbolError struct {
	Name string
}

func (e *DuplicateSymbolError) Error() string {
	return fmt.Sprintf("%s redeclared in this scope", e.Name)
}

// UnknownSymbolError is returned when an identifier, or the left-hand side
// of a plain or compound assignment, refers to a name that is not visible
// in the current scope.
type UnknownSymbolError struct {
	Name string
}

func (e *UnknownSymbolError) Error() string {
	return fmt.Sprintf("unknown name %s", e.Name)
}

// Compiler traverses an AST and emits bytecode instructions and a
// constant pool for the virtual machine to execute.
type Compiler struct {
	constants []object.Object

	symbolTable *SymbolTable

	scopes     []CompilationScope
	scopeIndex int
}

// Bytecode is the compiled output for a program: its instructions and the
// constant pool they reference.
type Bytecode struct {
	Instructions code.Instructions
	Constants    []object.Object
}

// EmittedInstruction records an instruction's opcode and byte offset, used
// by the back-patching helpers below.
type EmittedInstruction struct {
	Opcode   code.Opcode
	Position int
}

// CompilationScope holds one function body's (or the top level's)
// instruction stream, plus the last two emitted instructions so the
// compiler can retroactively turn a trailing Pop into a Return.
type CompilationScope struct {
	instructions        code.Instructions
	lastInstruction     EmittedInstruction
	previousInstruction EmittedInstruction
}

func newCompilationScope() CompilationScope {
	return CompilationScope{instructions: code.Instructions{}}
}

// New creates a compiler with an empty constant pool and a fresh global
// symbol table pre-populated with every entry from object.Builtins.
func New() *Compiler {
	return NewWithState(newGlobalSymbolTable(), []object.Object{})
}

// NewWithState creates a compiler that continues compiling into an
// existing symbol table and constant pool, as the REPL does across lines
// so earlier declarations stay visible.
func NewWithState(s *SymbolTable, constants []object.Object) *Compiler {
	return &Compiler{
		constants:   constants,
		symbolTable: s,
		scopes:      []CompilationScope{newCompilationScope()},
		scopeIndex:  0,
	}
}

// NewSymbolTableWithBuiltins is an alias for newGlobalSymbolTable exposed
// for callers, such as the REPL, that need a fresh global table wired with
// builtins without also constructing a Compiler.
func NewSymbolTableWithBuiltins() *SymbolTable {
	return newGlobalSymbolTable()
}

func newGlobalSymbolTable() *SymbolTable {
	st := NewSymbolTable()
	for i, b := range object.Builtins {
		st.DefineBuiltin(i, b.Name)
	}
	return st
}

// Compile traverses node and emits the bytecode it represents into the
// current scope.
func (c *Compiler) Compile(node ast.Node) error {
	switch node := node.(type) {
	case *ast.Program:
		for _, s := range node.Statements {
			if err := c.Compile(s); err != nil {
				return err
			}
		}

	case *ast.ExpressionStatement:
		if err := c.Compile(node.Expression); err != nil {
			return err
		}
		c.emit(code.OpPop)

	case *ast.BlockStatement:
		for _, s := range node.Statements {
			if err := c.Compile(s); err != nil {
				return err
			}
		}

	case *ast.WhileStatement:
		return c.compileWhile(node)

	case *ast.ReturnStatement:
		if node.ReturnValue != nil {
			if err := c.Compile(node.ReturnValue); err != nil {
				return err
			}
		} else {
			c.emit(code.OpNull)
		}
		c.emit(code.OpReturnValue)

	case *ast.AssignExpression:
		return c.compileAssign(node)

	case *ast.InfixExpression:
		return c.compileInfix(node)

	case *ast.PrefixExpression:
		if err := c.Compile(node.Right); err != nil {
			return err
		}
		switch node.Operator {
		case "!":
			c.emit(code.OpBang)
		case "-":
			c.emit(code.OpMinus)
		default:
			return fmt.Errorf("unknown prefix operator %s", node.Operator)
		}

	case *ast.IfExpression:
		return c.compileIf(node)

	case *ast.IntegerLiteral:
		c.emit(code.OpConstant, c.addConstant(&object.Integer{Value: node.Value}))

	case *ast.FloatLiteral:
		c.emit(code.OpConstant, c.addConstant(&object.Float{Value: node.Value}))

	case *ast.StringLiteral:
		c.emit(code.OpConstant, c.addConstant(&object.StringConstant{Value: node.Value}))

	case *ast.Boolean:
		if node.Value {
			c.emit(code.OpTrue)
		} else {
			c.emit(code.OpFalse)
		}

	case *ast.Null:
		c.emit(code.OpNull)

	case *ast.Identifier:
		symbol, ok := c.symbolTable.Resolve(node.Value)
		if !ok {
			return &UnknownSymbolError{Name: node.Value}
		}
		c.loadSymbol(symbol)

	case *ast.ArrayLiteral:
		for _, el := range node.Elements {
			if err := c.Compile(el); err != nil {
				return err
			}
		}
		c.emit(code.OpArray, len(node.Elements))

	case *ast.IndexExpression:
		if err := c.Compile(node.Left); err != nil {
			return err
		}
		if err := c.Compile(node.Index); err != nil {
			return err
		}
		c.emit(code.OpIndex)

	case *ast.FunctionLiteral:
		return c.compileFunctionLiteral(node)

	case *ast.CallExpression:
		if err := c.Compile(node.Function); err != nil {
			return err
		}
		for _, arg := range node.Arguments {
			if err := c.Compile(arg); err != nil {
				return err
			}
		}
		c.emit(code.OpCall, len(node.Arguments))
	}
	return nil
}

func (c *Compiler) compileInfix(node *ast.InfixExpression) error {
	switch node.Operator {
	case "&&":
		return c.compileAnd(node)
	case "||":
		return c.compileOr(node)
	}

	// "<", "<=" and ">=" have no dedicated opcodes: "a < b" is compiled as
	// "b > a" (operands swapped), "a <= b" as "not (a > b)", and "a >= b"
	// as "not (b > a)", using OpGreaterThan followed by OpBang.
	switch node.Operator {
	case "<":
		if err := c.Compile(node.Right); err != nil {
			return err
		}
		if err := c.Compile(node.Left); err != nil {
			return err
		}
		c.emit(code.OpGreaterThan)
		return nil
	case "<=":
		if err := c.Compile(node.Left); err != nil {
			return err
		}
		if err := c.Compile(node.Right); err != nil {
			return err
		}
		c.emit(code.OpGreaterThan)
		c.emit(code.OpBang)
		return nil
	case ">=":
		if err := c.Compile(node.Right); err != nil {
			return err
		}
		if err := c.Compile(node.Left); err != nil {
			return err
		}
		c.emit(code.OpGreaterThan)
		c.emit(code.OpBang)
		return nil
	}

	if err := c.Compile(node.Left); err != nil {
		return err
	}
	if err := c.Compile(node.Right); err != nil {
		return err
	}

	switch node.Operator {
	case "+":
		c.emit(code.OpAdd)
	case "-":
		c.emit(code.OpSub)
	case "*":
		c.emit(code.OpMul)
	case "/":
		c.emit(code.OpDiv)
	case "%":
		c.emit(code.OpMod)
	case ">":
		c.emit(code.OpGreaterThan)
	case "==":
		c.emit(code.OpEqual)
	case "!=":
		c.emit(code.OpNotEqual)
	default:
		return fmt.Errorf("unknown infix operator %s", node.Operator)
	}
	return nil
}

// compileAnd lowers "a && b" to: evaluate a; if falsy, short-circuit to
// false; otherwise evaluate b and use its value.
func (c *Compiler) compileAnd(node *ast.InfixExpression) error {
	if err := c.Compile(node.Left); err != nil {
		return err
	}
	jumpIfFalsePos := c.emit(code.OpJumpIfFalse, 9999)

	if err := c.Compile(node.Right); err != nil {
		return err
	}
	jumpPos := c.emit(code.OpJump, 9999)

	c.patchJump(jumpIfFalsePos, len(c.currentInstructions()))
	c.emit(code.OpFalse)
	c.patchJump(jumpPos, len(c.currentInstructions()))
	return nil
}

// compileOr lowers "a || b" symmetrically to compileAnd, short-circuiting
// to true when a is truthy.
func (c *Compiler) compileOr(node *ast.InfixExpression) error {
	if err := c.Compile(node.Left); err != nil {
		return err
	}
	jumpIfTruePos := c.emit(code.OpJumpIfTrue, 9999)

	if err := c.Compile(node.Right); err != nil {
		return err
	}
	jumpPos := c.emit(code.OpJump, 9999)

	c.patchJump(jumpIfTruePos, len(c.currentInstructions()))
	c.emit(code.OpTrue)
	c.patchJump(jumpPos, len(c.currentInstructions()))
	return nil
}

func (c *Compiler) compileIf(node *ast.IfExpression) error {
	if err := c.Compile(node.Condition); err != nil {
		return err
	}

	jumpIfFalsePos := c.emit(code.OpJumpIfFalse, 9999)
	if err := c.Compile(node.Consequence); err != nil {
		return err
	}
	if c.lastInstructionIs(code.OpPop) {
		c.removeLastPop()
	} else {
		c.emit(code.OpNull)
	}

	jumpPos := c.emit(code.OpJump, 9999)
	c.patchJump(jumpIfFalsePos, len(c.currentInstructions()))

	if node.Alternative == nil {
		c.emit(code.OpNull)
	} else {
		if err := c.Compile(node.Alternative); err != nil {
			return err
		}
		if c.lastInstructionIs(code.OpPop) {
			c.removeLastPop()
		} else {
			c.emit(code.OpNull)
		}
	}
	c.patchJump(jumpPos, len(c.currentInstructions()))

	return nil
}

func (c *Compiler) compileWhile(node *ast.WhileStatement) error {
	loopStart := len(c.currentInstructions())

	if err := c.Compile(node.Condition); err != nil {
		return err
	}
	jumpIfFalsePos := c.emit(code.OpJumpIfFalse, 9999)

	if err := c.Compile(node.Body); err != nil {
		return err
	}

	backJumpPos := c.emit(code.OpJump, 9999)
	c.patchJump(backJumpPos, loopStart)
	c.patchJump(jumpIfFalsePos, len(c.currentInstructions()))

	return nil
}

// compileAssign lowers a declaration, assignment, or compound assignment.
// Every form leaves exactly one value on the stack - the value assigned -
// so an AssignExpression composes like any other expression (and an
// ExpressionStatement wrapping one still balances with a single OpPop).
func (c *Compiler) compileAssign(node *ast.AssignExpression) error {
	switch left := node.Left.(type) {
	case *ast.Identifier:
		return c.compileIdentifierAssign(node, left)
	case *ast.IndexExpression:
		if node.Operator == ":=" {
			return fmt.Errorf("cannot declare an index expression")
		}
		return c.compileIndexAssign(node, left)
	default:
		return fmt.Errorf("invalid assignment target")
	}
}

func (c *Compiler) compileIdentifierAssign(node *ast.AssignExpression, left *ast.Identifier) error {
	var symbol Symbol

	if node.Operator == ":=" {
		sym, ok := c.symbolTable.Define(left.Value)
		if !ok {
			return &DuplicateSymbolError{Name: left.Value}
		}
		symbol = sym

		if fl, ok := node.Value.(*ast.FunctionLiteral); ok && fl.Name == "" {
			fl.Name = left.Value
		}
		if err := c.Compile(node.Value); err != nil {
			return err
		}
	} else {
		sym, ok := c.symbolTable.Resolve(left.Value)
		if !ok {
			return &UnknownSymbolError{Name: left.Value}
		}
		if sym.Scope == BuiltinScope {
			return fmt.Errorf("cannot assign to builtin %s", left.Value)
		}
		symbol = sym

		if node.Operator == "=" {
			if err := c.Compile(node.Value); err != nil {
				return err
			}
		} else {
			op, err := compoundOp(node.Operator)
			if err != nil {
				return err
			}
			c.loadSymbol(symbol)
			if err := c.Compile(node.Value); err != nil {
				return err
			}
			c.emit(op)
		}
	}

	c.emitSet(symbol)
	c.loadSymbol(symbol)
	return nil
}

// compileIndexAssign lowers "target[index] op= value". The compound form
// re-evaluates target and index twice: once to read the current value,
// once to supply OpSetIndex with a fresh collection/index pair for the
// write.
func (c *Compiler) compileIndexAssign(node *ast.AssignExpression, left *ast.IndexExpression) error {
	if node.Operator == "=" {
		if err := c.Compile(node.Value); err != nil {
			return err
		}
	} else {
		if err := c.Compile(left.Left); err != nil {
			return err
		}
		if err := c.Compile(left.Index); err != nil {
			return err
		}
		c.emit(code.OpIndex)

		if err := c.Compile(node.Value); err != nil {
			return err
		}
		op, err := compoundOp(node.Operator)
		if err != nil {
			return err
		}
		c.emit(op)
	}

	if err := c.Compile(left.Left); err != nil {
		return err
	}
	if err := c.Compile(left.Index); err != nil {
		return err
	}
	c.emit(code.OpSetIndex)
	return nil
}

func compoundOp(operator string) (code.Opcode, error) {
	switch operator {
	case "+=":
		return code.OpAdd, nil
	case "-=":
		return code.OpSub, nil
	case "*=":
		return code.OpMul, nil
	case "/=":
		return code.OpDiv, nil
	case "%=":
		return code.OpMod, nil
	default:
		return 0, fmt.Errorf("unknown assignment operator %s", operator)
	}
}

func (c *Compiler) emitSet(s Symbol) {
	switch s.Scope {
	case GlobalScope:
		c.emit(code.OpSetGlobal, s.Index)
	case LocalScope:
		c.emit(code.OpSetLocal, s.Index)
	default:
		// Builtins are never assignment targets: compileIdentifierAssign
		// rejects an assignment to a builtin-scoped name with an error
		// before reaching here, so this would indicate a compiler bug
		// rather than a program error.
		panic(fmt.Sprintf("cannot assign to %s-scoped symbol %s", s.Scope, s.Name))
	}
}

func (c *Compiler) compileFunctionLiteral(node *ast.FunctionLiteral) error {
	c.enterScope()

	for _, param := range node.Parameters {
		if _, ok := c.symbolTable.Define(param.Value); !ok {
			c.leaveScope()
			return &DuplicateSymbolError{Name: param.Value}
		}
	}

	if err := c.Compile(node.Body); err != nil {
		c.leaveScope()
		return err
	}
	if c.lastInstructionIs(code.OpPop) {
		c.replaceLastPopWithReturn()
	}
	if !c.lastInstructionIs(code.OpReturnValue) {
		c.emit(code.OpReturn)
	}

	numLocals := c.symbolTable.numDefinitions
	instructions := c.leaveScope()

	compiledFn := &object.CompiledFunction{
		Instructions:  instructions,
		NumLocals:     numLocals,
		NumParameters: len(node.Parameters),
		Name:          node.Name,
	}
	c.emit(code.OpConstant, c.addConstant(compiledFn))
	return nil
}

// addConstant adds a constant value to the constant pool and returns its index.
func (c *Compiler) addConstant(obj object.Object) int {
	c.constants = append(c.constants, obj)
	return len(c.constants) - 1
}

// emit generates a bytecode instruction, appends it to the current
// scope's instructions, and returns its starting position.
func (c *Compiler) emit(op code.Opcode, operands ...int) int {
	ins := code.Make(op, operands...)
	pos := c.addInstruction(ins)
	c.setLastInstruction(op, pos)
	return pos
}

func (c *Compiler) setLastInstruction(op code.Opcode, pos int) {
	previous := c.scopes[c.scopeIndex].lastInstruction
	c.scopes[c.scopeIndex].previousInstruction = previous
	c.scopes[c.scopeIndex].lastInstruction = EmittedInstruction{Opcode: op, Position: pos}
}

func (c *Compiler) addInstruction(ins []byte) int {
	pos := len(c.currentInstructions())
	c.scopes[c.scopeIndex].instructions = append(c.currentInstructions(), ins...)
	return pos
}

// Bytecode returns the compiled instructions and constant pool.
func (c *Compiler) Bytecode() *Bytecode {
	return &Bytecode{
		Instructions: c.currentInstructions(),
		Constants:    c.constants,
	}
}

// SymbolTable exposes the compiler's current symbol table, so the REPL can
// thread it into the next line's compiler via NewWithState.
func (c *Compiler) SymbolTable() *SymbolTable {
	return c.symbolTable
}

func (c *Compiler) lastInstructionIs(op code.Opcode) bool {
	if len(c.currentInstructions()) == 0 {
		return false
	}
	return c.scopes[c.scopeIndex].lastInstruction.Opcode == op
}

func (c *Compiler) removeLastPop() {
	last := c.scopes[c.scopeIndex].lastInstruction
	previous := c.scopes[c.scopeIndex].previousInstruction

	c.scopes[c.scopeIndex].instructions = c.currentInstructions()[:last.Position]
	c.scopes[c.scopeIndex].lastInstruction = previous
}

func (c *Compiler) replaceInstruction(pos int, newInstruction []byte) {
	ins := c.currentInstructions()
	for i := 0; i < len(newInstruction); i++ {
		ins[pos+i] = newInstruction[i]
	}
}

// patchJump rewrites the operand of the jump instruction at opPos so it
// targets target, encoded as a signed offset relative to the byte
// following the jump instruction (opPos + 3: one opcode byte, two operand
// bytes).
func (c *Compiler) patchJump(opPos int, target int) {
	op := code.Opcode(c.currentInstructions()[opPos])
	offset := target - (opPos + 3)
	c.replaceInstruction(opPos, code.Make(op, offset))
}

func (c *Compiler) currentInstructions() code.Instructions {
	return c.scopes[c.scopeIndex].instructions
}

func (c *Compiler) enterScope() {
	c.scopes = append(c.scopes, newCompilationScope())
	c.scopeIndex++
	c.symbolTable = NewEnclosedSymbolTable(c.symbolTable)
}

func (c *Compiler) leaveScope() code.Instructions {
	instructions := c.currentInstructions()
	c.scopes = c.scopes[:len(c.scopes)-1]
	c.scopeIndex--
	c.symbolTable = c.symbolTable.Outer
	return instructions
}

func (c *Compiler) replaceLastPopWithReturn() {
	lastPos := c.scopes[c.scopeIndex].lastInstruction.Position
	c.replaceInstruction(lastPos, code.Make(code.OpReturnValue))
	c.scopes[c.scopeIndex].lastInstruction.Opcode = code.OpReturnValue
}

func (c *Compiler) loadSymbol(s Symbol) {
	switch s.Scope {
	case GlobalScope:
		c.emit(code.OpGetGlobal, s.Index)
	case LocalScope:
		c.emit(code.OpGetLocal, s.Index)
	case BuiltinScope:
		c.emit(code.OpGetBuiltin, s.Index)
	}
}
