package compiler

// SymbolScope identifies where a symbol's value lives at runtime.
type SymbolScope string

const (
	// GlobalScope holds symbols declared at the top level, stored in the
	// VM's globals vector and visible from inside any nested function.
	GlobalScope SymbolScope = "GLOBAL"

	// LocalScope holds symbols declared inside a function, stored in the
	// current frame's stack slots. Belalang has no closures: a local is
	// visible only within the exact function body that declared it, never
	// from a function literal nested inside it.
	LocalScope SymbolScope = "LOCAL"

	// BuiltinScope holds the built-in functions, bound once at symbol
	// table construction.
	BuiltinScope SymbolScope = "BUILTIN"
)

// Symbol names a declared variable and where to find it.
type Symbol struct {
	Name  string
	Scope SymbolScope
	Index int
}

// SymbolTable tracks variable bindings within one scope - the top level,
// or a single function body - and resolves names against its own bindings
// and, for globals and builtins only, its enclosing scopes.
type SymbolTable struct {
	Outer *SymbolTable

	store          map[string]Symbol
	numDefinitions int
}

// NewSymbolTable creates an empty top-level symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{store: make(map[string]Symbol)}
}

// NewEnclosedSymbolTable creates a symbol table for a function body nested
// inside outer.
func NewEnclosedSymbolTable(outer *SymbolTable) *SymbolTable {
	s := NewSymbolTable()
	s.Outer = outer
	return s
}

// Define declares a new symbol in this scope. It reports false without
// modifying the table if name is already declared here - the compiler
// turns that into a DuplicateSymbol error, since Belalang forbids
// shadowing a name within the same scope.
func (s *SymbolTable) Define(name string) (Symbol, bool) {
	if _, exists := s.store[name]; exists {
		return Symbol{}, false
	}

	symbol := Symbol{Name: name, Index: s.numDefinitions}
	if s.Outer == nil {
		symbol.Scope = GlobalScope
	} else {
		symbol.Scope = LocalScope
	}

	s.store[name] = symbol
	s.numDefinitions++
	return symbol, true
}

// Resolve looks up name in this scope and, failing that, walks outward.
// A name found in an enclosing scope is only returned if it resolves to a
// Global or Builtin symbol: Belalang has no closures, so a Local symbol
// belonging to a strictly enclosing function is reported as not found,
// and the compiler raises UnknownSymbol for it just as it would for a
// name that was never declared at all.
func (s *SymbolTable) Resolve(name string) (Symbol, bool) {
	if symbol, ok := s.store[name]; ok {
		return symbol, true
	}
	if s.Outer == nil {
		return Symbol{}, false
	}

	symbol, ok := s.Outer.Resolve(name)
	if !ok || symbol.Scope == LocalScope {
		return Symbol{}, false
	}
	return symbol, true
}

// DefineBuiltin binds a built-in function's name at a fixed index, used
// once per entry in object.Builtins when a symbol table is constructed.
func (s *SymbolTable) DefineBuiltin(index int, name string) Symbol {
	symbol := Symbol{Name: name, Index: index, Scope: BuiltinScope}
	s.store[name] = symbol
	return symbol
}
