package object

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/secona/belalang-sub001/heap"
)

// Builtins is the sorted table of built-in functions bound into every
// compiler's symbol table under its builtin scope. It must stay sorted by
// Name: GetBuiltinByName looks it up with a binary search.
//
// print is the only builtin the language requires. len, first, rest, last
// and push are kept as a supplementary standard library - without them
// nothing in the language can inspect or build up an Array - and operate
// on the same heap-backed values print does.
var Builtins = []*Builtin{
	{Name: "first", Fn: builtinFirst},
	{Name: "last", Fn: builtinLast},
	{Name: "len", Fn: builtinLen},
	{Name: "print", Fn: builtinPrint},
	{Name: "push", Fn: builtinPush},
	{Name: "rest", Fn: builtinRest},
}

func init() {
	names := make([]string, len(Builtins))
	for i, b := range Builtins {
		names[i] = b.Name
	}
	if !sort.StringsAreSorted(names) {
		panic("object: Builtins table is not sorted by name")
	}
}

// GetBuiltinByName returns the builtin registered under name, or nil if
// there is none. Implemented as a binary search over the sorted Builtins
// table rather than a linear scan.
func GetBuiltinByName(name string) *Builtin {
	i := sort.Search(len(Builtins), func(i int) bool {
		return Builtins[i].Name >= name
	})
	if i < len(Builtins) && Builtins[i].Name == name {
		return Builtins[i]
	}
	return nil
}

// builtinPrint writes each argument's Inspect representation to stdout,
// space-separated, followed by a newline.
func builtinPrint(_ *heap.Heap, args ...Object) (Object, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.Inspect()
	}
	fmt.Fprintln(os.Stdout, strings.Join(parts, " "))
	return NullValue, nil
}

func builtinLen(_ *heap.Heap, args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("len expects 1 argument, got %d", len(args))
	}

	switch arg := args[0].(type) {
	case *String:
		return &Integer{Value: int64(len(arg.Value))}, nil
	case *Array:
		return &Integer{Value: int64(len(arg.Elements))}, nil
	default:
		return nil, fmt.Errorf("len not supported for %s", arg.Type())
	}
}

func builtinFirst(_ *heap.Heap, args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("first expects 1 argument, got %d", len(args))
	}

	arr, ok := args[0].(*Array)
	if !ok {
		return nil, fmt.Errorf("first not supported for %s", args[0].Type())
	}
	if len(arr.Elements) == 0 {
		return NullValue, nil
	}
	return arr.Elements[0], nil
}

func builtinLast(_ *heap.Heap, args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("last expects 1 argument, got %d", len(args))
	}

	arr, ok := args[0].(*Array)
	if !ok {
		return nil, fmt.Errorf("last not supported for %s", args[0].Type())
	}
	if len(arr.Elements) == 0 {
		return NullValue, nil
	}
	return arr.Elements[len(arr.Elements)-1], nil
}

func builtinRest(h *heap.Heap, args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("rest expects 1 argument, got %d", len(args))
	}

	arr, ok := args[0].(*Array)
	if !ok {
		return nil, fmt.Errorf("rest not supported for %s", args[0].Type())
	}
	if len(arr.Elements) == 0 {
		return NewArray(h, nil), nil
	}

	rest := make([]Object, len(arr.Elements)-1)
	copy(rest, arr.Elements[1:])
	for _, e := range rest {
		if ho, ok := e.(heap.Object); ok {
			heap.Retain(ho)
		}
	}
	return NewArray(h, rest), nil
}

func builtinPush(h *heap.Heap, args ...Object) (Object, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("push expects 2 arguments, got %d", len(args))
	}

	arr, ok := args[0].(*Array)
	if !ok {
		return nil, fmt.Errorf("push not supported for %s", args[0].Type())
	}

	elements := make([]Object, len(arr.Elements)+1)
	copy(elements, arr.Elements)
	elements[len(arr.Elements)] = args[1]
	for _, e := range elements {
		if ho, ok := e.(heap.Object); ok {
			heap.Retain(ho)
		}
	}
	return NewArray(h, elements), nil
}
