package ir

import "fmt"

// Var names a pseudo-register. Subscript 0 means the variable is not in SSA
// form; each SSA version has its own subscript.
type Var struct {
	Index     uint32
	Subscript uint32
	Asserted  bool // type pinned by signature metadata
}

func NoSub(index uint32) Var { return Var{Index: index} }

func (v Var) WithSub(sub uint32) Var {
	v.Subscript = sub
	return v
}

func (v Var) String() string {
	if v.Subscript == 0 {
		return fmt.Sprintf("v%d", v.Index)
	}
	return fmt.Sprintf("v%d_%d", v.Index, v.Subscript)
}

// VarKey identifies a variable version regardless of its type annotation.
type VarKey struct{ Index, Subscript uint32 }

func (v Var) Key() VarKey { return VarKey{v.Index, v.Subscript} }
