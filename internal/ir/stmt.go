package ir

import (
	"fmt"
	"strings"

	"github.com/monolab825/soroban-auditor/internal/wasm"
)

// Stmt is a low-level statement. The last statement of every block is a
// terminator: *Branch, *CondBranch, *Switch, *Return or *Unreachable.
type Stmt interface{ isStmt() }

type Assign struct {
	Dst Var
	Src Expr
}

type Store struct {
	Op     wasm.Opcode
	Addr   Expr
	Offset uint32
	Value  Expr
}

type GlobalSet struct {
	Index uint32
	Value Expr
}

// ExprStmt evaluates X for its effects and discards the result.
type ExprStmt struct{ X Expr }

// MemoryOp is memory.copy (dst, src, n) or memory.fill (dst, value, n).
type MemoryOp struct {
	Op   wasm.Opcode
	Args [3]Expr
}

type Branch struct{ Target int }

// CondBranch jumps to Then when Cond is non-zero.
type CondBranch struct {
	Cond       Expr
	Then, Else int
}

// Switch jumps to Targets[Index], or Default when Index is out of range.
type Switch struct {
	Index   Expr
	Targets []int
	Default int
}

type Return struct{ Values []Expr }

type Unreachable struct{}

func (*Assign) isStmt()      {}
func (*Store) isStmt()       {}
func (*GlobalSet) isStmt()   {}
func (*ExprStmt) isStmt()    {}
func (*MemoryOp) isStmt()    {}
func (*Branch) isStmt()      {}
func (*CondBranch) isStmt()  {}
func (*Switch) isStmt()      {}
func (*Return) isStmt()      {}
func (*Unreachable) isStmt() {}

// IsTerminator reports whether s ends a block.
func IsTerminator(s Stmt) bool {
	switch s.(type) {
	case *Branch, *CondBranch, *Switch, *Return, *Unreachable:
		return true
	}
	return false
}

// Targets lists the successor blocks of a terminator in order, with
// repetitions.
func Targets(s Stmt) []int {
	switch s := s.(type) {
	case *Branch:
		return []int{s.Target}
	case *CondBranch:
		return []int{s.Then, s.Else}
	case *Switch:
		return append(append([]int(nil), s.Targets...), s.Default)
	}
	return nil
}

// RetargetStmt replaces every jump to from with a jump to to.
func RetargetStmt(s Stmt, from, to int) {
	switch s := s.(type) {
	case *Branch:
		if s.Target == from {
			s.Target = to
		}
	case *CondBranch:
		if s.Then == from {
			s.Then = to
		}
		if s.Else == from {
			s.Else = to
		}
	case *Switch:
		for i, t := range s.Targets {
			if t == from {
				s.Targets[i] = to
			}
		}
		if s.Default == from {
			s.Default = to
		}
	}
}

// Exprs returns the expression operands of s in evaluation order.
func Exprs(s Stmt) []Expr {
	switch s := s.(type) {
	case *Assign:
		return []Expr{s.Src}
	case *Store:
		return []Expr{s.Addr, s.Value}
	case *GlobalSet:
		return []Expr{s.Value}
	case *ExprStmt:
		return []Expr{s.X}
	case *MemoryOp:
		return s.Args[:]
	case *CondBranch:
		return []Expr{s.Cond}
	case *Switch:
		return []Expr{s.Index}
	case *Return:
		return s.Values
	}
	return nil
}

// MapStmtExprs rewrites every operand of s in place.
func MapStmtExprs(s Stmt, f func(Expr) Expr) {
	switch s := s.(type) {
	case *Assign:
		s.Src = f(s.Src)
	case *Store:
		s.Addr = f(s.Addr)
		s.Value = f(s.Value)
	case *GlobalSet:
		s.Value = f(s.Value)
	case *ExprStmt:
		s.X = f(s.X)
	case *MemoryOp:
		for i := range s.Args {
			s.Args[i] = f(s.Args[i])
		}
	case *CondBranch:
		s.Cond = f(s.Cond)
	case *Switch:
		s.Index = f(s.Index)
	case *Return:
		for i := range s.Values {
			s.Values[i] = f(s.Values[i])
		}
	}
}

// Uses returns the variables read by s, with repetitions.
func Uses(s Stmt) []Var {
	var out []Var
	for _, e := range Exprs(s) {
		out = append(out, VarsOf(e)...)
	}
	return out
}

// Def returns the variable assigned by s.
func Def(s Stmt) (Var, bool) {
	if a, ok := s.(*Assign); ok {
		return a.Dst, true
	}
	return Var{}, false
}

// StmtEffect is the strongest effect of executing s.
func StmtEffect(s Stmt) Effect {
	switch s.(type) {
	case *Store, *GlobalSet, *MemoryOp:
		return EffectWrite
	}
	var eff Effect
	for _, e := range Exprs(s) {
		if k := EffectOf(e); k > eff {
			eff = k
		}
	}
	return eff
}

// IsPhi reports whether s assigns a phi.
func IsPhi(s Stmt) bool {
	a, ok := s.(*Assign)
	if !ok {
		return false
	}
	_, ok = a.Src.(Phi)
	return ok
}

// CloneStmt returns a deep copy of s. Expressions are shared since they are
// immutable.
func CloneStmt(s Stmt) Stmt {
	switch s := s.(type) {
	case *Assign:
		c := *s
		return &c
	case *Store:
		c := *s
		return &c
	case *GlobalSet:
		c := *s
		return &c
	case *ExprStmt:
		c := *s
		return &c
	case *MemoryOp:
		c := *s
		return &c
	case *Branch:
		c := *s
		return &c
	case *CondBranch:
		c := *s
		return &c
	case *Switch:
		return &Switch{Index: s.Index, Targets: append([]int(nil), s.Targets...), Default: s.Default}
	case *Return:
		return &Return{Values: append([]Expr(nil), s.Values...)}
	case *Unreachable:
		return &Unreachable{}
	}
	panic(fmt.Sprintf("unknown statement %T", s))
}

// FormatStmt renders s for debug output.
func FormatStmt(s Stmt) string {
	switch s := s.(type) {
	case *Assign:
		return fmt.Sprintf("%s = %s", s.Dst, FormatExpr(s.Src))
	case *Store:
		return fmt.Sprintf("%s(%s+%d, %s)", s.Op, FormatExpr(s.Addr), s.Offset, FormatExpr(s.Value))
	case *GlobalSet:
		return fmt.Sprintf("global%d = %s", s.Index, FormatExpr(s.Value))
	case *ExprStmt:
		return FormatExpr(s.X)
	case *MemoryOp:
		return fmt.Sprintf("%s(%s)", s.Op, formatList(s.Args[:]))
	case *Branch:
		return fmt.Sprintf("br b%d", s.Target)
	case *CondBranch:
		return fmt.Sprintf("br_if %s b%d b%d", FormatExpr(s.Cond), s.Then, s.Else)
	case *Switch:
		parts := make([]string, len(s.Targets))
		for i, t := range s.Targets {
			parts[i] = fmt.Sprintf("b%d", t)
		}
		return fmt.Sprintf("br_table %s [%s] b%d", FormatExpr(s.Index), strings.Join(parts, " "), s.Default)
	case *Return:
		return "return " + formatList(s.Values)
	case *Unreachable:
		return "unreachable"
	}
	return fmt.Sprintf("%T", s)
}
