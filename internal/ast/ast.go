// Package ast is the structured statement tree produced by the structuring
// engine and consumed by the renderer. Expressions are shared with the ir
// package; only control flow is recovered here.
package ast

import (
	"github.com/monolab825/soroban-auditor/internal/ir"
	"github.com/monolab825/soroban-auditor/internal/types"
	"github.com/monolab825/soroban-auditor/internal/wasm"
)

type Func struct {
	Name    string
	Index   uint32
	Params  []types.ValType
	Results []types.ValType
	Decls   []Decl
	Body    *BlockStmt
}

// Decl declares one local variable.
type Decl struct {
	Var  ir.Var
	Type types.ValType
}

type Stmt interface{ isStmt() }

type BlockStmt struct{ Stmts []Stmt }

func (*BlockStmt) isStmt() {}

// LabeledBlock is a block that Break statements naming Label leave.
type LabeledBlock struct {
	Label int
	Body  *BlockStmt
}

func (*LabeledBlock) isStmt() {}

type LoopKind int

const (
	Infinite LoopKind = iota
	PreTest           // while (Cond) Body
	PostTest          // do Body while (Cond)
)

func (k LoopKind) String() string {
	switch k {
	case PreTest:
		return "pre-test"
	case PostTest:
		return "post-test"
	}
	return "infinite"
}

type LoopStmt struct {
	Label int
	Kind  LoopKind
	Cond  ir.Expr // nil for Infinite
	Body  *BlockStmt
}

func (*LoopStmt) isStmt() {}

type IfStmt struct {
	Cond ir.Expr
	Then *BlockStmt
	Else *BlockStmt // may be nil
}

func (*IfStmt) isStmt() {}

type SwitchStmt struct {
	Tag     ir.Expr
	Cases   []CaseClause
	Default *BlockStmt
}

func (*SwitchStmt) isStmt() {}

type CaseClause struct {
	Values []int64 // case constants
	Body   *BlockStmt
}

type BreakStmt struct{ Label int }

func (*BreakStmt) isStmt() {}

type ContinueStmt struct{ Label int }

func (*ContinueStmt) isStmt() {}

type GotoStmt struct{ Label int }

func (*GotoStmt) isStmt() {}

type LabelStmt struct{ Label int }

func (*LabelStmt) isStmt() {}

type ReturnStmt struct{ Values []ir.Expr }

func (*ReturnStmt) isStmt() {}

// TrapStmt aborts execution.
type TrapStmt struct{}

func (*TrapStmt) isStmt() {}

type AssignStmt struct {
	Dst   ir.Var
	Value ir.Expr
}

func (*AssignStmt) isStmt() {}

type StoreStmt struct {
	Op     wasm.Opcode
	Addr   ir.Expr
	Offset uint32
	Value  ir.Expr
}

func (*StoreStmt) isStmt() {}

type GlobalSetStmt struct {
	Index uint32
	Value ir.Expr
}

func (*GlobalSetStmt) isStmt() {}

type ExprStmt struct{ X ir.Expr }

func (*ExprStmt) isStmt() {}

type MemoryOpStmt struct {
	Op   wasm.Opcode
	Args [3]ir.Expr
}

func (*MemoryOpStmt) isStmt() {}

// IsJump reports whether control never continues past s.
func IsJump(s Stmt) bool {
	switch s.(type) {
	case *BreakStmt, *ContinueStmt, *GotoStmt, *ReturnStmt, *TrapStmt:
		return true
	}
	return false
}

// Inspect visits s and every statement nested in it in source order. If f
// returns false the children of that statement are skipped.
func Inspect(s Stmt, f func(Stmt) bool) {
	if s == nil || !f(s) {
		return
	}
	for _, c := range Children(s) {
		Inspect(c, f)
	}
}

// Children returns the statements directly nested in s.
func Children(s Stmt) []Stmt {
	switch s := s.(type) {
	case *BlockStmt:
		return s.Stmts
	case *LabeledBlock:
		return []Stmt{s.Body}
	case *LoopStmt:
		return []Stmt{s.Body}
	case *IfStmt:
		if s.Else == nil {
			return []Stmt{s.Then}
		}
		return []Stmt{s.Then, s.Else}
	case *SwitchStmt:
		out := make([]Stmt, 0, len(s.Cases)+1)
		for _, c := range s.Cases {
			out = append(out, c.Body)
		}
		if s.Default != nil {
			out = append(out, s.Default)
		}
		return out
	}
	return nil
}

// Exprs returns the expressions s evaluates itself, excluding nested
// statements.
func Exprs(s Stmt) []ir.Expr {
	switch s := s.(type) {
	case *LoopStmt:
		if s.Cond != nil {
			return []ir.Expr{s.Cond}
		}
	case *IfStmt:
		return []ir.Expr{s.Cond}
	case *SwitchStmt:
		return []ir.Expr{s.Tag}
	case *ReturnStmt:
		return s.Values
	case *AssignStmt:
		return []ir.Expr{s.Value}
	case *StoreStmt:
		return []ir.Expr{s.Addr, s.Value}
	case *GlobalSetStmt:
		return []ir.Expr{s.Value}
	case *ExprStmt:
		return []ir.Expr{s.X}
	case *MemoryOpStmt:
		return s.Args[:]
	}
	return nil
}
