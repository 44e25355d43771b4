package ir

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/monolab825/soroban-auditor/internal/types"
)

// Cfg is the control-flow graph of one function. Blocks are addressed by
// their index in Blocks; a block's ID always equals that index.
//
// Variables are laid out as parameters first, then declared locals, then
// the operand-stack registers created by the builder and any temporaries.
type Cfg struct {
	Name    string
	Index   uint32
	Blocks  []*BasicBlock
	Entry   int
	Params  []types.ValType
	Locals  []types.ValType
	Results []types.ValType
	NumVars uint32
	SSA     bool
}

type BasicBlock struct {
	ID    int
	Stmts []Stmt
	Preds []int // phi operands are aligned with this order
	Succs []int
}

// Terminator returns the last statement of b, or nil if b is not terminated.
func (b *BasicBlock) Terminator() Stmt {
	if !b.terminated() {
		return nil
	}
	return b.Stmts[len(b.Stmts)-1]
}

func (b *BasicBlock) terminated() bool {
	return len(b.Stmts) > 0 && IsTerminator(b.Stmts[len(b.Stmts)-1])
}

// Body returns the statements of b without its terminator.
func (b *BasicBlock) Body() []Stmt {
	if b.terminated() {
		return b.Stmts[:len(b.Stmts)-1]
	}
	return b.Stmts
}

// Phis returns the leading phi assignments of b.
func (b *BasicBlock) Phis() []*Assign {
	var out []*Assign
	for _, s := range b.Stmts {
		if !IsPhi(s) {
			break
		}
		out = append(out, s.(*Assign))
	}
	return out
}

// PredIndex returns the position of p in b.Preds or -1.
func (b *BasicBlock) PredIndex(p int) int {
	for i, x := range b.Preds {
		if x == p {
			return i
		}
	}
	return -1
}

func (c *Cfg) NumParams() int { return len(c.Params) }
func (c *Cfg) NumLocals() int { return len(c.Locals) }

func (c *Cfg) newBlock() *BasicBlock {
	b := &BasicBlock{ID: len(c.Blocks)}
	c.Blocks = append(c.Blocks, b)
	return b
}

// NewBlock appends an empty block and returns its index.
func (c *Cfg) NewBlock() int { return c.newBlock().ID }

// NewVar allocates a fresh variable index.
func (c *Cfg) NewVar() Var {
	v := NoSub(c.NumVars)
	c.NumVars++
	return v
}

func (c *Cfg) addEdge(pred, succ int) {
	p, s := c.Blocks[pred], c.Blocks[succ]
	if !containsInt(p.Succs, succ) {
		p.Succs = append(p.Succs, succ)
	}
	if !containsInt(s.Preds, pred) {
		s.Preds = append(s.Preds, pred)
	}
}

func containsInt(xs []int, x int) bool {
	for _, y := range xs {
		if y == x {
			return true
		}
	}
	return false
}

// RecomputeEdges rebuilds Preds and Succs from the terminators. Predecessor
// order follows block order, so it must not run while phis exist.
func (c *Cfg) RecomputeEdges() {
	for _, b := range c.Blocks {
		b.Preds, b.Succs = nil, nil
	}
	for _, b := range c.Blocks {
		for _, t := range Targets(b.Terminator()) {
			c.addEdge(b.ID, t)
		}
	}
}

// Postorder returns the blocks reachable from the entry in depth-first
// postorder, visiting successors in order.
func (c *Cfg) Postorder() []int {
	seen := make([]bool, len(c.Blocks))
	var order []int
	type item struct{ b, next int }
	stack := []item{{c.Entry, 0}}
	seen[c.Entry] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := c.Blocks[top.b].Succs
		if top.next < len(succs) {
			s := succs[top.next]
			top.next++
			if !seen[s] {
				seen[s] = true
				stack = append(stack, item{s, 0})
			}
			continue
		}
		order = append(order, top.b)
		stack = stack[:len(stack)-1]
	}
	return order
}

// ReversePostorder returns the reachable blocks in reverse postorder.
func (c *Cfg) ReversePostorder() []int {
	po := c.Postorder()
	for i, j := 0, len(po)-1; i < j; i, j = i+1, j-1 {
		po[i], po[j] = po[j], po[i]
	}
	return po
}

// Prune drops blocks unreachable from the entry and renumbers the rest,
// keeping their relative order. It must not run while phis exist.
func (c *Cfg) Prune() {
	c.RecomputeEdges()
	reach := make([]bool, len(c.Blocks))
	for _, b := range c.Postorder() {
		reach[b] = true
	}
	remap := make([]int, len(c.Blocks))
	var kept []*BasicBlock
	for i, b := range c.Blocks {
		if !reach[i] {
			remap[i] = -1
			continue
		}
		remap[i] = len(kept)
		kept = append(kept, b)
	}
	if len(kept) == len(c.Blocks) {
		return
	}
	for _, b := range kept {
		b.ID = remap[b.ID]
		if t := b.Terminator(); t != nil {
			renumber(t, remap)
		}
	}
	c.Blocks = kept
	c.Entry = remap[c.Entry]
	c.RecomputeEdges()
}

func renumber(s Stmt, remap []int) {
	switch s := s.(type) {
	case *Branch:
		s.Target = remap[s.Target]
	case *CondBranch:
		s.Then, s.Else = remap[s.Then], remap[s.Else]
	case *Switch:
		for i, t := range s.Targets {
			s.Targets[i] = remap[t]
		}
		s.Default = remap[s.Default]
	}
}

// Clone returns a deep copy of c.
func (c *Cfg) Clone() *Cfg {
	n := *c
	n.Params = append([]types.ValType(nil), c.Params...)
	n.Locals = append([]types.ValType(nil), c.Locals...)
	n.Results = append([]types.ValType(nil), c.Results...)
	n.Blocks = make([]*BasicBlock, len(c.Blocks))
	for i, b := range c.Blocks {
		nb := &BasicBlock{
			ID:    b.ID,
			Stmts: make([]Stmt, len(b.Stmts)),
			Preds: append([]int(nil), b.Preds...),
			Succs: append([]int(nil), b.Succs...),
		}
		for j, s := range b.Stmts {
			nb.Stmts[j] = CloneStmt(s)
		}
		n.Blocks[i] = nb
	}
	return &n
}

// Validate checks the structural invariants every pass relies on.
func (c *Cfg) Validate() error {
	if c.Entry < 0 || c.Entry >= len(c.Blocks) {
		return errors.Wrapf(ErrInvariant, "entry %d out of range", c.Entry)
	}
	reach := make([]bool, len(c.Blocks))
	for _, b := range c.Postorder() {
		reach[b] = true
	}
	for i, b := range c.Blocks {
		if b.ID != i {
			return errors.Wrapf(ErrInvariant, "block %d has id %d", i, b.ID)
		}
		if !reach[i] {
			return errors.Wrapf(ErrInvariant, "block %d unreachable", i)
		}
		if !b.terminated() {
			return errors.Wrapf(ErrInvariant, "block %d has no terminator", i)
		}
		for j, s := range b.Stmts[:len(b.Stmts)-1] {
			if IsTerminator(s) {
				return errors.Wrapf(ErrInvariant, "block %d: terminator at %d", i, j)
			}
			if IsPhi(s) && j > 0 && !IsPhi(b.Stmts[j-1]) {
				return errors.Wrapf(ErrInvariant, "block %d: phi after ordinary statement", i)
			}
		}
		for _, t := range Targets(b.Terminator()) {
			if t < 0 || t >= len(c.Blocks) {
				return errors.Wrapf(ErrInvariant, "block %d jumps to %d", i, t)
			}
			if !containsInt(b.Succs, t) || !containsInt(c.Blocks[t].Preds, i) {
				return errors.Wrapf(ErrInvariant, "edge %d->%d missing", i, t)
			}
		}
		for _, p := range b.Phis() {
			if n := len(p.Src.(Phi).Args); n != len(b.Preds) {
				return errors.Wrapf(ErrInvariant, "block %d: phi %s has %d operands for %d preds", i, p.Dst, n, len(b.Preds))
			}
		}
	}
	return nil
}

// String renders the graph for debugging.
func (c *Cfg) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func %s entry=b%d\n", c.Name, c.Entry)
	for _, b := range c.Blocks {
		fmt.Fprintf(&sb, "b%d: preds=%v\n", b.ID, b.Preds)
		for _, s := range b.Stmts {
			fmt.Fprintf(&sb, "\t%s\n", FormatStmt(s))
		}
	}
	return sb.String()
}
