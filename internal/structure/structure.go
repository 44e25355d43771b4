// Package structure turns a control-flow graph without phis into a tree of
// structured statements.
//
// The translation follows the dominator tree. A block with two or more
// forward predecessors (a merge node) is placed right after a labeled block
// that wraps the code of its immediate dominator, so every forward jump to
// it becomes a break. Loop headers open a loop; a jump back to one becomes a
// continue. Edges that fit neither shape are kept as goto/label pairs, so the
// engine never fails on a valid graph.
package structure

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/monolab825/soroban-auditor/internal/ast"
	"github.com/monolab825/soroban-auditor/internal/ir"
)

// Policy tunes the structuring engine.
type Policy struct {
	// SplitIrreducible duplicates blocks to remove irreducible edges
	// before structuring.
	SplitIrreducible bool
	// MaxSplitBlocks bounds the number of blocks splitting may add.
	MaxSplitBlocks int
}

func DefaultPolicy() Policy {
	return Policy{SplitIrreducible: true, MaxSplitBlocks: 16}
}

type Stats struct {
	Blocks   int
	Splits   int // blocks added by node splitting
	Loops    int
	PreTest  int
	PostTest int
	Gotos    int
}

type regionState uint8

const (
	unvisited regionState = iota
	inProgress
	structured
)

type frameKind uint8

const (
	blockFollowedBy frameKind = iota
	loopHeadedBy
)

// frame is one entry of the immutable context stack: the enclosing labeled
// blocks and loops a jump may leave or restart.
type frame struct {
	kind  frameKind
	label int
	next  *frame
}

func (f *frame) push(kind frameKind, label int) *frame {
	return &frame{kind: kind, label: label, next: f}
}

func (f *frame) has(kind frameKind, label int) bool {
	for ; f != nil; f = f.next {
		if f.kind == kind && f.label == label {
			return true
		}
	}
	return false
}

type taskKind uint8

const (
	doTree taskKind = iota
	nodeWithin
	doBranch
)

// task is a unit of pending work. Every task appends to out, and tasks that
// share an out list are pushed in reverse order of their output.
type task struct {
	kind   taskKind
	node   int
	from   int
	merges []int
	out    *ast.BlockStmt
	ctx    *frame
}

type structurer struct {
	c     *ir.Cfg
	dom   *ir.DomTree
	loops *ir.LoopInfo
	state []regionState
	merge []bool
	work  []task
}

// Structure converts c into a structured function. It consumes c: node
// splitting may add blocks to it. c must not be in SSA form.
func Structure(c *ir.Cfg, p Policy) (*ast.Func, Stats, error) {
	var st Stats
	if c.SSA {
		return nil, st, errors.Wrap(ir.ErrInvariant, "structure: graph is still in SSA form")
	}
	if err := c.Validate(); err != nil {
		return nil, st, err
	}
	if p.SplitIrreducible {
		st.Splits = splitIrreducible(c, p.MaxSplitBlocks)
	}
	st.Blocks = len(c.Blocks)

	s := newStructurer(c)
	body := &ast.BlockStmt{}
	s.push(task{kind: doTree, node: c.Entry, out: body})
	for len(s.work) > 0 {
		t := s.work[len(s.work)-1]
		s.work = s.work[:len(s.work)-1]
		switch t.kind {
		case doTree:
			s.tree(t)
		case nodeWithin:
			s.within(t)
		case doBranch:
			s.branch(t)
		}
	}
	for b, state := range s.state {
		if state != structured {
			return nil, st, errors.Wrapf(ir.ErrInvariant, "structure: block %d was not placed", b)
		}
	}
	cleanup(body)

	ds, err := decls(c, body)
	if err != nil {
		return nil, st, err
	}
	fn := &ast.Func{
		Name:    c.Name,
		Index:   c.Index,
		Params:  c.Params,
		Results: c.Results,
		Decls:   ds,
		Body:    body,
	}
	ast.Inspect(body, func(x ast.Stmt) bool {
		switch x := x.(type) {
		case *ast.LoopStmt:
			st.Loops++
			switch x.Kind {
			case ast.PreTest:
				st.PreTest++
			case ast.PostTest:
				st.PostTest++
			}
		case *ast.GotoStmt:
			st.Gotos++
		}
		return true
	})
	return fn, st, nil
}

func newStructurer(c *ir.Cfg) *structurer {
	dom := ir.Dominators(c)
	s := &structurer{
		c:     c,
		dom:   dom,
		loops: ir.FindLoops(c, dom),
		state: make([]regionState, len(c.Blocks)),
		merge: make([]bool, len(c.Blocks)),
	}
	for _, b := range c.Blocks {
		forward := 0
		for _, p := range b.Preds {
			if dom.RPONum(p) < dom.RPONum(b.ID) {
				forward++
			}
		}
		s.merge[b.ID] = forward >= 2
	}
	return s
}

func (s *structurer) push(t task) { s.work = append(s.work, t) }

// children returns the dominator tree children of b, latest in reverse
// postorder first.
func (s *structurer) children(b int) []int {
	out := append([]int(nil), s.dom.Children[b]...)
	sort.Slice(out, func(i, j int) bool { return s.dom.RPONum(out[i]) > s.dom.RPONum(out[j]) })
	return out
}

// tree places the code of x and of everything x immediately dominates.
func (s *structurer) tree(t task) {
	x := t.node
	if s.state[x] != unvisited {
		t.out.Stmts = append(t.out.Stmts, &ast.GotoStmt{Label: x})
		return
	}
	s.state[x] = inProgress
	loop := s.loops.ByHeader[x]
	var merges, follows []int
	for _, y := range s.children(x) {
		switch {
		case loop != nil && !loop.Body.Contains(y):
			follows = append(follows, y)
		case s.merge[y]:
			merges = append(merges, y)
		}
	}
	if loop == nil {
		s.push(task{kind: nodeWithin, node: x, merges: merges, out: t.out, ctx: t.ctx})
		return
	}
	// Code the loop dominates but does not contain goes after it.
	out, ctx := t.out, t.ctx
	for _, y := range follows {
		lb := &ast.LabeledBlock{Label: y, Body: &ast.BlockStmt{}}
		out.Stmts = append(out.Stmts, lb)
		s.push(task{kind: doTree, node: y, out: out, ctx: ctx})
		ctx = ctx.push(blockFollowedBy, y)
		out = lb.Body
	}
	body := &ast.BlockStmt{}
	out.Stmts = append(out.Stmts, &ast.LoopStmt{Label: x, Kind: ast.Infinite, Body: body})
	s.push(task{kind: nodeWithin, node: x, merges: merges, out: body, ctx: ctx.push(loopHeadedBy, x)})
}

// within wraps the code of x in one labeled block per pending merge child,
// outermost first, and places each merge child after its block.
func (s *structurer) within(t task) {
	if len(t.merges) > 0 {
		y := t.merges[0]
		lb := &ast.LabeledBlock{Label: y, Body: &ast.BlockStmt{}}
		t.out.Stmts = append(t.out.Stmts, lb)
		s.push(task{kind: doTree, node: y, out: t.out, ctx: t.ctx})
		s.push(task{kind: nodeWithin, node: t.node, merges: t.merges[1:], out: lb.Body, ctx: t.ctx.push(blockFollowedBy, y)})
		return
	}
	s.emit(t.node, t.out, t.ctx)
	s.state[t.node] = structured
}

func (s *structurer) emit(x int, out *ast.BlockStmt, ctx *frame) {
	b := s.c.Blocks[x]
	out.Stmts = append(out.Stmts, &ast.LabelStmt{Label: x})
	for _, st := range b.Body() {
		out.Stmts = append(out.Stmts, convert(st))
	}
	jump := func(to int, out *ast.BlockStmt) {
		s.push(task{kind: doBranch, from: x, node: to, out: out, ctx: ctx})
	}
	switch term := b.Terminator().(type) {
	case *ir.Branch:
		jump(term.Target, out)
	case *ir.CondBranch:
		if term.Then == term.Else {
			if ir.EffectOf(term.Cond) > ir.EffectNone {
				out.Stmts = append(out.Stmts, &ast.ExprStmt{X: term.Cond})
			}
			jump(term.Then, out)
			return
		}
		is := &ast.IfStmt{Cond: term.Cond, Then: &ast.BlockStmt{}, Else: &ast.BlockStmt{}}
		out.Stmts = append(out.Stmts, is)
		jump(term.Else, is.Else)
		jump(term.Then, is.Then)
	case *ir.Switch:
		sw := &ast.SwitchStmt{Tag: term.Index, Default: &ast.BlockStmt{}}
		byTarget := map[int]int{}
		var targets []int
		for i, t := range term.Targets {
			if t == term.Default {
				continue
			}
			k, ok := byTarget[t]
			if !ok {
				k = len(sw.Cases)
				byTarget[t] = k
				targets = append(targets, t)
				sw.Cases = append(sw.Cases, ast.CaseClause{Body: &ast.BlockStmt{}})
			}
			sw.Cases[k].Values = append(sw.Cases[k].Values, int64(i))
		}
		out.Stmts = append(out.Stmts, sw)
		jump(term.Default, sw.Default)
		for k := len(targets) - 1; k >= 0; k-- {
			jump(targets[k], sw.Cases[k].Body)
		}
	case *ir.Return:
		out.Stmts = append(out.Stmts, &ast.ReturnStmt{Values: term.Values})
	case *ir.Unreachable:
		out.Stmts = append(out.Stmts, &ast.TrapStmt{})
	}
}

// branch translates the edge from -> node.
func (s *structurer) branch(t task) {
	from, to := t.from, t.node
	var st ast.Stmt
	switch {
	case s.dom.RPONum(to) <= s.dom.RPONum(from):
		if t.ctx.has(loopHeadedBy, to) {
			st = &ast.ContinueStmt{Label: to}
		} else {
			st = &ast.GotoStmt{Label: to}
		}
	case t.ctx.has(blockFollowedBy, to):
		st = &ast.BreakStmt{Label: to}
	case s.merge[to] || s.state[to] != unvisited:
		st = &ast.GotoStmt{Label: to}
	default:
		s.push(task{kind: doTree, node: to, out: t.out, ctx: t.ctx})
		return
	}
	t.out.Stmts = append(t.out.Stmts, st)
}

func convert(s ir.Stmt) ast.Stmt {
	switch s := s.(type) {
	case *ir.Assign:
		return &ast.AssignStmt{Dst: s.Dst, Value: s.Src}
	case *ir.Store:
		return &ast.StoreStmt{Op: s.Op, Addr: s.Addr, Offset: s.Offset, Value: s.Value}
	case *ir.GlobalSet:
		return &ast.GlobalSetStmt{Index: s.Index, Value: s.Value}
	case *ir.ExprStmt:
		return &ast.ExprStmt{X: s.X}
	case *ir.MemoryOp:
		return &ast.MemoryOpStmt{Op: s.Op, Args: s.Args}
	}
	panic(errors.Errorf("structure: unexpected statement %T", s))
}

// decls declares every variable the body mentions. A variable is typed by
// its parameter or local slot, or else by what is assigned to it, so one
// with neither is never defined.
func decls(c *ir.Cfg, body *ast.BlockStmt) ([]ast.Decl, error) {
	ts := ir.VarTypes(c)
	seen := map[ir.VarKey]ir.Var{}
	add := func(v ir.Var) {
		if _, ok := seen[v.Key()]; !ok {
			seen[v.Key()] = v
		}
	}
	ast.Inspect(body, func(x ast.Stmt) bool {
		if a, ok := x.(*ast.AssignStmt); ok {
			add(a.Dst)
		}
		for _, e := range ast.Exprs(x) {
			for _, v := range ir.VarsOf(e) {
				add(v)
			}
		}
		return true
	})
	out := make([]ast.Decl, 0, len(seen))
	for k, v := range seen {
		t, ok := ts[k]
		if !ok {
			return nil, errors.Wrapf(ir.ErrInvariant, "structure: %s has no type", v)
		}
		out = append(out, ast.Decl{Var: v, Type: t})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Var, out[j].Var
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return a.Subscript < b.Subscript
	})
	return out, nil
}
