package ir

import (
	"github.com/pkg/errors"

	"github.com/monolab825/soroban-auditor/internal/types"
	"github.com/monolab825/soroban-auditor/internal/wasm"
)

// BuildOptions tunes graph construction.
type BuildOptions struct {
	// AssertParams marks parameter variables as typed by signature metadata.
	AssertParams bool
}

// Build decodes the body of function index into a control-flow graph. The
// operand stack is replaced by one register per stack height.
func Build(m *wasm.Module, index uint32, opts BuildOptions) (*Cfg, error) {
	f := m.Func(index)
	if f == nil {
		return nil, &NoSuchFuncError{Index: index}
	}
	if f.Imported {
		return nil, &FuncIsImportedError{Index: index}
	}
	c := &Cfg{
		Name:    f.DisplayName(),
		Index:   index,
		Params:  append([]types.ValType(nil), f.Type.Params...),
		Locals:  append([]types.ValType(nil), f.Locals...),
		Results: append([]types.ValType(nil), f.Type.Results...),
	}
	nlocals := uint32(len(c.Params) + len(c.Locals))
	bc := &buildCtx{
		m:        m,
		c:        c,
		vs:       newValueSpace(nlocals),
		opts:     opts,
		targeted: map[int]bool{},
	}
	if err := bc.run(f.Code); err != nil {
		return nil, errors.Wrapf(err, "function %d", index)
	}
	c.NumVars = nlocals + uint32(bc.vs.Registers())
	c.simplify()
	c.Prune()
	return c, nil
}

type control struct {
	op      wasm.Opcode // OpBlock, OpLoop, OpIf; OpEnd for the function body
	height  int         // stack height below the block's parameters
	params  []types.ValType
	results []types.ValType
	label   int // branch target
	elseB   int // pending else arm of an if, -1 when there is none
}

func (fr *control) labelTypes() []types.ValType {
	if fr.op == wasm.OpLoop {
		return fr.params
	}
	return fr.results
}

type buildCtx struct {
	m        *wasm.Module
	c        *Cfg
	vs       *ValueSpace
	opts     BuildOptions
	cur      *BasicBlock // nil while the code is unreachable
	frames   []control
	dead     int // nesting depth of skipped structured instructions
	targeted map[int]bool
}

func (bc *buildCtx) run(code []wasm.Instr) error {
	entry := bc.c.newBlock()
	bc.c.Entry = entry.ID
	bc.cur = entry
	for i, t := range bc.c.Params {
		bc.emit(&Assign{Dst: bc.local(uint32(i)), Src: Param{Index: uint32(i), Type: t}})
	}
	for i, t := range bc.c.Locals {
		bc.emit(&Assign{Dst: bc.local(uint32(len(bc.c.Params) + i)), Src: Zero(t)})
	}
	exit := bc.c.newBlock()
	bc.frames = []control{{op: wasm.OpEnd, results: bc.c.Results, label: exit.ID, elseB: -1}}

	for _, ins := range code {
		if len(bc.frames) == 0 {
			return errors.Wrap(wasm.ErrMalformed, "instructions after the final end")
		}
		if bc.cur == nil {
			switch ins.Op {
			case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
				bc.dead++
				continue
			case wasm.OpElse:
				if bc.dead > 0 {
					continue
				}
			case wasm.OpEnd:
				if bc.dead > 0 {
					bc.dead--
					continue
				}
			default:
				continue
			}
		}
		if err := bc.instr(ins); err != nil {
			return errors.Wrapf(err, "%s", ins.Op)
		}
	}
	if len(bc.frames) != 0 {
		return errors.Wrap(wasm.ErrMalformed, "missing end")
	}
	return nil
}

func (bc *buildCtx) local(i uint32) Var {
	v := NoSub(i)
	v.Asserted = bc.opts.AssertParams && int(i) < len(bc.c.Params)
	return v
}

func (bc *buildCtx) localType(i uint32) (types.ValType, error) {
	switch np := uint32(len(bc.c.Params)); {
	case i < np:
		return bc.c.Params[i], nil
	case i-np < uint32(len(bc.c.Locals)):
		return bc.c.Locals[i-np], nil
	}
	return 0, errors.Wrapf(wasm.ErrMalformed, "local %d out of range", i)
}

func (bc *buildCtx) emit(s Stmt) { bc.cur.Stmts = append(bc.cur.Stmts, s) }

func (bc *buildCtx) push(t types.ValType, e Expr) {
	bc.emit(&Assign{Dst: bc.vs.Push(t), Src: e})
}

// terminate ends the current block; the following code is unreachable
// until a label is placed.
func (bc *buildCtx) terminate(s Stmt) {
	bc.emit(s)
	for _, t := range Targets(s) {
		bc.targeted[t] = true
	}
	bc.cur = nil
}

func (bc *buildCtx) frame(depth uint32) (*control, error) {
	if int(depth) >= len(bc.frames) {
		return nil, errors.Wrapf(wasm.ErrMalformed, "branch depth %d out of range", depth)
	}
	return &bc.frames[len(bc.frames)-1-int(depth)], nil
}

// branchCopies moves the values carried by a branch into the registers the
// target label expects.
func (bc *buildCtx) branchCopies(fr *control) ([]Stmt, error) {
	n := len(fr.labelTypes())
	from := bc.vs.Height() - n
	if from < fr.height {
		return nil, errors.Wrap(wasm.ErrMalformed, "branch carries too few values")
	}
	if from == fr.height {
		return nil, nil
	}
	out := make([]Stmt, n)
	for i := range out {
		out[i] = &Assign{Dst: bc.vs.Slot(fr.height + i), Src: bc.vs.Slot(from + i)}
	}
	return out, nil
}

// edgeTo returns the block a conditional branch to fr should jump to. When
// values must be moved, a trampoline block holding the copies is created.
func (bc *buildCtx) edgeTo(fr *control) (int, error) {
	copies, err := bc.branchCopies(fr)
	if err != nil || len(copies) == 0 {
		return fr.label, err
	}
	tramp := bc.c.newBlock()
	tramp.Stmts = append(copies, &Branch{Target: fr.label})
	bc.targeted[fr.label] = true
	return tramp.ID, nil
}

func (bc *buildCtx) blockSig(bt wasm.BlockType) (params, results []types.ValType, err error) {
	if bt.TypeIdx >= 0 {
		if int(bt.TypeIdx) >= len(bc.m.Types) {
			return nil, nil, errors.Wrapf(wasm.ErrMalformed, "block type %d out of range", bt.TypeIdx)
		}
		sig := bc.m.Types[bt.TypeIdx]
		return sig.Params, sig.Results, nil
	}
	if bt.Val == types.Void {
		return nil, nil, nil
	}
	return nil, []types.ValType{bt.Val}, nil
}

func (bc *buildCtx) instr(ins wasm.Instr) error {
	switch op := ins.Op; op {
	case wasm.OpNop:
	case wasm.OpUnreachable:
		bc.terminate(&Unreachable{})

	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		params, results, err := bc.blockSig(ins.Block)
		if err != nil {
			return err
		}
		var cond Var
		if op == wasm.OpIf {
			if cond, err = bc.vs.Pop(); err != nil {
				return err
			}
		}
		fr := control{op: op, height: bc.vs.Height() - len(params), params: params, results: results, elseB: -1}
		if fr.height < 0 {
			return errors.Wrap(wasm.ErrMalformed, "block parameters missing")
		}
		switch op {
		case wasm.OpBlock:
			fr.label = bc.c.newBlock().ID
		case wasm.OpLoop:
			header := bc.c.newBlock()
			bc.terminate(&Branch{Target: header.ID})
			bc.cur = header
			fr.label = header.ID
		case wasm.OpIf:
			then, els := bc.c.newBlock(), bc.c.newBlock()
			fr.label = bc.c.newBlock().ID
			fr.elseB = els.ID
			bc.terminate(&CondBranch{Cond: cond, Then: then.ID, Else: els.ID})
			bc.cur = then
		}
		bc.frames = append(bc.frames, fr)

	case wasm.OpElse:
		fr := &bc.frames[len(bc.frames)-1]
		if fr.op != wasm.OpIf || fr.elseB < 0 {
			return errors.Wrap(wasm.ErrMalformed, "else without if")
		}
		if bc.cur != nil {
			bc.terminate(&Branch{Target: fr.label})
		}
		bc.vs.Reset(fr.height, fr.params)
		bc.cur = bc.c.Blocks[fr.elseB]
		fr.elseB = -1

	case wasm.OpEnd:
		return bc.end()

	case wasm.OpBr:
		fr, err := bc.frame(ins.Index)
		if err != nil {
			return err
		}
		copies, err := bc.branchCopies(fr)
		if err != nil {
			return err
		}
		for _, s := range copies {
			bc.emit(s)
		}
		bc.terminate(&Branch{Target: fr.label})

	case wasm.OpBrIf:
		cond, err := bc.vs.Pop()
		if err != nil {
			return err
		}
		fr, err := bc.frame(ins.Index)
		if err != nil {
			return err
		}
		target, err := bc.edgeTo(fr)
		if err != nil {
			return err
		}
		next := bc.c.newBlock()
		bc.terminate(&CondBranch{Cond: cond, Then: target, Else: next.ID})
		bc.cur = next

	case wasm.OpBrTable:
		idx, err := bc.vs.Pop()
		if err != nil {
			return err
		}
		edges := map[uint32]int{}
		edge := func(depth uint32) (int, error) {
			if t, ok := edges[depth]; ok {
				return t, nil
			}
			fr, err := bc.frame(depth)
			if err != nil {
				return 0, err
			}
			t, err := bc.edgeTo(fr)
			edges[depth] = t
			return t, err
		}
		sw := &Switch{Index: idx, Targets: make([]int, len(ins.Targets))}
		for i, d := range ins.Targets {
			if sw.Targets[i], err = edge(d); err != nil {
				return err
			}
		}
		if sw.Default, err = edge(ins.Index); err != nil {
			return err
		}
		bc.terminate(sw)

	case wasm.OpReturn:
		vals, err := bc.vs.Top(len(bc.c.Results))
		if err != nil {
			return err
		}
		bc.terminate(&Return{Values: varExprs(vals)})

	case wasm.OpCall:
		callee := bc.m.Func(ins.Index)
		if callee == nil {
			return &NoSuchFuncError{Index: ins.Index}
		}
		return bc.call(Call{Func: ins.Index}, callee.Type, nil)

	case wasm.OpCallIndirect:
		if int(ins.Index) >= len(bc.m.Types) {
			return errors.Wrapf(wasm.ErrMalformed, "type %d out of range", ins.Index)
		}
		target, err := bc.vs.Pop()
		if err != nil {
			return err
		}
		return bc.call(CallIndirect{TypeIdx: ins.Index}, bc.m.Types[ins.Index], target)

	case wasm.OpDrop:
		_, err := bc.vs.Pop()
		return err

	case wasm.OpSelect:
		t := bc.vs.TypeFromTop(2)
		vals, err := bc.vs.PopN(3)
		if err != nil {
			return err
		}
		bc.push(t, Select{Cond: vals[2], X: vals[0], Y: vals[1]})

	case wasm.OpLocalGet:
		t, err := bc.localType(ins.Index)
		if err != nil {
			return err
		}
		bc.push(t, bc.local(ins.Index))

	case wasm.OpLocalSet, wasm.OpLocalTee:
		if _, err := bc.localType(ins.Index); err != nil {
			return err
		}
		var v Var
		var err error
		if op == wasm.OpLocalSet {
			v, err = bc.vs.Pop()
		} else {
			var top []Var
			top, err = bc.vs.Top(1)
			if err == nil {
				v = top[0]
			}
		}
		if err != nil {
			return err
		}
		bc.emit(&Assign{Dst: bc.local(ins.Index), Src: v})

	case wasm.OpGlobalGet:
		if int(ins.Index) >= len(bc.m.Globals) {
			return errors.Wrapf(wasm.ErrMalformed, "global %d out of range", ins.Index)
		}
		t := bc.m.Globals[ins.Index].Type
		bc.push(t, GlobalGet{Index: ins.Index, Type: t})

	case wasm.OpGlobalSet:
		v, err := bc.vs.Pop()
		if err != nil {
			return err
		}
		bc.emit(&GlobalSet{Index: ins.Index, Value: v})

	case wasm.OpMemorySize:
		bc.push(types.I32, MemorySize{})

	case wasm.OpMemoryGrow:
		v, err := bc.vs.Pop()
		if err != nil {
			return err
		}
		bc.push(types.I32, MemoryGrow{Delta: v})

	case wasm.OpMemoryCopy, wasm.OpMemoryFill:
		vals, err := bc.vs.PopN(3)
		if err != nil {
			return err
		}
		bc.emit(&MemoryOp{Op: op, Args: [3]Expr{vals[0], vals[1], vals[2]}})

	case wasm.OpI32Const:
		bc.push(types.I32, Const{Type: types.I32, Bits: ins.Const})
	case wasm.OpI64Const:
		bc.push(types.I64, Const{Type: types.I64, Bits: ins.Const})
	case wasm.OpF32Const:
		bc.push(types.F32, Const{Type: types.F32, Bits: ins.Const})
	case wasm.OpF64Const:
		bc.push(types.F64, Const{Type: types.F64, Bits: ins.Const})

	default:
		if mem, ok := op.Mem(); ok {
			if op.IsLoad() {
				addr, err := bc.vs.Pop()
				if err != nil {
					return err
				}
				bc.push(mem.Type, Load{Op: op, Addr: addr, Offset: ins.Offset})
				return nil
			}
			vals, err := bc.vs.PopN(2)
			if err != nil {
				return err
			}
			bc.emit(&Store{Op: op, Addr: vals[0], Offset: ins.Offset, Value: vals[1]})
			return nil
		}
		info, ok := op.Info()
		if !ok {
			return errors.Wrapf(ErrUnsupported, "instruction %s", op)
		}
		switch info.Kind {
		case wasm.KindBinary, wasm.KindCompare:
			vals, err := bc.vs.PopN(2)
			if err != nil {
				return err
			}
			bc.push(info.Out, Binary{Op: op, X: vals[0], Y: vals[1]})
		default:
			v, err := bc.vs.Pop()
			if err != nil {
				return err
			}
			bc.push(info.Out, Unary{Op: op, X: v})
		}
	}
	return nil
}

func (bc *buildCtx) call(e Expr, sig types.Signature, target Expr) error {
	if len(sig.Results) > 1 {
		return errors.Wrapf(ErrUnsupported, "call with %d results", len(sig.Results))
	}
	args, err := bc.vs.PopN(len(sig.Params))
	if err != nil {
		return err
	}
	result := types.Void
	if len(sig.Results) == 1 {
		result = sig.Results[0]
	}
	switch x := e.(type) {
	case Call:
		x.Args, x.Result = varExprs(args), result
		e = x
	case CallIndirect:
		x.Args, x.Callee, x.Result = varExprs(args), target, result
		e = x
	}
	if result == types.Void {
		bc.emit(&ExprStmt{X: e})
		return nil
	}
	bc.push(result, e)
	return nil
}

// end closes the innermost structured instruction and places its label.
func (bc *buildCtx) end() error {
	fr := bc.frames[len(bc.frames)-1]
	bc.frames = bc.frames[:len(bc.frames)-1]

	next := fr.label
	if fr.op == wasm.OpLoop {
		next = bc.c.newBlock().ID
	}
	if bc.cur != nil {
		if bc.vs.Height() != fr.height+len(fr.results) {
			return errors.Wrapf(wasm.ErrMalformed, "stack height %d at end, want %d", bc.vs.Height(), fr.height+len(fr.results))
		}
		bc.terminate(&Branch{Target: next})
	}
	if fr.elseB >= 0 {
		els := bc.c.Blocks[fr.elseB]
		els.Stmts = append(els.Stmts, &Branch{Target: next})
		bc.targeted[next] = true
	}
	bc.vs.Reset(fr.height, fr.results)
	if !bc.targeted[next] {
		return nil
	}
	bc.cur = bc.c.Blocks[next]
	if fr.op == wasm.OpEnd {
		vals, err := bc.vs.Top(len(fr.results))
		if err != nil {
			return err
		}
		bc.terminate(&Return{Values: varExprs(vals)})
	}
	return nil
}

func varExprs(vs []Var) []Expr {
	out := make([]Expr, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

// simplify threads jumps through empty blocks, folds branches whose
// targets coincide and merges straight-line chains.
func (c *Cfg) simplify() {
	for changed := true; changed; {
		changed = false
		c.Prune()
		for _, b := range c.Blocks {
			if b.ID == c.Entry || len(b.Stmts) != 1 {
				continue
			}
			br, ok := b.Stmts[0].(*Branch)
			if !ok || br.Target == b.ID || len(b.Preds) == 0 {
				continue
			}
			for _, p := range b.Preds {
				RetargetStmt(c.Blocks[p].Terminator(), b.ID, br.Target)
			}
			b.Preds = nil
			changed = true
		}
		for _, b := range c.Blocks {
			if folded := foldBranch(b.Terminator()); folded != nil {
				b.Stmts[len(b.Stmts)-1] = folded
				changed = true
			}
		}
		if changed {
			continue
		}
		for _, b := range c.Blocks {
			br, ok := b.Terminator().(*Branch)
			if !ok || br.Target == b.ID || br.Target == c.Entry {
				continue
			}
			s := c.Blocks[br.Target]
			if len(s.Preds) != 1 {
				continue
			}
			b.Stmts = append(b.Body(), s.Stmts...)
			s.Stmts = []Stmt{&Unreachable{}}
			changed = true
			break
		}
	}
}

// foldBranch turns a conditional or table branch whose targets are all the
// same block into a plain branch, when the dropped operand is pure.
func foldBranch(t Stmt) Stmt {
	ts := Targets(t)
	if len(ts) < 2 {
		return nil
	}
	for _, x := range ts[1:] {
		if x != ts[0] {
			return nil
		}
	}
	if e := Exprs(t); len(e) == 1 && EffectOf(e[0]) != EffectNone {
		return nil
	}
	return &Branch{Target: ts[0]}
}
