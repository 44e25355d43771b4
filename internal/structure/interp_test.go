package structure

import (
	"github.com/pkg/errors"

	"github.com/monolab825/soroban-auditor/internal/ast"
	"github.com/monolab825/soroban-auditor/internal/ir"
	"github.com/monolab825/soroban-auditor/internal/ir/irtest"
)

type signal uint8

const (
	sigNone signal = iota
	sigBreak
	sigContinue
	sigGoto
	sigReturn
)

// treeRun interprets a structured function on an ir.Machine so its trace
// can be compared with a run of the graph it came from. A goto restarts
// from the top of the body and descends to its label without evaluating
// anything on the way.
type treeRun struct {
	m       *ir.Machine
	sig     signal
	label   int
	results []uint64
}

func runTree(fn *ast.Func, arg uint64) irtest.Outcome {
	m := ir.NewMachine()
	m.Fuel = irtest.Fuel
	m.Start([]uint64{arg})
	r := &treeRun{m: m}
	seek := -1
	for {
		err := r.list(fn.Body.Stmts, seek)
		if err != nil {
			return irtest.Outcome{Trace: m.Trace, Err: err}
		}
		switch r.sig {
		case sigReturn:
			return irtest.Outcome{Results: r.results, Trace: m.Trace}
		case sigGoto:
			if err := m.Burn(); err != nil {
				return irtest.Outcome{Trace: m.Trace, Err: err}
			}
			seek, r.sig = r.label, sigNone
		default:
			return irtest.Outcome{Trace: m.Trace, Err: errors.Errorf("fell off the body with signal %d", r.sig)}
		}
	}
}

func containsLabel(s ast.Stmt, label int) bool {
	found := false
	ast.Inspect(s, func(x ast.Stmt) bool {
		if l, ok := x.(*ast.LabelStmt); ok && l.Label == label {
			found = true
		}
		return !found
	})
	return found
}

func (r *treeRun) list(stmts []ast.Stmt, seek int) error {
	for _, s := range stmts {
		if seek >= 0 && !containsLabel(s, seek) {
			continue
		}
		if err := r.stmt(s, seek); err != nil {
			return err
		}
		seek = -1
		if r.sig != sigNone {
			return nil
		}
	}
	return nil
}

func (r *treeRun) cond(e ir.Expr) (bool, error) {
	v, err := r.m.Eval(e)
	return uint32(v) != 0, err
}

func (r *treeRun) stmt(s ast.Stmt, seek int) error {
	switch s := s.(type) {
	case *ast.LabelStmt:
	case *ast.BlockStmt:
		return r.list(s.Stmts, seek)
	case *ast.LabeledBlock:
		err := r.list(s.Body.Stmts, seek)
		if r.sig == sigBreak && r.label == s.Label {
			r.sig = sigNone
		}
		return err
	case *ast.LoopStmt:
		return r.loop(s, seek)
	case *ast.IfStmt:
		if seek >= 0 {
			if containsLabel(s.Then, seek) {
				return r.list(s.Then.Stmts, seek)
			}
			return r.list(s.Else.Stmts, seek)
		}
		ok, err := r.cond(s.Cond)
		if err != nil {
			return err
		}
		if ok {
			return r.list(s.Then.Stmts, -1)
		}
		if s.Else != nil {
			return r.list(s.Else.Stmts, -1)
		}
	case *ast.SwitchStmt:
		if seek >= 0 {
			for _, c := range s.Cases {
				if containsLabel(c.Body, seek) {
					return r.list(c.Body.Stmts, seek)
				}
			}
			return r.list(s.Default.Stmts, seek)
		}
		v, err := r.m.Eval(s.Tag)
		if err != nil {
			return err
		}
		for _, c := range s.Cases {
			for _, k := range c.Values {
				if int64(uint32(v)) == k {
					return r.list(c.Body.Stmts, -1)
				}
			}
		}
		return r.list(s.Default.Stmts, -1)
	case *ast.BreakStmt:
		r.sig, r.label = sigBreak, s.Label
	case *ast.ContinueStmt:
		r.sig, r.label = sigContinue, s.Label
	case *ast.GotoStmt:
		r.sig, r.label = sigGoto, s.Label
	case *ast.ReturnStmt:
		vals, err := r.m.EvalAll(s.Values)
		if err != nil {
			return err
		}
		r.sig, r.results = sigReturn, vals
	case *ast.TrapStmt:
		return errors.Wrap(ir.ErrTrap, "unreachable")
	case *ast.AssignStmt:
		return r.m.Exec(&ir.Assign{Dst: s.Dst, Src: s.Value})
	case *ast.StoreStmt:
		return r.m.Exec(&ir.Store{Op: s.Op, Addr: s.Addr, Offset: s.Offset, Value: s.Value})
	case *ast.GlobalSetStmt:
		return r.m.Exec(&ir.GlobalSet{Index: s.Index, Value: s.Value})
	case *ast.ExprStmt:
		return r.m.Exec(&ir.ExprStmt{X: s.X})
	case *ast.MemoryOpStmt:
		return r.m.Exec(&ir.MemoryOp{Op: s.Op, Args: s.Args})
	default:
		return errors.Errorf("cannot run %T", s)
	}
	return nil
}

func (r *treeRun) loop(s *ast.LoopStmt, seek int) error {
	for first := true; ; first = false {
		if err := r.m.Burn(); err != nil {
			return err
		}
		entering := first && seek >= 0
		if s.Kind == ast.PreTest && !entering {
			ok, err := r.cond(s.Cond)
			if err != nil || !ok {
				return err
			}
		}
		from := -1
		if entering {
			from = seek
		}
		if err := r.list(s.Body.Stmts, from); err != nil {
			return err
		}
		switch r.sig {
		case sigBreak:
			if r.label == s.Label {
				r.sig = sigNone
			}
			return nil
		case sigContinue:
			if r.label != s.Label {
				return nil
			}
			r.sig = sigNone
		case sigGoto, sigReturn:
			return nil
		}
		if s.Kind == ast.PostTest {
			ok, err := r.cond(s.Cond)
			if err != nil || !ok {
				return err
			}
		}
	}
}
