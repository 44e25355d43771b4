package structure

import (
	"github.com/monolab825/soroban-auditor/internal/ast"
	"github.com/monolab825/soroban-auditor/internal/ir"
)

const maxCleanupRounds = 64

// jump names where control goes when a statement list runs off its end.
type jump struct {
	cont  bool // continue rather than break
	label int
}

type loopExit struct {
	label int
	exits []jump
}

// cleaner rewrites the raw translation into idiomatic control flow. The
// reference counts may overestimate but never underestimate, so a rule
// that needs a label to be unused stays sound within one round.
type cleaner struct {
	breaks    map[int]int
	continues map[int]int
	gotos     map[int]int
	loops     []loopExit
	changed   bool
}

func cleanup(body *ast.BlockStmt) {
	for i := 0; i < maxCleanupRounds; i++ {
		cl := &cleaner{breaks: map[int]int{}, continues: map[int]int{}, gotos: map[int]int{}}
		ast.Inspect(body, func(s ast.Stmt) bool {
			switch s := s.(type) {
			case *ast.BreakStmt:
				cl.breaks[s.Label]++
			case *ast.ContinueStmt:
				cl.continues[s.Label]++
			case *ast.GotoStmt:
				cl.gotos[s.Label]++
			}
			return true
		})
		body.Stmts = cl.list(body.Stmts, nil)
		if !cl.changed {
			return
		}
	}
}

// list cleans stmts. exits holds the jumps equivalent to running off the
// end of the list.
func (cl *cleaner) list(stmts []ast.Stmt, exits []jump) []ast.Stmt {
	out := make([]ast.Stmt, 0, len(stmts))
	for i := 0; i < len(stmts); i++ {
		var ex []jump
		if i == len(stmts)-1 {
			ex = exits
		}
		out = append(out, cl.stmt(stmts[i], ex)...)
		if len(out) == 0 || !ast.IsJump(out[len(out)-1]) {
			continue
		}
		j := i + 1
		for j < len(stmts) && !cl.hasLabel(stmts[j]) {
			j++
		}
		if j > i+1 {
			cl.changed = true
		}
		i = j - 1
	}
	if n := len(out); n > 0 && redundant(out[n-1], exits) {
		out = out[:n-1]
		cl.changed = true
	}
	return out
}

func (cl *cleaner) stmt(s ast.Stmt, exits []jump) []ast.Stmt {
	switch s := s.(type) {
	case *ast.LabelStmt:
		if cl.gotos[s.Label] == 0 {
			cl.changed = true
			return nil
		}
	case *ast.BreakStmt:
		if h, ok := cl.retarget(s.Label); ok {
			cl.changed = true
			cl.breaks[h]++
			return []ast.Stmt{&ast.BreakStmt{Label: h}}
		}
	case *ast.BlockStmt:
		cl.changed = true
		return cl.list(s.Stmts, exits)
	case *ast.LabeledBlock:
		inner := append([]jump{{label: s.Label}}, exits...)
		s.Body.Stmts = cl.list(s.Body.Stmts, inner)
		if cl.breaks[s.Label] == 0 || len(s.Body.Stmts) == 0 {
			cl.changed = true
			return s.Body.Stmts
		}
	case *ast.LoopStmt:
		return cl.loop(s, exits)
	case *ast.IfStmt:
		return cl.ifStmt(s, exits)
	case *ast.SwitchStmt:
		for _, cc := range s.Cases {
			cc.Body.Stmts = cl.list(cc.Body.Stmts, exits)
		}
		s.Default.Stmts = cl.list(s.Default.Stmts, exits)
	}
	return []ast.Stmt{s}
}

// retarget finds the innermost enclosing loop that a break to label can
// leave instead.
func (cl *cleaner) retarget(label int) (int, bool) {
	for i := len(cl.loops) - 1; i >= 0; i-- {
		l := cl.loops[i]
		if l.label == label {
			return 0, false
		}
		if containsJump(l.exits, jump{label: label}) {
			return l.label, true
		}
	}
	return 0, false
}

func (cl *cleaner) loop(s *ast.LoopStmt, exits []jump) []ast.Stmt {
	cl.loops = append(cl.loops, loopExit{label: s.Label, exits: exits})
	s.Body.Stmts = cl.list(s.Body.Stmts, []jump{{cont: true, label: s.Label}})
	cl.loops = cl.loops[:len(cl.loops)-1]
	if s.Kind != ast.Infinite {
		return []ast.Stmt{s}
	}
	body := s.Body.Stmts
	if cond, ok := exitTest(body, 0, s.Label); ok {
		s.Kind, s.Cond = ast.PreTest, ir.Negate(cond)
		s.Body.Stmts = body[1:]
		cl.changed = true
		return []ast.Stmt{s}
	}
	n := len(body)
	if n == 0 || cl.continues[s.Label] > 0 {
		return []ast.Stmt{s}
	}
	if cond, ok := exitTest(body, n-1, s.Label); ok {
		s.Kind, s.Cond = ast.PostTest, ir.Negate(cond)
		s.Body.Stmts = body[:n-1]
		cl.changed = true
		return []ast.Stmt{s}
	}
	if ast.IsJump(body[n-1]) {
		// The body never repeats.
		cl.changed = true
		return []ast.Stmt{&ast.LabeledBlock{Label: s.Label, Body: s.Body}}
	}
	return []ast.Stmt{s}
}

// exitTest matches `if cond { break label }` at stmts[i].
func exitTest(stmts []ast.Stmt, i int, label int) (ir.Expr, bool) {
	if i >= len(stmts) {
		return nil, false
	}
	is, ok := stmts[i].(*ast.IfStmt)
	if !ok || is.Else != nil || len(is.Then.Stmts) != 1 {
		return nil, false
	}
	br, ok := is.Then.Stmts[0].(*ast.BreakStmt)
	if !ok || br.Label != label {
		return nil, false
	}
	return is.Cond, true
}

func (cl *cleaner) ifStmt(s *ast.IfStmt, exits []jump) []ast.Stmt {
	s.Then.Stmts = cl.list(s.Then.Stmts, exits)
	if s.Else != nil {
		s.Else.Stmts = cl.list(s.Else.Stmts, exits)
		if len(s.Else.Stmts) == 0 {
			s.Else = nil
			cl.changed = true
		}
	}
	if len(s.Then.Stmts) == 0 {
		cl.changed = true
		if s.Else == nil {
			if ir.EffectOf(s.Cond) > ir.EffectNone {
				return []ast.Stmt{&ast.ExprStmt{X: s.Cond}}
			}
			return nil
		}
		s.Cond, s.Then, s.Else = ir.Negate(s.Cond), s.Else, nil
	}
	if s.Else == nil {
		return []ast.Stmt{s}
	}
	// An arm that never falls through lets the other one follow the if.
	if endsInJump(s.Then) {
		rest := s.Else.Stmts
		s.Else = nil
		cl.changed = true
		return append([]ast.Stmt{s}, rest...)
	}
	if endsInJump(s.Else) {
		rest := s.Then.Stmts
		s.Cond, s.Then, s.Else = ir.Negate(s.Cond), s.Else, nil
		cl.changed = true
		return append([]ast.Stmt{s}, rest...)
	}
	return []ast.Stmt{s}
}

func endsInJump(b *ast.BlockStmt) bool {
	return len(b.Stmts) > 0 && ast.IsJump(b.Stmts[len(b.Stmts)-1])
}

// hasLabel reports whether s contains a label some goto still targets.
func (cl *cleaner) hasLabel(s ast.Stmt) bool {
	found := false
	ast.Inspect(s, func(x ast.Stmt) bool {
		if l, ok := x.(*ast.LabelStmt); ok && cl.gotos[l.Label] > 0 {
			found = true
		}
		return !found
	})
	return found
}

func redundant(s ast.Stmt, exits []jump) bool {
	switch s := s.(type) {
	case *ast.BreakStmt:
		return containsJump(exits, jump{label: s.Label})
	case *ast.ContinueStmt:
		return containsJump(exits, jump{cont: true, label: s.Label})
	}
	return false
}

func containsJump(js []jump, j jump) bool {
	for _, x := range js {
		if x == j {
			return true
		}
	}
	return false
}
