package ir

// OptimizeOptions selects the SSA passes run by Optimize.
type OptimizeOptions struct {
	Propagate     bool
	Fold          bool
	DeadCode      bool
	MaxIterations int
}

func DefaultOptimizeOptions() OptimizeOptions {
	return OptimizeOptions{Propagate: true, Fold: true, DeadCode: true, MaxIterations: 32}
}

// OptimizeStats counts the rewrites performed.
type OptimizeStats struct {
	Rounds     int
	Propagated int
	Folded     int
	Removed    int
}

func (s OptimizeStats) Changed() bool { return s.Propagated+s.Folded+s.Removed > 0 }

// Optimize runs propagation, folding and dead-code elimination until none
// of them changes anything. Running it again afterwards is a no-op.
func Optimize(c *Cfg, du *DefUseMap, opts OptimizeOptions) OptimizeStats {
	var st OptimizeStats
	for st.Rounds < opts.MaxIterations || opts.MaxIterations <= 0 {
		st.Rounds++
		changed := false
		if opts.Propagate {
			n := PropagateExpressions(c, du)
			st.Propagated += n
			changed = changed || n > 0
		}
		if opts.Fold {
			n := FoldConstants(c, du)
			st.Folded += n
			changed = changed || n > 0
		}
		if opts.DeadCode {
			n := EliminateDeadCode(c, du)
			st.Removed += n
			changed = changed || n > 0
		}
		if !changed {
			break
		}
	}
	return st
}

// PropagateExpressions substitutes definitions into their uses:
// copies everywhere, constants and parameters into every non-phi use, and
// single-use expressions into their non-phi use when that cannot reorder
// observable effects. It returns the number of definitions propagated.
func PropagateExpressions(c *Cfg, du *DefUseMap) int {
	n := 0
	for _, b := range c.Blocks {
		for i := 0; i < len(b.Stmts); i++ {
			a, ok := b.Stmts[i].(*Assign)
			if !ok {
				continue
			}
			uses := distinctSites(du.Uses(a.Dst))
			if len(uses) == 0 {
				continue
			}
			def := Site{b.ID, a}
			var targets []Site
			switch src := a.Src.(type) {
			case Phi:
				continue
			case Var:
				if sameVar(src, a.Dst) {
					continue
				}
				targets = uses
			case Const, Param:
				for _, u := range uses {
					if !IsPhi(u.Stmt) {
						targets = append(targets, u)
					}
				}
			default:
				if du.NumUses(a.Dst) != 1 || IsPhi(uses[0].Stmt) {
					continue
				}
				eff := EffectOf(src)
				if eff == EffectWrite {
					continue
				}
				if eff > EffectNone && !canSink(c, def, uses[0], a.Dst, eff) {
					continue
				}
				targets = uses
			}
			if len(targets) == 0 {
				continue
			}
			for _, u := range targets {
				dst, src := a.Dst, a.Src
				du.rewrite(u, func(e Expr) Expr { return Substitute(e, dst, src) })
			}
			n++
			if du.NumUses(a.Dst) == 0 {
				du.remove(c, def)
				i--
			}
		}
	}
	return n
}

func distinctSites(sites []Site) []Site {
	var out []Site
	seen := map[Stmt]bool{}
	for _, s := range sites {
		if !seen[s.Stmt] {
			seen[s.Stmt] = true
			out = append(out, s)
		}
	}
	return out
}

// canSink reports whether an expression of effect eff defined at def can
// be evaluated at use instead: same block, later, and nothing evaluated in
// between that it could be reordered with.
func canSink(c *Cfg, def, use Site, v Var, eff Effect) bool {
	if def.Block != use.Block {
		return false
	}
	limit := EffectWrite
	if eff >= EffectTrap {
		limit = EffectTrap
	}
	b := c.Blocks[def.Block]
	between := false
	for _, s := range b.Stmts {
		switch {
		case s == def.Stmt:
			between = true
		case s == use.Stmt:
			return between && stmtEffectBefore(s, v) < limit
		case between && StmtEffect(s) >= limit:
			return false
		}
	}
	return false
}

// stmtEffectBefore is the strongest effect evaluated in s before the read
// of v.
func stmtEffectBefore(s Stmt, v Var) Effect {
	var eff Effect
	for _, e := range Exprs(s) {
		k, found := exprEffectBefore(e, v)
		if found {
			return max(eff, k)
		}
		eff = max(eff, EffectOf(e))
	}
	return eff
}

func exprEffectBefore(e Expr, v Var) (Effect, bool) {
	if x, ok := e.(Var); ok && sameVar(x, v) {
		return EffectNone, true
	}
	var eff Effect
	for _, ch := range children(e) {
		k, found := exprEffectBefore(ch, v)
		if found {
			return max(eff, k), true
		}
		eff = max(eff, EffectOf(ch))
	}
	return eff, false
}

// FoldConstants evaluates operators whose operands are all constants. It
// returns the number of statements rewritten.
func FoldConstants(c *Cfg, du *DefUseMap) int {
	n := 0
	for _, b := range c.Blocks {
		for _, s := range b.Stmts {
			dirty := false
			for _, e := range Exprs(s) {
				if _, changed := fold(e); changed {
					dirty = true
					break
				}
			}
			if !dirty {
				continue
			}
			du.rewrite(Site{b.ID, s}, func(e Expr) Expr {
				r, _ := fold(e)
				return r
			})
			n++
		}
	}
	return n
}

func fold(e Expr) (Expr, bool) {
	switch x := e.(type) {
	case Unary:
		inner, changed := fold(x.X)
		x.X = inner
		if k, ok := inner.(Const); ok {
			info, _ := x.Op.Info()
			if r, err := EvalUnary(x.Op, k.Bits); err == nil {
				return Const{Type: info.Out, Bits: r}, true
			}
		}
		return x, changed
	case Binary:
		l, lc := fold(x.X)
		r, rc := fold(x.Y)
		x.X, x.Y = l, r
		kl, okl := l.(Const)
		kr, okr := r.(Const)
		if okl && okr {
			info, _ := x.Op.Info()
			if v, err := EvalBinary(x.Op, kl.Bits, kr.Bits); err == nil {
				return Const{Type: info.Out, Bits: v}, true
			}
		}
		return x, lc || rc
	case Select:
		cond, cc := fold(x.Cond)
		a, ac := fold(x.X)
		b, bc := fold(x.Y)
		return Select{Cond: cond, X: a, Y: b}, cc || ac || bc
	case Load:
		addr, changed := fold(x.Addr)
		x.Addr = addr
		return x, changed
	case MemoryGrow:
		d, changed := fold(x.Delta)
		return MemoryGrow{Delta: d}, changed
	case Call:
		args, changed := foldList(x.Args)
		if changed {
			x.Args = args
		}
		return x, changed
	case CallIndirect:
		args, changed := foldList(x.Args)
		callee, cc := fold(x.Callee)
		if changed {
			x.Args = args
		}
		x.Callee = callee
		return x, changed || cc
	}
	return e, false
}

func foldList(es []Expr) ([]Expr, bool) {
	out := make([]Expr, len(es))
	changed := false
	for i, e := range es {
		r, c := fold(e)
		out[i] = r
		changed = changed || c
	}
	return out, changed
}

// EliminateDeadCode removes definitions whose value is never needed and
// that only read state, collapses phis whose operands all agree, and turns
// unused definitions with effects into expression statements. It returns
// the number of statements removed or rewritten.
func EliminateDeadCode(c *Cfg, du *DefUseMap) int {
	n := 0
	for changed := true; changed; {
		changed = false
		live := markLive(c, du)
		for _, k := range du.Vars() {
			site, ok := du.defs[k]
			if !ok {
				continue
			}
			a := site.Stmt.(*Assign)
			if phi, ok := a.Src.(Phi); ok {
				if w, ok := trivialPhi(a.Dst, phi); ok {
					dst := a.Dst
					for _, u := range distinctSites(du.Uses(dst)) {
						du.rewrite(u, func(e Expr) Expr {
							return MapVars(e, func(x Var) Expr {
								if sameVar(x, dst) {
									return w
								}
								return x
							})
						})
					}
					du.remove(c, site)
					n++
					changed = true
					continue
				}
			}
			switch eff := EffectOf(a.Src); {
			case eff <= EffectRead && !live[a]:
				du.remove(c, site)
			case eff > EffectRead && du.NumUses(a.Dst) == 0:
				du.replace(c, site, &ExprStmt{X: a.Src})
			default:
				continue
			}
			n++
			changed = true
		}
	}
	return n
}

// markLive finds the assignments whose values can reach an effect, a
// branch or a return.
func markLive(c *Cfg, du *DefUseMap) map[*Assign]bool {
	live := map[*Assign]bool{}
	var work []Stmt
	for _, b := range c.Blocks {
		for _, s := range b.Stmts {
			a, ok := s.(*Assign)
			if ok && EffectOf(a.Src) <= EffectRead {
				continue
			}
			if ok {
				live[a] = true
			}
			work = append(work, s)
		}
	}
	for len(work) > 0 {
		s := work[len(work)-1]
		work = work[:len(work)-1]
		for _, u := range Uses(s) {
			site, ok := du.Def(u)
			if !ok {
				continue
			}
			a := site.Stmt.(*Assign)
			if !live[a] {
				live[a] = true
				work = append(work, a)
			}
		}
	}
	return live
}

// trivialPhi reports whether every operand of phi other than dst itself is
// the same variable.
func trivialPhi(dst Var, phi Phi) (Var, bool) {
	var w Var
	found := false
	for _, a := range phi.Args {
		if sameVar(a, dst) {
			continue
		}
		if found && !sameVar(a, w) {
			return Var{}, false
		}
		w, found = a, true
	}
	return w, found
}
