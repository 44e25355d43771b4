package ir

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
)

// TransformToSSA rewrites c into pruned SSA form. Phis are placed on the
// iterated dominance frontier of each variable's definitions, but only
// where the variable is live; renaming then walks the dominator tree.
func TransformToSSA(c *Cfg) (*DefUseMap, error) {
	if c.SSA {
		return nil, errors.Wrap(ErrInvariant, "graph is already in SSA form")
	}
	dom := Dominators(c)
	df := dom.Frontiers(c)
	live := ComputeLiveness(c)

	defsites := map[uint32]mapset.Set[int]{}
	proto := map[uint32]Var{}
	for _, b := range c.Blocks {
		for _, s := range b.Stmts {
			if d, ok := Def(s); ok {
				if defsites[d.Index] == nil {
					defsites[d.Index] = mapset.NewThreadUnsafeSet[int]()
					proto[d.Index] = d
				}
				defsites[d.Index].Add(b.ID)
			}
		}
	}
	vars := make([]uint32, 0, len(defsites))
	for v := range defsites {
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i] < vars[j] })

	phis := make([][]Stmt, len(c.Blocks))
	for _, v := range vars {
		for _, y := range sortedSet(IteratedFrontier(df, defsites[v])) {
			if !live.LiveIn(y, proto[v]) {
				continue
			}
			args := make([]Var, len(c.Blocks[y].Preds))
			for i := range args {
				args[i] = proto[v]
			}
			phis[y] = append(phis[y], &Assign{Dst: proto[v], Src: Phi{Args: args}})
		}
	}
	for i, ps := range phis {
		if len(ps) > 0 {
			c.Blocks[i].Stmts = append(ps, c.Blocks[i].Stmts...)
		}
	}

	if err := rename(c, dom); err != nil {
		return nil, err
	}
	c.SSA = true
	return NewDefUseMap(c)
}

// rename assigns a fresh subscript to every definition and points every use
// at the reaching definition, walking the dominator tree with an explicit
// stack.
func rename(c *Cfg, dom *DomTree) error {
	counter := map[uint32]uint32{}
	stacks := map[uint32][]uint32{}
	pushed := make([][]uint32, len(c.Blocks))

	current := func(v Var) (Var, error) {
		st := stacks[v.Index]
		if len(st) == 0 {
			return v, errors.Wrapf(ErrInvariant, "%s read without a reaching definition", v)
		}
		return v.WithSub(st[len(st)-1]), nil
	}

	type item struct {
		b    int
		exit bool
	}
	work := []item{{b: c.Entry}}
	for len(work) > 0 {
		it := work[len(work)-1]
		work = work[:len(work)-1]
		if it.exit {
			for _, idx := range pushed[it.b] {
				stacks[idx] = stacks[idx][:len(stacks[idx])-1]
			}
			continue
		}
		b := c.Blocks[it.b]
		var err error
		for _, s := range b.Stmts {
			if !IsPhi(s) {
				MapStmtExprs(s, func(e Expr) Expr {
					return MapVars(e, func(v Var) Expr {
						r, rerr := current(v)
						if rerr != nil && err == nil {
							err = errors.Wrapf(rerr, "b%d", b.ID)
						}
						return r
					})
				})
			}
			if a, ok := s.(*Assign); ok {
				counter[a.Dst.Index]++
				sub := counter[a.Dst.Index]
				stacks[a.Dst.Index] = append(stacks[a.Dst.Index], sub)
				pushed[b.ID] = append(pushed[b.ID], a.Dst.Index)
				a.Dst = a.Dst.WithSub(sub)
			}
		}
		if err != nil {
			return err
		}
		for _, sid := range b.Succs {
			succ := c.Blocks[sid]
			k := succ.PredIndex(b.ID)
			for _, p := range succ.Phis() {
				phi := p.Src.(Phi)
				arg, err := current(phi.Args[k])
				if err != nil {
					return errors.Wrapf(err, "phi operand b%d->b%d", b.ID, sid)
				}
				args := append([]Var(nil), phi.Args...)
				args[k] = arg
				p.Src = Phi{Args: args}
			}
		}
		work = append(work, item{b: it.b, exit: true})
		children := dom.Children[it.b]
		for i := len(children) - 1; i >= 0; i-- {
			work = append(work, item{b: children[i]})
		}
	}
	return nil
}
