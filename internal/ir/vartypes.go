package ir

import "github.com/monolab825/soroban-auditor/internal/types"

// VarTypes infers the value type of every variable assigned in c.
// Parameters and declared locals take their declared type; everything
// else is solved from its definitions until nothing changes.
func VarTypes(c *Cfg) map[VarKey]types.ValType {
	ts := map[VarKey]types.ValType{}
	declared := func(v Var) types.ValType {
		i := int(v.Index)
		switch {
		case i < len(c.Params):
			return c.Params[i]
		case i < len(c.Params)+len(c.Locals):
			return c.Locals[i-len(c.Params)]
		}
		return types.Void
	}
	lookup := func(v Var) types.ValType {
		if t, ok := ts[v.Key()]; ok {
			return t
		}
		return declared(v)
	}
	for changed := true; changed; {
		changed = false
		for _, b := range c.Blocks {
			for _, s := range b.Stmts {
				a, ok := s.(*Assign)
				if !ok {
					continue
				}
				if _, ok := ts[a.Dst.Key()]; ok {
					continue
				}
				t := declared(a.Dst)
				if !t.Valid() {
					t = TypeOf(a.Src, lookup)
				}
				if t.Valid() {
					ts[a.Dst.Key()] = t
					changed = true
				}
			}
		}
	}
	return ts
}
