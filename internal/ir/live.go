package ir

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// Liveness holds the variables live at block boundaries. A phi operand is
// live at the end of its predecessor, not at the start of the phi block.
type Liveness struct {
	In  []mapset.Set[VarKey]
	Out []mapset.Set[VarKey]
}

// ComputeLiveness solves the backward dataflow problem over c.
func ComputeLiveness(c *Cfg) *Liveness {
	n := len(c.Blocks)
	gen := make([]mapset.Set[VarKey], n)  // read before any write in the block
	kill := make([]mapset.Set[VarKey], n) // written in the block
	phiOut := make([]mapset.Set[VarKey], n)
	lv := &Liveness{In: make([]mapset.Set[VarKey], n), Out: make([]mapset.Set[VarKey], n)}
	for i := 0; i < n; i++ {
		gen[i] = mapset.NewThreadUnsafeSet[VarKey]()
		kill[i] = mapset.NewThreadUnsafeSet[VarKey]()
		phiOut[i] = mapset.NewThreadUnsafeSet[VarKey]()
		lv.In[i] = mapset.NewThreadUnsafeSet[VarKey]()
		lv.Out[i] = mapset.NewThreadUnsafeSet[VarKey]()
	}
	for _, b := range c.Blocks {
		for _, s := range b.Stmts {
			if a, ok := s.(*Assign); ok {
				if phi, ok := a.Src.(Phi); ok {
					for k, arg := range phi.Args {
						if k < len(b.Preds) {
							phiOut[b.Preds[k]].Add(arg.Key())
						}
					}
					kill[b.ID].Add(a.Dst.Key())
					continue
				}
			}
			for _, u := range Uses(s) {
				if !kill[b.ID].Contains(u.Key()) {
					gen[b.ID].Add(u.Key())
				}
			}
			if d, ok := Def(s); ok {
				kill[b.ID].Add(d.Key())
			}
		}
	}
	po := c.Postorder()
	for changed := true; changed; {
		changed = false
		for _, b := range po {
			out := phiOut[b].Clone()
			for _, s := range c.Blocks[b].Succs {
				out = out.Union(lv.In[s])
			}
			in := gen[b].Union(out.Difference(kill[b]))
			if !in.Equal(lv.In[b]) || !out.Equal(lv.Out[b]) {
				lv.In[b], lv.Out[b] = in, out
				changed = true
			}
		}
	}
	return lv
}

// LiveIn reports whether v is live on entry to block b.
func (lv *Liveness) LiveIn(b int, v Var) bool { return lv.In[b].Contains(v.Key()) }

// LiveOut reports whether v is live at the end of block b.
func (lv *Liveness) LiveOut(b int, v Var) bool { return lv.Out[b].Contains(v.Key()) }
