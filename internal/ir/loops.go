package ir

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

type Edge struct{ From, To int }

// Loop is a natural loop: the header plus every block that reaches one of
// its back edges without passing the header.
type Loop struct {
	Header  int
	Body    mapset.Set[int]
	Latches []int // sources of the back edges
	Parent  *Loop
	Depth   int // 1 for outermost loops
}

// Exits returns the edges leaving the loop, ordered by source and target.
func (l *Loop) Exits(c *Cfg) []Edge {
	var out []Edge
	for _, b := range sortedSet(l.Body) {
		for _, s := range c.Blocks[b].Succs {
			if !l.Body.Contains(s) {
				out = append(out, Edge{b, s})
			}
		}
	}
	return out
}

// LoopInfo describes the loop nest of a Cfg.
type LoopInfo struct {
	Loops     []*Loop // ordered by header reverse postorder
	ByHeader  map[int]*Loop
	Innermost []*Loop // innermost loop containing each block, nil outside loops
	BackEdges []Edge
	// Irreducible lists the retreating edges whose target does not dominate
	// their source. Each one enters a cycle that has several entries.
	Irreducible []Edge
}

// FindLoops classifies back edges and builds the natural loops.
func FindLoops(c *Cfg, dom *DomTree) *LoopInfo {
	li := &LoopInfo{ByHeader: map[int]*Loop{}, Innermost: make([]*Loop, len(c.Blocks))}
	for _, e := range retreatingEdges(c) {
		if dom.Dominates(e.To, e.From) {
			li.BackEdges = append(li.BackEdges, e)
		} else {
			li.Irreducible = append(li.Irreducible, e)
		}
	}
	for _, e := range li.BackEdges {
		l, ok := li.ByHeader[e.To]
		if !ok {
			l = &Loop{Header: e.To, Body: mapset.NewThreadUnsafeSet(e.To)}
			li.ByHeader[e.To] = l
			li.Loops = append(li.Loops, l)
		}
		l.Latches = append(l.Latches, e.From)
		work := []int{e.From}
		for len(work) > 0 {
			b := work[len(work)-1]
			work = work[:len(work)-1]
			if !l.Body.Add(b) {
				continue
			}
			for _, p := range c.Blocks[b].Preds {
				if dom.Reachable(p) && !l.Body.Contains(p) {
					work = append(work, p)
				}
			}
		}
	}
	sort.Slice(li.Loops, func(i, j int) bool {
		return dom.RPONum(li.Loops[i].Header) < dom.RPONum(li.Loops[j].Header)
	})
	// Parents are the smallest strictly enclosing loops.
	for _, l := range li.Loops {
		for _, o := range li.Loops {
			if o == l || !o.Body.Contains(l.Header) || o.Body.Cardinality() <= l.Body.Cardinality() {
				continue
			}
			if l.Parent == nil || o.Body.Cardinality() < l.Parent.Body.Cardinality() {
				l.Parent = o
			}
		}
	}
	for _, l := range li.Loops {
		for p := l; p != nil; p = p.Parent {
			l.Depth++
		}
		l.Body.Each(func(b int) bool {
			if in := li.Innermost[b]; in == nil || in.Body.Cardinality() > l.Body.Cardinality() {
				li.Innermost[b] = l
			}
			return false
		})
	}
	return li
}

// Reducible reports whether every cycle has a single entry.
func (li *LoopInfo) Reducible() bool { return len(li.Irreducible) == 0 }

func (li *LoopInfo) IsHeader(b int) bool {
	_, ok := li.ByHeader[b]
	return ok
}

// retreatingEdges returns the edges to a block that is still on the
// depth-first search stack.
func retreatingEdges(c *Cfg) []Edge {
	const (
		white = iota
		grey
		black
	)
	color := make([]int, len(c.Blocks))
	var out []Edge
	type item struct{ b, next int }
	stack := []item{{c.Entry, 0}}
	color[c.Entry] = grey
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := c.Blocks[top.b].Succs
		if top.next < len(succs) {
			s := succs[top.next]
			top.next++
			switch color[s] {
			case white:
				color[s] = grey
				stack = append(stack, item{s, 0})
			case grey:
				out = append(out, Edge{top.b, s})
			}
			continue
		}
		color[top.b] = black
		stack = stack[:len(stack)-1]
	}
	return out
}

func sortedSet(s mapset.Set[int]) []int {
	out := s.ToSlice()
	sort.Ints(out)
	return out
}
