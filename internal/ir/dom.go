package ir

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// DomTree is an immutable snapshot of the dominator relation of a Cfg. It
// must be recomputed whenever the edge set changes.
type DomTree struct {
	Idom     []int   // immediate dominator, -1 for the entry
	Children [][]int // dominator tree, children in block order
	RPO      []int   // reverse postorder of the reachable blocks
	rpoNum   []int   // position in RPO, -1 when unreachable
	pre      []int   // dominator tree preorder number
	post     []int   // dominator tree postorder number
	entry    int
}

// Dominators computes immediate dominators with the iterative algorithm of
// Cooper, Harvey and Kennedy.
func Dominators(c *Cfg) *DomTree {
	n := len(c.Blocks)
	d := &DomTree{
		Idom:     make([]int, n),
		Children: make([][]int, n),
		RPO:      c.ReversePostorder(),
		rpoNum:   make([]int, n),
		pre:      make([]int, n),
		post:     make([]int, n),
		entry:    c.Entry,
	}
	for i := range d.Idom {
		d.Idom[i] = -1
		d.rpoNum[i] = -1
	}
	for i, b := range d.RPO {
		d.rpoNum[b] = i
	}
	d.Idom[c.Entry] = c.Entry
	for changed := true; changed; {
		changed = false
		for _, b := range d.RPO[1:] {
			nd := -1
			for _, p := range c.Blocks[b].Preds {
				if d.rpoNum[p] < 0 || d.Idom[p] < 0 {
					continue
				}
				if nd < 0 {
					nd = p
				} else {
					nd = d.intersect(p, nd)
				}
			}
			if nd != d.Idom[b] {
				d.Idom[b] = nd
				changed = true
			}
		}
	}
	d.Idom[c.Entry] = -1
	for _, b := range d.RPO {
		if p := d.Idom[b]; p >= 0 {
			d.Children[p] = append(d.Children[p], b)
		}
	}
	for _, ch := range d.Children {
		sort.Ints(ch)
	}
	d.number()
	return d
}

func (d *DomTree) intersect(a, b int) int {
	for a != b {
		for d.rpoNum[a] > d.rpoNum[b] {
			a = d.Idom[a]
		}
		for d.rpoNum[b] > d.rpoNum[a] {
			b = d.Idom[b]
		}
	}
	return a
}

// number assigns pre/post numbers on the dominator tree so dominance
// queries are constant time.
func (d *DomTree) number() {
	for i := range d.pre {
		d.pre[i], d.post[i] = -1, -1
	}
	type item struct{ b, next int }
	stack := []item{{d.entry, 0}}
	clock := 0
	d.pre[d.entry] = clock
	clock++
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(d.Children[top.b]) {
			ch := d.Children[top.b][top.next]
			top.next++
			d.pre[ch] = clock
			clock++
			stack = append(stack, item{ch, 0})
			continue
		}
		d.post[top.b] = clock
		clock++
		stack = stack[:len(stack)-1]
	}
}

// Reachable reports whether b is reachable from the entry.
func (d *DomTree) Reachable(b int) bool { return d.rpoNum[b] >= 0 }

// Dominates reports whether every path from the entry to b passes a.
func (d *DomTree) Dominates(a, b int) bool {
	if !d.Reachable(a) || !d.Reachable(b) {
		return false
	}
	return d.pre[a] <= d.pre[b] && d.post[b] <= d.post[a]
}

func (d *DomTree) StrictlyDominates(a, b int) bool { return a != b && d.Dominates(a, b) }

// RPONum returns the position of b in reverse postorder, -1 when b is
// unreachable.
func (d *DomTree) RPONum(b int) int { return d.rpoNum[b] }

// Frontiers computes the dominance frontier of every block.
func (d *DomTree) Frontiers(c *Cfg) []mapset.Set[int] {
	df := make([]mapset.Set[int], len(c.Blocks))
	for i := range df {
		df[i] = mapset.NewThreadUnsafeSet[int]()
	}
	for _, b := range d.RPO {
		preds := c.Blocks[b].Preds
		if len(preds) < 2 {
			continue
		}
		for _, p := range preds {
			if !d.Reachable(p) {
				continue
			}
			for runner := p; runner != d.Idom[b] && runner >= 0; runner = d.Idom[runner] {
				df[runner].Add(b)
			}
		}
	}
	return df
}

// IteratedFrontier returns the closure of the dominance frontier of blocks.
func IteratedFrontier(df []mapset.Set[int], blocks mapset.Set[int]) mapset.Set[int] {
	out := mapset.NewThreadUnsafeSet[int]()
	work := blocks.ToSlice()
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		df[b].Each(func(y int) bool {
			if out.Add(y) {
				work = append(work, y)
			}
			return false
		})
	}
	return out
}
