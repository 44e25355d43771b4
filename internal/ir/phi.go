package ir

import "github.com/pkg/errors"

// TransformOutOfSSA replaces every phi with copies on the incoming edges.
// Copies go at the end of the predecessor when it falls straight into the
// phi block, otherwise on a new block splitting the edge. Each SSA version
// stays a distinct variable afterwards.
func TransformOutOfSSA(c *Cfg) error {
	if !c.SSA {
		return errors.Wrap(ErrInvariant, "graph is not in SSA form")
	}
	n := len(c.Blocks)
	for i := 0; i < n; i++ {
		b := c.Blocks[i]
		phis := b.Phis()
		if len(phis) == 0 {
			continue
		}
		for k := range b.Preds {
			copies := make([]parallelCopy, 0, len(phis))
			for _, p := range phis {
				copies = append(copies, parallelCopy{dst: p.Dst, src: p.Src.(Phi).Args[k]})
			}
			at := b.Preds[k]
			if needsSplit(c.Blocks[at]) {
				at = splitEdge(c, at, b.ID, k)
			}
			pred := c.Blocks[at]
			seq := sequentialize(c, copies)
			body := pred.Stmts[:len(pred.Stmts)-1:len(pred.Stmts)-1]
			pred.Stmts = append(append(body, seq...), pred.Terminator())
		}
		b.Stmts = b.Stmts[len(phis):]
	}
	c.SSA = false
	return nil
}

// needsSplit reports whether copies for one successor of p cannot simply
// be appended to p: it has several successors, or its terminator reads
// values the copies might overwrite.
func needsSplit(p *BasicBlock) bool {
	if len(p.Succs) > 1 {
		return true
	}
	_, ok := p.Terminator().(*Branch)
	return !ok
}

// splitEdge inserts a block on the edge pred->succ, where pred is
// succ.Preds[k], and returns it. Phi operand order is preserved.
func splitEdge(c *Cfg, pred, succ, k int) int {
	nb := c.newBlock()
	nb.Stmts = []Stmt{&Branch{Target: succ}}
	nb.Preds = []int{pred}
	nb.Succs = []int{succ}
	p := c.Blocks[pred]
	RetargetStmt(p.Terminator(), succ, nb.ID)
	for i, s := range p.Succs {
		if s == succ {
			p.Succs[i] = nb.ID
		}
	}
	c.Blocks[succ].Preds[k] = nb.ID
	return nb.ID
}

type parallelCopy struct {
	dst, src Var
}

// sequentialize orders a set of simultaneous copies. A copy is emitted once
// no other pending copy still reads its destination; a cycle is broken by
// saving one destination in a fresh temporary.
func sequentialize(c *Cfg, copies []parallelCopy) []Stmt {
	var pending []parallelCopy
	for _, p := range copies {
		if !sameVar(p.dst, p.src) {
			pending = append(pending, p)
		}
	}
	var out []Stmt
	for len(pending) > 0 {
		ready := -1
		for i, p := range pending {
			if !readByOthers(pending, i, p.dst) {
				ready = i
				break
			}
		}
		if ready >= 0 {
			p := pending[ready]
			out = append(out, &Assign{Dst: p.dst, Src: p.src})
			pending = append(pending[:ready], pending[ready+1:]...)
			continue
		}
		d := pending[0].dst
		tmp := c.NewVar()
		out = append(out, &Assign{Dst: tmp, Src: d})
		for i := range pending {
			if sameVar(pending[i].src, d) {
				pending[i].src = tmp
			}
		}
	}
	return out
}

func readByOthers(pending []parallelCopy, self int, v Var) bool {
	for i, p := range pending {
		if i != self && sameVar(p.src, v) {
			return true
		}
	}
	return false
}
