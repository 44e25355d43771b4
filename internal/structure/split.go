package structure

import "github.com/monolab825/soroban-auditor/internal/ir"

// splitIrreducible duplicates the target of an irreducible edge and sends
// the edge to the copy, until the graph is reducible or budget blocks were
// added. It returns the number of blocks added.
func splitIrreducible(c *ir.Cfg, budget int) int {
	n := 0
	for n < budget {
		li := ir.FindLoops(c, ir.Dominators(c))
		if li.Reducible() {
			break
		}
		e := li.Irreducible[0]
		dup := c.NewBlock()
		for _, s := range c.Blocks[e.To].Stmts {
			c.Blocks[dup].Stmts = append(c.Blocks[dup].Stmts, ir.CloneStmt(s))
		}
		ir.RetargetStmt(c.Blocks[e.From].Terminator(), e.To, dup)
		c.Prune()
		n++
	}
	return n
}
