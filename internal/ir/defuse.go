package ir

import (
	"sort"

	"github.com/pkg/errors"
)

// Site locates a statement in the graph.
type Site struct {
	Block int
	Stmt  Stmt
}

// DefUseMap records, for each SSA variable, its unique definition and every
// read of it. A statement reading a variable twice is listed twice.
type DefUseMap struct {
	defs map[VarKey]Site
	uses map[VarKey][]Site
}

// NewDefUseMap indexes c, which must be in SSA form.
func NewDefUseMap(c *Cfg) (*DefUseMap, error) {
	du := &DefUseMap{defs: map[VarKey]Site{}, uses: map[VarKey][]Site{}}
	for _, b := range c.Blocks {
		for _, s := range b.Stmts {
			if d, ok := Def(s); ok {
				if prev, dup := du.defs[d.Key()]; dup {
					return nil, errors.Wrapf(ErrInvariant, "%s assigned in b%d and b%d", d, prev.Block, b.ID)
				}
				du.defs[d.Key()] = Site{b.ID, s}
			}
			du.addUses(b.ID, s)
		}
	}
	return du, nil
}

// Def returns the statement defining v.
func (du *DefUseMap) Def(v Var) (Site, bool) {
	s, ok := du.defs[v.Key()]
	return s, ok
}

// Uses returns the statements reading v.
func (du *DefUseMap) Uses(v Var) []Site { return du.uses[v.Key()] }

func (du *DefUseMap) NumUses(v Var) int { return len(du.uses[v.Key()]) }

// Vars returns every defined variable in a stable order.
func (du *DefUseMap) Vars() []VarKey {
	out := make([]VarKey, 0, len(du.defs))
	for k := range du.defs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].Subscript < out[j].Subscript
	})
	return out
}

func (du *DefUseMap) addUses(block int, s Stmt) {
	for _, u := range Uses(s) {
		du.uses[u.Key()] = append(du.uses[u.Key()], Site{block, s})
	}
}

func (du *DefUseMap) removeUses(s Stmt) {
	for _, u := range Uses(s) {
		list := du.uses[u.Key()]
		for i, site := range list {
			if site.Stmt == s {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(du.uses, u.Key())
		} else {
			du.uses[u.Key()] = list
		}
	}
}

// rewrite applies f to the operands of the statement at site and keeps the
// map current.
func (du *DefUseMap) rewrite(site Site, f func(Expr) Expr) {
	du.removeUses(site.Stmt)
	MapStmtExprs(site.Stmt, f)
	du.addUses(site.Block, site.Stmt)
}

// remove deletes the statement at site from its block.
func (du *DefUseMap) remove(c *Cfg, site Site) {
	du.removeUses(site.Stmt)
	if d, ok := Def(site.Stmt); ok {
		delete(du.defs, d.Key())
	}
	b := c.Blocks[site.Block]
	for i, s := range b.Stmts {
		if s == site.Stmt {
			b.Stmts = append(b.Stmts[:i], b.Stmts[i+1:]...)
			return
		}
	}
}

// replace swaps the statement at site for s.
func (du *DefUseMap) replace(c *Cfg, site Site, s Stmt) {
	du.removeUses(site.Stmt)
	if d, ok := Def(site.Stmt); ok {
		delete(du.defs, d.Key())
	}
	b := c.Blocks[site.Block]
	for i, x := range b.Stmts {
		if x == site.Stmt {
			b.Stmts[i] = s
			break
		}
	}
	if d, ok := Def(s); ok {
		du.defs[d.Key()] = Site{site.Block, s}
	}
	du.addUses(site.Block, s)
}
