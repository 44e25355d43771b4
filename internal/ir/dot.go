package ir

import (
	"fmt"
	"strings"
)

// Dot returns a Graphviz rendering of c. Conditional edges are labelled
// with the branch they take and switch edges with their case index.
func (c *Cfg) Dot() string {
	const maxStmtShown = 24
	var sb strings.Builder
	fmt.Fprintf(&sb, "digraph %q {\n", c.Name)
	sb.WriteString("  node [shape=box, fontname=\"Courier\"];\n")
	for _, b := range c.Blocks {
		var label strings.Builder
		fmt.Fprintf(&label, "b%d\\l", b.ID)
		for i, s := range b.Stmts {
			if i == maxStmtShown {
				label.WriteString("...\\l")
				break
			}
			label.WriteString(dotEscape(FormatStmt(s)))
			label.WriteString("\\l")
		}
		attrs := ""
		if b.ID == c.Entry {
			attrs = ", style=bold"
		}
		fmt.Fprintf(&sb, "  b%d [label=\"%s\"%s];\n", b.ID, label.String(), attrs)
	}
	for _, b := range c.Blocks {
		switch t := b.Terminator().(type) {
		case *Branch:
			fmt.Fprintf(&sb, "  b%d -> b%d;\n", b.ID, t.Target)
		case *CondBranch:
			fmt.Fprintf(&sb, "  b%d -> b%d [label=\"T\"];\n", b.ID, t.Then)
			fmt.Fprintf(&sb, "  b%d -> b%d [label=\"F\"];\n", b.ID, t.Else)
		case *Switch:
			for i, target := range t.Targets {
				fmt.Fprintf(&sb, "  b%d -> b%d [label=\"%d\"];\n", b.ID, target, i)
			}
			fmt.Fprintf(&sb, "  b%d -> b%d [label=\"default\"];\n", b.ID, t.Default)
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

func dotEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "<", "\\<", ">", "\\>", "{", "\\{", "}", "\\}", "|", "\\|")
	return r.Replace(s)
}
