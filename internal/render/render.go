// Package render prints structured functions as Rust-like source.
package render

import (
	"fmt"
	"strings"

	"github.com/monolab825/soroban-auditor/internal/ast"
	"github.com/monolab825/soroban-auditor/internal/ir"
	"github.com/monolab825/soroban-auditor/internal/sigs"
	"github.com/monolab825/soroban-auditor/internal/types"
	"github.com/monolab825/soroban-auditor/internal/wasm"
)

// Names resolves the functions a body calls.
type Names interface {
	FuncName(index uint32) string
}

type Options struct {
	Names Names // nil prints func_N
	// Sig supplies source-level parameter names and types. It is ignored
	// when its arity does not match the function.
	Sig *sigs.FunctionInfo
}

type scope struct {
	label int
	loop  bool
}

type printer struct {
	b      strings.Builder
	indent int
	opts   Options
	sig    *sigs.FunctionInfo
	vars   map[ir.VarKey]string
	scopes []scope
	named  map[int]bool // loops some jump has to name
}

// Func renders fn.
func Func(fn *ast.Func, opts Options) string {
	p := &printer{opts: opts, vars: map[ir.VarKey]string{}, named: map[int]bool{}}
	if s := opts.Sig; s != nil && s.Matches(types.Signature{Params: fn.Params, Results: fn.Results}) {
		p.sig = s
	}
	for i, d := range fn.Decls {
		p.vars[d.Var.Key()] = "var_" + letters(i)
	}
	p.scan(fn.Body)

	p.line("%s {", p.header(fn))
	p.indent++
	for _, d := range fn.Decls {
		p.line("let mut %s: %s;", p.vars[d.Var.Key()], d.Type)
	}
	stmts := fn.Body.Stmts
	if n := len(stmts); n > 0 {
		if r, ok := stmts[n-1].(*ast.ReturnStmt); ok && len(r.Values) == 0 {
			stmts = stmts[:n-1]
		}
	}
	p.stmts(stmts)
	p.indent--
	p.line("}")
	return p.b.String()
}

func (p *printer) header(fn *ast.Func) string {
	if p.sig != nil {
		params := []string{"env: Env"}
		for _, a := range p.sig.Params {
			params = append(params, a.Name+": "+a.Type)
		}
		h := fmt.Sprintf("pub fn %s(%s)", p.sig.Name, strings.Join(params, ", "))
		if p.sig.Return != "" {
			h += " -> " + p.sig.Return
		}
		return h
	}
	params := make([]string, len(fn.Params))
	for i, t := range fn.Params {
		params[i] = fmt.Sprintf("%s: %s", p.paramName(uint32(i)), t)
	}
	h := fmt.Sprintf("pub fn %s(%s)", fn.Name, strings.Join(params, ", "))
	switch len(fn.Results) {
	case 0:
	case 1:
		h += " -> " + fn.Results[0].String()
	default:
		rs := make([]string, len(fn.Results))
		for i, t := range fn.Results {
			rs[i] = t.String()
		}
		h += " -> (" + strings.Join(rs, ", ") + ")"
	}
	return h
}

func (p *printer) line(format string, args ...any) {
	p.b.WriteString(strings.Repeat("    ", p.indent))
	fmt.Fprintf(&p.b, format, args...)
	p.b.WriteByte('\n')
}

// letters numbers names a, b, ..., z, aa, ab, ...
func letters(i int) string {
	var buf []byte
	for i++; i > 0; i = (i - 1) / 26 {
		buf = append([]byte{byte('a' + (i-1)%26)}, buf...)
	}
	return string(buf)
}

func (p *printer) varName(v ir.Var) string {
	if n, ok := p.vars[v.Key()]; ok {
		return n
	}
	return v.String()
}

func (p *printer) paramName(i uint32) string {
	if p.sig != nil && int(i) < len(p.sig.Params) {
		return p.sig.Params[i].Name
	}
	return "arg_" + letters(int(i))
}

func globalName(i uint32) string { return "global_" + letters(int(i)) }

func (p *printer) funcName(i uint32) string {
	if p.opts.Names != nil {
		if n := p.opts.Names.FuncName(i); n != "" {
			return n
		}
	}
	return fmt.Sprintf("func_%d", i)
}

// jump spells a break or continue. Jumps to the innermost loop need no
// label; labeled blocks can only be left by name.
func (p *printer) jump(verb string, label int) string {
	innermost := true
	for i := len(p.scopes) - 1; i >= 0; i-- {
		sc := p.scopes[i]
		if sc.label == label {
			switch {
			case !sc.loop:
				return fmt.Sprintf("%s 'b%d", verb, label)
			case innermost:
				return verb
			default:
				p.named[label] = true
				return fmt.Sprintf("%s 'l%d", verb, label)
			}
		}
		if sc.loop {
			innermost = false
		}
	}
	return fmt.Sprintf("%s 'b%d", verb, label)
}

// scan records which loops need a label before anything is printed.
func (p *printer) scan(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.BreakStmt:
		p.jump("break", s.Label)
	case *ast.ContinueStmt:
		p.jump("continue", s.Label)
	case *ast.LoopStmt:
		p.scopes = append(p.scopes, scope{s.Label, true})
		p.scan(s.Body)
		p.scopes = p.scopes[:len(p.scopes)-1]
	case *ast.LabeledBlock:
		p.scopes = append(p.scopes, scope{s.Label, false})
		p.scan(s.Body)
		p.scopes = p.scopes[:len(p.scopes)-1]
	default:
		for _, c := range ast.Children(s) {
			p.scan(c)
		}
	}
}

func (p *printer) stmts(ss []ast.Stmt) {
	for _, s := range ss {
		p.stmt(s)
	}
}

func (p *printer) block(b *ast.BlockStmt) {
	p.indent++
	p.stmts(b.Stmts)
	p.indent--
}

func (p *printer) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.BlockStmt:
		p.line("{")
		p.block(s)
		p.line("}")
	case *ast.LabeledBlock:
		p.scopes = append(p.scopes, scope{s.Label, false})
		p.line("'b%d: {", s.Label)
		p.block(s.Body)
		p.line("}")
		p.scopes = p.scopes[:len(p.scopes)-1]
	case *ast.LoopStmt:
		p.loop(s)
	case *ast.IfStmt:
		p.ifStmt(s, "")
	case *ast.SwitchStmt:
		p.line("match %s {", p.expr(s.Tag, precLowest))
		p.indent++
		for _, c := range s.Cases {
			vals := make([]string, len(c.Values))
			for i, v := range c.Values {
				vals[i] = fmt.Sprint(v)
			}
			p.arm(strings.Join(vals, " | "), c.Body)
		}
		p.arm("_", s.Default)
		p.indent--
		p.line("}")
	case *ast.BreakStmt:
		p.line("%s;", p.jump("break", s.Label))
	case *ast.ContinueStmt:
		p.line("%s;", p.jump("continue", s.Label))
	case *ast.GotoStmt:
		p.line("goto label_%d;", s.Label)
	case *ast.LabelStmt:
		p.indent--
		p.line("label_%d:", s.Label)
		p.indent++
	case *ast.ReturnStmt:
		switch len(s.Values) {
		case 0:
			p.line("return;")
		case 1:
			p.line("return %s;", p.expr(s.Values[0], precLowest))
		default:
			p.line("return (%s);", p.list(s.Values))
		}
	case *ast.TrapStmt:
		p.line("unreachable!();")
	case *ast.AssignStmt:
		p.line("%s = %s;", p.varName(s.Dst), p.expr(s.Value, precLowest))
	case *ast.StoreStmt:
		p.line("%s(%s, %s);", storeName(s.Op), p.address(s.Addr, s.Offset), p.expr(s.Value, precLowest))
	case *ast.GlobalSetStmt:
		p.line("%s = %s;", globalName(s.Index), p.expr(s.Value, precLowest))
	case *ast.ExprStmt:
		p.line("%s;", p.expr(s.X, precLowest))
	case *ast.MemoryOpStmt:
		name := "memory_copy"
		if s.Op == wasm.OpMemoryFill {
			name = "memory_fill"
		}
		p.line("%s(%s);", name, p.list(s.Args[:]))
	default:
		p.line("/* %T */", s)
	}
}

func (p *printer) arm(pattern string, body *ast.BlockStmt) {
	if body == nil || len(body.Stmts) == 0 {
		p.line("%s => {}", pattern)
		return
	}
	p.line("%s => {", pattern)
	p.block(body)
	p.line("}")
}

func (p *printer) loopLabel(label int) string {
	if p.named[label] {
		return fmt.Sprintf("'l%d: ", label)
	}
	return ""
}

func (p *printer) loop(s *ast.LoopStmt) {
	p.scopes = append(p.scopes, scope{s.Label, true})
	defer func() { p.scopes = p.scopes[:len(p.scopes)-1] }()
	switch s.Kind {
	case ast.PreTest:
		p.line("%swhile %s {", p.loopLabel(s.Label), p.expr(s.Cond, precLowest))
		p.block(s.Body)
		p.line("}")
	case ast.PostTest:
		// Rust spells do-while as a while loop whose condition is a block.
		p.line("%swhile {", p.loopLabel(s.Label))
		p.block(s.Body)
		p.indent++
		p.line("%s", p.expr(s.Cond, precLowest))
		p.indent--
		p.line("} {}")
	default:
		p.line("%sloop {", p.loopLabel(s.Label))
		p.block(s.Body)
		p.line("}")
	}
}

// ifStmt prints else-if chains flat. lead is "} else " when s continues a
// chain.
func (p *printer) ifStmt(s *ast.IfStmt, lead string) {
	p.line("%sif %s {", lead, p.expr(s.Cond, precLowest))
	p.block(s.Then)
	if s.Else == nil {
		p.line("}")
		return
	}
	if len(s.Else.Stmts) == 1 {
		if next, ok := s.Else.Stmts[0].(*ast.IfStmt); ok {
			p.ifStmt(next, "} else ")
			return
		}
	}
	p.line("} else {")
	p.block(s.Else)
	p.line("}")
}
