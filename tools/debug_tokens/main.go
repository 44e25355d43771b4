// Command debug_tokens prints the tokens the pattern matcher sees in a
// rendered function.
package main

import (
	"fmt"
	"os"

	lx "github.com/monolab825/soroban-auditor/internal/lexer"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: debug_tokens <file>")
		os.Exit(2)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	l := lx.New(string(data))
	for {
		t := l.Next()
		fmt.Printf("%s %q (%s) at %d:%d [%d,%d)\n", t.Type, t.Lex, t.Norm(), t.Line, t.Col, t.Pos, t.End)
		if t.Type == lx.EOF {
			break
		}
	}
}
