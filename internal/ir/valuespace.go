package ir

import (
	"github.com/pkg/errors"

	"github.com/monolab825/soroban-auditor/internal/types"
	"github.com/monolab825/soroban-auditor/internal/wasm"
)

// ValueSpace maps operand-stack heights to registers while the builder
// walks a function body. The value at height h always lives in the same
// register, so stack shapes agree at every block boundary.
type ValueSpace struct {
	base  uint32
	stack []types.ValType
	max   int
}

func newValueSpace(base uint32) *ValueSpace { return &ValueSpace{base: base} }

func (vs *ValueSpace) Height() int { return len(vs.stack) }

// Slot returns the register for stack height h.
func (vs *ValueSpace) Slot(h int) Var { return NoSub(vs.base + uint32(h)) }

// Registers is the number of distinct registers handed out so far.
func (vs *ValueSpace) Registers() int { return vs.max }

func (vs *ValueSpace) Push(t types.ValType) Var {
	v := vs.Slot(len(vs.stack))
	vs.stack = append(vs.stack, t)
	if len(vs.stack) > vs.max {
		vs.max = len(vs.stack)
	}
	return v
}

func (vs *ValueSpace) Pop() (Var, error) {
	if len(vs.stack) == 0 {
		return Var{}, errors.Wrap(wasm.ErrMalformed, "operand stack underflow")
	}
	vs.stack = vs.stack[:len(vs.stack)-1]
	return vs.Slot(len(vs.stack)), nil
}

// PopN pops n values and returns them bottom first.
func (vs *ValueSpace) PopN(n int) ([]Var, error) {
	if n > len(vs.stack) {
		return nil, errors.Wrapf(wasm.ErrMalformed, "need %d operands, have %d", n, len(vs.stack))
	}
	h := len(vs.stack) - n
	out := make([]Var, n)
	for i := range out {
		out[i] = vs.Slot(h + i)
	}
	vs.stack = vs.stack[:h]
	return out, nil
}

// Top returns the registers of the n topmost values, bottom first.
func (vs *ValueSpace) Top(n int) ([]Var, error) {
	if n > len(vs.stack) {
		return nil, errors.Wrapf(wasm.ErrMalformed, "need %d operands, have %d", n, len(vs.stack))
	}
	h := len(vs.stack) - n
	out := make([]Var, n)
	for i := range out {
		out[i] = vs.Slot(h + i)
	}
	return out, nil
}

// TypeFromTop returns the type of the value n positions below the top.
func (vs *ValueSpace) TypeFromTop(n int) types.ValType {
	if n >= len(vs.stack) {
		return types.Void
	}
	return vs.stack[len(vs.stack)-1-n]
}

// Reset cuts the stack to height h and pushes ts.
func (vs *ValueSpace) Reset(h int, ts []types.ValType) {
	vs.stack = vs.stack[:h]
	for _, t := range ts {
		vs.Push(t)
	}
}
