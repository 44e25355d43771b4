package ir

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/pkg/errors"

	"github.com/monolab825/soroban-auditor/internal/types"
	"github.com/monolab825/soroban-auditor/internal/wasm"
)

const (
	PageSize = 65536
	maxPages = 4
)

// ErrOutOfFuel stops a run that visited too many blocks.
var ErrOutOfFuel = errors.New("out of fuel")

// HostFunc answers calls leaving the function. Indirect calls pass the
// table slot as callee.
type HostFunc func(callee uint32, indirect bool, args []uint64) uint64

// DefaultHost returns a deterministic hash of the call.
func DefaultHost(callee uint32, indirect bool, args []uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(callee))
	h.Write(buf[:])
	if indirect {
		h.Write([]byte{1})
	}
	for _, a := range args {
		binary.LittleEndian.PutUint64(buf[:], a)
		h.Write(buf[:])
	}
	return h.Sum64()
}

// Machine interprets statements. It records every observable effect in
// Trace so two runs can be compared.
type Machine struct {
	Host    HostFunc
	Fuel    int
	Globals map[uint32]uint64
	Memory  []byte
	Trace   []string

	vars map[VarKey]uint64
	args []uint64
}

func NewMachine() *Machine {
	return &Machine{
		Host:    DefaultHost,
		Fuel:    10000,
		Globals: map[uint32]uint64{},
		Memory:  make([]byte, PageSize),
		vars:    map[VarKey]uint64{},
	}
}

// Start resets the variables and binds the arguments.
func (m *Machine) Start(args []uint64) {
	m.vars = map[VarKey]uint64{}
	m.args = args
}

func (m *Machine) SetVar(v Var, x uint64) { m.vars[v.Key()] = x }

func (m *Machine) GetVar(v Var) (uint64, error) {
	x, ok := m.vars[v.Key()]
	if !ok {
		return 0, errors.Wrapf(ErrInvariant, "%s read before assignment", v)
	}
	return x, nil
}

// Burn consumes one unit of fuel.
func (m *Machine) Burn() error {
	if m.Fuel <= 0 {
		return ErrOutOfFuel
	}
	m.Fuel--
	return nil
}

// Run executes c from its entry and returns the function results.
func (m *Machine) Run(c *Cfg, args []uint64) ([]uint64, error) {
	m.Start(args)
	b, prev := c.Entry, -1
	for {
		if err := m.Burn(); err != nil {
			return nil, err
		}
		blk := c.Blocks[b]
		phis := blk.Phis()
		if len(phis) > 0 {
			k := blk.PredIndex(prev)
			if k < 0 {
				return nil, errors.Wrapf(ErrInvariant, "b%d entered from non-predecessor b%d", b, prev)
			}
			vals := make([]uint64, len(phis))
			for i, p := range phis {
				x, err := m.GetVar(p.Src.(Phi).Args[k])
				if err != nil {
					return nil, err
				}
				vals[i] = x
			}
			for i, p := range phis {
				m.SetVar(p.Dst, vals[i])
			}
		}
		next := -1
	stmts:
		for _, s := range blk.Stmts[len(phis):] {
			switch t := s.(type) {
			case *Branch:
				next = t.Target
				break stmts
			case *CondBranch:
				cond, err := m.Eval(t.Cond)
				if err != nil {
					return nil, err
				}
				next = t.Else
				if uint32(cond) != 0 {
					next = t.Then
				}
				break stmts
			case *Switch:
				idx, err := m.Eval(t.Index)
				if err != nil {
					return nil, err
				}
				next = t.Default
				if i := uint32(idx); uint64(i) < uint64(len(t.Targets)) {
					next = t.Targets[i]
				}
				break stmts
			case *Return:
				return m.EvalAll(t.Values)
			case *Unreachable:
				return nil, errors.Wrap(ErrTrap, "unreachable")
			default:
				if err := m.Exec(s); err != nil {
					return nil, err
				}
			}
		}
		if next < 0 {
			return nil, errors.Wrapf(ErrInvariant, "b%d has no terminator", b)
		}
		prev, b = b, next
	}
}

// EvalAll evaluates es left to right.
func (m *Machine) EvalAll(es []Expr) ([]uint64, error) {
	out := make([]uint64, len(es))
	for i, e := range es {
		x, err := m.Eval(e)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

// Exec runs a non-terminator statement.
func (m *Machine) Exec(s Stmt) error {
	switch s := s.(type) {
	case *Assign:
		if _, ok := s.Src.(Phi); ok {
			return errors.Wrap(ErrInvariant, "phi outside block head")
		}
		x, err := m.Eval(s.Src)
		if err != nil {
			return err
		}
		m.SetVar(s.Dst, x)
	case *Store:
		vals, err := m.EvalAll([]Expr{s.Addr, s.Value})
		if err != nil {
			return err
		}
		mem, _ := s.Op.Mem()
		ea, err := m.effective(vals[0], s.Offset, mem.Size)
		if err != nil {
			return err
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], vals[1])
		copy(m.Memory[ea:ea+uint64(mem.Size)], buf[:mem.Size])
		m.Trace = append(m.Trace, fmt.Sprintf("%s [%d] %#x", s.Op, ea, mask(mem.Type, vals[1])))
	case *GlobalSet:
		x, err := m.Eval(s.Value)
		if err != nil {
			return err
		}
		m.Globals[s.Index] = x
		m.Trace = append(m.Trace, fmt.Sprintf("global.set %d %#x", s.Index, x))
	case *ExprStmt:
		_, err := m.Eval(s.X)
		return err
	case *MemoryOp:
		vals, err := m.EvalAll(s.Args[:])
		if err != nil {
			return err
		}
		dst, n := uint64(uint32(vals[0])), uint64(uint32(vals[2]))
		if dst+n > uint64(len(m.Memory)) {
			return errors.Wrap(ErrTrap, "out of bounds memory access")
		}
		if s.Op == wasm.OpMemoryCopy {
			src := uint64(uint32(vals[1]))
			if src+n > uint64(len(m.Memory)) {
				return errors.Wrap(ErrTrap, "out of bounds memory access")
			}
			copy(m.Memory[dst:dst+n], m.Memory[src:src+n])
		} else {
			for i := dst; i < dst+n; i++ {
				m.Memory[i] = byte(vals[1])
			}
		}
		m.Trace = append(m.Trace, fmt.Sprintf("%s %d %d %d", s.Op, dst, uint32(vals[1]), n))
	default:
		return errors.Wrapf(ErrInvariant, "cannot execute %T", s)
	}
	return nil
}

func (m *Machine) effective(addr uint64, offset uint32, size int) (uint64, error) {
	ea := uint64(uint32(addr)) + uint64(offset)
	if ea+uint64(size) > uint64(len(m.Memory)) {
		return 0, errors.Wrap(ErrTrap, "out of bounds memory access")
	}
	return ea, nil
}

// Eval evaluates e in the current state.
func (m *Machine) Eval(e Expr) (uint64, error) {
	switch x := e.(type) {
	case Const:
		return mask(x.Type, x.Bits), nil
	case Var:
		return m.GetVar(x)
	case Param:
		if int(x.Index) >= len(m.args) {
			return 0, errors.Wrapf(ErrInvariant, "parameter %d not supplied", x.Index)
		}
		return mask(x.Type, m.args[x.Index]), nil
	case Unary:
		v, err := m.Eval(x.X)
		if err != nil {
			return 0, err
		}
		return EvalUnary(x.Op, v)
	case Binary:
		a, err := m.Eval(x.X)
		if err != nil {
			return 0, err
		}
		b, err := m.Eval(x.Y)
		if err != nil {
			return 0, err
		}
		return EvalBinary(x.Op, a, b)
	case Select:
		vals, err := m.EvalAll([]Expr{x.X, x.Y, x.Cond})
		if err != nil {
			return 0, err
		}
		if uint32(vals[2]) != 0 {
			return vals[0], nil
		}
		return vals[1], nil
	case Load:
		addr, err := m.Eval(x.Addr)
		if err != nil {
			return 0, err
		}
		mem, _ := x.Op.Mem()
		ea, err := m.effective(addr, x.Offset, mem.Size)
		if err != nil {
			return 0, err
		}
		var buf [8]byte
		copy(buf[:], m.Memory[ea:ea+uint64(mem.Size)])
		v := binary.LittleEndian.Uint64(buf[:])
		if mem.Signed {
			shift := 64 - 8*uint(mem.Size)
			v = uint64(int64(v<<shift) >> shift)
		}
		return mask(mem.Type, v), nil
	case GlobalGet:
		return m.Globals[x.Index], nil
	case MemorySize:
		return uint64(len(m.Memory) / PageSize), nil
	case MemoryGrow:
		d, err := m.Eval(x.Delta)
		if err != nil {
			return 0, err
		}
		old := uint64(len(m.Memory) / PageSize)
		r := old
		if old+uint64(uint32(d)) > maxPages {
			r = 0xffffffff
		} else {
			m.Memory = append(m.Memory, make([]byte, int(uint32(d))*PageSize)...)
		}
		m.Trace = append(m.Trace, fmt.Sprintf("memory.grow %d = %d", uint32(d), r))
		return r, nil
	case Call:
		return m.call(x.Func, false, x.Args, x.Result)
	case CallIndirect:
		args, err := m.EvalAll(x.Args)
		if err != nil {
			return 0, err
		}
		callee, err := m.Eval(x.Callee)
		if err != nil {
			return 0, err
		}
		return m.host(uint32(callee), true, args, x.Result), nil
	case Phi:
		return 0, errors.Wrap(ErrInvariant, "phi evaluated as an expression")
	}
	return 0, errors.Wrapf(ErrInvariant, "cannot evaluate %T", e)
}

func (m *Machine) call(fn uint32, indirect bool, argExprs []Expr, result types.ValType) (uint64, error) {
	args, err := m.EvalAll(argExprs)
	if err != nil {
		return 0, err
	}
	return m.host(fn, indirect, args, result), nil
}

func (m *Machine) host(fn uint32, indirect bool, args []uint64, result types.ValType) uint64 {
	r := mask(result, m.Host(fn, indirect, args))
	if result == types.Void {
		r = 0
	}
	m.Trace = append(m.Trace, fmt.Sprintf("call %d %v %v = %#x", fn, indirect, args, r))
	return r
}
