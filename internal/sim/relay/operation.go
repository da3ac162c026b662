package relay

import (
	"fmt"
	"math"
	"math/bits"
)

// Item is a single worry level travelling between agents.
type Item struct {
	WorryLevel uint64 `json:"worry_level"`
}

type OperandKind uint8

const (
	OperandSelf OperandKind = iota
	OperandLiteral
)

// Operand is either the item's current value or a fixed literal.
type Operand struct {
	Kind  OperandKind
	Value uint64
}

func Self() Operand             { return Operand{Kind: OperandSelf} }
func Literal(n uint64) Operand { return Operand{Kind: OperandLiteral, Value: n} }

func (o Operand) resolve(old uint64) uint64 {
	if o.Kind == OperandSelf {
		return old
	}
	return o.Value
}

func (o Operand) String() string {
	if o.Kind == OperandSelf {
		return "old"
	}
	return fmt.Sprintf("%d", o.Value)
}

type OpKind uint8

const (
	OpAdd OpKind = iota + 1
	OpMultiply
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "+"
	case OpMultiply:
		return "*"
	default:
		return "?"
	}
}

// Operation is the arithmetic an agent applies to every item it inspects.
type Operation struct {
	Kind OpKind
	A    Operand
	B    Operand
}

func Add(a, b Operand) Operation      { return Operation{Kind: OpAdd, A: a, B: b} }
func Multiply(a, b Operand) Operation { return Operation{Kind: OpMultiply, A: a, B: b} }

// Evaluate resolves both operands against old and combines them.
// Results saturate at math.MaxUint64 instead of wrapping.
func (op Operation) Evaluate(old uint64) uint64 {
	a, b := op.A.resolve(old), op.B.resolve(old)
	switch op.Kind {
	case OpAdd:
		sum, carry := bits.Add64(a, b, 0)
		if carry != 0 {
			return math.MaxUint64
		}
		return sum
	case OpMultiply:
		return saturatingMul(a, b)
	default:
		return old
	}
}

func (op Operation) String() string {
	return fmt.Sprintf("%s %s %s", op.A, op.Kind, op.B)
}

func (op Operation) valid() bool {
	return op.Kind == OpAdd || op.Kind == OpMultiply
}

func saturatingMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}
