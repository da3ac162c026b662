package tuning

import (
	"fmt"
	"strconv"
	"strings"

	"worryrelay/internal/sim/relay"
)

// ParseOperation reads "<operand> <op> <operand>" where an operand is "old"
// or a non-negative integer and op is "+" or "*".
func ParseOperation(s string) (relay.Operation, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return relay.Operation{}, fmt.Errorf("operation %q: want \"<a> <op> <b>\"", s)
	}
	a, err := parseOperand(fields[0])
	if err != nil {
		return relay.Operation{}, fmt.Errorf("operation %q: %w", s, err)
	}
	b, err := parseOperand(fields[2])
	if err != nil {
		return relay.Operation{}, fmt.Errorf("operation %q: %w", s, err)
	}
	switch fields[1] {
	case "+":
		return relay.Add(a, b), nil
	case "*":
		return relay.Multiply(a, b), nil
	default:
		return relay.Operation{}, fmt.Errorf("operation %q: unsupported operator %q", s, fields[1])
	}
}

func parseOperand(tok string) (relay.Operand, error) {
	if tok == "old" {
		return relay.Self(), nil
	}
	n, err := strconv.ParseUint(tok, 10, 64)
	if err != nil {
		return relay.Operand{}, fmt.Errorf("bad operand %q", tok)
	}
	return relay.Literal(n), nil
}
