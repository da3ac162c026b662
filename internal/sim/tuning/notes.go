package tuning

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseNotes reads agent records in the puzzle notes layout:
//
//	Monkey 0:
//	  Starting items: 79, 98
//	  Operation: new = old * 19
//	  Test: divisible by 23
//	    If true: throw to monkey 2
//	    If false: throw to monkey 3
//
// Records are separated by blank lines and must be numbered 0, 1, 2, ...
func ParseNotes(r io.Reader) ([]AgentConfig, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		out    []AgentConfig
		cur    *AgentConfig
		seen   noteFields
		lineNo int
	)
	flush := func() error {
		if cur == nil {
			return nil
		}
		if missing := seen.missing(); missing != "" {
			return fmt.Errorf("agent %d: missing %q", len(out), missing)
		}
		out = append(out, *cur)
		cur = nil
		seen = noteFields{}
		return nil
	}

	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: expected \"key: value\", got %q", lineNo, line)
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)

		if idx, isHeader := headerIndex(key); isHeader {
			if err := flush(); err != nil {
				return nil, err
			}
			if idx != len(out) {
				return nil, fmt.Errorf("line %d: agent %d out of order, want %d", lineNo, idx, len(out))
			}
			cur = &AgentConfig{}
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("line %d: %q outside an agent block", lineNo, key)
		}

		var err error
		switch strings.ToLower(key) {
		case "starting items":
			cur.Items, err = parseItemList(val)
			seen.items = true
		case "operation":
			expr, found := strings.CutPrefix(val, "new =")
			if !found {
				err = fmt.Errorf("operation must start with \"new =\"")
				break
			}
			cur.Operation = strings.Join(strings.Fields(expr), " ")
			_, err = ParseOperation(cur.Operation)
			seen.operation = true
		case "test":
			cur.TestDivisor, err = parseTrailingUint(val, "divisible by")
			seen.test = true
		case "if true":
			cur.IfTrue, err = parseTarget(val)
			seen.ifTrue = true
		case "if false":
			cur.IfFalse, err = parseTarget(val)
			seen.ifFalse = true
		default:
			err = fmt.Errorf("unknown key %q", key)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no agent records found")
	}
	return out, nil
}

type noteFields struct {
	items, operation, test, ifTrue, ifFalse bool
}

func (f noteFields) missing() string {
	switch {
	case !f.items:
		return "Starting items"
	case !f.operation:
		return "Operation"
	case !f.test:
		return "Test"
	case !f.ifTrue:
		return "If true"
	case !f.ifFalse:
		return "If false"
	}
	return ""
}

func headerIndex(key string) (int, bool) {
	for _, prefix := range []string{"Monkey ", "Agent "} {
		if rest, ok := strings.CutPrefix(key, prefix); ok {
			n, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				return 0, false
			}
			return n, true
		}
	}
	return 0, false
}

func parseItemList(val string) ([]uint64, error) {
	if val == "" {
		return []uint64{}, nil
	}
	parts := strings.Split(val, ",")
	out := make([]uint64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad item %q", strings.TrimSpace(p))
		}
		out = append(out, n)
	}
	return out, nil
}

func parseTrailingUint(val, prefix string) (uint64, error) {
	rest, ok := strings.CutPrefix(val, prefix)
	if !ok {
		return 0, fmt.Errorf("expected %q, got %q", prefix, val)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number in %q", val)
	}
	return n, nil
}

func parseTarget(val string) (int, error) {
	for _, prefix := range []string{"throw to monkey", "throw to agent"} {
		if _, ok := strings.CutPrefix(val, prefix); ok {
			n, err := parseTrailingUint(val, prefix)
			if err != nil {
				return 0, err
			}
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("expected \"throw to monkey N\", got %q", val)
}
