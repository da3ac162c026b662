package tuning

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoNotes = `Monkey 0:
  Starting items: 1, 2
  Operation: new = old * old
  Test: divisible by 5
    If true: throw to monkey 1
    If false: throw to monkey 0

Monkey 1:
  Starting items:
  Operation: new = old + 7
  Test: divisible by 3
    If true: throw to monkey 0
    If false: throw to monkey 1
`

func TestParseNotes(t *testing.T) {
	agents, err := ParseNotes(strings.NewReader(twoNotes))
	require.NoError(t, err)
	require.Len(t, agents, 2)

	assert.Equal(t, AgentConfig{Items: []uint64{1, 2}, Operation: "old * old", TestDivisor: 5, IfTrue: 1, IfFalse: 0}, agents[0])
	assert.Equal(t, AgentConfig{Items: []uint64{}, Operation: "old + 7", TestDivisor: 3, IfTrue: 0, IfFalse: 1}, agents[1])
}

func TestParseNotes_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"out of order":   strings.Replace(twoNotes, "Monkey 1:", "Monkey 2:", 1),
		"missing test":   strings.Replace(twoNotes, "  Test: divisible by 5\n", "", 1),
		"bad item":       strings.Replace(twoNotes, "1, 2", "1, x", 1),
		"bad operation":  strings.Replace(twoNotes, "new = old * old", "old * old", 1),
		"unknown key":    strings.Replace(twoNotes, "Test:", "Check:", 1),
		"orphan line":    "Operation: new = old + 1\n",
		"no colon":       "Monkey 0:\n  hello\n",
		"bad throw line": strings.Replace(twoNotes, "throw to monkey 1", "drop it", 1),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseNotes(strings.NewReader(in))
			assert.Error(t, err)
		})
	}
}
