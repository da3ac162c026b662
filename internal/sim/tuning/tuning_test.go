package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worryrelay/internal/sim/relay"
)

const sampleYAML = `
rounds: 20
relief:
  mode: divide
  denominator: 3
agents:
  - items: [79, 98]
    operation: "old * 19"
    test_divisor: 23
    if_true: 2
    if_false: 3
  - items: [54, 65, 75, 74]
    operation: "old + 6"
    test_divisor: 19
    if_true: 2
    if_false: 0
  - items: [79, 60, 97]
    operation: "old * old"
    test_divisor: 13
    if_true: 1
    if_false: 3
  - items: [74]
    operation: "old  +   3"
    test_divisor: 17
    if_true: 0
    if_false: 1
`

func TestParse_SampleRunsToKnownScore(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, uint64(20), cfg.Rounds)
	assert.Equal(t, "old + 3", cfg.Agents[3].Operation)

	sim, err := cfg.NewSimulation()
	require.NoError(t, err)
	sim.Run(cfg.Rounds)

	score, err := sim.BusinessScore()
	require.NoError(t, err)
	assert.Equal(t, uint64(10605), score)
}

func TestParse_PresetOverridesRelief(t *testing.T) {
	cfg, err := Parse([]byte("preset: anxious\n" + sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, uint64(10000), cfg.Rounds)
	assert.Equal(t, ReliefModeModuloProduct, cfg.Relief.Mode)

	_, relief, err := cfg.Build()
	require.NoError(t, err)
	assert.Equal(t, relay.ReliefModuloProduct, relief.Mode)
}

func TestParse_SchemaRejectsStructuralMistakes(t *testing.T) {
	cases := map[string]string{
		"unknown field":   "agents:\n  - operation: old + 1\n    test_divisor: 2\n    if_true: 0\n    if_false: 0\n    colour: red\n",
		"bad operator":    "agents:\n  - operation: old - 1\n    test_divisor: 2\n    if_true: 0\n    if_false: 0\n",
		"negative item":   "agents:\n  - items: [-4]\n    operation: old + 1\n    test_divisor: 2\n    if_true: 0\n    if_false: 0\n",
		"zero divisor":    "agents:\n  - operation: old + 1\n    test_divisor: 0\n    if_true: 0\n    if_false: 0\n",
		"no agents":       "rounds: 3\n",
		"unknown relief":  "relief:\n  mode: sleep\nagents:\n  - operation: old + 1\n    test_divisor: 2\n    if_true: 0\n    if_false: 0\n",
		"unknown preset":  "preset: calm\nagents:\n  - operation: old + 1\n    test_divisor: 2\n    if_true: 0\n    if_false: 0\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "schema")
		})
	}
}

func TestValidate_TargetOutOfRange(t *testing.T) {
	_, err := Parse([]byte("agents:\n  - operation: old + 1\n    test_divisor: 2\n    if_true: 1\n    if_false: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "if_true 1 out of range")
}

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation("old * old")
	require.NoError(t, err)
	assert.Equal(t, relay.Multiply(relay.Self(), relay.Self()), op)

	op, err = ParseOperation("4 + old")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), op.Evaluate(5))

	for _, bad := range []string{"", "old *", "old / 2", "old * x", "old * -1"} {
		_, err := ParseOperation(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadFile_NotesAndYAMLAgree(t *testing.T) {
	notes, err := LoadFile(filepath.Join("..", "..", "..", "configs", "sample_notes.txt"))
	require.NoError(t, err)
	yml, err := LoadFile(filepath.Join("..", "..", "..", "configs", "relay.yaml"))
	require.NoError(t, err)
	assert.Equal(t, yml.Agents, notes.Agents)
	assert.Equal(t, Defaults().Relief, notes.Relief)
}

func TestLoad_ErrorCarriesFileName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents: []\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "broken.yaml: "), err.Error())
}

func TestApplyPreset(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.ApplyPreset("Boredom"))
	assert.Equal(t, PresetBoredom, cfg.Preset)
	assert.Equal(t, uint64(3), cfg.Relief.Denominator)
	assert.Error(t, cfg.ApplyPreset("panic"))
}
