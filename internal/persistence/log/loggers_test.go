package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worryrelay/internal/sim/runner"
)

func TestRoundLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewRoundLogger(dir)

	require.NoError(t, l.BeginRun(runner.RunInfo{RunID: "r1", Agents: 2, Relief: "divide(3)"}))
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, l.WriteRound(runner.RoundLogEntry{
			RunID:       "r1",
			Round:       i,
			Inspections: []uint64{i, 2 * i},
			Delta:       []uint64{1, 2},
			QueueLens:   []int{1, 0},
			Digest:      "d",
		}))
	}
	require.NoError(t, l.FinishRun(runner.Summary{RunID: "r1", Rounds: 3, Score: 18}))
	require.NoError(t, l.Close())

	files, err := ListRoundFiles(filepath.Join(dir, "rounds"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	var got []uint64
	require.NoError(t, ReadRounds(files[0], func(e runner.RoundLogEntry) error {
		got = append(got, e.Round)
		assert.Equal(t, []uint64{e.Round, 2 * e.Round}, e.Inspections)
		return nil
	}))
	assert.Equal(t, []uint64{1, 2, 3}, got)

	raw, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)
	var sum runner.Summary
	require.NoError(t, json.Unmarshal(raw, &sum))
	assert.Equal(t, uint64(18), sum.Score)

	_, err = os.Stat(filepath.Join(dir, "run.json"))
	assert.NoError(t, err)
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "rounds")
	base := time.Date(2024, 1, 2, 3, 59, 0, 0, time.UTC)
	now := base
	w.now = func() time.Time { return now }

	require.NoError(t, w.Write(runner.RoundLogEntry{Round: 1}))
	now = base.Add(2 * time.Minute)
	require.NoError(t, w.Write(runner.RoundLogEntry{Round: 2}))
	require.NoError(t, w.Close())

	files, err := ListRoundFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "rounds-2024-01-02-03.jsonl.zst", filepath.Base(files[0]))
	assert.Equal(t, "rounds-2024-01-02-04.jsonl.zst", filepath.Base(files[1]))
}
