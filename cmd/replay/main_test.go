package main

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	persistlog "worryrelay/internal/persistence/log"
	"worryrelay/internal/sim/runner"
	"worryrelay/internal/sim/tuning"
)

func TestVerifyRound_MatchesRecordedRun(t *testing.T) {
	cfg, err := tuning.LoadFile(filepath.Join("..", "..", "configs", "relay.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.ApplyPreset(tuning.PresetAnxious))

	dir := t.TempDir()
	rl := persistlog.NewRoundLogger(dir)
	recorded, err := cfg.NewSimulation()
	require.NoError(t, err)
	_, err = runner.New(runner.Config{Sinks: []runner.Sink{rl}}, log.New(io.Discard, "", 0)).
		Run(context.Background(), recorded, 50)
	require.NoError(t, err)
	require.NoError(t, rl.Close())

	files, err := persistlog.ListRoundFiles(filepath.Join(dir, "rounds"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	fresh, err := cfg.NewSimulation()
	require.NoError(t, err)
	var checked uint64
	for _, f := range files {
		require.NoError(t, persistlog.ReadRounds(f, func(e runner.RoundLogEntry) error {
			return verifyRound(fresh, e, 0, &checked)
		}))
	}
	assert.Equal(t, uint64(50), checked)
	assert.Equal(t, recorded.Digest(), fresh.Digest())

	// A different relief diverges on the first round.
	require.NoError(t, cfg.ApplyPreset(tuning.PresetBoredom))
	other, err := cfg.NewSimulation()
	require.NoError(t, err)
	err = persistlog.ReadRounds(files[0], func(e runner.RoundLogEntry) error {
		return verifyRound(other, e, 0, new(uint64))
	})
	assert.ErrorContains(t, err, "digest mismatch at round 1")
}
