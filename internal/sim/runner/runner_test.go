package runner

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worryrelay/internal/sim/relay"
)

type recordingSink struct {
	info    RunInfo
	rounds  []RoundLogEntry
	summary *Summary
	failOn  uint64
	cancel  func()
	stopAt  uint64
}

func (s *recordingSink) BeginRun(info RunInfo) error {
	s.info = info
	return nil
}

func (s *recordingSink) WriteRound(e RoundLogEntry) error {
	s.rounds = append(s.rounds, e)
	if s.cancel != nil && e.Round == s.stopAt {
		s.cancel()
	}
	if s.failOn != 0 && e.Round >= s.failOn {
		return errors.New("disk full")
	}
	return nil
}

func (s *recordingSink) FinishRun(sum Summary) error {
	s.summary = &sum
	return nil
}

func sampleSim(t *testing.T, relief relay.Relief) *relay.Simulation {
	t.Helper()
	sim, err := relay.New([]relay.AgentSpec{
		{Items: []uint64{79, 98}, Operation: relay.Multiply(relay.Self(), relay.Literal(19)), TestDivisor: 23, IfDivisible: 2, IfNotDivisible: 3},
		{Items: []uint64{54, 65, 75, 74}, Operation: relay.Add(relay.Self(), relay.Literal(6)), TestDivisor: 19, IfDivisible: 2, IfNotDivisible: 0},
		{Items: []uint64{79, 60, 97}, Operation: relay.Multiply(relay.Self(), relay.Self()), TestDivisor: 13, IfDivisible: 1, IfNotDivisible: 3},
		{Items: []uint64{74}, Operation: relay.Add(relay.Self(), relay.Literal(3)), TestDivisor: 17, IfDivisible: 0, IfNotDivisible: 1},
	}, relief)
	require.NoError(t, err)
	return sim
}

func quietLogger() (*log.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return log.New(&buf, "[test] ", 0), &buf
}

func TestRunner_RunEmitsEveryRound(t *testing.T) {
	sink := &recordingSink{}
	logger, _ := quietLogger()
	r := New(Config{RunID: "run-1", Sinks: []Sink{sink}}, logger)

	sum, err := r.Run(context.Background(), sampleSim(t, relay.Divide(3)), 20)
	require.NoError(t, err)

	assert.Equal(t, "run-1", sink.info.RunID)
	assert.Equal(t, 4, sink.info.Agents)
	assert.Equal(t, "divide(3)", sink.info.Relief)
	require.Len(t, sink.rounds, 20)
	for i, e := range sink.rounds {
		assert.Equal(t, uint64(i+1), e.Round)
	}

	// Deltas add up to the final counters.
	total := make([]uint64, 4)
	for _, e := range sink.rounds {
		for i, d := range e.Delta {
			total[i] += d
		}
	}
	assert.Equal(t, []uint64{101, 95, 7, 105}, total)

	require.NotNil(t, sink.summary)
	assert.Equal(t, uint64(10605), sum.Score)
	assert.Equal(t, sum, *sink.summary)
	assert.Equal(t, sink.rounds[19].Digest, sum.Digest)
	assert.False(t, sum.Interrupted)
}

func TestRunner_CancelStopsOnRoundBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordingSink{cancel: cancel, stopAt: 5}
	logger, _ := quietLogger()
	r := New(Config{Sinks: []Sink{sink}}, logger)

	sim := sampleSim(t, relay.ModuloProduct())
	sum, err := r.Run(ctx, sim, 100)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(5), sim.RoundsCompleted())
	assert.Equal(t, uint64(5), sum.Rounds)
	assert.True(t, sum.Interrupted)
	assert.NotEmpty(t, r.RunID())
}

func TestRunner_FailingSinkLoggedOnce(t *testing.T) {
	sink := &recordingSink{failOn: 2}
	logger, buf := quietLogger()
	r := New(Config{Sinks: []Sink{nil, sink}}, logger)

	_, err := r.Run(context.Background(), sampleSim(t, relay.Divide(3)), 10)
	require.NoError(t, err)
	assert.Len(t, sink.rounds, 10)
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("disk full")))
}

func TestRunner_InsufficientAgentsRecordedInSummary(t *testing.T) {
	sim, err := relay.New([]relay.AgentSpec{{Items: []uint64{3}, Operation: relay.Add(relay.Self(), relay.Literal(1)), TestDivisor: 2}}, relay.Divide(1))
	require.NoError(t, err)
	logger, _ := quietLogger()

	sum, err := New(Config{}, logger).Run(context.Background(), sim, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, sum.Inspections)
	assert.Equal(t, relay.ErrInsufficientAgents.Error(), sum.ScoreErr)
}

func TestRunner_ProgressLogging(t *testing.T) {
	logger, buf := quietLogger()
	r := New(Config{ProgressEvery: 5}, logger)

	_, err := r.Run(context.Background(), sampleSim(t, relay.Divide(3)), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("inspections=")))
}
