package runner

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"worryrelay/internal/sim/relay"
)

// RoundLogEntry is the per-round record handed to every sink.
type RoundLogEntry struct {
	RunID       string   `json:"run_id"`
	Round       uint64   `json:"round"`
	Inspections []uint64 `json:"inspections"`
	Delta       []uint64 `json:"delta"`
	QueueLens   []int    `json:"queue_lens"`
	Digest      string   `json:"digest"`
}

type RunInfo struct {
	RunID           string    `json:"run_id"`
	Source          string    `json:"source,omitempty"`
	Agents          int       `json:"agents"`
	Relief          string    `json:"relief"`
	Modulus         uint64    `json:"modulus,omitempty"`
	StartRound      uint64    `json:"start_round"`
	RoundsRequested uint64    `json:"rounds_requested"`
	StartedAt       time.Time `json:"started_at"`
}

type Summary struct {
	RunID       string    `json:"run_id"`
	Rounds      uint64    `json:"rounds"`
	Inspections []uint64  `json:"inspections"`
	Score       uint64    `json:"score"`
	ScoreErr    string    `json:"score_err,omitempty"`
	Digest      string    `json:"digest"`
	Interrupted bool      `json:"interrupted,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Sink receives run lifecycle events. Sinks never feed anything back into
// the simulation.
type Sink interface {
	BeginRun(info RunInfo) error
	WriteRound(entry RoundLogEntry) error
	FinishRun(sum Summary) error
}

type Config struct {
	RunID  string
	Source string

	// Pace spaces rounds out in wall-clock time (zero runs flat out).
	Pace time.Duration
	// ProgressEvery logs a progress line every N rounds (zero disables).
	ProgressEvery uint64

	Sinks []Sink
}

type Runner struct {
	cfg    Config
	log    *log.Logger
	failed map[int]bool
}

func New(cfg Config, logger *log.Logger) *Runner {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[runner] ", log.LstdFlags)
	}
	return &Runner{cfg: cfg, log: logger, failed: map[int]bool{}}
}

func (r *Runner) RunID() string { return r.cfg.RunID }

// Run advances sim by rounds, one round at a time. ctx is only consulted
// between rounds, so a cancelled run always stops on a round boundary.
func (r *Runner) Run(ctx context.Context, sim *relay.Simulation, rounds uint64) (Summary, error) {
	if sim == nil {
		return Summary{}, errors.New("nil simulation")
	}
	info := RunInfo{
		RunID:           r.cfg.RunID,
		Source:          r.cfg.Source,
		Agents:          sim.AgentCount(),
		Relief:          sim.Relief().String(),
		Modulus:         sim.Relief().Modulus(),
		StartRound:      sim.RoundsCompleted(),
		RoundsRequested: rounds,
		StartedAt:       time.Now().UTC(),
	}
	r.each(func(s Sink) error { return s.BeginRun(info) })
	r.log.Printf("run=%s agents=%d relief=%s rounds=%d", info.RunID, info.Agents, info.Relief, rounds)

	var tick <-chan time.Time
	if r.cfg.Pace > 0 {
		t := time.NewTicker(r.cfg.Pace)
		defer t.Stop()
		tick = t.C
	}

	var runErr error
	prev := sim.InspectionCounts()
	for i := uint64(0); i < rounds; i++ {
		if tick != nil {
			select {
			case <-ctx.Done():
			case <-tick:
			}
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		sim.RunRound()
		entry := roundEntry(r.cfg.RunID, sim, prev)
		prev = entry.Inspections
		r.each(func(s Sink) error { return s.WriteRound(entry) })

		if r.cfg.ProgressEvery > 0 && entry.Round%r.cfg.ProgressEvery == 0 {
			r.log.Printf("run=%s round=%d inspections=%v", r.cfg.RunID, entry.Round, entry.Inspections)
		}
	}

	sum := r.summarize(sim)
	sum.Interrupted = runErr != nil
	r.each(func(s Sink) error { return s.FinishRun(sum) })
	if runErr != nil {
		r.log.Printf("run=%s stopped after round %d: %v", sum.RunID, sum.Rounds, runErr)
	} else {
		r.log.Printf("run=%s done rounds=%d score=%d", sum.RunID, sum.Rounds, sum.Score)
	}
	return sum, runErr
}

func (r *Runner) summarize(sim *relay.Simulation) Summary {
	sum := Summary{
		RunID:       r.cfg.RunID,
		Rounds:      sim.RoundsCompleted(),
		Inspections: sim.InspectionCounts(),
		Digest:      sim.Digest(),
		FinishedAt:  time.Now().UTC(),
	}
	score, err := sim.BusinessScore()
	if err != nil {
		sum.ScoreErr = err.Error()
	} else {
		sum.Score = score
	}
	return sum
}

// each delivers to every sink; a failing sink is logged once and keeps
// receiving later events.
func (r *Runner) each(fn func(Sink) error) {
	for i, s := range r.cfg.Sinks {
		if s == nil {
			continue
		}
		if err := fn(s); err != nil && !r.failed[i] {
			r.failed[i] = true
			r.log.Printf("sink %d: %v", i, err)
		}
	}
}

func roundEntry(runID string, sim *relay.Simulation, prev []uint64) RoundLogEntry {
	cur := sim.InspectionCounts()
	delta := make([]uint64, len(cur))
	for i := range cur {
		delta[i] = cur[i] - prev[i]
	}
	return RoundLogEntry{
		RunID:       runID,
		Round:       sim.RoundsCompleted(),
		Inspections: cur,
		Delta:       delta,
		QueueLens:   sim.QueueLens(),
		Digest:      sim.Digest(),
	}
}
