// Package relay is the round-based item relay engine: agents inspect,
// transform, bound and pass on worry levels in a fixed turn order.
package relay

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"slices"
)

type State uint8

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateIdle {
		return "IDLE"
	}
	return "RUNNING"
}

// Simulation owns a fixed, ordered set of agents and drives them in rounds.
// It is single-threaded and not safe for concurrent use.
type Simulation struct {
	agents []*Agent
	relief Relief
	rounds uint64
}

// New validates specs and relief and builds a simulation. Any failure wraps
// ErrConfiguration and no simulation is returned.
func New(specs []AgentSpec, relief Relief) (*Simulation, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no agents", ErrConfiguration)
	}
	n := len(specs)
	divisors := make([]uint64, 0, n)
	for i, s := range specs {
		if !s.Operation.valid() {
			return nil, fmt.Errorf("%w: agent %d: unknown operation kind %d", ErrConfiguration, i, s.Operation.Kind)
		}
		if s.TestDivisor == 0 {
			return nil, fmt.Errorf("%w: agent %d: test divisor is zero", ErrConfiguration, i)
		}
		if s.IfDivisible < 0 || s.IfDivisible >= n {
			return nil, fmt.Errorf("%w: agent %d: divisible target %d out of range [0,%d)", ErrConfiguration, i, s.IfDivisible, n)
		}
		if s.IfNotDivisible < 0 || s.IfNotDivisible >= n {
			return nil, fmt.Errorf("%w: agent %d: not-divisible target %d out of range [0,%d)", ErrConfiguration, i, s.IfNotDivisible, n)
		}
		divisors = append(divisors, s.TestDivisor)
	}
	bound, err := relief.bind(divisors)
	if err != nil {
		return nil, err
	}

	agents := make([]*Agent, 0, n)
	for i, s := range specs {
		agents = append(agents, newAgent(i, s))
	}
	return &Simulation{agents: agents, relief: bound}, nil
}

func (s *Simulation) Relief() Relief          { return s.relief }
func (s *Simulation) RoundsCompleted() uint64 { return s.rounds }
func (s *Simulation) AgentCount() int         { return len(s.agents) }

// Agent returns the agent at index i, or nil when out of range. Callers must
// treat it as read-only.
func (s *Simulation) Agent(i int) *Agent {
	if i < 0 || i >= len(s.agents) {
		return nil
	}
	return s.agents[i]
}

func (s *Simulation) State() State {
	if s.rounds == 0 {
		return StateIdle
	}
	return StateRunning
}

// RunRound gives every agent one turn in index order. A turn drains the
// items the agent held when the turn began; routed items land on their
// target immediately, so higher-indexed targets see them later in this same
// round while lower-indexed targets and the agent itself see them next round.
func (s *Simulation) RunRound() {
	for _, a := range s.agents {
		s.turn(a)
	}
	s.rounds++
}

func (s *Simulation) turn(a *Agent) {
	// Only a's own self-routed items can arrive during its turn; they wait.
	for n := len(a.queue); n > 0; n-- {
		target, item, ok := a.inspectNext(s.relief)
		if !ok {
			return
		}
		s.agents[target].enqueue(item)
	}
}

// Run calls RunRound n times.
func (s *Simulation) Run(n uint64) {
	for i := uint64(0); i < n; i++ {
		s.RunRound()
	}
}

// InspectionCounts returns one counter per agent, by index.
func (s *Simulation) InspectionCounts() []uint64 {
	out := make([]uint64, len(s.agents))
	for i, a := range s.agents {
		out[i] = a.inspections
	}
	return out
}

// QueueLens returns the number of pending items per agent, by index.
func (s *Simulation) QueueLens() []int {
	out := make([]int, len(s.agents))
	for i, a := range s.agents {
		out[i] = len(a.queue)
	}
	return out
}

// TotalItems is the number of items held across all queues.
func (s *Simulation) TotalItems() int {
	total := 0
	for _, a := range s.agents {
		total += len(a.queue)
	}
	return total
}

// BusinessScore multiplies the two largest inspection counts (saturating).
func (s *Simulation) BusinessScore() (uint64, error) {
	return BusinessScore(s.InspectionCounts())
}

// BusinessScore multiplies the two largest values in counts.
func BusinessScore(counts []uint64) (uint64, error) {
	if len(counts) < 2 {
		return 0, ErrInsufficientAgents
	}
	sorted := slices.Clone(counts)
	slices.Sort(sorted)
	top, second := sorted[len(sorted)-1], sorted[len(sorted)-2]
	if second != 0 && top > math.MaxUint64/second {
		return math.MaxUint64, nil
	}
	return top * second, nil
}

// Digest hashes the full simulation state. Two simulations built from the
// same config and advanced the same number of rounds share a digest.
func (s *Simulation) Digest() string {
	h := sha256.New()
	var tmp [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		h.Write(tmp[:])
	}

	put(s.rounds)
	put(uint64(s.relief.Mode))
	put(s.relief.Denominator)
	put(s.relief.modulus)
	put(uint64(len(s.agents)))
	for _, a := range s.agents {
		put(a.inspections)
		put(uint64(len(a.queue)))
		for _, it := range a.queue {
			put(it.WorryLevel)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
