package relay

// AgentSpec is the construction record for one agent.
type AgentSpec struct {
	Items          []uint64
	Operation      Operation
	TestDivisor    uint64
	IfDivisible    int
	IfNotDivisible int
}

// Agent owns a FIFO queue of items and the rules for passing them on.
// Agents never reach into each other; the Simulation moves items between them.
type Agent struct {
	index          int
	queue          []Item
	op             Operation
	divisor        uint64
	ifDivisible    int
	ifNotDivisible int
	inspections    uint64
}

func newAgent(index int, spec AgentSpec) *Agent {
	q := make([]Item, 0, len(spec.Items))
	for _, v := range spec.Items {
		q = append(q, Item{WorryLevel: v})
	}
	return &Agent{
		index:          index,
		queue:          q,
		op:             spec.Operation,
		divisor:        spec.TestDivisor,
		ifDivisible:    spec.IfDivisible,
		ifNotDivisible: spec.IfNotDivisible,
	}
}

func (a *Agent) Index() int                  { return a.index }
func (a *Agent) Operation() Operation        { return a.op }
func (a *Agent) TestDivisor() uint64         { return a.divisor }
func (a *Agent) Targets() (ifDiv, ifNot int) { return a.ifDivisible, a.ifNotDivisible }
func (a *Agent) Inspections() uint64         { return a.inspections }
func (a *Agent) QueueLen() int               { return len(a.queue) }

// Queue returns a copy of the pending items, front first.
func (a *Agent) Queue() []Item {
	out := make([]Item, len(a.queue))
	copy(out, a.queue)
	return out
}

// inspectNext pops the front item, transforms and bounds it, and reports
// where it must go. ok is false when the queue is empty.
func (a *Agent) inspectNext(relief Relief) (target int, item Item, ok bool) {
	if len(a.queue) == 0 {
		return 0, Item{}, false
	}
	front := a.queue[0]
	a.queue[0] = Item{}
	a.queue = a.queue[1:]
	a.inspections++

	level := relief.Apply(a.op.Evaluate(front.WorryLevel))
	if level%a.divisor == 0 {
		target = a.ifDivisible
	} else {
		target = a.ifNotDivisible
	}
	return target, Item{WorryLevel: level}, true
}

func (a *Agent) enqueue(item Item) {
	a.queue = append(a.queue, item)
}
