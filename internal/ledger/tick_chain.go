package ledger

import (
	"FlowBreaker/internal/state"

	"cosmossdk.io/math"
)

// NoNextTick is the sentinel NextTimestamp of the newest node in a chain.
// Zero doubles as the empty head/tail marker; tick timestamps are unix
// seconds and assumed positive.
const NoNextTick int64 = 0

// TickNode is one time bucket of net liquidity change for an identifier.
// Nodes form a forward-only singly linked chain ordered by tick timestamp;
// the link is an explicit timestamp key, not a pointer, so traversal stays
// deterministic and snapshot-friendly.
type TickNode struct {
	TickTimestamp int64
	AmountDelta   math.Int
	NextTimestamp int64
}

// TickChain is the sparse per-identifier chain of tick nodes. Ticks with
// no activity are never materialized. Not thread-safe; owned by the
// single-threaded breaker engine.
type TickChain struct {
	tickLength int64
	nodes      map[int64]*TickNode
	head       int64 // earliest retained tick, 0 if empty
	tail       int64 // newest tick, 0 if empty
}

func NewTickChain(tickLength int64) *TickChain {
	return &TickChain{
		tickLength: tickLength,
		nodes:      make(map[int64]*TickNode),
	}
}

// Bucket returns the tick timestamp owning the given instant.
func (c *TickChain) Bucket(timestamp int64) int64 {
	return timestamp - timestamp%c.tickLength
}

// Record adds delta to the bucket owning timestamp, creating and linking
// a node if the bucket has no activity yet. It returns the touched node
// and, when a link was rewritten, the predecessor whose NextTimestamp
// changed (nil otherwise). In the common append path the predecessor is
// the old tail.
func (c *TickChain) Record(timestamp int64, delta math.Int) (node, relinked *TickNode) {
	tick := c.Bucket(timestamp)

	if n, ok := c.nodes[tick]; ok {
		n.AmountDelta = n.AmountDelta.Add(delta)
		return n, nil
	}

	n := &TickNode{
		TickTimestamp: tick,
		AmountDelta:   delta,
		NextTimestamp: NoNextTick,
	}
	c.nodes[tick] = n

	switch {
	case c.head == 0:
		// First node in the chain.
		c.head = tick
		c.tail = tick
		return n, nil

	case tick > c.tail:
		prev := c.nodes[c.tail]
		prev.NextTimestamp = tick
		c.tail = tick
		return n, prev

	case tick < c.head:
		// Late-arriving delta older than the current head.
		n.NextTimestamp = c.head
		c.head = tick
		return n, nil

	default:
		// Out-of-order delta inside the chain: walk to the predecessor.
		prev := c.nodes[c.head]
		for prev.NextTimestamp != NoNextTick && prev.NextTimestamp < tick {
			prev = c.nodes[prev.NextTimestamp]
		}
		n.NextTimestamp = prev.NextTimestamp
		prev.NextTimestamp = tick
		return n, prev
	}
}

// WindowedSum walks the chain from the earliest retained node and returns
// the signed sum of deltas whose tick timestamp lies in
// [asOf-window, asOf]. Older nodes are skipped, not evicted. The second
// return is the number of nodes visited, for metrics.
func (c *TickChain) WindowedSum(asOf, window int64) (math.Int, int) {
	sum := math.ZeroInt()
	visited := 0
	cutoff := asOf - window

	tick := c.head
	for tick != 0 {
		n := c.nodes[tick]
		visited++
		if n.TickTimestamp > asOf {
			break
		}
		if n.TickTimestamp >= cutoff {
			sum = sum.Add(n.AmountDelta)
		}
		tick = n.NextTimestamp
	}
	return sum, visited
}

// Evict removes nodes strictly older than now-window, advancing the head,
// stopping after maxIterations removals so a long-idle chain cannot make
// any single call unboundedly expensive. It returns the ticks actually
// removed; callers repeat until the slice comes back empty.
func (c *TickChain) Evict(now, window int64, maxIterations int) []int64 {
	cutoff := now - window
	removed := make([]int64, 0, maxIterations)

	for len(removed) < maxIterations && c.head != 0 {
		n := c.nodes[c.head]
		if n.TickTimestamp >= cutoff {
			break
		}
		delete(c.nodes, c.head)
		removed = append(removed, n.TickTimestamp)
		c.head = n.NextTimestamp
	}

	if c.head == 0 {
		c.tail = 0
	}
	return removed
}

// Node returns the node for an exact tick timestamp.
func (c *TickChain) Node(tick int64) (*TickNode, bool) {
	n, ok := c.nodes[tick]
	return n, ok
}

// Head returns the earliest retained tick (0 if the chain is empty).
func (c *TickChain) Head() int64 {
	return c.head
}

// Len returns the number of materialized nodes.
func (c *TickChain) Len() int {
	return len(c.nodes)
}

// Nodes returns all nodes in chain order, for snapshots.
func (c *TickChain) Nodes() []TickNode {
	out := make([]TickNode, 0, len(c.nodes))
	tick := c.head
	for tick != 0 {
		n := c.nodes[tick]
		out = append(out, *n)
		tick = n.NextTimestamp
	}
	return out
}

// Ledger is the Tick Ledger: one sparse chain per identifier.
type Ledger struct {
	tickLength int64
	chains     map[state.Identifier]*TickChain
}

func NewLedger(tickLength int64) *Ledger {
	return &Ledger{
		tickLength: tickLength,
		chains:     make(map[state.Identifier]*TickChain),
	}
}

func (l *Ledger) chain(id state.Identifier) *TickChain {
	c, ok := l.chains[id]
	if !ok {
		c = NewTickChain(l.tickLength)
		l.chains[id] = c
	}
	return c
}

// Record adds a signed delta to the identifier's chain.
func (l *Ledger) Record(id state.Identifier, timestamp int64, delta math.Int) (node, relinked *TickNode) {
	return l.chain(id).Record(timestamp, delta)
}

// WindowedSum returns the net delta observed inside [asOf-window, asOf].
func (l *Ledger) WindowedSum(id state.Identifier, asOf, window int64) (math.Int, int) {
	c, ok := l.chains[id]
	if !ok {
		return math.ZeroInt(), 0
	}
	return c.WindowedSum(asOf, window)
}

// Evict removes up to maxIterations stale nodes for the identifier.
func (l *Ledger) Evict(id state.Identifier, now, window int64, maxIterations int) []int64 {
	c, ok := l.chains[id]
	if !ok {
		return nil
	}
	return c.Evict(now, window, maxIterations)
}

// LiquidityChanges is the raw tick view: (nextTimestamp, amount) for an
// exact tick key, mirroring the on-chain accessor of the same name.
func (l *Ledger) LiquidityChanges(id state.Identifier, tick int64) (next int64, amount math.Int, ok bool) {
	c, chainOK := l.chains[id]
	if !chainOK {
		return 0, math.ZeroInt(), false
	}
	n, nodeOK := c.Node(tick)
	if !nodeOK {
		return 0, math.ZeroInt(), false
	}
	return n.NextTimestamp, n.AmountDelta, true
}

// Nodes returns the identifier's chain in order, for snapshots.
func (l *Ledger) Nodes(id state.Identifier) []TickNode {
	c, ok := l.chains[id]
	if !ok {
		return nil
	}
	return c.Nodes()
}

// RestoreNode reinstates a persisted node on warm restart. Rows must be
// fed in chain order per identifier.
func (l *Ledger) RestoreNode(id state.Identifier, n TickNode) {
	c := l.chain(id)
	c.nodes[n.TickTimestamp] = &TickNode{
		TickTimestamp: n.TickTimestamp,
		AmountDelta:   n.AmountDelta,
		NextTimestamp: n.NextTimestamp,
	}
	if c.head == 0 || n.TickTimestamp < c.head {
		c.head = n.TickTimestamp
	}
	if n.TickTimestamp > c.tail {
		c.tail = n.TickTimestamp
	}
}
