// Package tracesink implements the append-only trace writer: a bounded
// queue in front of a pluggable Sink, so a slow or unavailable storage
// backend degrades by dropping the lowest-priority evidence first
// rather than blocking the run loop.
package tracesink

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/failcore/core/pkg/contracts"
)

// Sink persists a single trace envelope. Implementations must be safe
// for sequential use by the sink's own writer goroutine; TraceSink
// never calls a Sink concurrently with itself.
type Sink interface {
	Write(ctx context.Context, env contracts.TraceEnvelope) error
	Close() error
}

// priority ranks event types for drop order under backpressure: lower
// sorts first to survive, higher is dropped first. Terminal/decision
// events (RUN_START, ATTEMPT, POLICY_DENIED, RUN_END), and every other
// priority-0 event, always survive; EGRESS evidence is the first thing
// shed.
func priority(et contracts.EventType) int {
	switch et {
	case contracts.EventEgress:
		return 100
	case contracts.EventReplayHit, contracts.EventReplayMiss, contracts.EventFingerprintComputed:
		return 50
	default:
		return 0
	}
}

// chainState is the per-run hash-chain head and sequence counter.
type chainState struct {
	seq  uint64
	head string
}

// TraceSink is the bounded-queue trace writer. Each envelope gets its
// per-run Seq and is linked into an in-memory per-run hash chain (see
// chainedEnvelope) before being handed to the backing Sink. The Sink
// receives only the TraceEnvelope; the chain hashes are not written.
type TraceSink struct {
	sink     Sink
	capacity int

	mu     sync.Mutex
	queue  []contracts.TraceEnvelope
	chains map[string]*chainState

	dropped  atomic.Int64
	wg       sync.WaitGroup
	notify   chan struct{}
	closed   chan struct{}
	closeOne sync.Once
}

// chainedEnvelope is the wire envelope plus its hash-chain linkage. Only
// its TraceEnvelope is passed to the Sink; EntryHash is kept solely as
// the run's next chain head.
type chainedEnvelope struct {
	contracts.TraceEnvelope
	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`
}

// New constructs a TraceSink backed by sink, buffering up to capacity
// envelopes before backpressure kicks in. The writer goroutine starts
// immediately; call Close to drain and stop it.
func New(sink Sink, capacity int) *TraceSink {
	if capacity < 1 {
		capacity = 1
	}
	t := &TraceSink{
		sink:     sink,
		capacity: capacity,
		chains:   make(map[string]*chainState),
		notify:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	t.wg.Add(1)
	go t.loop()
	return t
}

// Dropped reports how many envelopes have been shed due to
// backpressure since construction.
func (t *TraceSink) Dropped() int64 {
	return t.dropped.Load()
}

// Emit enqueues env for writing. When the queue is at capacity, Emit
// drops the single lowest-priority-to-keep envelope already queued (if
// env outranks it) or else env itself, except that a priority-0 env is
// appended past capacity rather than dropped. It never blocks the caller.
func (t *TraceSink) Emit(env contracts.TraceEnvelope) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.queue) < t.capacity {
		t.queue = append(t.queue, env)
		t.wake()
		return
	}

	victim := -1
	for i, q := range t.queue {
		if priority(q.EventType) > priority(env.EventType) {
			if victim == -1 || priority(q.EventType) > priority(t.queue[victim].EventType) {
				victim = i
			}
		}
	}
	if victim == -1 {
		if priority(env.EventType) == 0 {
			t.queue = append(t.queue, env)
			t.wake()
			return
		}
		t.dropped.Add(1)
		return
	}
	t.dropped.Add(1)
	t.queue[victim] = env
}

func (t *TraceSink) wake() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *TraceSink) loop() {
	defer t.wg.Done()
	for {
		env, ok := t.dequeue()
		if ok {
			chained := t.chain(env)
			_ = t.sink.Write(context.Background(), chained.TraceEnvelope)
			continue
		}
		select {
		case <-t.notify:
		case <-t.closed:
			return
		}
	}
}

func (t *TraceSink) dequeue() (contracts.TraceEnvelope, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return contracts.TraceEnvelope{}, false
	}
	env := t.queue[0]
	t.queue = t.queue[1:]
	return env, true
}

func (t *TraceSink) chain(env contracts.TraceEnvelope) chainedEnvelope {
	t.mu.Lock()
	state, ok := t.chains[env.RunID]
	if !ok {
		state = &chainState{head: "genesis"}
		t.chains[env.RunID] = state
	}
	state.seq++
	prev := state.head
	t.mu.Unlock()

	env.Seq = state.seq
	ce := chainedEnvelope{TraceEnvelope: env, PreviousHash: prev}
	ce.EntryHash = entryHash(ce)

	t.mu.Lock()
	state.head = ce.EntryHash
	t.mu.Unlock()

	return ce
}

func entryHash(ce chainedEnvelope) string {
	data, err := json.Marshal(struct {
		RunID        string             `json:"run_id"`
		Seq          uint64             `json:"seq"`
		EventType    contracts.EventType `json:"event_type"`
		Data         any                `json:"data"`
		PreviousHash string             `json:"previous_hash"`
	}{ce.RunID, ce.Seq, ce.EventType, ce.Data, ce.PreviousHash})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Close drains the queue and closes the backing sink. It blocks until
// every currently-queued envelope has been handed to the sink.
func (t *TraceSink) Close() error {
	t.closeOne.Do(func() { close(t.closed) })
	t.wg.Wait()
	return t.sink.Close()
}

var _ fmt.Stringer = (*dropSummary)(nil)

type dropSummary struct{ n int64 }

func (d *dropSummary) String() string { return fmt.Sprintf("%d envelopes dropped", d.n) }

// DropSummary renders a human-readable drop count, for RUN_END stats.
func (t *TraceSink) DropSummary() fmt.Stringer {
	return &dropSummary{n: t.dropped.Load()}
}
