// Package recorder keeps per-actor causal histories and rejects any event
// that would leave a gap in an actor's (nonce, sequence) order.
package recorder

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/merkle"
	"Behavior-Chain/internal/symbol"
)

const shardCount = 32

// Journal persists accepted events. Append is called while the actor's shard
// is locked, so it observes events in the order they are accepted.
type Journal interface {
	Append(ctx context.Context, event symbol.Symbol) error
	Clear(ctx context.Context) error
}

type shard struct {
	mu        sync.Mutex
	histories map[common.Address][]symbol.Symbol
}

// Recorder is safe for concurrent use. Events for different actors proceed
// in parallel; events for one actor are serialised by its shard lock.
type Recorder struct {
	shards  [shardCount]*shard
	journal Journal
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithJournal persists every accepted event through j.
func WithJournal(j Journal) Option {
	return func(r *Recorder) { r.journal = j }
}

// New creates an empty recorder.
func New(opts ...Option) *Recorder {
	r := &Recorder{}
	for i := range r.shards {
		r.shards[i] = &shard{histories: make(map[common.Address][]symbol.Symbol)}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) shardFor(actor common.Address) *shard {
	return r.shards[xxhash.Sum64(actor[:])%shardCount]
}

// Record appends event to its actor's history.
func (r *Recorder) Record(event symbol.Symbol) error {
	return r.RecordContext(context.Background(), event)
}

// RecordContext validates event, checks it extends the actor's history
// without a gap, persists it through the journal and appends it. Nothing is
// stored when any step fails.
func (r *Recorder) RecordContext(ctx context.Context, event symbol.Symbol) error {
	return r.record(ctx, event, true)
}

func (r *Recorder) record(ctx context.Context, event symbol.Symbol, persist bool) error {
	if err := event.ValidateCausal(); err != nil {
		return err
	}
	s := r.shardFor(event.Actor)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkOrder(s.histories[event.Actor], event); err != nil {
		return err
	}
	event = event.Clone()
	if persist && r.journal != nil {
		if err := r.journal.Append(ctx, event); err != nil {
			if _, ok := xerrors.From(err); ok {
				return err
			}
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "append event to journal")
		}
	}
	s.histories[event.Actor] = append(s.histories[event.Actor], event)
	return nil
}

func checkOrder(history []symbol.Symbol, event symbol.Symbol) error {
	if len(history) == 0 {
		if event.Nonce != 0 {
			return nonceGap(event.Actor, 0, event.Nonce)
		}
		if event.Sequence != 0 {
			return sequenceGap(event.Actor, 0, event.Sequence)
		}
		return nil
	}
	last := history[len(history)-1]
	switch {
	case event.Nonce == last.Nonce:
		if event.Sequence != last.Sequence+1 {
			return sequenceGap(event.Actor, last.Sequence+1, event.Sequence)
		}
	case event.Nonce == last.Nonce+1:
		if event.Sequence != 0 {
			return sequenceGap(event.Actor, 0, event.Sequence)
		}
	default:
		return nonceGap(event.Actor, last.Nonce+1, event.Nonce)
	}
	return nil
}

// Restore replays events, in order, without writing them to the journal.
// It is used to rebuild state from a journal at startup.
func (r *Recorder) Restore(ctx context.Context, events []symbol.Symbol) error {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.record(ctx, event, false); err != nil {
			return err
		}
	}
	return nil
}

// History returns a copy of actor's events. The boolean is false when the
// actor has no history.
func (r *Recorder) History(actor common.Address) ([]symbol.Symbol, bool) {
	s := r.shardFor(actor)
	s.mu.Lock()
	defer s.mu.Unlock()
	history, ok := s.histories[actor]
	if !ok || len(history) == 0 {
		return nil, false
	}
	out := make([]symbol.Symbol, len(history))
	for i := range history {
		out[i] = history[i].Clone()
	}
	return out, true
}

// Last returns the most recent event of actor.
func (r *Recorder) Last(actor common.Address) (symbol.Symbol, bool) {
	s := r.shardFor(actor)
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.histories[actor]
	if len(history) == 0 {
		return symbol.Symbol{}, false
	}
	return history[len(history)-1].Clone(), true
}

// Tree commits actor's history with the causal configuration.
func (r *Recorder) Tree(actor common.Address) (*merkle.Tree, bool) {
	history, ok := r.History(actor)
	if !ok {
		return nil, false
	}
	return merkle.NewCausalTree(history), true
}

// AgentCount returns the number of actors with at least one event.
func (r *Recorder) AgentCount() int {
	total := 0
	for _, s := range r.shards {
		s.mu.Lock()
		total += len(s.histories)
		s.mu.Unlock()
	}
	return total
}

// TotalEvents returns the number of events across all actors.
func (r *Recorder) TotalEvents() int {
	total := 0
	for _, s := range r.shards {
		s.mu.Lock()
		for _, h := range s.histories {
			total += len(h)
		}
		s.mu.Unlock()
	}
	return total
}

// Actors lists actors with history in ascending byte order.
func (r *Recorder) Actors() []common.Address {
	var out []common.Address
	for _, s := range r.shards {
		s.mu.Lock()
		for actor := range s.histories {
			out = append(out, actor)
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Clear drops every history and resets all actors to no history. All shards
// stay locked for the duration so no record interleaves with the reset.
func (r *Recorder) Clear(ctx context.Context) error {
	for _, s := range r.shards {
		s.mu.Lock()
	}
	defer func() {
		for _, s := range r.shards {
			s.mu.Unlock()
		}
	}()
	if r.journal != nil {
		if err := r.journal.Clear(ctx); err != nil {
			if _, ok := xerrors.From(err); ok {
				return err
			}
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "clear journal")
		}
	}
	for _, s := range r.shards {
		s.histories = make(map[common.Address][]symbol.Symbol)
	}
	return nil
}
