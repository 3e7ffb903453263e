package callstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

const defaultPersistAttempts = 3

// Persister writes a turn's state with optimistic concurrency. When another
// delivery for the same call won the race, the turn's key-level changes are
// rebased onto the newer version and retried; once attempts run out the last
// writer wins.
type Persister struct {
	store      Store
	attempts   int
	logger     *logging.Logger
	onConflict func()
}

func NewPersister(store Store, logger *logging.Logger) *Persister {
	if store == nil {
		panic("callstate: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Persister{store: store, attempts: defaultPersistAttempts, logger: logger}
}

// OnConflict registers a hook invoked on every version conflict.
func (p *Persister) OnConflict(fn func()) *Persister {
	p.onConflict = fn
	return p
}

// Store exposes the underlying store for reads.
func (p *Persister) Store() Store {
	return p.store
}

// Persist saves after, which was derived from before during this turn, and
// returns the state as stored.
func (p *Persister) Persist(ctx context.Context, before, after *State) (*State, error) {
	if after == nil {
		return nil, errors.New("callstate: state required")
	}
	if before == nil {
		before = New(after.CallID, after.PracticeID, after.CreatedAt)
	}
	candidate := after.Clone()
	candidate.Version = before.Version

	for attempt := 1; attempt <= p.attempts; attempt++ {
		err := p.store.Save(ctx, candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		if p.onConflict != nil {
			p.onConflict()
		}
		p.logger.Warn("call state version conflict, rebasing", "call_id", after.CallID, "attempt", attempt)

		latest, err := p.store.Load(ctx, after.CallID)
		if errors.Is(err, ErrNotFound) {
			candidate = after.Clone()
			candidate.Version = 0
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("callstate: reload after conflict: %w", err)
		}
		candidate, err = Rebase(before, after, latest)
		if err != nil {
			return nil, err
		}
	}

	p.logger.Warn("call state conflicts exhausted, overwriting", "call_id", after.CallID)
	if err := p.store.Put(ctx, candidate); err != nil {
		return nil, err
	}
	return candidate, nil
}
