package callstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgExecQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps state in the call_states table. The version column
// guards optimistic writes.
type PostgresStore struct {
	db pgExecQuerier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("callstate: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithDB(db pgExecQuerier) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectCallState = `
	SELECT state, version
	FROM call_states
	WHERE call_id = $1
`

const upsertCallStateBase = `
	INSERT INTO call_states (call_id, practice_id, stage, state, version, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (call_id) DO UPDATE SET
		stage = EXCLUDED.stage,
		state = EXCLUDED.state,
		version = EXCLUDED.version,
		updated_at = EXCLUDED.updated_at
`

const upsertCallStateGuarded = upsertCallStateBase + `	WHERE call_states.version = $8
`

const upsertCallStateUnguarded = `
	INSERT INTO call_states (call_id, practice_id, stage, state, version, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (call_id) DO UPDATE SET
		stage = EXCLUDED.stage,
		state = EXCLUDED.state,
		version = call_states.version + 1,
		updated_at = EXCLUDED.updated_at
	RETURNING version
`

func (s *PostgresStore) Load(ctx context.Context, callID string) (*State, error) {
	var (
		raw     []byte
		version int64
	)
	if err := s.db.QueryRow(ctx, selectCallState, callID).Scan(&raw, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("callstate: select state: %w", err)
	}
	state, err := decodeState(raw)
	if err != nil {
		return nil, err
	}
	state.Version = version
	return state, nil
}

func (s *PostgresStore) Save(ctx context.Context, state *State) error {
	if err := validate(state); err != nil {
		return err
	}
	expected := state.Version
	now := time.Now().UTC()
	next := *state
	next.Version = expected + 1
	next.UpdatedAt = now
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("callstate: marshal: %w", err)
	}

	tag, err := s.db.Exec(ctx, upsertCallStateGuarded,
		state.CallID, state.PracticeID, string(state.Stage), data, next.Version, state.CreatedAt, now, expected)
	if err != nil {
		return fmt.Errorf("callstate: upsert state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	state.Version = next.Version
	state.UpdatedAt = now
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, state *State) error {
	if err := validate(state); err != nil {
		return err
	}
	now := time.Now().UTC()
	state.UpdatedAt = now
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("callstate: marshal: %w", err)
	}
	var version int64
	err = s.db.QueryRow(ctx, upsertCallStateUnguarded,
		state.CallID, state.PracticeID, string(state.Stage), data, state.Version+1, state.CreatedAt, now).Scan(&version)
	if err != nil {
		return fmt.Errorf("callstate: put state: %w", err)
	}
	state.Version = version
	return nil
}
