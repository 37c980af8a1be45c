package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stakeledger/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_meta (
	id          SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	custody     TEXT NOT NULL,
	event_seq   BIGINT NOT NULL,
	token_state JSONB,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS pools (
	pool_id              BIGINT PRIMARY KEY,
	total_staked         NUMERIC(78,0) NOT NULL,
	acc_reward_per_share NUMERIC(78,0) NOT NULL,
	total_deposited      NUMERIC(78,0) NOT NULL,
	total_rewards        NUMERIC(78,0) NOT NULL,
	total_paid_out       NUMERIC(78,0) NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS positions (
	pool_id       BIGINT NOT NULL REFERENCES pools (pool_id),
	participant   TEXT NOT NULL,
	staked_amount NUMERIC(78,0) NOT NULL,
	reward_debt   NUMERIC(78,0) NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (pool_id, participant)
);
CREATE TABLE IF NOT EXISTS ledger_events (
	seq        BIGINT PRIMARY KEY,
	event_id   UUID NOT NULL UNIQUE,
	event_type TEXT NOT NULL,
	pool_id    BIGINT NOT NULL,
	attributes JSONB NOT NULL,
	emitted_at TIMESTAMPTZ NOT NULL
);
`

// Store provides Postgres persistence for ledger snapshots and the event journal.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the ledger tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Save replaces the stored snapshot in one transaction.
func (s *Store) Save(ctx context.Context, snap model.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var tokenState []byte
	if snap.Token != nil {
		if tokenState, err = json.Marshal(snap.Token); err != nil {
			return fmt.Errorf("marshal token state: %w", err)
		}
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO ledger_meta (id, custody, event_seq, token_state, updated_at)
		VALUES (1, $1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET
			custody = EXCLUDED.custody,
			event_seq = EXCLUDED.event_seq,
			token_state = EXCLUDED.token_state,
			updated_at = now()
	`, snap.Custody, int64(snap.EventSeq), tokenState)
	for _, p := range snap.Pools {
		batch.Queue(`
			INSERT INTO pools (
				pool_id, total_staked, acc_reward_per_share, total_deposited, total_rewards, total_paid_out, updated_at
			) VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5::numeric, $6::numeric, now())
			ON CONFLICT (pool_id) DO UPDATE SET
				total_staked = EXCLUDED.total_staked,
				acc_reward_per_share = EXCLUDED.acc_reward_per_share,
				total_deposited = EXCLUDED.total_deposited,
				total_rewards = EXCLUDED.total_rewards,
				total_paid_out = EXCLUDED.total_paid_out,
				updated_at = now()
		`,
			int64(p.ID),
			numeric(p.TotalStaked),
			numeric(p.AccRewardPerShare),
			numeric(p.TotalDeposited),
			numeric(p.TotalRewards),
			numeric(p.TotalPaidOut),
		)
	}
	for _, pos := range snap.Positions {
		batch.Queue(`
			INSERT INTO positions (pool_id, participant, staked_amount, reward_debt, updated_at)
			VALUES ($1, $2, $3::numeric, $4::numeric, now())
			ON CONFLICT (pool_id, participant) DO UPDATE SET
				staked_amount = EXCLUDED.staked_amount,
				reward_debt = EXCLUDED.reward_debt,
				updated_at = now()
		`, int64(pos.PoolID), pos.Participant, numeric(pos.StakedAmount), numeric(pos.RewardDebt))
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Load reads the stored snapshot. It reports false when nothing was saved yet.
func (s *Store) Load(ctx context.Context) (model.Snapshot, bool, error) {
	var (
		snap       model.Snapshot
		seq        int64
		tokenState []byte
	)
	row := s.pool.QueryRow(ctx, `
		SELECT custody, event_seq, token_state, to_char(updated_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"')
		FROM ledger_meta WHERE id = 1
	`)
	if err := row.Scan(&snap.Custody, &seq, &tokenState, &snap.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Snapshot{}, false, nil
		}
		return model.Snapshot{}, false, err
	}
	snap.EventSeq = uint64(seq)
	if len(tokenState) > 0 {
		snap.Token = &model.TokenState{}
		if err := json.Unmarshal(tokenState, snap.Token); err != nil {
			return model.Snapshot{}, false, fmt.Errorf("parse token state: %w", err)
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT pool_id, total_staked::text, acc_reward_per_share::text,
			total_deposited::text, total_rewards::text, total_paid_out::text
		FROM pools ORDER BY pool_id
	`)
	if err != nil {
		return model.Snapshot{}, false, err
	}
	snap.Pools, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.PoolRecord, error) {
		var rec model.PoolRecord
		var id int64
		err := row.Scan(&id, &rec.TotalStaked, &rec.AccRewardPerShare, &rec.TotalDeposited, &rec.TotalRewards, &rec.TotalPaidOut)
		rec.ID = uint64(id)
		return rec, err
	})
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("load pools: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT pool_id, participant, staked_amount::text, reward_debt::text
		FROM positions ORDER BY pool_id, participant
	`)
	if err != nil {
		return model.Snapshot{}, false, err
	}
	snap.Positions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.PositionRecord, error) {
		var rec model.PositionRecord
		var id int64
		err := row.Scan(&id, &rec.Participant, &rec.StakedAmount, &rec.RewardDebt)
		rec.PoolID = uint64(id)
		return rec, err
	})
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("load positions: %w", err)
	}
	return snap, true, nil
}

// PutEventBatch inserts journal records, ignoring sequence numbers already stored.
func (s *Store) PutEventBatch(ctx context.Context, events []model.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		id, err := uuid.Parse(e.ID)
		if err != nil {
			return fmt.Errorf("event %d id: %w", e.Seq, err)
		}
		attrs, err := json.Marshal(e.Attributes)
		if err != nil {
			return fmt.Errorf("marshal attributes: %w", err)
		}
		batch.Queue(`
			INSERT INTO ledger_events (seq, event_id, event_type, pool_id, attributes, emitted_at)
			VALUES ($1, $2, $3, $4, $5, $6::timestamptz)
			ON CONFLICT (seq) DO NOTHING
		`, int64(e.Seq), [16]byte(id), e.Type, int64(e.PoolID), attrs, e.EmittedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func numeric(value string) string {
	if value == "" {
		return "0"
	}
	return value
}
