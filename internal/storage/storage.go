package storage

import (
	"context"

	"stakeledger/internal/model"
)

// SnapshotStore persists the latest ledger snapshot.
type SnapshotStore interface {
	Load(ctx context.Context) (model.Snapshot, bool, error)
	Save(ctx context.Context, snap model.Snapshot) error
}

// EventSink appends journal records.
type EventSink interface {
	PutEventBatch(ctx context.Context, events []model.EventRecord) error
}
