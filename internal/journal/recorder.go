package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"stakeledger/internal/ledger"
	"stakeledger/internal/model"
)

// Sink persists journal records.
type Sink interface {
	PutEventBatch(ctx context.Context, events []model.EventRecord) error
}

// Recorder buffers ledger events as journal records until they are flushed.
// Sequence numbers continue across restarts when seeded from a snapshot.
type Recorder struct {
	mu      sync.Mutex
	seq     uint64
	pending []model.EventRecord
	now     func() time.Time
}

func NewRecorder(startSeq uint64) *Recorder {
	return &Recorder{seq: startSeq, now: time.Now}
}

// Emit implements ledger.Emitter.
func (r *Recorder) Emit(evt ledger.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.pending = append(r.pending, model.EventRecord{
		ID:         uuid.NewString(),
		Seq:        r.seq,
		Type:       evt.EventType(),
		PoolID:     evt.PoolID(),
		Attributes: evt.Attributes(),
		EmittedAt:  r.now().UTC().Format(time.RFC3339Nano),
	})
}

// Seq returns the sequence number of the last recorded event.
func (r *Recorder) Seq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Pending returns a copy of the records not yet flushed.
func (r *Recorder) Pending() []model.EventRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.EventRecord(nil), r.pending...)
}

// Flush writes buffered records to sink. Records stay buffered if the sink fails.
func (r *Recorder) Flush(ctx context.Context, sink Sink) (int, error) {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 || sink == nil {
		return 0, nil
	}
	if err := sink.PutEventBatch(ctx, batch); err != nil {
		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		r.mu.Unlock()
		return 0, fmt.Errorf("flush events: %w", err)
	}
	return len(batch), nil
}
