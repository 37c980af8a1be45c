package leveldb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"stakeledger/internal/model"
)

var (
	snapshotKey = []byte("snapshot")
	eventPrefix = []byte("event/")

	writeOpt = opt.WriteOptions{Sync: true}
	readOpt  = opt.ReadOptions{}
	scanOpt  = opt.ReadOptions{DontFillCache: true}
)

// Store keeps the snapshot and the event journal in one leveldb database.
type Store struct {
	db *leveldb.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("leveldb path is required")
	}
	db, err := leveldb.OpenFile(path, &opt.Options{
		OpenFilesCacheCapacity: 64,
		BlockCacheCapacity:     8 * opt.MiB,
	})
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenMem opens a store backed by memory.
func OpenMem() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Load(_ context.Context) (model.Snapshot, bool, error) {
	data, err := s.db.Get(snapshotKey, &readOpt)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return model.Snapshot{}, false, nil
		}
		return model.Snapshot{}, false, fmt.Errorf("get snapshot: %w", err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *Store) Save(_ context.Context, snap model.Snapshot) error {
	snap.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.db.Put(snapshotKey, data, &writeOpt); err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// PutEventBatch writes events keyed by sequence number in a single batch.
func (s *Store) PutEventBatch(_ context.Context, events []model.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	batch := new(leveldb.Batch)
	for _, record := range events {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal event %d: %w", record.Seq, err)
		}
		batch.Put(eventKey(record.Seq), data)
	}
	if err := s.db.Write(batch, &writeOpt); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	return nil
}

// Events returns journal records with seq >= from, in sequence order.
func (s *Store) Events(_ context.Context, from uint64) ([]model.EventRecord, error) {
	rng := util.BytesPrefix(eventPrefix)
	rng.Start = eventKey(from)

	iter := s.db.NewIterator(rng, &scanOpt)
	defer iter.Release()

	var out []model.EventRecord
	for iter.Next() {
		var rec model.EventRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("parse event %x: %w", iter.Key(), err)
		}
		out = append(out, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return out, nil
}

func eventKey(seq uint64) []byte {
	key := make([]byte, len(eventPrefix)+8)
	copy(key, eventPrefix)
	binary.BigEndian.PutUint64(key[len(eventPrefix):], seq)
	return key
}
