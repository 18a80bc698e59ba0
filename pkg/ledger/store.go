package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"

	"github.com/uhyunpark/stocksim/pkg/util"
)

type Options struct {
	InitialBalance int64
	MaxRetries     uint64
	Clock          util.Clock
	// InMemory keeps the database in memory; the path is ignored
	InMemory bool
}

// Store is the durable order and user ledger.
// Writes are serialized units of work: one writer at a time builds an indexed batch
// and commits it atomically, so every unit of work sees the effects of the previous one.
type Store struct {
	db   *pebble.DB
	log  *zap.Logger
	opts Options

	mu sync.Mutex // single writer
}

// Open opens (or creates) the ledger at path
func Open(path string, log *zap.Logger, opts Options) (*Store, error) {
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	}

	popts := &pebble.Options{
		Cache:                    pebble.NewCache(32 << 20),
		MemTableSize:             16 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             500,
		BytesPerSync:             512 << 10,
	}
	if opts.InMemory {
		popts.FS = vfs.NewMem()
		if path == "" {
			path = "ledger"
		}
	}

	db, err := pebble.Open(path, popts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger at %s: %w", path, err)
	}
	return &Store{db: db, log: log.Named("ledger"), opts: opts}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Update runs fn as one unit of work. fn's writes commit together or not at all.
// Errors returned by fn abort the unit without retry; commit failures are retried
// with exponential backoff.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return s.apply(fn)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.opts.MaxRetries), ctx)
	return backoff.RetryNotify(op, b, func(err error, d time.Duration) {
		s.log.Warn("ledger_retry", zap.Error(err), zap.Duration("backoff", d))
	})
}

func (s *Store) apply(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	tx := &Tx{r: batch, w: batch, now: s.opts.Clock.Now(), initialBalance: s.opts.InitialBalance}
	if err := fn(tx); err != nil {
		return backoff.Permanent(err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit ledger batch: %w", err)
	}
	return nil
}

// View runs fn against a consistent snapshot. Writes inside fn fail.
func (s *Store) View(fn func(tx *Tx) error) error {
	snap := s.db.NewSnapshot()
	defer snap.Close()
	return fn(&Tx{r: snap, now: s.opts.Clock.Now(), initialBalance: s.opts.InitialBalance})
}
