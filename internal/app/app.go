package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"stakeledger/internal/auth"
	"stakeledger/internal/chain"
	"stakeledger/internal/config"
	"stakeledger/internal/fixedpoint"
	"stakeledger/internal/journal"
	"stakeledger/internal/ledger"
	"stakeledger/internal/metrics"
	"stakeledger/internal/storage"
	"stakeledger/internal/storage/leveldb"
	"stakeledger/internal/storage/postgres"
	"stakeledger/internal/token"
)

var (
	// ErrFundUnsupported is returned by Fund when the token is not the in-memory one.
	ErrFundUnsupported = errors.New("fund is only supported by the memory token")
	// ErrPersist wraps failures to flush the journal or save the snapshot.
	ErrPersist = errors.New("persist ledger state")
)

// App wires a ledger to its token, storage, journal and metrics.
// Mutations go through Mutate so that each one is persisted before the next starts.
type App struct {
	Config  config.Config
	Ledger  *ledger.Ledger
	Journal *journal.Recorder
	Metrics *metrics.Metrics

	token   ledger.Token
	memory  *token.Memory
	store   storage.SnapshotStore
	sink    storage.EventSink
	closers []func()
	logger  *zap.Logger

	mu sync.Mutex
}

// Open builds the application from cfg and restores the last snapshot.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Metrics: metrics.New(), logger: logger}

	tok, custody, err := a.openToken(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.token = tok
	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	snap, found, err := a.store.Load(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	admins, err := auth.ParseAddresses(cfg.Admins)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("admins: %w", err)
	}
	if len(admins) == 0 {
		logger.Warn("no admins configured, pool creation and rewards are disabled")
	}

	a.Journal = journal.NewRecorder(snap.EventSeq)
	a.Ledger, err = ledger.New(ledger.Config{
		Custody:    custody,
		Token:      tok,
		Authorizer: auth.NewRoleList(admins...),
		Emitter:    ledger.MultiEmitter{a.Journal, a.Metrics},
	}, logger.Named("ledger"))
	if err != nil {
		a.Close()
		return nil, err
	}

	if found {
		if err := a.Ledger.Restore(snap); err != nil {
			a.Close()
			return nil, fmt.Errorf("restore snapshot: %w", err)
		}
		if a.memory != nil && snap.Token != nil {
			if err := a.memory.Import(snap.Token); err != nil {
				a.Close()
				return nil, fmt.Errorf("restore token state: %w", err)
			}
		}
	}
	a.Metrics.ObservePools(a.Ledger.Pools(ctx))

	logger.Info("ledger open",
		zap.String("store", cfg.Store),
		zap.String("token", cfg.Token),
		zap.String("custody", custody.Hex()),
		zap.Int("pools", len(snap.Pools)),
		zap.Uint64("event_seq", snap.EventSeq),
		zap.Bool("restored", found),
	)
	return a, nil
}

func (a *App) openToken(ctx context.Context) (ledger.Token, common.Address, error) {
	cfg := a.Config
	switch cfg.Token {
	case config.TokenMemory:
		custody, err := auth.ParseAddress(cfg.Custody)
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("custody: %w", err)
		}
		a.memory = token.NewMemory(custody)
		return a.memory, custody, nil

	case config.TokenERC20:
		tokenAddr, err := auth.ParseAddress(cfg.TokenAddress)
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("token-address: %w", err)
		}
		client, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("connect rpc: %w", err)
		}
		a.closers = append(a.closers, client.Close)

		erc20, err := token.NewERC20(ctx, client, token.ERC20Config{
			Token:          tokenAddr,
			SignerKey:      cfg.SignerKey,
			MaxRetries:     cfg.MaxRetries,
			RetryBackoff:   cfg.RetryBackoff,
			ReceiptTimeout: cfg.ReceiptTimeout,
		}, a.logger.Named("erc20"))
		if err != nil {
			return nil, common.Address{}, err
		}
		custody := erc20.Address()
		if cfg.Custody != "" {
			configured, err := auth.ParseAddress(cfg.Custody)
			if err != nil {
				return nil, common.Address{}, fmt.Errorf("custody: %w", err)
			}
			if configured != custody {
				return nil, common.Address{}, fmt.Errorf("custody %s does not match signer %s", configured.Hex(), custody.Hex())
			}
		}
		return erc20, custody, nil

	default:
		return nil, common.Address{}, fmt.Errorf("unknown token: %s", cfg.Token)
	}
}

func (a *App) openStorage(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Store {
	case config.StoreFile:
		a.store = &storage.FileSnapshotStore{Path: cfg.StateFile}
		a.sink = storage.NewJsonlStorage(cfg.Journal)

	case config.StoreLevelDB:
		db, err := leveldb.Open(cfg.LevelDBPath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() {
			if err := db.Close(); err != nil {
				a.logger.Warn("close leveldb", zap.Error(err))
			}
		})
		a.store, a.sink = db, db

	case config.StorePostgres:
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		a.store, a.sink = pg, pg

	default:
		return fmt.Errorf("unknown store: %s", cfg.Store)
	}
	return nil
}

// Mutate runs fn and persists the result. A failed fn is counted under op and
// leaves nothing to persist, unless it failed with ledger.ErrTransferInDoubt.
func (a *App) Mutate(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := fn(ctx); err != nil {
		a.Metrics.ObserveFailure(op, err)
		if !errors.Is(err, ledger.ErrTransferInDoubt) {
			return err
		}
		// the operation stayed applied and must be persisted
		if perr := a.persistLocked(ctx); perr != nil {
			return errors.Join(err, perr)
		}
		return err
	}
	return a.persistLocked(ctx)
}

// Persist flushes the journal and saves a snapshot.
func (a *App) Persist(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.persistLocked(ctx)
}

func (a *App) persistLocked(ctx context.Context) error {
	if _, err := a.Journal.Flush(ctx, a.sink); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	snap := a.Ledger.Snapshot()
	snap.EventSeq = a.Journal.Seq()
	if a.memory != nil {
		snap.Token = a.memory.Export()
	}
	if err := a.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("%w: save snapshot: %w", ErrPersist, err)
	}
	a.Metrics.ObservePools(a.Ledger.Pools(ctx))
	return nil
}

// Fund mints amount to account and raises its allowance for the custody
// account by the same amount.
func (a *App) Fund(ctx context.Context, account common.Address, amount *uint256.Int) error {
	if a.memory == nil {
		return ErrFundUnsupported
	}
	if amount == nil || amount.IsZero() {
		return ledger.ErrZeroAmount
	}
	return a.Mutate(ctx, "fund", func(context.Context) error {
		if err := a.memory.Mint(account, amount); err != nil {
			return err
		}
		custody := a.Ledger.Custody()
		allowance, err := fixedpoint.Add(a.memory.Allowance(account, custody), amount)
		if err != nil {
			return fmt.Errorf("allowance: %w", err)
		}
		a.memory.Approve(account, custody, allowance)
		a.logger.Info("account funded", zap.String("account", account.Hex()), zap.String("amount", fixedpoint.String(amount)))
		return nil
	})
}

// BalanceOf reports the token balance of account.
func (a *App) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return a.token.BalanceOf(ctx, account)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
