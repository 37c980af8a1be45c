package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"stakeledger/internal/fixedpoint"
)

// Config wires the ledger's collaborators.
type Config struct {
	// Custody is the account that holds staked principal and reward funds.
	Custody    common.Address
	Token      Token
	Authorizer Authorizer
	Emitter    Emitter
}

// Ledger is the staking ledger. Every mutating operation runs under the write
// lock as one atomic transition: checks, then effects on live state, then token
// calls. A failed token call rolls the effects back before the lock is released.
// An unconfirmed one (ErrTransferInDoubt) leaves them applied.
type Ledger struct {
	mu      sync.RWMutex
	state   *State
	custody common.Address
	token   Token
	auth    Authorizer
	emitter Emitter
	logger  *zap.Logger
}

// New builds a ledger with empty state.
func New(cfg Config, logger *zap.Logger) (*Ledger, error) {
	if cfg.Token == nil {
		return nil, fmt.Errorf("token is nil")
	}
	if cfg.Authorizer == nil {
		return nil, fmt.Errorf("authorizer is nil")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = NoopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		state:   newState(),
		custody: cfg.Custody,
		token:   cfg.Token,
		auth:    cfg.Authorizer,
		emitter: cfg.Emitter,
		logger:  logger,
	}, nil
}

// Custody returns the custody account.
func (l *Ledger) Custody() common.Address {
	return l.custody
}

type operationKey struct{}

// enter marks ctx as belonging to an in-flight operation of l. Token calls
// receive the marked context so that calls made back into l can be detected.
func (l *Ledger) enter(ctx context.Context) context.Context {
	return context.WithValue(ctx, operationKey{}, l)
}

func (l *Ledger) reentrant(ctx context.Context) bool {
	owner, _ := ctx.Value(operationKey{}).(*Ledger)
	return owner == l
}

// rlock takes the read lock unless ctx is a reentrant call, in which case the
// write lock is already held by the enclosing operation.
func (l *Ledger) rlock(ctx context.Context) func() {
	if l.reentrant(ctx) {
		return func() {}
	}
	l.mu.RLock()
	return l.mu.RUnlock
}

// CreatePool allocates a new pool and returns its id.
func (l *Ledger) CreatePool(ctx context.Context, caller common.Address) (uint64, error) {
	if l.reentrant(ctx) {
		return 0, ErrReentrantCall
	}
	if !l.auth.IsAuthorizedAdmin(ctx, caller) {
		l.logger.Warn("create pool rejected", zap.String("caller", caller.Hex()))
		return 0, fmt.Errorf("create pool: %w", ErrUnauthorized)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pool := l.state.registry.create()
	l.emitter.Emit(PoolCreated{Pool: pool.ID, Admin: caller})
	l.logger.Info("pool created", zap.Uint64("pool", pool.ID), zap.String("admin", caller.Hex()))
	return pool.ID, nil
}

// Deposit settles the caller's pending reward, then adds amount to their stake.
func (l *Ledger) Deposit(ctx context.Context, poolID uint64, caller common.Address, amount *uint256.Int) error {
	if l.reentrant(ctx) {
		return ErrReentrantCall
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.deposit(ctx, poolID, caller, amount)
	if errors.Is(err, ErrTransferInDoubt) {
		l.logger.Error("deposit applied with unconfirmed transfer",
			zap.Uint64("pool", poolID),
			zap.String("participant", caller.Hex()),
			zap.String("amount", fixedpoint.String(amount)),
			zap.Error(err),
		)
		l.emitter.Emit(Deposit{Pool: poolID, Participant: caller, Amount: amount.Clone()})
		return err
	}
	if err != nil {
		l.logger.Warn("deposit failed",
			zap.Uint64("pool", poolID),
			zap.String("participant", caller.Hex()),
			zap.String("amount", fixedpoint.String(amount)),
			zap.Error(err),
		)
		return err
	}

	l.emitter.Emit(Deposit{Pool: poolID, Participant: caller, Amount: amount.Clone()})
	l.logger.Debug("deposit",
		zap.Uint64("pool", poolID),
		zap.String("participant", caller.Hex()),
		zap.String("amount", fixedpoint.String(amount)),
	)
	return nil
}

func (l *Ledger) deposit(ctx context.Context, poolID uint64, caller common.Address, amount *uint256.Int) error {
	pool, err := l.state.registry.lookup(poolID)
	if err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}

	key := PositionKey{PoolID: poolID, Participant: caller}
	pos, existed := l.state.position(key)
	poolBefore, posBefore := *pool, pos

	pending, err := fixedpoint.Pending(&pos.StakedAmount, &pool.AccRewardPerShare, &pos.RewardDebt)
	if err != nil {
		return fmt.Errorf("settle position: %w", err)
	}
	staked, err := fixedpoint.Add(&pos.StakedAmount, amount)
	if err != nil {
		return fmt.Errorf("position stake: %w", err)
	}
	total, err := fixedpoint.Add(&pool.TotalStaked, amount)
	if err != nil {
		return fmt.Errorf("pool stake: %w", err)
	}
	debt, err := fixedpoint.ShareToAmount(staked, &pool.AccRewardPerShare)
	if err != nil {
		return fmt.Errorf("reward debt: %w", err)
	}
	deposited, err := fixedpoint.Add(&pool.TotalDeposited, amount)
	if err != nil {
		return fmt.Errorf("pool deposits: %w", err)
	}
	paidOut, err := fixedpoint.Add(&pool.TotalPaidOut, pending)
	if err != nil {
		return fmt.Errorf("pool payouts: %w", err)
	}

	pos.StakedAmount = *staked
	pos.RewardDebt = *debt
	l.state.positions[key] = pos
	pool.TotalStaked = *total
	pool.TotalDeposited = *deposited
	pool.TotalPaidOut = *paidOut

	rollback := func() {
		*pool = poolBefore
		l.state.restorePosition(key, posBefore, existed)
	}

	opCtx := l.enter(ctx)
	if err := l.token.TransferFrom(opCtx, caller, l.custody, amount); err != nil {
		if errors.Is(err, ErrTransferInDoubt) {
			// keep the stake, leave the pending reward owed
			pos.RewardDebt.Sub(debt, pending)
			l.state.positions[key] = pos
			pool.TotalPaidOut = poolBefore.TotalPaidOut
			return fmt.Errorf("pull deposit: %w", err)
		}
		rollback()
		return fmt.Errorf("%w: pull deposit: %w", ErrTransferFailed, err)
	}
	if pending.IsZero() {
		return nil
	}
	err = l.token.Transfer(opCtx, caller, pending)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransferInDoubt) {
		return fmt.Errorf("pay pending reward: %w", err)
	}

	// the deposit is already in custody and must go back
	if refundErr := l.token.Transfer(opCtx, caller, amount); refundErr != nil {
		l.logger.Error("deposit refund failed, amount left in custody",
			zap.Uint64("pool", poolID),
			zap.String("participant", caller.Hex()),
			zap.String("amount", fixedpoint.String(amount)),
			zap.Error(refundErr),
		)
		rollback()
		return fmt.Errorf("%w: pay pending reward: %w (refund: %w)", ErrTransferFailed, err, refundErr)
	}
	rollback()
	return fmt.Errorf("%w: pay pending reward: %w", ErrTransferFailed, err)
}

// Withdraw removes amount from the caller's stake and pays out amount plus
// the settled reward. It returns the payout. When the payout transfer is left
// unconfirmed the withdrawal stays applied and the payout is returned along
// with an error wrapping ErrTransferInDoubt.
func (l *Ledger) Withdraw(ctx context.Context, poolID uint64, caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if l.reentrant(ctx) {
		return nil, ErrReentrantCall
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.withdrawLocked(ctx, poolID, caller, amount)
}

// WithdrawAll withdraws the caller's entire stake. It fails with ErrZeroAmount
// when there is nothing staked, so it never succeeds with a zero payout.
func (l *Ledger) WithdrawAll(ctx context.Context, poolID uint64, caller common.Address) (*uint256.Int, error) {
	if l.reentrant(ctx) {
		return nil, ErrReentrantCall
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.state.registry.lookup(poolID); err != nil {
		return nil, err
	}
	pos, _ := l.state.position(PositionKey{PoolID: poolID, Participant: caller})
	return l.withdrawLocked(ctx, poolID, caller, pos.StakedAmount.Clone())
}

func (l *Ledger) withdrawLocked(ctx context.Context, poolID uint64, caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	payout, err := l.withdraw(ctx, poolID, caller, amount)
	if errors.Is(err, ErrTransferInDoubt) {
		l.logger.Error("withdraw applied with unconfirmed transfer",
			zap.Uint64("pool", poolID),
			zap.String("participant", caller.Hex()),
			zap.String("payout", fixedpoint.String(payout)),
			zap.Error(err),
		)
		l.emitter.Emit(Withdraw{Pool: poolID, Participant: caller, Payout: payout.Clone()})
		return payout, err
	}
	if err != nil {
		l.logger.Warn("withdraw failed",
			zap.Uint64("pool", poolID),
			zap.String("participant", caller.Hex()),
			zap.String("amount", fixedpoint.String(amount)),
			zap.Error(err),
		)
		return nil, err
	}

	l.emitter.Emit(Withdraw{Pool: poolID, Participant: caller, Payout: payout.Clone()})
	l.logger.Debug("withdraw",
		zap.Uint64("pool", poolID),
		zap.String("participant", caller.Hex()),
		zap.String("amount", fixedpoint.String(amount)),
		zap.String("payout", fixedpoint.String(payout)),
	)
	return payout, nil
}

func (l *Ledger) withdraw(ctx context.Context, poolID uint64, caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	pool, err := l.state.registry.lookup(poolID)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrZeroAmount
	}

	key := PositionKey{PoolID: poolID, Participant: caller}
	pos, existed := l.state.position(key)
	if amount.Gt(&pos.StakedAmount) {
		return nil, fmt.Errorf("%w: staked %s, requested %s",
			ErrInsufficientBalance, fixedpoint.String(&pos.StakedAmount), fixedpoint.String(amount))
	}
	poolBefore, posBefore := *pool, pos

	pending, err := fixedpoint.Pending(&pos.StakedAmount, &pool.AccRewardPerShare, &pos.RewardDebt)
	if err != nil {
		return nil, fmt.Errorf("settle position: %w", err)
	}
	payout, err := fixedpoint.Add(amount, pending)
	if err != nil {
		return nil, fmt.Errorf("payout: %w", err)
	}
	staked, err := fixedpoint.Sub(&pos.StakedAmount, amount)
	if err != nil {
		return nil, fmt.Errorf("position stake: %w", err)
	}
	total, err := fixedpoint.Sub(&pool.TotalStaked, amount)
	if err != nil {
		return nil, fmt.Errorf("pool stake: %w", err)
	}
	debt, err := fixedpoint.ShareToAmount(staked, &pool.AccRewardPerShare)
	if err != nil {
		return nil, fmt.Errorf("reward debt: %w", err)
	}
	paidOut, err := fixedpoint.Add(&pool.TotalPaidOut, payout)
	if err != nil {
		return nil, fmt.Errorf("pool payouts: %w", err)
	}

	pos.StakedAmount = *staked
	pos.RewardDebt = *debt
	l.state.positions[key] = pos
	pool.TotalStaked = *total
	pool.TotalPaidOut = *paidOut

	if err := l.token.Transfer(l.enter(ctx), caller, payout); err != nil {
		if errors.Is(err, ErrTransferInDoubt) {
			return payout, fmt.Errorf("pay withdrawal: %w", err)
		}
		*pool = poolBefore
		l.state.restorePosition(key, posBefore, existed)
		return nil, fmt.Errorf("%w: pay withdrawal: %w", ErrTransferFailed, err)
	}
	return payout, nil
}

// AddRewards distributes amount over the positions staked in the pool right
// now, in proportion to their stake. Positions opened later see none of it.
func (l *Ledger) AddRewards(ctx context.Context, poolID uint64, caller common.Address, amount *uint256.Int) error {
	if l.reentrant(ctx) {
		return ErrReentrantCall
	}
	if !l.auth.IsAuthorizedAdmin(ctx, caller) {
		l.logger.Warn("add rewards rejected", zap.Uint64("pool", poolID), zap.String("caller", caller.Hex()))
		return fmt.Errorf("add rewards: %w", ErrUnauthorized)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.addRewards(ctx, poolID, caller, amount)
	if errors.Is(err, ErrTransferInDoubt) {
		l.logger.Error("rewards applied with unconfirmed transfer",
			zap.Uint64("pool", poolID),
			zap.String("amount", fixedpoint.String(amount)),
			zap.Error(err),
		)
		l.emitter.Emit(RewardsAdded{Pool: poolID, Admin: caller, Amount: amount.Clone()})
		return err
	}
	if err != nil {
		l.logger.Warn("add rewards failed",
			zap.Uint64("pool", poolID),
			zap.String("amount", fixedpoint.String(amount)),
			zap.Error(err),
		)
		return err
	}

	l.emitter.Emit(RewardsAdded{Pool: poolID, Admin: caller, Amount: amount.Clone()})
	l.logger.Debug("rewards added", zap.Uint64("pool", poolID), zap.String("amount", fixedpoint.String(amount)))
	return nil
}

func (l *Ledger) addRewards(ctx context.Context, poolID uint64, caller common.Address, amount *uint256.Int) error {
	pool, err := l.state.registry.lookup(poolID)
	if err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if pool.TotalStaked.IsZero() {
		return fmt.Errorf("%w: pool %d", ErrNoStakeToDistributeRewardsTo, poolID)
	}
	poolBefore := *pool

	delta, err := fixedpoint.RewardPerShareDelta(amount, &pool.TotalStaked)
	if err != nil {
		return fmt.Errorf("reward per share: %w", err)
	}
	acc, err := fixedpoint.Add(&pool.AccRewardPerShare, delta)
	if err != nil {
		return fmt.Errorf("accumulator: %w", err)
	}
	rewards, err := fixedpoint.Add(&pool.TotalRewards, amount)
	if err != nil {
		return fmt.Errorf("pool rewards: %w", err)
	}
	if delta.IsZero() {
		l.logger.Warn("reward below accumulator resolution",
			zap.Uint64("pool", poolID),
			zap.String("amount", fixedpoint.String(amount)),
			zap.String("total_staked", fixedpoint.String(&pool.TotalStaked)),
		)
	}

	pool.AccRewardPerShare = *acc
	pool.TotalRewards = *rewards

	if err := l.token.TransferFrom(l.enter(ctx), caller, l.custody, amount); err != nil {
		if errors.Is(err, ErrTransferInDoubt) {
			return fmt.Errorf("pull rewards: %w", err)
		}
		*pool = poolBefore
		return fmt.Errorf("%w: pull rewards: %w", ErrTransferFailed, err)
	}
	return nil
}

// PendingReward returns the reward the participant would receive if their
// position were settled now. It is zero for a participant without a position.
func (l *Ledger) PendingReward(ctx context.Context, poolID uint64, participant common.Address) (*uint256.Int, error) {
	defer l.rlock(ctx)()

	pool, err := l.state.registry.lookup(poolID)
	if err != nil {
		return nil, err
	}
	pos, _ := l.state.position(PositionKey{PoolID: poolID, Participant: participant})
	return fixedpoint.Pending(&pos.StakedAmount, &pool.AccRewardPerShare, &pos.RewardDebt)
}

// Position returns a copy of the participant's position, zero-valued if absent.
func (l *Ledger) Position(ctx context.Context, poolID uint64, participant common.Address) (Position, error) {
	defer l.rlock(ctx)()

	if _, err := l.state.registry.lookup(poolID); err != nil {
		return Position{}, err
	}
	pos, _ := l.state.position(PositionKey{PoolID: poolID, Participant: participant})
	return pos, nil
}

// Positions returns copies of every position in the pool.
func (l *Ledger) Positions(ctx context.Context, poolID uint64) ([]Position, error) {
	defer l.rlock(ctx)()

	if _, err := l.state.registry.lookup(poolID); err != nil {
		return nil, err
	}
	out := make([]Position, 0)
	for _, pos := range l.state.sortedPositions() {
		if pos.PoolID == poolID {
			out = append(out, pos)
		}
	}
	return out, nil
}

// Pool returns a copy of the pool record.
func (l *Ledger) Pool(ctx context.Context, poolID uint64) (Pool, error) {
	defer l.rlock(ctx)()

	pool, err := l.state.registry.lookup(poolID)
	if err != nil {
		return Pool{}, err
	}
	return *pool, nil
}

// Pools returns copies of all pools ordered by id.
func (l *Ledger) Pools(ctx context.Context) []Pool {
	defer l.rlock(ctx)()

	return l.state.registry.snapshot()
}

// CustodyBalance returns the token balance held by the custody account.
func (l *Ledger) CustodyBalance(ctx context.Context) (*uint256.Int, error) {
	balance, err := l.token.BalanceOf(ctx, l.custody)
	if err != nil {
		return nil, fmt.Errorf("custody balance: %w", err)
	}
	return balance, nil
}
