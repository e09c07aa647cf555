package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis is a simulated escrow shared by every process pointing at the same
// Redis: one hash per job, confirmed once ConfirmDelay has passed since the
// payment.
type Redis struct {
	rdb          *redis.Client
	prefix       string
	ConfirmDelay time.Duration
}

func NewRedis(rdb *redis.Client, prefix string, confirmDelay time.Duration) *Redis {
	if prefix == "" {
		prefix = "acp:escrow"
	}
	return &Redis{rdb: rdb, prefix: prefix, ConfirmDelay: confirmDelay}
}

func (l *Redis) key(jobID uuid.UUID) string { return l.prefix + ":" + jobID.String() }

// KEYS[1]=escrow hash, ARGV: tx, job, amount, payee, paid_at(unix ms)
var payScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.call('HMGET', KEYS[1], 'tx', 'amount', 'payee')
end
redis.call('HSET', KEYS[1], 'tx', ARGV[1], 'job', ARGV[2], 'amount', ARGV[3], 'payee', ARGV[4], 'paid_at', ARGV[5], 'state', 'held')
return {ARGV[1], ARGV[3], ARGV[4]}
`)

// KEYS[1]=escrow hash, ARGV[1]=target state. Returns 1 on change, 0 when
// already in target, -1 when missing, -2 when settled the other way.
var settleScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
if state == ARGV[1] then return 0 end
if state ~= 'held' then return -2 end
redis.call('HSET', KEYS[1], 'state', ARGV[1])
return 1
`)

func (l *Redis) Pay(ctx context.Context, jobID uuid.UUID, amount int64, payee string) (Receipt, error) {
	tx := txHash(jobID)
	res, err := payScript.Run(ctx, l.rdb, []string{l.key(jobID)},
		tx, jobID.String(), amount, payee, time.Now().UTC().UnixMilli(),
	).StringSlice()
	if err != nil {
		return Receipt{}, err
	}
	if len(res) != 3 {
		return Receipt{}, errors.New("ledger: unexpected pay reply")
	}
	got, err := strconv.ParseInt(res[1], 10, 64)
	if err != nil {
		return Receipt{}, err
	}
	if got != amount {
		return Receipt{}, ErrAmountMismatch
	}
	return Receipt{TxHash: res[0], JobID: jobID, Amount: got, Payee: res[2]}, nil
}

func (l *Redis) Confirm(ctx context.Context, r Receipt) (bool, error) {
	e, err := l.Escrow(ctx, r.JobID)
	if err != nil {
		return false, err
	}
	if e.TxHash != r.TxHash {
		return false, ErrEscrowNotFound
	}
	return time.Since(e.PaidAt) >= l.ConfirmDelay, nil
}

func (l *Redis) Release(ctx context.Context, jobID uuid.UUID) error {
	return l.settle(ctx, jobID, EscrowReleased)
}

func (l *Redis) Refund(ctx context.Context, jobID uuid.UUID) error {
	return l.settle(ctx, jobID, EscrowRefunded)
}

func (l *Redis) settle(ctx context.Context, jobID uuid.UUID, to EscrowState) error {
	n, err := settleScript.Run(ctx, l.rdb, []string{l.key(jobID)}, string(to)).Int()
	if err != nil {
		return err
	}
	switch n {
	case -1:
		return ErrEscrowNotFound
	case -2:
		return ErrEscrowSettled
	}
	return nil
}

func (l *Redis) Escrow(ctx context.Context, jobID uuid.UUID) (Escrow, error) {
	m, err := l.rdb.HGetAll(ctx, l.key(jobID)).Result()
	if err != nil {
		return Escrow{}, err
	}
	if len(m) == 0 {
		return Escrow{}, ErrEscrowNotFound
	}
	amount, _ := strconv.ParseInt(m["amount"], 10, 64)
	paidMs, _ := strconv.ParseInt(m["paid_at"], 10, 64)
	return Escrow{
		Receipt: Receipt{TxHash: m["tx"], JobID: jobID, Amount: amount, Payee: m["payee"]},
		State:   EscrowState(m["state"]),
		PaidAt:  time.UnixMilli(paidMs).UTC(),
	}, nil
}
