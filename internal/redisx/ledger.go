package redisx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/safar/go-order-core/internal/inventory"
	"github.com/safar/go-order-core/internal/models"
)

const (
	reserveMissing      = -1
	reserveInsufficient = -2
	reserveClosed       = -3
	reserveHeld         = -4

	// released marks a reservation key after release so a late or repeated reserve with the
	// same id cannot claim stock again.
	released = "released"

	// Tombstones outlive any in-flight reserve by a wide margin.
	tombstoneTTL = 24 * time.Hour
)

// reserveScript checks and decrements in one server-side step. A reservation key that
// already exists short-circuits, so replaying the script never claims twice.
var reserveScript = redis.NewScript(`
local current = redis.call('GET', KEYS[2])
if current == ARGV[2] then
  return -3
end
if current then
  return -4
end
local available = redis.call('GET', KEYS[1])
if not available then
  return -1
end
available = tonumber(available)
local qty = tonumber(ARGV[1])
if available < qty then
  return -2
end
redis.call('DECRBY', KEYS[1], qty)
redis.call('SET', KEYS[2], qty)
return available - qty
`)

// releaseScript restores the stored quantity once and leaves a tombstone in place of the
// reservation, including for ids that were never reserved.
var releaseScript = redis.NewScript(`
local qty = redis.call('GET', KEYS[2])
redis.call('SET', KEYS[2], ARGV[1], 'EX', ARGV[2])
if not qty or qty == ARGV[1] then
  return 0
end
redis.call('INCRBY', KEYS[1], tonumber(qty))
return 1
`)

// Ledger keeps each product's available quantity in a Redis counter. Lua scripts make the
// check-and-decrement atomic per product; the catalog administration path seeds counters
// with SetAvailable.
type Ledger struct {
	rdb        redis.UniversalClient
	maxRetries uint64
	baseDelay  time.Duration
}

func NewLedger(rdb redis.UniversalClient, maxRetries int) *Ledger {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Ledger{rdb: rdb, maxRetries: uint64(maxRetries), baseDelay: 25 * time.Millisecond}
}

func (l *Ledger) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.baseDelay
	b.MaxInterval = 500 * time.Millisecond
	return backoff.WithContext(backoff.WithMaxRetries(b, l.maxRetries), ctx)
}

// run retries connection-level failures. Both scripts are safe to replay when the first
// attempt was applied but its reply was lost.
func (l *Ledger) run(ctx context.Context, script *redis.Script, keys []string, args ...any) (int64, error) {
	return backoff.RetryWithData(func() (int64, error) {
		n, err := script.Run(ctx, l.rdb, keys, args...).Int64()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return 0, backoff.Permanent(err)
			}
			return 0, err
		}
		return n, nil
	}, l.policy(ctx))
}

func (l *Ledger) Reserve(ctx context.Context, reservationID string, productID int64, quantity int) (models.Reservation, error) {
	if reservationID == "" {
		return models.Reservation{}, inventory.ErrMissingID
	}
	if quantity <= 0 {
		return models.Reservation{}, inventory.ErrInvalidQuantity
	}

	res := models.Reservation{
		ID:        reservationID,
		ProductID: productID,
		Quantity:  quantity,
		CreatedAt: time.Now(),
	}

	n, err := l.run(ctx, reserveScript,
		[]string{availableKey(productID), reservationKey(productID, res.ID)}, quantity, released)
	if err != nil {
		return models.Reservation{}, fmt.Errorf("reserve stock: %w", err)
	}

	switch n {
	case reserveMissing:
		return models.Reservation{}, inventory.ErrProductNotFound
	case reserveInsufficient:
		return models.Reservation{}, inventory.ErrInsufficientStock
	case reserveClosed:
		return models.Reservation{}, inventory.ErrReservationClosed
	case reserveHeld:
		return l.held(ctx, res)
	}
	return res, nil
}

// held reports an outstanding reservation with the quantity Redis recorded for it.
func (l *Ledger) held(ctx context.Context, res models.Reservation) (models.Reservation, error) {
	v, err := l.rdb.Get(ctx, reservationKey(res.ProductID, res.ID)).Result()
	if err != nil {
		return models.Reservation{}, fmt.Errorf("read reservation %s: %w", res.ID, err)
	}
	if v == released {
		return models.Reservation{}, inventory.ErrReservationClosed
	}
	qty, err := strconv.Atoi(v)
	if err != nil {
		return models.Reservation{}, fmt.Errorf("parse reservation %s: %w", res.ID, err)
	}
	res.Quantity = qty
	return res, nil
}

func (l *Ledger) Release(ctx context.Context, reservation models.Reservation) error {
	if reservation.ID == "" {
		return nil
	}
	_, err := l.run(ctx, releaseScript,
		[]string{availableKey(reservation.ProductID), reservationKey(reservation.ProductID, reservation.ID)},
		released, int(tombstoneTTL/time.Second))
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	return nil
}

func (l *Ledger) AvailableQuantity(ctx context.Context, productID int64) (int, error) {
	s, err := l.rdb.Get(ctx, availableKey(productID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, inventory.ErrProductNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get available quantity: %w", err)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse available quantity %q: %w", s, err)
	}
	return n, nil
}

// SetAvailable overwrites a product's counter. Outstanding reservations are unaffected.
func (l *Ledger) SetAvailable(ctx context.Context, productID int64, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("available quantity must not be negative")
	}
	if err := l.rdb.Set(ctx, availableKey(productID), quantity, 0).Err(); err != nil {
		return fmt.Errorf("set available quantity: %w", err)
	}
	return nil
}

// SeedMissing initialises counters that do not exist yet and leaves existing ones alone, so
// it is safe to run on every start.
func (l *Ledger) SeedMissing(ctx context.Context, quantities map[int64]int) (int, error) {
	pipe := l.rdb.Pipeline()
	cmds := make([]*redis.BoolCmd, 0, len(quantities))
	for productID, quantity := range quantities {
		cmds = append(cmds, pipe.SetNX(ctx, availableKey(productID), quantity, 0))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("seed available quantities: %w", err)
	}

	seeded := 0
	for _, cmd := range cmds {
		if cmd.Val() {
			seeded++
		}
	}
	return seeded, nil
}
