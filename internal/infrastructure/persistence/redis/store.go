package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xiebiao/stockledger/internal/domain/reservation"
	"github.com/xiebiao/stockledger/internal/domain/stock"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
)

var (
	//go:embed lua/swap.lua
	swapLua string
	//go:embed lua/cas.lua
	casLua string
	//go:embed lua/create.lua
	createLua string
	//go:embed lua/hold.lua
	holdLua string
	//go:embed lua/settle.lua
	settleLua string

	casScript    = redis.NewScript(swapLua + "\n" + casLua)
	createScript = redis.NewScript(createLua)
	holdScript   = redis.NewScript(swapLua + "\n" + holdLua)
	settleScript = redis.NewScript(swapLua + "\n" + settleLua)
)

// Store keeps all keys under one hash tag, "{prefix}", so they share a
// cluster slot and the scripts stay valid on Redis Cluster.
type Store struct {
	client       redis.UniversalClient
	prefix       string
	journalLimit int
}

// NewStore uses prefix for every key. A journalLimit above zero trims each
// SKU's movement list to that many newest entries.
func NewStore(client redis.UniversalClient, prefix string, journalLimit int) *Store {
	if prefix == "" {
		prefix = "stockledger"
	}
	return &Store{
		client:       client,
		prefix:       "{" + prefix + "}",
		journalLimit: journalLimit,
	}
}

func (s *Store) Stocks() stock.Repository { return stockRepository{s} }

func (s *Store) Movements() stock.MovementRepository { return stockRepository{s} }

func (s *Store) Reservations() reservation.Repository { return reservationRepository{s} }

func (s *Store) Ledger() reservation.Ledger { return ledger{s} }

func (s *Store) stockKey(sku string) string { return s.prefix + ":stock:" + sku }
func (s *Store) skusKey() string { return s.prefix + ":skus" }
func (s *Store) journalKey(sku string) string { return s.prefix + ":journal:" + sku }
func (s *Store) seqKey() string { return s.prefix + ":movement_seq" }
func (s *Store) reservationKey(id string) string { return s.prefix + ":res:" + id }
func (s *Store) expiryKey() string { return s.prefix + ":expiry" }
func (s *Store) skuReservationsKey(sku string) string { return s.prefix + ":sku_res:" + sku }

// swapArgs are ARGV[1..6] of every script that embeds swap.lua.
func (s *Store) swapArgs(sw stock.Swap) ([]interface{}, error) {
	movement, err := json.Marshal(fromMovement(sw.Movement))
	if err != nil {
		return nil, fmt.Errorf("marshal movement: %w", err)
	}
	return []interface{}{
		sw.ExpectedVersion,
		sw.OnHand,
		sw.Reserved,
		formatTime(sw.At),
		string(movement),
		s.journalLimit,
	}, nil
}

func (s *Store) swapKeys(sku string) []string {
	return []string{s.stockKey(sku), s.journalKey(sku), s.seqKey()}
}

// scriptError maps the error replies of the Lua scripts.
func scriptError(err error, op string) error {
	var replyErr redis.Error
	if !errors.As(err, &replyErr) {
		return apperrors.WrapCode(err, apperrors.ErrCodeRedisError, op)
	}
	msg := replyErr.Error()
	switch {
	case strings.HasPrefix(msg, "SKU_NOT_FOUND"):
		return stock.ErrSKUNotFound
	case strings.HasPrefix(msg, "SKU_EXISTS"):
		return stock.ErrSKUExists
	case strings.HasPrefix(msg, "VERSION_CONFLICT"):
		return stock.ErrVersionConflict
	case strings.HasPrefix(msg, "INVARIANT"):
		return stock.ErrInvariantViolation
	case strings.HasPrefix(msg, "DUPLICATE"):
		return reservation.ErrDuplicateID
	case strings.HasPrefix(msg, "RESERVATION_NOT_FOUND"):
		return reservation.ErrReservationNotFound
	case strings.HasPrefix(msg, "STATUS_CONFLICT"):
		return reservation.ErrStatusConflict
	case strings.HasPrefix(msg, "SKU_MISMATCH"):
		return fmt.Errorf("%s: reservation belongs to another sku", op)
	default:
		return apperrors.WrapCode(err, apperrors.ErrCodeRedisError, op)
	}
}

type stockRepository struct{ *Store }

func (r stockRepository) Create(ctx context.Context, rec *stock.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	version := rec.Version
	if version == 0 {
		version = 1
	}

	err := createScript.Run(ctx, r.client,
		[]string{r.stockKey(rec.SKU), r.skusKey()},
		rec.SKU, rec.OnHand, rec.Reserved, version, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	).Err()
	if err != nil {
		return scriptError(err, "create stock record")
	}
	return nil
}

func (r stockRepository) Get(ctx context.Context, sku string) (*stock.Record, error) {
	fields, err := r.client.HGetAll(ctx, r.stockKey(sku)).Result()
	if err != nil {
		return nil, apperrors.WrapCode(err, apperrors.ErrCodeRedisError, "get stock record")
	}
	if len(fields) == 0 {
		return nil, stock.ErrSKUNotFound
	}
	return parseRecord(sku, fields)
}

func (r stockRepository) List(ctx context.Context) ([]*stock.Record, error) {
	skus, err := r.client.SMembers(ctx, r.skusKey()).Result()
	if err != nil {
		return nil, apperrors.WrapCode(err, apperrors.ErrCodeRedisError, "list skus")
	}
	sort.Strings(skus)

	cmds := make([]*redis.MapStringStringCmd, len(skus))
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, sku := range skus {
			cmds[i] = p.HGetAll(ctx, r.stockKey(sku))
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.WrapCode(err, apperrors.ErrCodeRedisError, "list stock records")
	}

	out := make([]*stock.Record, 0, len(skus))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := parseRecord(skus[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r stockRepository) CompareAndSwap(ctx context.Context, sw stock.Swap) (int64, error) {
	if err := sw.Validate(); err != nil {
		return 0, err
	}
	args, err := r.swapArgs(sw)
	if err != nil {
		return 0, err
	}

	version, err := casScript.Run(ctx, r.client, r.swapKeys(sw.SKU), args...).Int64()
	if err != nil {
		return 0, scriptError(err, "swap stock record")
	}
	return version, nil
}

func (r stockRepository) ListMovements(ctx context.Context, sku string, limit int) ([]*stock.Movement, error) {
	if limit <= 0 {
		return []*stock.Movement{}, nil
	}

	raw, err := r.client.LRange(ctx, r.journalKey(sku), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, apperrors.WrapCode(err, apperrors.ErrCodeRedisError, "list stock movements")
	}

	out := make([]*stock.Movement, 0, len(raw))
	for _, item := range raw {
		var m movementRecord
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode movement of %s: %w", sku, err)
		}
		out = append(out, m.toMovement())
	}
	return out, nil
}

type reservationRepository struct{ *Store }

func (r reservationRepository) Get(ctx context.Context, id string) (*reservation.Reservation, error) {
	fields, err := r.client.HGetAll(ctx, r.reservationKey(id)).Result()
	if err != nil {
		return nil, apperrors.WrapCode(err, apperrors.ErrCodeRedisError, "get reservation")
	}
	if len(fields) == 0 {
		return nil, reservation.ErrReservationNotFound
	}
	return parseReservation(id, fields)
}

func (r reservationRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*reservation.Reservation, error) {
	if limit <= 0 {
		return []*reservation.Reservation{}, nil
	}
	ids, err := r.client.ZRangeByScore(ctx, r.expiryKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, apperrors.WrapCode(err, apperrors.ErrCodeRedisError, "list expired reservations")
	}

	out, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (r reservationRepository) ListBySKU(ctx context.Context, sku string, status reservation.Status) ([]*reservation.Reservation, error) {
	ids, err := r.client.SMembers(ctx, r.skuReservationsKey(sku)).Result()
	if err != nil {
		return nil, apperrors.WrapCode(err, apperrors.ErrCodeRedisError, "list reservations by sku")
	}

	all, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*reservation.Reservation, 0, len(all))
	for _, res := range all {
		if res.Status == status {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r reservationRepository) load(ctx context.Context, ids []string) ([]*reservation.Reservation, error) {
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, r.reservationKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.WrapCode(err, apperrors.ErrCodeRedisError, "load reservations")
	}

	out := make([]*reservation.Reservation, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		res, err := parseReservation(ids[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

type ledger struct{ *Store }

func (l ledger) Hold(ctx context.Context, res *reservation.Reservation, sw stock.Swap) (int64, error) {
	if !res.IsPending() || res.SKU != sw.SKU {
		return 0, fmt.Errorf("hold %s: reservation must be pending and match swap sku", res.ID)
	}
	if err := sw.Validate(); err != nil {
		return 0, err
	}
	args, err := l.swapArgs(sw)
	if err != nil {
		return 0, err
	}
	args = append(args,
		res.ID,
		res.SKU,
		res.Quantity,
		formatTime(res.CreatedAt),
		formatTime(res.ExpiresAt),
		expiryScore(res.ExpiresAt),
	)

	keys := append(l.swapKeys(sw.SKU),
		l.reservationKey(res.ID), l.expiryKey(), l.skuReservationsKey(res.SKU))
	version, err := holdScript.Run(ctx, l.client, keys, args...).Int64()
	if err != nil {
		return 0, scriptError(err, "hold reservation")
	}
	return version, nil
}

func (l ledger) Settle(ctx context.Context, id string, to reservation.Status, at time.Time, sw stock.Swap) (int64, error) {
	if !reservation.StatusPending.CanTransitionTo(to) {
		return 0, reservation.ErrStatusConflict
	}
	args, err := l.swapArgs(sw)
	if err != nil {
		return 0, err
	}
	args = append(args, id, sw.SKU, string(to), formatTime(at))

	keys := append(l.swapKeys(sw.SKU), l.reservationKey(id), l.expiryKey())
	version, err := settleScript.Run(ctx, l.client, keys, args...).Int64()
	if err != nil {
		return 0, scriptError(err, "settle reservation")
	}
	return version, nil
}
