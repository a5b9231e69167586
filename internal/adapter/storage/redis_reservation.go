package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

const (
	reservationKeyPrefix  = "reservation:"
	reservationExpiryKey  = "reservations:expiry"
	reservationCreatedKey = "reservations:created"
)

// updateStatusScript flips the status field only if it still holds the
// expected value. Closed reservations leave the expiry index.
var updateStatusScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return {0, ''}
end

local r = cjson.decode(raw)
if r.status ~= ARGV[1] then
	return {1, r.status}
end

r.status = ARGV[2]
local encoded = cjson.encode(r)
redis.call('SET', KEYS[1], encoded)
if ARGV[3] == '1' then
	redis.call('ZREM', KEYS[2], ARGV[4])
end

return {2, encoded}
`)

type reservationJSON struct {
	ReservationID string    `json:"reservation_id"`
	ProductID     string    `json:"product_id"`
	StoreID       string    `json:"store_id"`
	Quantity      int       `json:"quantity"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	CorrelationID string    `json:"correlation_id"`
}

// RedisReservationRepository stores reservations as JSON documents with
// sorted-set indexes on expiry and creation time.
type RedisReservationRepository struct {
	client *redis.Client
}

func NewRedisReservationRepository(client *redis.Client) *RedisReservationRepository {
	return &RedisReservationRepository{client: client}
}

func (r *RedisReservationRepository) Save(ctx context.Context, res domain.Reservation) error {
	raw, err := json.Marshal(toReservationJSON(res))
	if err != nil {
		return errors.Wrap(err, "encode reservation")
	}

	ok, err := r.client.SetNX(ctx, reservationKeyPrefix+res.ReservationID, raw, 0).Result()
	if err != nil {
		return errors.Wrap(err, "save reservation")
	}
	if !ok {
		return errors.Wrapf(domain.ErrAlreadyExists, "reservation %s", res.ReservationID)
	}

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, reservationCreatedKey, redis.Z{Score: float64(res.CreatedAt.UnixMilli()), Member: res.ReservationID})
	if !res.Status.IsTerminal() {
		pipe.ZAdd(ctx, reservationExpiryKey, redis.Z{Score: float64(res.ExpiresAt.UnixMilli()), Member: res.ReservationID})
	}
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "index reservation")
}

func (r *RedisReservationRepository) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	raw, err := r.client.Get(ctx, reservationKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get reservation")
	}
	res, err := decodeReservation(raw)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *RedisReservationRepository) UpdateStatus(ctx context.Context, id string, expected, status domain.ReservationStatus) (domain.Reservation, error) {
	if !expected.CanTransitionTo(status) {
		return domain.Reservation{}, &domain.InvalidStateTransitionError{ReservationID: id, From: expected, To: status}
	}

	closing := "0"
	if status.IsTerminal() {
		closing = "1"
	}
	out, err := updateStatusScript.Run(ctx, r.client,
		[]string{reservationKeyPrefix + id, reservationExpiryKey},
		string(expected), string(status), closing, id,
	).Slice()
	if err != nil {
		return domain.Reservation{}, errors.Wrap(err, "update reservation status")
	}
	if len(out) != 2 {
		return domain.Reservation{}, errors.Errorf("unexpected script reply %v", out)
	}

	code, _ := out[0].(int64)
	payload, _ := out[1].(string)
	switch code {
	case 0:
		return domain.Reservation{}, errors.Wrapf(domain.ErrReservationNotFound, "reservation %s", id)
	case 1:
		return domain.Reservation{}, &domain.InvalidStateTransitionError{
			ReservationID: id,
			From:          domain.ReservationStatus(payload),
			To:            status,
		}
	}
	return decodeReservation([]byte(payload))
}

func (r *RedisReservationRepository) FindExpired(ctx context.Context, now time.Time) ([]domain.Reservation, error) {
	ids, err := r.client.ZRangeByScore(ctx, reservationExpiryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "scan expiry index")
	}

	all, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	due := all[:0]
	for _, res := range all {
		if !res.Status.IsTerminal() && res.ExpiresAt.Before(now) {
			due = append(due, res)
		}
	}
	return due, nil
}

func (r *RedisReservationRepository) ExistsByID(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, reservationKeyPrefix+id).Result()
	if err != nil {
		return false, errors.Wrap(err, "check reservation")
	}
	return n == 1, nil
}

func (r *RedisReservationRepository) List(ctx context.Context) ([]domain.Reservation, error) {
	ids, err := r.client.ZRange(ctx, reservationCreatedKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "scan creation index")
	}
	return r.load(ctx, ids)
}

func (r *RedisReservationRepository) load(ctx context.Context, ids []string) ([]domain.Reservation, error) {
	out := []domain.Reservation{}
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = reservationKeyPrefix + id
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "load reservations")
	}

	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		res, err := decodeReservation([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func toReservationJSON(res domain.Reservation) reservationJSON {
	return reservationJSON{
		ReservationID: res.ReservationID,
		ProductID:     res.ProductID,
		StoreID:       res.StoreID,
		Quantity:      res.Quantity,
		Status:        string(res.Status),
		CreatedAt:     res.CreatedAt.UTC(),
		ExpiresAt:     res.ExpiresAt.UTC(),
		CorrelationID: res.CorrelationID,
	}
}

func decodeReservation(raw []byte) (domain.Reservation, error) {
	var j reservationJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		return domain.Reservation{}, errors.Wrap(err, "decode reservation")
	}
	return domain.Reservation{
		ReservationID: j.ReservationID,
		ProductID:     j.ProductID,
		StoreID:       j.StoreID,
		Quantity:      j.Quantity,
		Status:        domain.ReservationStatus(j.Status),
		CreatedAt:     j.CreatedAt,
		ExpiresAt:     j.ExpiresAt,
		CorrelationID: j.CorrelationID,
	}, nil
}
