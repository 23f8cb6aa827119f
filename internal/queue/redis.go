package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Options tunes a RedisQueue.
type Options struct {
	Prefix string
	Name   string
	// StalledInterval is the lease granted to a claimed delivery. A delivery
	// still active after its lease expires is redelivered.
	StalledInterval     time.Duration
	RemoveOnCompleteAge time.Duration
	RemoveOnFailAge     time.Duration
	Logger              zerolog.Logger
}

// RedisQueue stores deliveries in Redis:
//
//	<prefix>:<name>:wait         list of waiting delivery ids (LPUSH in, claimed from the right)
//	<prefix>:<name>:active       list of in-flight delivery ids
//	<prefix>:<name>:leases       zset delivery id -> lease deadline (unix ms)
//	<prefix>:<name>:job:<id>     hash with payload and bookkeeping
//	<prefix>:<name>:events       pub/sub channel of Event JSON
type RedisQueue struct {
	rdb    redis.UniversalClient
	opts   Options
	logger zerolog.Logger
}

// NewRedisQueue builds a queue over rdb.
func NewRedisQueue(rdb redis.UniversalClient, opts Options) *RedisQueue {
	if opts.Prefix == "" {
		opts.Prefix = "genstudio"
	}
	if opts.Name == "" {
		opts.Name = "image-generation"
	}
	if opts.StalledInterval <= 0 {
		opts.StalledInterval = 24 * time.Hour
	}
	if opts.RemoveOnCompleteAge <= 0 {
		opts.RemoveOnCompleteAge = time.Minute
	}
	if opts.RemoveOnFailAge <= 0 {
		opts.RemoveOnFailAge = 2 * time.Minute
	}
	return &RedisQueue{
		rdb:    rdb,
		opts:   opts,
		logger: opts.Logger.With().Str("queue", opts.Name).Logger(),
	}
}

// Name returns the queue name.
func (q *RedisQueue) Name() string { return q.opts.Name }

func (q *RedisQueue) key(part string) string {
	return q.opts.Prefix + ":" + q.opts.Name + ":" + part
}

func (q *RedisQueue) jobKey(deliveryID string) string {
	return q.key("job:" + deliveryID)
}

// EventsChannel returns the pub/sub channel lifecycle events are published on.
func (q *RedisQueue) EventsChannel() string {
	return q.key("events")
}

// Ping verifies the engine is reachable.
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue: ping: %w", err)
	}
	return nil
}

// Enqueue appends a unit of work for jobID and returns its delivery id.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: encode payload: %w", err)
	}
	id := uuid.NewString()
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id), map[string]any{
		"jobId":      jobID,
		"data":       string(data),
		"state":      string(StateWaiting),
		"attempts":   0,
		"enqueuedAt": time.Now().UnixMilli(),
	})
	pipe.LPush(ctx, q.key("wait"), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return id, nil
}

// Delivery loads the metadata of one delivery.
func (q *RedisQueue) Delivery(ctx context.Context, deliveryID string) (*Delivery, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(deliveryID)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: load delivery: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrDeliveryNotFound
	}
	return deliveryFromHash(deliveryID, fields), nil
}

// Counts returns the number of waiting and active deliveries.
func (q *RedisQueue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.LLen(ctx, q.key("wait"))
	active := pipe.LLen(ctx, q.key("active"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("queue: counts: %w", err)
	}
	return Counts{Waiting: waiting.Val(), Active: active.Val()}, nil
}

// claimScript moves the oldest waiting id to active and leases it in one step,
// so an id is never active without a lease. Ids whose metadata is gone are
// dropped and the next one is tried.
//
//	KEYS: wait, active, leases
//	ARGV: job key prefix, lease deadline (ms), active state, now (ms)
var claimScript = redis.NewScript(`
local dropped = {}
while true do
  local id = redis.call('LMOVE', KEYS[1], KEYS[2], 'RIGHT', 'LEFT')
  if not id then
    return {'', {}, dropped}
  end
  local jobKey = ARGV[1] .. id
  if redis.call('HEXISTS', jobKey, 'data') == 1 then
    redis.call('ZADD', KEYS[3], ARGV[2], id)
    redis.call('HINCRBY', jobKey, 'attempts', 1)
    redis.call('HSET', jobKey, 'state', ARGV[3], 'processedOn', ARGV[4])
    return {id, redis.call('HGETALL', jobKey), dropped}
  end
  redis.call('LREM', KEYS[2], 1, id)
  redis.call('ZREM', KEYS[3], id)
  redis.call('DEL', jobKey)
  table.insert(dropped, id)
end
`)

// recoverScript requeues active ids whose lease expired, and active ids that
// have no lease at all.
//
//	KEYS: leases, active, wait
//	ARGV: job key prefix, now (ms), waiting state
var recoverScript = redis.NewScript(`
local recovered = {}
local function requeue(id)
  redis.call('ZREM', KEYS[1], id)
  redis.call('LREM', KEYS[2], 1, id)
  redis.call('RPUSH', KEYS[3], id)
  redis.call('HSET', ARGV[1] .. id, 'state', ARGV[3])
  table.insert(recovered, id)
end
for _, id in ipairs(redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])) do
  requeue(id)
end
for _, id in ipairs(redis.call('LRANGE', KEYS[2], 0, -1)) do
  if not redis.call('ZSCORE', KEYS[1], id) then
    requeue(id)
  end
end
return recovered
`)

// Claim moves the oldest waiting delivery to active, grants it a lease and
// publishes an active event. It returns nil when nothing is waiting.
func (q *RedisQueue) Claim(ctx context.Context) (*Delivery, error) {
	now := time.Now()
	res, err := claimScript.Run(ctx, q.rdb,
		[]string{q.key("wait"), q.key("active"), q.key("leases")},
		q.key("job:"), now.Add(q.opts.StalledInterval).UnixMilli(), string(StateActive), now.UnixMilli(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("queue: claim: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("queue: claim: unexpected reply %v", res)
	}
	for _, id := range stringsOf(res[2]) {
		q.logger.Warn().Str("delivery_id", id).Msg("queue: dropped delivery without payload")
	}
	id, _ := res[0].(string)
	if id == "" {
		return nil, nil
	}
	d := deliveryFromHash(id, hashOf(res[1]))
	q.publish(ctx, Event{Type: EventActive, DeliveryID: id})
	return d, nil
}

// Complete acknowledges a delivery as done.
func (q *RedisQueue) Complete(ctx context.Context, deliveryID string) error {
	return q.settle(ctx, deliveryID, StateCompleted, "", q.opts.RemoveOnCompleteAge)
}

// Fail acknowledges a delivery as failed with reason.
func (q *RedisQueue) Fail(ctx context.Context, deliveryID, reason string) error {
	return q.settle(ctx, deliveryID, StateFailed, reason, q.opts.RemoveOnFailAge)
}

func (q *RedisQueue) settle(ctx context.Context, id string, state State, reason string, keep time.Duration) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.key("active"), 1, id)
	pipe.ZRem(ctx, q.key("leases"), id)
	pipe.HSet(ctx, q.jobKey(id),
		"state", string(state),
		"failedReason", reason,
		"finishedOn", time.Now().UnixMilli(),
	)
	pipe.Expire(ctx, q.jobKey(id), keep)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: settle %s as %s: %w", id, state, err)
	}
	evt := Event{Type: EventCompleted, DeliveryID: id}
	if state == StateFailed {
		evt = Event{Type: EventFailed, DeliveryID: id, FailedReason: reason}
	}
	q.publish(ctx, evt)
	return nil
}

// RecoverStalled returns every active delivery whose lease expired before now,
// or that holds no lease, to the head of the wait list. It reports how many
// were recovered.
func (q *RedisQueue) RecoverStalled(ctx context.Context, now time.Time) (int, error) {
	res, err := recoverScript.Run(ctx, q.rdb,
		[]string{q.key("leases"), q.key("active"), q.key("wait")},
		q.key("job:"), now.UnixMilli(), string(StateWaiting),
	).Slice()
	if err != nil {
		return 0, fmt.Errorf("queue: recover stalled: %w", err)
	}
	ids := stringsOf(res)
	for _, id := range ids {
		q.logger.Warn().Str("delivery_id", id).Msg("queue: stalled delivery requeued")
		q.publish(ctx, Event{Type: EventStalled, DeliveryID: id})
	}
	return len(ids), nil
}

func (q *RedisQueue) publish(ctx context.Context, evt Event) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := q.rdb.Publish(ctx, q.EventsChannel(), raw).Err(); err != nil {
		q.logger.Warn().Err(err).Str("delivery_id", evt.DeliveryID).Str("event", string(evt.Type)).Msg("queue: publish event failed")
	}
}

// Subscribe opens a subscription to the lifecycle event stream. The returned
// subscription is confirmed before Subscribe returns.
func (q *RedisQueue) Subscribe(ctx context.Context) (*Subscription, error) {
	ps := q.rdb.Subscribe(ctx, q.EventsChannel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("queue: subscribe: %w", err)
	}
	sub := &Subscription{ps: ps, events: make(chan Event, 64), done: make(chan struct{})}
	go sub.pump(q.logger)
	return sub, nil
}

// Subscription is a live feed of lifecycle events.
type Subscription struct {
	ps        *redis.PubSub
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Events returns the event channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close ends the subscription. Events still buffered for a consumer that has
// stopped reading are discarded.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *Subscription) pump(logger zerolog.Logger) {
	defer close(s.events)
	for msg := range s.ps.Channel() {
		var evt Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			logger.Warn().Err(err).Msg("queue: malformed event")
			continue
		}
		select {
		case s.events <- evt:
		case <-s.done:
			return
		}
	}
}

// hashOf turns a flat HGETALL script reply into a map.
func hashOf(v any) map[string]string {
	flat := stringsOf(v)
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		fields[flat[i]] = flat[i+1]
	}
	return fields
}

func stringsOf(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func deliveryFromHash(id string, fields map[string]string) *Delivery {
	d := &Delivery{
		ID:           id,
		JobID:        fields["jobId"],
		Data:         json.RawMessage(fields["data"]),
		State:        State(fields["state"]),
		FailedReason: fields["failedReason"],
	}
	if n, err := strconv.Atoi(fields["attempts"]); err == nil {
		d.Attempts = n
	}
	if ms, err := strconv.ParseInt(fields["enqueuedAt"], 10, 64); err == nil {
		d.EnqueuedAt = time.UnixMilli(ms)
	}
	return d
}

var _ Engine = (*RedisQueue)(nil)
