package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yuzvak/seckill-service/internal/domain/seckill"
)

// PendingLog keeps unflushed grants in a stream read through a consumer
// group. Delivered but unacknowledged entries stay leased to their
// consumer until they are acked or taken over after the lease timeout.
type PendingLog struct {
	client *redis.Client

	mu          sync.Mutex
	groupExists bool
}

func NewPendingLog(conn *Connection) *PendingLog {
	return &PendingLog{client: conn.GetClient()}
}

func (p *PendingLog) ensureGroup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.groupExists {
		return nil
	}

	err := p.client.XGroupCreateMkStream(ctx, pendingStreamKey, pendingGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return unavailable("create consumer group", err)
	}

	p.groupExists = true
	return nil
}

// Claim returns the consumer's own unacked entries first, then entries
// whose lease expired, then new ones.
func (p *PendingLog) Claim(ctx context.Context, consumer string, count int, leaseTimeout time.Duration) ([]seckill.PendingEntry, error) {
	if err := p.ensureGroup(ctx); err != nil {
		return nil, err
	}

	msgs, err := p.readGroup(ctx, consumer, count, "0")
	if err != nil {
		return nil, err
	}

	if len(msgs) == 0 && leaseTimeout > 0 {
		msgs, _, err = p.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   pendingStreamKey,
			Group:    pendingGroup,
			Consumer: consumer,
			MinIdle:  leaseTimeout,
			Start:    "0-0",
			Count:    int64(count),
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, unavailable("autoclaim pending", err)
		}
	}

	if len(msgs) == 0 {
		msgs, err = p.readGroup(ctx, consumer, count, ">")
		if err != nil {
			return nil, err
		}
	}

	entries := make([]seckill.PendingEntry, 0, len(msgs))
	var bad []interface{}
	for _, msg := range msgs {
		entry, err := decodeEntry(msg)
		if err != nil {
			raw, _ := msg.Values["grant"].(string)
			bad = append(bad, msg.ID, raw)
			continue
		}
		entries = append(entries, entry)
	}

	if len(bad) > 0 {
		if _, err := p.deadLetter(ctx, "undecodable payload", bad); err != nil {
			return nil, err
		}
	}

	return entries, nil
}

func (p *PendingLog) readGroup(ctx context.Context, consumer string, count int, start string) ([]redis.XMessage, error) {
	streams, err := p.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    pendingGroup,
		Consumer: consumer,
		Streams:  []string{pendingStreamKey, start},
		Count:    int64(count),
		Block:    -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if strings.HasPrefix(err.Error(), "NOGROUP") {
			// stream was dropped underneath us; recreate on next claim
			p.mu.Lock()
			p.groupExists = false
			p.mu.Unlock()
		}
		return nil, unavailable("read pending", err)
	}

	var msgs []redis.XMessage
	for _, stream := range streams {
		msgs = append(msgs, stream.Messages...)
	}
	return msgs, nil
}

func decodeEntry(msg redis.XMessage) (seckill.PendingEntry, error) {
	raw, ok := msg.Values["grant"].(string)
	if !ok {
		return seckill.PendingEntry{}, fmt.Errorf("pending entry %s has no grant payload", msg.ID)
	}

	var grant seckill.PurchaseGrant
	if err := json.Unmarshal([]byte(raw), &grant); err != nil {
		return seckill.PendingEntry{}, fmt.Errorf("decode pending entry %s: %w", msg.ID, err)
	}

	return seckill.PendingEntry{EntryID: msg.ID, Grant: grant}, nil
}

// Ack acknowledges and deletes entries, releasing their quantity from the
// pending total. Entries already acked by another consumer are skipped.
func (p *PendingLog) Ack(ctx context.Context, entries []seckill.PendingEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	args := make([]interface{}, 0, 1+3*len(entries))
	args = append(args, pendingGroup)
	for _, e := range entries {
		args = append(args, e.EntryID, e.Grant.ProductID, e.Grant.Quantity)
	}

	n, err := ackScript.Run(ctx, p.client, []string{pendingStreamKey, pendingQtyKey}, args...).Int()
	if err != nil {
		return 0, unavailable("ack pending", err)
	}
	return n, nil
}

// DeadLetter moves entries the durable store refused into the dead stream
// for an operator to inspect. Entries no longer leased to the group are skipped.
func (p *PendingLog) DeadLetter(ctx context.Context, entries []seckill.PendingEntry, reason string) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	pairs := make([]interface{}, 0, 2*len(entries))
	for _, e := range entries {
		payload, err := json.Marshal(e.Grant)
		if err != nil {
			return 0, fmt.Errorf("encode grant %s: %w", e.Grant.ID, err)
		}
		pairs = append(pairs, e.EntryID, string(payload))
	}

	return p.deadLetter(ctx, reason, pairs)
}

func (p *PendingLog) deadLetter(ctx context.Context, reason string, pairs []interface{}) (int, error) {
	args := make([]interface{}, 0, 2+len(pairs))
	args = append(args, pendingGroup, reason)
	args = append(args, pairs...)

	n, err := deadLetterScript.Run(ctx, p.client, []string{pendingStreamKey, deadStreamKey}, args...).Int()
	if err != nil {
		return 0, unavailable("dead-letter pending", err)
	}
	return n, nil
}

// DeadLetters counts entries parked in the dead stream.
func (p *PendingLog) DeadLetters(ctx context.Context) (int64, error) {
	n, err := p.client.XLen(ctx, deadStreamKey).Result()
	if err != nil {
		return 0, unavailable("dead letters", err)
	}
	return n, nil
}

func (p *PendingLog) Backlog(ctx context.Context) (int64, error) {
	n, err := p.client.XLen(ctx, pendingStreamKey).Result()
	if err != nil {
		return 0, unavailable("pending backlog", err)
	}
	return n, nil
}
