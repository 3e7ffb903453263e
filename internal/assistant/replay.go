package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultReplayTTL is how long an answered tool call is remembered.
const DefaultReplayTTL = 24 * time.Hour

const (
	pendingMarker     = "pending"
	defaultPendingTTL = 30 * time.Second
	defaultWaitFor    = 5 * time.Second
	pollInterval      = 100 * time.Millisecond
)

// ClaimStatus says what a caller should do with a tool call after Claim.
type ClaimStatus int

const (
	// ClaimOwned means this caller runs the tool and must Remember the reply.
	ClaimOwned ClaimStatus = iota
	// ClaimReplayed means a stored reply was returned.
	ClaimReplayed
	// ClaimInFlight means another delivery is still running the tool.
	ClaimInFlight
)

// ReplayCache deduplicates tool call deliveries. The first delivery claims the
// tool call id with SETNX before running; redeliveries get the stored reply,
// or wait briefly while the first delivery is still running.
type ReplayCache struct {
	client     *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
	waitFor    time.Duration
}

func NewReplayCache(client *redis.Client, ttl time.Duration) *ReplayCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultReplayTTL
	}
	return &ReplayCache{client: client, ttl: ttl, pendingTTL: defaultPendingTTL, waitFor: defaultWaitFor}
}

// WithWait sets how long a redelivery waits for an in-flight reply.
func (c *ReplayCache) WithWait(d time.Duration) *ReplayCache {
	if c != nil && d >= 0 {
		c.waitFor = d
	}
	return c
}

func replayKey(callID, toolCallID string) string {
	return fmt.Sprintf("toolreply:%s:%s", callID, toolCallID)
}

// Claim reserves a tool call for this delivery. Without a cache or a tool
// call id every delivery owns its call.
func (c *ReplayCache) Claim(ctx context.Context, callID, toolCallID string) (Reply, ClaimStatus, error) {
	if c == nil || toolCallID == "" {
		return Reply{}, ClaimOwned, nil
	}
	key := replayKey(callID, toolCallID)
	ok, err := c.client.SetNX(ctx, key, pendingMarker, c.pendingTTL).Result()
	if err != nil {
		return Reply{}, ClaimOwned, fmt.Errorf("assistant: replay claim: %w", err)
	}
	if ok {
		return Reply{}, ClaimOwned, nil
	}

	deadline := time.Now().Add(c.waitFor)
	for {
		raw, err := c.client.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			// The pending claim expired without a reply; take it over.
			return c.Claim(ctx, callID, toolCallID)
		case err != nil:
			return Reply{}, ClaimOwned, fmt.Errorf("assistant: replay lookup: %w", err)
		case string(raw) != pendingMarker:
			var reply Reply
			if err := json.Unmarshal(raw, &reply); err != nil {
				return Reply{}, ClaimOwned, fmt.Errorf("assistant: replay decode: %w", err)
			}
			return reply, ClaimReplayed, nil
		}
		if !time.Now().Before(deadline) {
			return Reply{}, ClaimInFlight, nil
		}
		select {
		case <-ctx.Done():
			return Reply{}, ClaimInFlight, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Remember stores the reply for a claimed tool call, replacing the claim.
func (c *ReplayCache) Remember(ctx context.Context, callID string, reply Reply) error {
	if c == nil || reply.ToolCallID == "" {
		return nil
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("assistant: replay encode: %w", err)
	}
	if err := c.client.Set(ctx, replayKey(callID, reply.ToolCallID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("assistant: replay store: %w", err)
	}
	return nil
}
