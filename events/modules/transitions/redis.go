package transitions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ortelius/pdvd-ledger/model"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel transition events are published on
const DefaultChannel = "vulnerability-transitions"

// CacheKeys lists the cached views that a transition makes stale
func CacheKeys(event model.TransitionApplied) []string {
	keys := []string{
		fmt.Sprintf("finding:%s:vulnerabilities", event.FindingID),
		fmt.Sprintf("finding:%s:indicators", event.FindingID),
	}
	if event.VulnerabilityID != "" {
		keys = append(keys, "vulnerability:"+event.VulnerabilityID)
	}
	if event.GroupName != "" {
		keys = append(keys, fmt.Sprintf("group:%s:indicators", event.GroupName))
	}
	return keys
}

// RedisNotifier drops the cache entries a transition invalidates and
// announces the transition on a channel
type RedisNotifier struct {
	Client  redis.UniversalClient
	Channel string
}

// NewRedisNotifier creates a notifier publishing on channel
func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{Client: client, Channel: channel}
}

// Publish implements reconcile.Notifier
func (n *RedisNotifier) Publish(ctx context.Context, event model.TransitionApplied) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	pipe := n.Client.TxPipeline()
	pipe.Del(ctx, CacheKeys(event)...)
	pipe.Publish(ctx, n.Channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish transition %s: %w", event.EventID, err)
	}
	return nil
}
