// Package cache provides the time-expiring response cache keyed by
// sanitized topic and pipeline stage.
package cache

import "context"

// Store is the narrow get/set interface the pipeline depends on. Values are
// opaque JSON payloads; the orchestration layer owns their shape. Writes
// overwrite unconditionally (last-writer-wins) and carry the store's fixed
// TTL from write time.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Stage suffixes distinguish the payloads that share one topic.
const (
	StagePersonas  = "personas"
	StageConfirmed = "confirmed"
	StageOpinions  = "opinions"
)

// Key builds the stage-suffixed cache key for a sanitized topic.
func Key(topic, stage string) string {
	return topic + ":" + stage
}
