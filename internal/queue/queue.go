package queue

import (
	"context"
	"encoding/hex"
	"time"

	"docdigest/constants"
)

// Entry is one unit of queued work. Immutable once appended; the queue
// assigns the ID (stream entry ID, monotone within the stream, never reused).
//
// Payload carries raw document bytes on the append side. Claimed entries
// instead carry Encoded, the hex transport form read back from the stream;
// callers decode it with DecodePayload so a corrupted entry surfaces as a
// decode failure rather than being dropped inside the queue.
type Entry struct {
	ID         string
	DocumentID string
	Payload    []byte
	Encoded    string
	Mode       constants.Mode
}

// EncodePayload converts raw document bytes to the stream's text encoding.
func EncodePayload(data []byte) string {
	return hex.EncodeToString(data)
}

// DecodePayload reverses EncodePayload. Round-trips byte-exact.
func DecodePayload(encoded string) ([]byte, error) {
	return hex.DecodeString(encoded)
}

// Queue is the durable work log the producer appends to and workers claim
// from. Delivery is at-least-once: an entry claimed but never acked becomes
// reclaimable and will be redelivered.
type Queue interface {
	// Append durably appends an entry and returns its queue-assigned ID.
	Append(ctx context.Context, e Entry) (string, error)

	// Claim returns up to max entries for the named consumer: first any
	// pending entries whose idle time exceeds the reclaim threshold
	// (crash recovery), then new entries. Blocks up to block when nothing
	// is available, then returns an empty slice.
	Claim(ctx context.Context, consumer string, max int, block time.Duration) ([]Entry, error)

	// Ack marks an entry fully processed for the group. Acking an already
	// acked entry is a no-op.
	Ack(ctx context.Context, id string) error

	// Deliveries reports how many times the entry has been delivered to the
	// group. Returns 0 for entries no longer pending.
	Deliveries(ctx context.Context, id string) (int64, error)

	// DeadLetter moves an entry to the dead-letter stream and acks it.
	DeadLetter(ctx context.Context, e Entry, reason string) error
}
