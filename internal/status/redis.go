package status

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"docdigest/constants"
	"docdigest/internal/common"
)

// KeyPrefix namespaces document records in Redis.
const KeyPrefix = "doc:"

// Hash field names (stable; stored as-is in Redis).
const (
	fieldState     = "state"
	fieldProgress  = "progress_message"
	fieldStep      = "current_step"
	fieldTotal     = "total_steps"
	fieldContent   = "content"
	fieldSummary   = "summary"
	fieldError     = "error"
	fieldMode      = "mode"
	fieldFilename  = "filename"
	fieldPages     = "pages"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
)

// RedisStore implements Store on one Redis hash per document.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, logger: logger}
}

func key(docID string) string { return KeyPrefix + docID }

func (s *RedisStore) Create(ctx context.Context, docID string, meta Meta) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := s.client.HSet(ctx, key(docID), map[string]any{
		fieldState:     string(constants.StateQueued),
		fieldProgress:  "queued",
		fieldStep:      0,
		fieldTotal:     constants.TotalSteps,
		fieldMode:      string(meta.Mode),
		fieldFilename:  meta.Filename,
		fieldPages:     meta.Pages,
		fieldCreatedAt: now,
		fieldUpdatedAt: now,
	}).Err()
	if err != nil {
		s.logger.Error("status.create.failed", "doc_id", docID, "error", err)
		return fmt.Errorf("create status record: %w", err)
	}
	s.logger.Info("status.create.ok", "doc_id", docID, "mode", string(meta.Mode), "pages", meta.Pages)
	return nil
}

func (s *RedisStore) Get(ctx context.Context, docID string) (Record, error) {
	vals, err := s.client.HGetAll(ctx, key(docID)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("get status record: %w", err)
	}
	if len(vals) == 0 {
		return Record{}, common.ErrNotFound
	}
	return recordFromHash(docID, vals), nil
}

func (s *RedisStore) Progress(ctx context.Context, docID string, step int, message string) error {
	k := key(docID)

	// Single writer per document, so read-then-write is race-free. The
	// guards keep current_step monotone when a redelivered entry restarts
	// at an earlier step, and never reopen a terminal record.
	vals, err := s.client.HMGet(ctx, k, fieldState, fieldStep).Result()
	if err != nil {
		return fmt.Errorf("read record state: %w", err)
	}
	if state, ok := vals[0].(string); ok && constants.DocState(state).Terminal() {
		s.logger.Debug("status.progress.ignored_terminal", "doc_id", docID, "state", state)
		return nil
	}
	if cur, ok := vals[1].(string); ok {
		if prev, convErr := strconv.Atoi(cur); convErr == nil && step < prev {
			step = prev
		}
	}

	err = s.client.HSet(ctx, k, map[string]any{
		fieldState:     string(constants.StateProcessing),
		fieldProgress:  message,
		fieldStep:      step,
		fieldUpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		s.logger.Error("status.progress.failed", "doc_id", docID, "step", step, "error", err)
		return fmt.Errorf("write progress: %w", err)
	}
	s.logger.Debug("status.progress.ok", "doc_id", docID, "step", step, "message", message)
	return nil
}

func (s *RedisStore) Complete(ctx context.Context, docID, content, summary string) error {
	err := s.client.HSet(ctx, key(docID), map[string]any{
		fieldState:     string(constants.StateCompleted),
		fieldProgress:  "completed",
		fieldStep:      constants.TotalSteps,
		fieldContent:   content,
		fieldSummary:   summary,
		fieldError:     "",
		fieldUpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		s.logger.Error("status.complete.failed", "doc_id", docID, "error", err)
		return fmt.Errorf("write completion: %w", err)
	}
	s.logger.Info("status.complete.ok", "doc_id", docID, "content_bytes", len(content), "summary_bytes", len(summary))
	return nil
}

func (s *RedisStore) Fail(ctx context.Context, docID, errMsg string) error {
	err := s.client.HSet(ctx, key(docID), map[string]any{
		fieldState:     string(constants.StateError),
		fieldProgress:  "failed",
		fieldError:     errMsg,
		fieldUpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		s.logger.Error("status.fail.write_failed", "doc_id", docID, "error", err)
		return fmt.Errorf("write failure: %w", err)
	}
	s.logger.Warn("status.fail.ok", "doc_id", docID, "message", errMsg)
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Record, error) {
	var (
		out    []Record
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, KeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan records: %w", err)
		}
		for _, k := range keys {
			vals, err := s.client.HGetAll(ctx, k).Result()
			if err != nil {
				return nil, fmt.Errorf("read record %s: %w", k, err)
			}
			if len(vals) == 0 {
				continue
			}
			out = append(out, recordFromHash(k[len(KeyPrefix):], vals))
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func recordFromHash(docID string, vals map[string]string) Record {
	r := Record{
		DocumentID:      docID,
		State:           constants.DocState(vals[fieldState]),
		ProgressMessage: vals[fieldProgress],
		Content:         vals[fieldContent],
		Summary:         vals[fieldSummary],
		Error:           vals[fieldError],
		Mode:            constants.Mode(vals[fieldMode]),
		Filename:        vals[fieldFilename],
	}
	r.CurrentStep, _ = strconv.Atoi(vals[fieldStep])
	r.TotalSteps, _ = strconv.Atoi(vals[fieldTotal])
	r.Pages, _ = strconv.Atoi(vals[fieldPages])
	if t, err := time.Parse(time.RFC3339Nano, vals[fieldCreatedAt]); err == nil {
		r.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, vals[fieldUpdatedAt]); err == nil {
		r.UpdatedAt = t
	}
	return r
}
