// Package audit implements the audit log (spec.md §4.14): append-only
// admin-visible records of every mutating action, with retention
// truncation and stable-cursor, newest-first paging.
package audit

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/lowroll/dicehall/domain/audit"
	internalerrors "github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/infrastructure/logging"
	"github.com/lowroll/dicehall/infrastructure/metrics"
	"github.com/lowroll/dicehall/pkg/storage"
)

// DefaultRetention is how long audit records are kept before Truncate
// removes them (spec.md §4.14's "configured window").
const DefaultRetention = 90 * 24 * time.Hour

// DefaultPageSize is the page size List falls back to when limit is unset
// or out of bounds.
const DefaultPageSize = 50

// MaxPageSize bounds a single List call.
const MaxPageSize = 200

// Service appends and queries the audit log.
type Service struct {
	store     storage.Store
	metrics   *metrics.Metrics
	logger    *logging.Logger
	now       func() time.Time
	retention time.Duration
}

// New builds an audit service backed by store.
func New(store storage.Store, m *metrics.Metrics, logger *logging.Logger) *Service {
	return &Service{
		store:     store,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
		retention: DefaultRetention,
	}
}

// SetClock overrides the time source (tests only).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetRetention overrides the default retention window.
func (s *Service) SetRetention(d time.Duration) { s.retention = d }

// Record appends one audit entry. Before/after may be nil; callers pass
// whatever snapshot is meaningful for the mutation being recorded.
func (s *Service) Record(ctx context.Context, actorID string, actorKind audit.ActorKind, action, subject string, before, after interface{}, reason string) error {
	rec := audit.Record{
		At:        s.now(),
		ActorID:   actorID,
		ActorKind: actorKind,
		Action:    action,
		Subject:   subject,
		Before:    before,
		After:     after,
		Reason:    reason,
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return internalerrors.Internal("marshal audit record", err)
	}
	if err := s.store.Put(ctx, storage.SectionAudit, rec.Key(), doc); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info(ctx, "audit record", map[string]interface{}{
			"actorId": actorID, "actorKind": actorKind, "action": action, "subject": subject,
		})
	}
	return nil
}

// Page is one page of audit records, newest-first.
type Page struct {
	Records    []audit.Record
	NextCursor string
	HasMore    bool
}

// List returns records newest-first, starting strictly after cursor (empty
// cursor starts from the newest record). NextCursor is the key to pass back
// for the next page; stable across concurrent appends since keys are
// monotonic nanosecond timestamps and never reused.
func (s *Service) List(ctx context.Context, cursor string, limit int) (Page, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}

	keys, err := s.store.ListKeys(ctx, storage.SectionAudit, "")
	if err != nil {
		return Page{}, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	start := 0
	if cursor != "" {
		for i, k := range keys {
			if k == cursor {
				start = i + 1
				break
			}
		}
	}
	if start > len(keys) {
		start = len(keys)
	}
	end := start + limit
	hasMore := end < len(keys)
	if end > len(keys) {
		end = len(keys)
	}
	page := keys[start:end]

	records := make([]audit.Record, 0, len(page))
	for _, k := range page {
		doc, err := s.store.Get(ctx, storage.SectionAudit, k)
		if err != nil {
			continue
		}
		var rec audit.Record
		if json.Unmarshal(doc, &rec) != nil {
			continue
		}
		records = append(records, rec)
	}

	nextCursor := ""
	if hasMore && len(page) > 0 {
		nextCursor = page[len(page)-1]
	}
	return Page{Records: records, NextCursor: nextCursor, HasMore: hasMore}, nil
}

// Truncate deletes every record older than the retention window, returning
// the count removed (spec.md §4.14 retention policy).
func (s *Service) Truncate(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)
	var stale []string
	err := s.store.Scan(ctx, storage.SectionAudit, "", func(key string, doc []byte) bool {
		var rec audit.Record
		if json.Unmarshal(doc, &rec) == nil && rec.At.Before(cutoff) {
			stale = append(stale, key)
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	for _, key := range stale {
		if err := s.store.Delete(ctx, storage.SectionAudit, key); err != nil {
			return 0, err
		}
	}
	if len(stale) > 0 && s.logger != nil {
		s.logger.Info(ctx, "audit retention truncated records", map[string]interface{}{"count": len(stale)})
	}
	return len(stale), nil
}
