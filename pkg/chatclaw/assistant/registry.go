// Package assistant – registry.go implements the durable mapping from
// external conversation ids to remote thread ids. The persisted store
// is the source of truth; the in-memory index is a cache refreshed on
// read miss. A periodic sweep evicts stale entries.
package assistant

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/store"
)

const threadBucket = "threads"

// ThreadRecord binds one external conversation to its remote thread.
type ThreadRecord struct {
	ExternalID     string    `json:"external_id"`
	RemoteThreadID string    `json:"remote_thread_id"`
	Role           Role      `json:"role"`
	LastMessageID  string    `json:"last_message_id,omitempty"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// ThreadStats summarizes the registry contents.
type ThreadStats struct {
	Count  int       `json:"count"`
	Oldest time.Time `json:"oldest,omitempty"`
	Newest time.Time `json:"newest,omitempty"`
}

// ThreadRegistry owns all ThreadRecord state. Safe for concurrent use.
type ThreadRegistry struct {
	store *store.Store // nil disables persistence

	mu    sync.RWMutex
	cache map[string]*ThreadRecord

	inactivityTTL time.Duration
	maxAge        time.Duration

	logger *slog.Logger
}

// NewThreadRegistry creates a registry backed by the given store.
func NewThreadRegistry(cfg RegistryConfig, st *store.Store, logger *slog.Logger) *ThreadRegistry {
	ttl := time.Duration(cfg.InactivityTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	maxAge := time.Duration(cfg.MaxAgeHours) * time.Hour
	if maxAge <= 0 {
		maxAge = 14 * 24 * time.Hour
	}

	return &ThreadRegistry{
		store:         st,
		cache:         make(map[string]*ThreadRecord),
		inactivityTTL: ttl,
		maxAge:        maxAge,
		logger:        logger.With("component", "registry"),
	}
}

// Lookup returns the record for an external id, if one exists.
// No side effects beyond refreshing the in-memory cache.
func (r *ThreadRegistry) Lookup(externalID string) (*ThreadRecord, bool) {
	r.mu.RLock()
	rec, ok := r.cache[externalID]
	r.mu.RUnlock()
	if ok {
		copied := *rec
		return &copied, true
	}

	// Cache miss: the persisted store is the source of truth.
	if r.store == nil {
		return nil, false
	}
	var loaded ThreadRecord
	found, err := r.store.Get(threadBucket, externalID, &loaded)
	if err != nil {
		r.logger.Warn("reading thread record failed", "external_id", externalID, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	r.mu.Lock()
	r.cache[externalID] = &loaded
	r.mu.Unlock()

	copied := loaded
	return &copied, true
}

// Create registers a new thread binding. Returns DuplicateThreadError
// when a record already exists for the external id; callers must treat
// that as "use the existing one", not a fatal fault.
func (r *ThreadRegistry) Create(externalID, remoteThreadID string, role Role) (*ThreadRecord, error) {
	if _, ok := r.Lookup(externalID); ok {
		return nil, &DuplicateThreadError{ExternalID: externalID}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check under the write lock: two flows may race past Lookup.
	if _, ok := r.cache[externalID]; ok {
		return nil, &DuplicateThreadError{ExternalID: externalID}
	}

	now := time.Now()
	rec := &ThreadRecord{
		ExternalID:     externalID,
		RemoteThreadID: remoteThreadID,
		Role:           role,
		LastSeenAt:     now,
		CreatedAt:      now,
	}
	r.cache[externalID] = rec
	r.persistLocked(rec)

	r.logger.Info("thread registered",
		"external_id", externalID,
		"remote_thread_id", remoteThreadID,
		"role", role,
	)
	copied := *rec
	return &copied, nil
}

// AdvanceCursor moves the processed-message cursor for a conversation.
// The cursor only ever moves forward at the orchestrator's direction;
// the registry records, it does not reorder.
func (r *ThreadRegistry) AdvanceCursor(externalID, messageID string, timestamp time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.cache[externalID]
	if !ok {
		// Read-miss refresh under the write lock.
		if r.store != nil {
			var loaded ThreadRecord
			found, err := r.store.Get(threadBucket, externalID, &loaded)
			if err == nil && found {
				rec = &loaded
				r.cache[externalID] = rec
				ok = true
			}
		}
	}
	if !ok {
		return ErrThreadNotFound
	}

	rec.LastMessageID = messageID
	rec.LastSeenAt = time.Now()
	if !timestamp.IsZero() && timestamp.After(rec.LastSeenAt) {
		rec.LastSeenAt = timestamp
	}
	r.persistLocked(rec)
	return nil
}

// Touch refreshes LastSeenAt without moving the cursor.
func (r *ThreadRegistry) Touch(externalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.cache[externalID]; ok {
		rec.LastSeenAt = time.Now()
		r.persistLocked(rec)
	}
}

// Stats reports the registry size and the creation-time spread.
func (r *ThreadRegistry) Stats() ThreadStats {
	records := r.allRecords()

	stats := ThreadStats{Count: len(records)}
	for _, rec := range records {
		if stats.Oldest.IsZero() || rec.CreatedAt.Before(stats.Oldest) {
			stats.Oldest = rec.CreatedAt
		}
		if rec.CreatedAt.After(stats.Newest) {
			stats.Newest = rec.CreatedAt
		}
	}
	return stats
}

// Sweep removes entries idle beyond the inactivity TTL or older than
// the max-age ceiling. Runs on the periodic schedule owned by the
// process lifecycle, independent of orchestration calls.
func (r *ThreadRegistry) Sweep() int {
	now := time.Now()
	removed := 0

	for _, rec := range r.allRecords() {
		stale := now.Sub(rec.LastSeenAt) > r.inactivityTTL || now.Sub(rec.CreatedAt) > r.maxAge
		if !stale {
			continue
		}

		r.mu.Lock()
		delete(r.cache, rec.ExternalID)
		r.mu.Unlock()
		if r.store != nil {
			if err := r.store.Delete(threadBucket, rec.ExternalID); err != nil {
				r.logger.Warn("deleting thread record failed", "external_id", rec.ExternalID, "error", err)
				continue
			}
		}
		removed++
		r.logger.Debug("thread evicted",
			"external_id", rec.ExternalID,
			"idle", now.Sub(rec.LastSeenAt).Round(time.Minute),
			"age", now.Sub(rec.CreatedAt).Round(time.Minute),
		)
	}

	if removed > 0 {
		r.logger.Info("registry sweep completed", "removed", removed)
	}
	return removed
}

// ---------- Internal ----------

// persistLocked writes a record to the store. Caller holds r.mu.
func (r *ThreadRegistry) persistLocked(rec *ThreadRecord) {
	if r.store == nil {
		return
	}
	if err := r.store.Put(threadBucket, rec.ExternalID, rec); err != nil {
		r.logger.Error("persisting thread record failed", "external_id", rec.ExternalID, "error", err)
	}
}

// allRecords merges persisted records with the in-memory cache.
func (r *ThreadRegistry) allRecords() []*ThreadRecord {
	byID := make(map[string]*ThreadRecord)

	if r.store != nil {
		items, err := r.store.List(threadBucket)
		if err != nil {
			r.logger.Warn("listing thread records failed", "error", err)
		}
		for key, raw := range items {
			var rec ThreadRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				r.logger.Warn("corrupt thread record", "external_id", key, "error", err)
				continue
			}
			byID[key] = &rec
		}
	}

	r.mu.RLock()
	for id, rec := range r.cache {
		copied := *rec
		byID[id] = &copied
	}
	r.mu.RUnlock()

	records := make([]*ThreadRecord, 0, len(byID))
	for _, rec := range byID {
		records = append(records, rec)
	}
	return records
}
