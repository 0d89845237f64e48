// Package assistant – transcriber.go implements the transcription
// coordinator: discovers audio resources, fetches payloads, submits
// them for transcription, and caches results in a bounded, persisted
// cache keyed by audio locator.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/source"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/store"
)

// JobStatus is the state of one transcription job.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// TranscriptionJob tracks one audio resource through transcription.
type TranscriptionJob struct {
	ID          string    `json:"id"`
	Locator     string    `json:"locator"`
	Status      JobStatus `json:"status"`
	Text        string    `json:"text,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// transcriptRecord is the persisted cache entry for a completed job.
type transcriptRecord struct {
	Text        string    `json:"text"`
	CompletedAt time.Time `json:"completed_at"`
}

const transcriptBucket = "transcripts"

// AudioTranscriber is the remote transcription capability the
// coordinator depends on. RemoteClient satisfies it.
type AudioTranscriber interface {
	TranscribeAudio(ctx context.Context, audioData []byte, filename string) (string, error)
}

// Transcriber coordinates audio transcription jobs. It is the sole
// owner of the transcript cache; other components only read from it.
type Transcriber struct {
	transcribe AudioTranscriber
	provider   source.AudioProvider
	notifier   source.Notifier
	store      *store.Store // nil disables persistence

	cacheSize    int
	pollInterval time.Duration
	sem          chan struct{}

	mu   sync.RWMutex
	jobs map[string]*TranscriptionJob // keyed by locator

	logger *slog.Logger
}

// NewTranscriber creates a coordinator. The store may be nil for
// memory-only operation (tests).
func NewTranscriber(cfg TranscriptionConfig, transcribe AudioTranscriber, provider source.AudioProvider, notifier source.Notifier, st *store.Store, logger *slog.Logger) *Transcriber {
	if provider == nil {
		provider = source.NullAudioProvider{}
	}
	if notifier == nil {
		notifier = source.NopNotifier{}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 3
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 200
	}
	pollInterval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	return &Transcriber{
		transcribe:   transcribe,
		provider:     provider,
		notifier:     notifier,
		store:        st,
		cacheSize:    cacheSize,
		pollInterval: pollInterval,
		sem:          make(chan struct{}, workers),
		jobs:         make(map[string]*TranscriptionJob),
		logger:       logger.With("component", "transcriber"),
	}
}

// Discover scans the provider for audio resources and enqueues a job
// per unseen locator. Emits a "resources found" notification when any
// new resource appears. Returns the number discovered.
func (t *Transcriber) Discover(ctx context.Context) (int, error) {
	locators, err := t.provider.ListAudio(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing audio resources: %w", err)
	}

	n := t.Enqueue(locators)
	if n > 0 {
		t.notifier.Notify(ctx, fmt.Sprintf("%d audio resource(s) found", n))
	}
	return n, nil
}

// Enqueue creates jobs for any locators not seen before and starts
// their processing in the background. Jobs run detached from the
// caller: a request that enqueues and then ends must not cancel the
// fetch/transcribe work, or the job would terminally fail and the
// locator could never be transcribed. Returns the number enqueued.
func (t *Transcriber) Enqueue(locators []string) int {
	var fresh []*TranscriptionJob

	t.mu.Lock()
	for _, locator := range locators {
		if locator == "" {
			continue
		}
		if _, seen := t.jobs[locator]; seen {
			continue
		}
		if t.loadPersistedLocked(locator) {
			continue
		}
		job := &TranscriptionJob{
			ID:          uuid.New().String()[:8],
			Locator:     locator,
			Status:      JobStatusPending,
			SubmittedAt: time.Now(),
		}
		t.jobs[locator] = job
		fresh = append(fresh, job)
	}
	t.mu.Unlock()

	for _, job := range fresh {
		go t.process(context.Background(), job)
	}
	return len(fresh)
}

// Resolve is the non-blocking cache read: the transcript for a locator,
// or absent when the job is pending, failed, or unknown.
func (t *Transcriber) Resolve(locator string) (string, bool) {
	t.mu.RLock()
	if job, ok := t.jobs[locator]; ok {
		text, done := job.Text, job.Status == JobStatusDone
		t.mu.RUnlock()
		if done {
			return text, true
		}
		return "", false
	}
	t.mu.RUnlock()

	// Read-through: a previous process may have persisted this locator.
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loadPersistedLocked(locator) {
		if job := t.jobs[locator]; job.Status == JobStatusDone {
			return job.Text, true
		}
	}
	return "", false
}

// AwaitPending blocks until every job for the given locators reaches a
// terminal state or maxWait elapses, polling cooperatively. Returns the
// locators still pending.
func (t *Transcriber) AwaitPending(ctx context.Context, locators []string, maxWait time.Duration) []string {
	deadline := time.Now().Add(maxWait)

	for {
		pending := t.pendingOf(locators)
		if len(pending) == 0 || time.Now().After(deadline) {
			return pending
		}

		select {
		case <-ctx.Done():
			return t.pendingOf(locators)
		case <-time.After(t.pollInterval):
		}
	}
}

// AssociateFIFO resolves transcripts for audio messages. Direct
// locator lookup is tried first; for messages still missing one, the
// completed, non-empty transcriptions (by completion time) are paired
// index-for-index with the unassociated audio messages (by message
// time). Best effort: ordering is a heuristic, not a guarantee.
func (t *Transcriber) AssociateFIFO(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)

	used := make(map[string]bool)
	var missing []int

	for i := range out {
		m := &out[i]
		if !m.HasAudio || m.Transcript != "" {
			continue
		}
		if text, ok := t.Resolve(m.AudioLocator); ok && text != "" {
			m.Transcript = text
			used[m.AudioLocator] = true
		} else {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return out
	}

	candidates := t.completedUnused(used)
	sort.Slice(missing, func(a, b int) bool {
		return out[missing[a]].Timestamp.Before(out[missing[b]].Timestamp)
	})

	n := len(missing)
	if len(candidates) < n {
		n = len(candidates)
	}
	for i := 0; i < n; i++ {
		out[missing[i]].Transcript = candidates[i].Text
		t.logger.Debug("FIFO transcript association",
			"message_id", out[missing[i]].ID,
			"job_locator", candidates[i].Locator,
		)
	}
	return out
}

// Stats returns job counts by status.
func (t *Transcriber) Stats() map[JobStatus]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := make(map[JobStatus]int)
	for _, job := range t.jobs {
		stats[job.Status]++
	}
	return stats
}

// ---------- Internal ----------

// process runs one job: fetch the payload (one retry on fetch failure),
// transcribe, cache. Failures degrade to a FAILED job so the pipeline
// is never blocked indefinitely by one broken resource.
func (t *Transcriber) process(ctx context.Context, job *TranscriptionJob) {
	t.sem <- struct{}{}
	defer func() { <-t.sem }()

	data, filename, err := t.provider.FetchAudio(ctx, job.Locator)
	if err != nil {
		t.logger.Warn("audio fetch failed, retrying once", "locator", job.Locator, "error", err)
		data, filename, err = t.provider.FetchAudio(ctx, job.Locator)
	}
	if err != nil {
		t.logger.Warn("audio fetch failed, giving up", "locator", job.Locator, "error", err)
		t.finish(job, "", JobStatusFailed)
		return
	}

	text, err := t.transcribe.TranscribeAudio(ctx, data, filename)
	if err != nil {
		t.logger.Warn("transcription failed", "locator", job.Locator, "error", err)
		t.finish(job, "", JobStatusFailed)
		return
	}

	t.finish(job, text, JobStatusDone)
	t.logger.Debug("transcription completed", "job", job.ID, "locator", job.Locator, "chars", len(text))
}

// finish transitions a job to its terminal state exactly once, persists
// successful results, and evicts cache entries beyond the ceiling.
func (t *Transcriber) finish(job *TranscriptionJob, text string, status JobStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if job.Status.Terminal() {
		return
	}
	job.Status = status
	job.Text = text
	job.CompletedAt = time.Now()

	if status == JobStatusDone && t.store != nil {
		rec := transcriptRecord{Text: text, CompletedAt: job.CompletedAt}
		if err := t.store.Put(transcriptBucket, job.Locator, rec); err != nil {
			t.logger.Warn("persisting transcript failed", "locator", job.Locator, "error", err)
		}
	}

	t.evictLocked()
}

// evictLocked removes the oldest completed entries beyond the cache
// ceiling. Pending jobs are never evicted.
func (t *Transcriber) evictLocked() {
	var done []*TranscriptionJob
	for _, job := range t.jobs {
		if job.Status.Terminal() {
			done = append(done, job)
		}
	}
	if len(done) <= t.cacheSize {
		return
	}

	sort.Slice(done, func(a, b int) bool {
		return done[a].CompletedAt.Before(done[b].CompletedAt)
	})
	for _, job := range done[:len(done)-t.cacheSize] {
		delete(t.jobs, job.Locator)
		if t.store != nil {
			if err := t.store.Delete(transcriptBucket, job.Locator); err != nil {
				t.logger.Warn("evicting persisted transcript failed", "locator", job.Locator, "error", err)
			}
		}
	}
}

// loadPersistedLocked re-materializes a persisted transcript as a done
// job. Returns true when the locator was found. Caller holds t.mu.
func (t *Transcriber) loadPersistedLocked(locator string) bool {
	if t.store == nil {
		return false
	}
	var rec transcriptRecord
	ok, err := t.store.Get(transcriptBucket, locator, &rec)
	if err != nil {
		t.logger.Warn("reading persisted transcript failed", "locator", locator, "error", err)
		return false
	}
	if !ok {
		return false
	}
	t.jobs[locator] = &TranscriptionJob{
		ID:          uuid.New().String()[:8],
		Locator:     locator,
		Status:      JobStatusDone,
		Text:        rec.Text,
		SubmittedAt: rec.CompletedAt,
		CompletedAt: rec.CompletedAt,
	}
	return true
}

// pendingOf returns the subset of locators without a terminal job.
func (t *Transcriber) pendingOf(locators []string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var pending []string
	for _, locator := range locators {
		job, ok := t.jobs[locator]
		if !ok || !job.Status.Terminal() {
			pending = append(pending, locator)
		}
	}
	return pending
}

// completedUnused returns done, non-empty jobs whose locator was not
// directly matched, ordered by completion time.
func (t *Transcriber) completedUnused(used map[string]bool) []*TranscriptionJob {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var jobs []*TranscriptionJob
	for _, job := range t.jobs {
		if job.Status == JobStatusDone && job.Text != "" && !used[job.Locator] {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].CompletedAt.Before(jobs[b].CompletedAt)
	})
	return jobs
}
