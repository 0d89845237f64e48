// Package assistant – orchestrator.go drives one conversation turn
// end to end: thread resolution, transcription sync, batch formatting,
// the remote run lifecycle, and reply extraction.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/source"
)

// followUpWindow is the number of trailing messages inspected by the
// follow-up throttle: when all of them were sent by self, another
// self-initiated nudge is disallowed.
const followUpWindow = 3

// followUpInstruction is the synthetic message appended when a
// follow-up is allowed and there is nothing new to forward.
const followUpInstruction = "The other party has not replied yet. " +
	"Write one short, friendly follow-up message to re-engage them without being pushy. " +
	"Do not repeat earlier messages."

// RemoteAPI is the slice of the remote client the orchestrator drives.
type RemoteAPI interface {
	CreateThread(ctx context.Context) (string, error)
	AddMessage(ctx context.Context, threadID string, batch Batch) error
	CreateRun(ctx context.Context, threadID, assistantID string) (string, error)
	WaitForCompletion(ctx context.Context, threadID, runID string, maxWait, pollInterval time.Duration) (*RunInfo, error)
}

// TranscriptionService is the transcription capability the orchestrator
// depends on. Absence is modeled by NoTranscription, never probed for.
type TranscriptionService interface {
	Resolve(locator string) (string, bool)
	AwaitPending(ctx context.Context, locators []string, maxWait time.Duration) []string
	AssociateFIFO(messages []Message) []Message
}

// NoTranscription is the null transcription service.
type NoTranscription struct{}

func (NoTranscription) Resolve(string) (string, bool) { return "", false }
func (NoTranscription) AwaitPending(_ context.Context, _ []string, _ time.Duration) []string {
	return nil
}
func (NoTranscription) AssociateFIFO(messages []Message) []Message { return messages }

// GenerateRequest is one orchestration call.
type GenerateRequest struct {
	// ExternalID identifies the source conversation.
	ExternalID string

	// Messages is the full ordered history currently visible.
	Messages []Message

	// Role is the side the assistant answers for.
	Role Role

	// Product optionally describes the listing under discussion.
	Product *ProductInfo

	// ForceRegeneration re-sends only the most recent message even when
	// the cursor says it was already processed.
	ForceRegeneration bool
}

// Orchestrator is the top-level state machine.
type Orchestrator struct {
	api         RemoteAPI
	registry    *ThreadRegistry
	formatter   *Formatter
	transcripts TranscriptionService
	notifier    source.Notifier

	assistantID        string
	runMaxWait         time.Duration
	runPollInterval    time.Duration
	awaitMaxWait       time.Duration
	maxInitialMessages int

	logger *slog.Logger
}

// NewOrchestrator wires the orchestrator. A nil transcripts service is
// replaced by NoTranscription, a nil notifier by the no-op notifier.
func NewOrchestrator(cfg *Config, api RemoteAPI, registry *ThreadRegistry, formatter *Formatter, transcripts TranscriptionService, notifier source.Notifier, logger *slog.Logger) *Orchestrator {
	if transcripts == nil {
		transcripts = NoTranscription{}
	}
	if notifier == nil {
		notifier = source.NopNotifier{}
	}
	maxInitial := cfg.Formatter.MaxInitialMessages
	if maxInitial <= 0 {
		maxInitial = 30
	}

	return &Orchestrator{
		api:                api,
		registry:           registry,
		formatter:          formatter,
		transcripts:        transcripts,
		notifier:           notifier,
		assistantID:        cfg.API.AssistantID,
		runMaxWait:         cfg.RunMaxWait(),
		runPollInterval:    cfg.RunPollInterval(),
		awaitMaxWait:       cfg.TranscriptionMaxWait(),
		maxInitialMessages: maxInitial,
		logger:             logger.With("component", "orchestrator"),
	}
}

// GenerateResponse runs one conversation turn. An empty reply with a
// nil error means no action was taken (follow-up throttled, or nothing
// new to respond to). Auth, run and timeout failures are returned as
// typed errors.
func (o *Orchestrator) GenerateResponse(ctx context.Context, req GenerateRequest) (string, error) {
	if req.ExternalID == "" {
		return "", fmt.Errorf("missing external conversation id")
	}
	if len(req.Messages) == 0 {
		return "", nil
	}

	messages := o.syncTranscriptions(ctx, req.Messages)
	last := messages[len(messages)-1]

	rec, exists := o.registry.Lookup(req.ExternalID)

	var (
		threadID   string
		batches    []Batch
		cursorTo   Message
		actionName string
	)

	if !exists {
		// New-thread path. A trailing self message means no counterpart
		// reply yet: this is an unsolicited follow-up and must pass the
		// throttle before anything is created remotely.
		if last.SentBySelf && !o.followUpAllowed(messages) {
			o.rejectFollowUp(ctx, req.ExternalID)
			return "", nil
		}

		var err error
		threadID, err = o.resolveNewThread(ctx, req)
		if err != nil {
			return "", err
		}

		initial := messages
		if len(initial) > o.maxInitialMessages {
			initial = initial[len(initial)-o.maxInitialMessages:]
		}
		batches = o.formatter.Format(initial, req.Product)
		if last.SentBySelf {
			batches = append(batches, followUpBatch())
			actionName = "new_thread_follow_up"
		} else {
			actionName = "new_thread"
		}
		cursorTo = last
	} else {
		threadID = rec.RemoteThreadID
		fresh := o.messagesAfterCursor(messages, rec)

		switch {
		case req.ForceRegeneration:
			// Regeneration narrows to the single most recent message.
			batches = o.formatter.Format(messages[len(messages)-1:], nil)
			cursorTo = last
			actionName = "regenerate"
		case hasCounterpartMessage(fresh):
			batches = o.formatter.Format(fresh, nil)
			cursorTo = fresh[len(fresh)-1]
			actionName = "continue"
		default:
			if !o.followUpAllowed(messages) {
				o.rejectFollowUp(ctx, req.ExternalID)
				return "", nil
			}
			batches = []Batch{followUpBatch()}
			cursorTo = last
			actionName = "follow_up"
		}
	}

	if len(batches) == 0 {
		o.logger.Debug("nothing to send", "external_id", req.ExternalID)
		return "", nil
	}

	o.logger.Info("dispatching to assistant",
		"external_id", req.ExternalID,
		"action", actionName,
		"batches", len(batches),
	)

	for _, batch := range batches {
		if err := o.api.AddMessage(ctx, threadID, batch); err != nil {
			return "", err
		}
	}

	runID, err := o.api.CreateRun(ctx, threadID, o.assistantID)
	if err != nil {
		return "", err
	}

	info, err := o.api.WaitForCompletion(ctx, threadID, runID, o.runMaxWait, o.runPollInterval)
	if err != nil {
		return "", err
	}

	switch info.Status {
	case RunStatusCompleted:
		if err := o.registry.AdvanceCursor(req.ExternalID, cursorTo.ID, cursorTo.Timestamp); err != nil {
			o.logger.Warn("cursor advance failed", "external_id", req.ExternalID, "error", err)
		}
		reply := extractReply(info.Output)
		if reply == "" {
			o.logger.Warn("run completed without assistant output",
				"external_id", req.ExternalID, "run_id", runID)
		}
		return reply, nil

	case RunStatusTimeout:
		return "", &RunTimeoutError{ThreadID: threadID, RunID: runID, Waited: o.runMaxWait}

	default:
		return "", &RunFailedError{
			ThreadID: threadID,
			RunID:    runID,
			Status:   info.Status,
			Detail:   info.LastError,
		}
	}
}

// ---------- Internal ----------

// syncTranscriptions waits (bounded) for pending transcription jobs
// relevant to this batch, then resolves transcripts with the FIFO
// fallback for messages whose locator lookup missed.
func (o *Orchestrator) syncTranscriptions(ctx context.Context, messages []Message) []Message {
	var locators []string
	for _, m := range messages {
		if m.HasAudio && m.Transcript == "" {
			locators = append(locators, m.AudioLocator)
		}
	}
	if len(locators) == 0 {
		return messages
	}

	if still := o.transcripts.AwaitPending(ctx, locators, o.awaitMaxWait); len(still) > 0 {
		o.logger.Warn("proceeding with transcriptions still pending",
			"pending", len(still), "waited", o.awaitMaxWait)
	}
	return o.transcripts.AssociateFIFO(messages)
}

// resolveNewThread creates the remote thread and registers it, reusing
// the existing registration when a concurrent call won the race.
func (o *Orchestrator) resolveNewThread(ctx context.Context, req GenerateRequest) (string, error) {
	threadID, err := o.api.CreateThread(ctx)
	if err != nil {
		return "", err
	}

	if _, err := o.registry.Create(req.ExternalID, threadID, req.Role); err != nil {
		var dup *DuplicateThreadError
		if errors.As(err, &dup) {
			// Another flow registered first; use its thread. The orphan
			// remote thread is left behind, the remote service expires it.
			if rec, ok := o.registry.Lookup(req.ExternalID); ok {
				o.logger.Info("reusing concurrently created thread",
					"external_id", req.ExternalID, "remote_thread_id", rec.RemoteThreadID)
				return rec.RemoteThreadID, nil
			}
		}
		return "", err
	}
	return threadID, nil
}

// messagesAfterCursor returns the messages strictly after the stored
// cursor. When the cursor id is not present in the current list, the
// nearest-timestamp match is used; as a last resort the slice falls
// back to messages newer than the record's last activity.
func (o *Orchestrator) messagesAfterCursor(messages []Message, rec *ThreadRecord) []Message {
	if rec.LastMessageID == "" {
		return messages
	}

	for i, m := range messages {
		if m.ID == rec.LastMessageID {
			return messages[i+1:]
		}
	}

	// Cursor id vanished from the window (source trimmed or reordered
	// its history). Fall back to the nearest timestamp at or before the
	// last recorded activity.
	cutoff := rec.LastSeenAt
	best := -1
	for i, m := range messages {
		if !m.Timestamp.After(cutoff) {
			best = i
		}
	}
	if best >= 0 {
		o.logger.Debug("cursor id not found, using nearest-timestamp match",
			"external_id", rec.ExternalID, "matched_id", messages[best].ID)
		return messages[best+1:]
	}

	// Everything is newer than the cursor: recency-based slice.
	o.logger.Debug("cursor unusable, treating full window as new",
		"external_id", rec.ExternalID)
	return messages
}

// followUpAllowed implements the anti-spam throttle: short histories
// always pass; otherwise a follow-up is blocked when the trailing
// window was entirely self-sent.
func (o *Orchestrator) followUpAllowed(messages []Message) bool {
	if len(messages) < followUpWindow {
		return true
	}
	for _, m := range messages[len(messages)-followUpWindow:] {
		if !m.SentBySelf {
			return true
		}
	}
	return false
}

// rejectFollowUp records the policy rejection. Not a fault: the caller
// gets an empty reply and an advisory notice.
func (o *Orchestrator) rejectFollowUp(ctx context.Context, externalID string) {
	o.logger.Info("follow-up suppressed by throttle", "external_id", externalID)
	o.notifier.Notify(ctx, fmt.Sprintf(
		"conversation %s: follow-up suppressed (last %d messages were self-sent)",
		externalID, followUpWindow,
	))
}

// followUpBatch builds the synthetic follow-up instruction batch.
func followUpBatch() Batch {
	return Batch{Role: "user", Content: []ContentPart{TextPart(followUpInstruction)}}
}

// hasCounterpartMessage reports whether any message was not self-sent.
func hasCounterpartMessage(messages []Message) bool {
	for _, m := range messages {
		if !m.SentBySelf {
			return true
		}
	}
	return false
}

// extractReply returns the text of the first assistant-authored output
// entry.
func extractReply(output []OutputMessage) string {
	for _, m := range output {
		if m.Role == "assistant" && m.Text != "" {
			return m.Text
		}
	}
	return ""
}
