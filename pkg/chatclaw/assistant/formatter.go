// Package assistant – formatter.go converts raw conversation messages
// into ordered, size-bounded, role-grouped batches in the shape the
// remote API expects, sanitizing sensitive text and attaching resolved
// transcriptions.
package assistant

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Sanitization rules, applied in order. The image-URL rule must run
// before the generic URL rule or image links degrade to plain [Link].
var (
	imageURLPattern = regexp.MustCompile(`(?i)https?://[^\s]+\.(?:png|jpe?g|gif|webp|bmp)(?:\?[^\s]*)?`)
	urlPattern      = regexp.MustCompile(`(?i)(?:https?://|www\.)[^\s]+`)
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern    = regexp.MustCompile(`\+?\d(?:[\s().\-]?\d){7,14}`)
	spacePattern    = regexp.MustCompile(`\s+`)
)

// TranscriptResolver is the read side of the transcription cache.
type TranscriptResolver interface {
	// Resolve returns the cached transcript for a locator, if any.
	Resolve(locator string) (string, bool)
}

// noTranscripts is the null resolver used when transcription is disabled.
type noTranscripts struct{}

func (noTranscripts) Resolve(string) (string, bool) { return "", false }

// Formatter builds remote message batches from conversation messages.
type Formatter struct {
	maxItemsPerChunk int
	maxProductImages int
	transcripts      TranscriptResolver
	logger           *slog.Logger
}

// NewFormatter creates a formatter. A nil resolver disables transcript
// attachment (messages get the no-transcript placeholder).
func NewFormatter(cfg FormatterConfig, transcripts TranscriptResolver, logger *slog.Logger) *Formatter {
	if transcripts == nil {
		transcripts = noTranscripts{}
	}
	maxItems := cfg.MaxItemsPerChunk
	if maxItems <= 0 {
		maxItems = 10
	}
	maxImages := cfg.MaxProductImages
	if maxImages < 0 {
		maxImages = 0
	}
	return &Formatter{
		maxItemsPerChunk: maxItems,
		maxProductImages: maxImages,
		transcripts:      transcripts,
		logger:           logger.With("component", "formatter"),
	}
}

// Sanitize collapses whitespace and applies the redaction rules in
// order. The collapse runs first: a digit run split by multiple spaces
// must look the same as its single-spaced form before the phone rule
// sees it, otherwise the result changes under a second pass.
// Idempotent: placeholders contain nothing the rules match.
func (f *Formatter) Sanitize(text string) string {
	text = strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
	text = imageURLPattern.ReplaceAllString(text, "[Image URL]")
	text = urlPattern.ReplaceAllString(text, "[Link]")
	text = emailPattern.ReplaceAllString(text, "[Email]")
	text = phonePattern.ReplaceAllString(text, "[Phone]")
	return text
}

// GroupConsecutiveBySender partitions messages into maximal runs with
// the same SentBySelf flag. A message carrying audio or images always
// forms its own group: multimedia never shares a batch entry with
// unrelated text.
func (f *Formatter) GroupConsecutiveBySender(messages []Message) [][]Message {
	var groups [][]Message
	for _, m := range messages {
		multimedia := m.HasAudio || len(m.Images) > 0

		startNew := len(groups) == 0 || multimedia
		if !startNew {
			last := groups[len(groups)-1]
			if last[0].SentBySelf != m.SentBySelf {
				startNew = true
			}
			// The previous group may have been a multimedia singleton;
			// never extend it.
			if !startNew && (last[len(last)-1].HasAudio || len(last[len(last)-1].Images) > 0) {
				startNew = true
			}
		}

		if startNew {
			groups = append(groups, []Message{m})
		} else {
			groups[len(groups)-1] = append(groups[len(groups)-1], m)
		}
	}
	return groups
}

// chunkParts splits content entries into slices of at most maxItems,
// preserving order.
func chunkParts(parts []ContentPart, maxItems int) [][]ContentPart {
	if maxItems <= 0 {
		maxItems = len(parts)
	}
	var chunks [][]ContentPart
	for len(parts) > maxItems {
		chunks = append(chunks, parts[:maxItems])
		parts = parts[maxItems:]
	}
	if len(parts) > 0 {
		chunks = append(chunks, parts)
	}
	return chunks
}

// AttachTranscript resolves the transcript for an audio message and
// folds it into the text. This never waits: if the transcript is not
// cached yet, a neutral placeholder is appended instead. Waiting for
// pending jobs happens earlier, in the orchestrator.
func (f *Formatter) AttachTranscript(m Message) Message {
	if !m.HasAudio {
		return m
	}

	transcript := m.Transcript
	if transcript == "" {
		if text, ok := f.transcripts.Resolve(m.AudioLocator); ok && text != "" {
			transcript = text
		}
	}

	if transcript != "" {
		m.Transcript = transcript
		m.Text = strings.TrimSpace(m.Text + " [Audio transcription: " + transcript + "]")
	} else {
		m.Text = strings.TrimSpace(m.Text + " [Audio message: transcription not available]")
	}
	return m
}

// Format converts messages into ordered role-tagged batches. When
// product info is given, a product-description batch is prepended.
// Each sender group yields one or more batches: sanitized text first,
// then image entries, chunked to the configured ceiling. Batches with
// no content are dropped.
func (f *Formatter) Format(messages []Message, product *ProductInfo) []Batch {
	var batches []Batch

	if product != nil {
		if b, ok := f.productBatch(product); ok {
			batches = append(batches, b)
		}
	}

	for _, group := range f.GroupConsecutiveBySender(messages) {
		role := "user"
		if group[0].SentBySelf {
			role = "assistant"
		}

		var parts []ContentPart
		for _, m := range group {
			m = f.AttachTranscript(m)
			if text := f.Sanitize(m.Text); text != "" {
				parts = append(parts, TextPart(text))
			}
			for _, img := range m.Images {
				parts = append(parts, ImagePart(img))
			}
		}

		for _, chunk := range chunkParts(parts, f.maxItemsPerChunk) {
			batches = append(batches, Batch{Role: role, Content: chunk})
		}
	}

	f.logger.Debug("formatted messages", "messages", len(messages), "batches", len(batches))
	return batches
}

// productBatch builds the listing summary batch prepended to new threads.
func (f *Formatter) productBatch(product *ProductInfo) (Batch, bool) {
	var sb strings.Builder
	sb.WriteString("Product listing under discussion: ")
	sb.WriteString(product.Title)
	if product.Price != "" {
		fmt.Fprintf(&sb, " (price: %s)", product.Price)
	}
	if product.Description != "" {
		sb.WriteString(". ")
		sb.WriteString(product.Description)
	}

	parts := []ContentPart{TextPart(f.Sanitize(sb.String()))}
	images := product.Images
	if len(images) > f.maxProductImages {
		images = images[:f.maxProductImages]
	}
	for _, img := range images {
		parts = append(parts, ImagePart(img))
	}

	if len(parts) == 0 {
		return Batch{}, false
	}
	return Batch{Role: "user", Content: parts}, true
}
