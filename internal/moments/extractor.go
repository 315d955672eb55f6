package moments

import (
	"context"
	"log/slog"
	"sort"

	"dooriq/internal/logging"
	"dooriq/internal/patterns"
	"dooriq/internal/services"
	"dooriq/internal/services/llm"
	"dooriq/internal/transcript"
)

// DefaultMaxMoments bounds how many segments are promoted to key moments.
const DefaultMaxMoments = 10

// Annotation is the short LLM-produced commentary attached to a key moment.
type Annotation struct {
	WhatHappened    string `json:"what_happened"`
	WhatWorked      string `json:"what_worked"`
	WhatToImprove   string `json:"what_to_improve"`
	AlternativeLine string `json:"alternative_line"`
}

// KeyMoment is a segment promoted to the top-N by importance, optionally
// enriched with an annotation. Annotation stays nil when enrichment fails;
// the moment itself is still reported.
type KeyMoment struct {
	Segment
	Annotation *Annotation `json:"annotation,omitempty"`
}

type completer interface {
	CompleteJSON(ctx context.Context, req llm.Request) (string, error)
}

// Extractor segments a transcript, ranks the segments, and annotates the top
// moments with a single LLM call.
type Extractor struct {
	engine     *patterns.Engine
	client     completer
	maxMoments int
	logger     *slog.Logger
}

// NewExtractor builds an extractor. A nil client disables enrichment; maxMoments
// values below 1 fall back to the default.
func NewExtractor(engine *patterns.Engine, client completer, maxMoments int, logger *slog.Logger) *Extractor {
	if engine == nil {
		engine = patterns.NewEngine()
	}
	if maxMoments < 1 {
		maxMoments = DefaultMaxMoments
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Extractor{
		engine:     engine,
		client:     client,
		maxMoments: maxMoments,
		logger:     logging.NewComponentLogger(logger, "moments"),
	}
}

// Extract returns the top moments of the transcript ranked by importance.
// Segmentation and ranking are purely local; the single annotation call is
// best effort and its failure never fails the extraction.
func (e *Extractor) Extract(ctx context.Context, tr *transcript.Transcript) ([]KeyMoment, error) {
	if tr == nil || tr.Len() == 0 {
		return nil, services.Wrap(services.ErrValidation, "moments", "extract", "transcript is empty", nil)
	}

	segments := e.segment(tr)
	selected := selectTop(segments, e.maxMoments)

	result := make([]KeyMoment, len(selected))
	for i, seg := range selected {
		result[i] = KeyMoment{Segment: seg}
	}
	if len(result) == 0 {
		return result, nil
	}

	if e.client != nil {
		if err := e.annotate(ctx, result); err != nil {
			e.logger.Warn("moment annotation failed",
				logging.String(logging.FieldEventType, "moment_annotation_failed"),
				logging.String(logging.FieldSessionID, tr.SessionID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "moments returned without commentary"))
		}
	}

	e.logger.Info("extracted key moments",
		logging.String(logging.FieldSessionID, tr.SessionID),
		logging.Int("segment_count", len(segments)),
		logging.Int("moment_count", len(result)))
	return result, nil
}

// selectTop returns up to max segments ordered by importance descending.
// The sort is stable so ties preserve original conversation order.
func selectTop(segments []Segment, max int) []Segment {
	ranked := make([]Segment, len(segments))
	copy(ranked, segments)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Importance > ranked[j].Importance
	})
	if len(ranked) > max {
		ranked = ranked[:max]
	}
	return ranked
}
