package moments

import (
	"dooriq/internal/patterns"
	"dooriq/internal/transcript"
)

const (
	maxSegmentLines  = 10
	topicChangeLines = 3
	bonusLineCount   = 5
	edgePositionBand = 0.2
)

// Outcome describes how a segment resolved, inferred from the exchange that
// follows it.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeNeutral Outcome = "neutral"
)

// Segment is a contiguous run of utterances sharing a dominant category.
type Segment struct {
	StartIndex int                    `json:"start_index"`
	EndIndex   int                    `json:"end_index"`
	Category   patterns.Category      `json:"category"`
	Subtype    string                 `json:"subtype,omitempty"`
	Importance int                    `json:"importance"`
	Outcome    Outcome                `json:"outcome"`
	Lines      []transcript.Utterance `json:"lines"`
}

// segment walks the transcript and cuts it into category-tagged runs. A new
// segment starts on every non-neutral pattern hit; a segment closes when it
// exceeds maxSegmentLines or the speaker role changes after the segment
// already holds more than topicChangeLines lines.
func (e *Extractor) segment(tr *transcript.Transcript) []Segment {
	var segments []Segment
	var current *Segment

	flush := func() {
		if current != nil && len(current.Lines) > 0 {
			segments = append(segments, *current)
		}
		current = nil
	}

	for _, utt := range tr.Utterances {
		match := e.engine.Classify(utt.Text)
		triggered := match.Category != patterns.CategoryNone

		if current != nil {
			roleChanged := current.Lines[len(current.Lines)-1].Role != utt.Role
			switch {
			case triggered:
				flush()
			case len(current.Lines) >= maxSegmentLines:
				flush()
			case roleChanged && len(current.Lines) > topicChangeLines:
				flush()
			}
		}

		if current == nil {
			category := patterns.CategoryNone
			subtype := ""
			if triggered {
				category = match.Category
				subtype = match.Subtype
			}
			current = &Segment{
				StartIndex: utt.Index,
				Category:   category,
				Subtype:    subtype,
			}
		}

		current.Lines = append(current.Lines, utt)
		current.EndIndex = utt.Index
	}
	flush()

	total := len(segments)
	for i := range segments {
		segments[i].Importance = importance(segments[i], i, total)
		segments[i].Outcome = OutcomeNeutral
	}
	inferOutcomes(segments)
	return segments
}

// importance derives a 1-10 score from category weight, segment length, and
// position in the conversation.
func importance(seg Segment, index, total int) int {
	score := categoryWeight(seg.Category)
	if len(seg.Lines) > bonusLineCount {
		score++
	}
	if total > 1 {
		position := float64(index) / float64(total)
		if position < edgePositionBand || position >= 1-edgePositionBand {
			score++
		}
	}
	if score < 1 {
		score = 1
	}
	if score > 10 {
		score = 10
	}
	return score
}

func categoryWeight(category patterns.Category) int {
	switch category {
	case patterns.CategoryObjection:
		return 9
	case patterns.CategoryCloseAttempt:
		return 8
	case patterns.CategoryDiscovery, patterns.CategorySafety:
		return 7
	case patterns.CategoryRapport:
		return 6
	default:
		return 5
	}
}

// inferOutcomes marks a close-attempt segment as a success when the next
// segment contains an affirmative token from the customer side.
func inferOutcomes(segments []Segment) {
	for i := range segments {
		if segments[i].Category != patterns.CategoryCloseAttempt {
			continue
		}
		if i+1 >= len(segments) {
			continue
		}
		for _, line := range segments[i+1].Lines {
			if line.Role != transcript.RoleCustomer {
				continue
			}
			if patterns.IsAffirmative(line.Text) {
				segments[i].Outcome = OutcomeSuccess
				break
			}
		}
	}
}
