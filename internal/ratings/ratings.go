package ratings

import (
	"sort"

	"dooriq/internal/transcript"
)

// Rating grades the effectiveness of one rep line.
type Rating string

const (
	RatingExcellent         Rating = "excellent"
	RatingGood              Rating = "good"
	RatingPoor              Rating = "poor"
	RatingMissedOpportunity Rating = "missed_opportunity"
	// RatingError marks a line whose rating could not be computed. The batch
	// still reports success; the error is visible in the merged results.
	RatingError Rating = "error"
)

// DefaultBatchSize is how many rep lines one queued job rates.
const DefaultBatchSize = 5

// LineRating is the per-utterance result, keyed by the utterance's stable
// transcript index.
type LineRating struct {
	Index        int      `json:"index"`
	Text         string   `json:"text"`
	Rating       Rating   `json:"rating"`
	Alternatives []string `json:"alternatives,omitempty"`
	Cached       bool     `json:"cached"`
}

// Batch is one queued unit of rating work. Job identity is
// (SessionID, BatchIndex); TotalBatches travels with every job so a worker
// can detect session completion on its own.
type Batch struct {
	SessionID    string                 `json:"session_id"`
	BatchIndex   int                    `json:"batch_index"`
	TotalBatches int                    `json:"total_batches"`
	Utterances   []transcript.Utterance `json:"utterances"`
}

// Partition splits rep lines into fixed-size batches preserving original
// order. Every line lands in exactly one batch.
func Partition(sessionID string, lines []transcript.Utterance, batchSize int) []Batch {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	if len(lines) == 0 {
		return nil
	}
	total := (len(lines) + batchSize - 1) / batchSize
	batches := make([]Batch, 0, total)
	for i := 0; i < len(lines); i += batchSize {
		end := i + batchSize
		if end > len(lines) {
			end = len(lines)
		}
		batches = append(batches, Batch{
			SessionID:    sessionID,
			BatchIndex:   len(batches),
			TotalBatches: total,
			Utterances:   lines[i:end],
		})
	}
	return batches
}

// Merge folds incoming ratings into existing ones keyed by utterance index,
// last write wins. The result is sorted by index, so merging is idempotent
// and independent of batch arrival order.
func Merge(existing, incoming []LineRating) []LineRating {
	byIndex := make(map[int]LineRating, len(existing)+len(incoming))
	for _, rating := range existing {
		byIndex[rating.Index] = rating
	}
	for _, rating := range incoming {
		byIndex[rating.Index] = rating
	}
	merged := make([]LineRating, 0, len(byIndex))
	for _, rating := range byIndex {
		merged = append(merged, rating)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Index < merged[j].Index })
	return merged
}
