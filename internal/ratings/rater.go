package ratings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"dooriq/internal/logging"
	"dooriq/internal/phrasecache"
	"dooriq/internal/services/llm"
	"dooriq/internal/transcript"
)

const ratingSystemPrompt = `You are a door-to-door sales coach grading one line a sales rep said during a pest control pitch. Rate the line and suggest two or three stronger alternatives the rep could have said instead. Respond with JSON only, matching exactly:
{"rating":"excellent|good|poor|missed_opportunity","alternatives":["...","..."]}`

const maxAlternatives = 3

type completer interface {
	CompleteJSON(ctx context.Context, req llm.Request) (string, error)
}

// Rater grades rep lines cache-first with an LLM fallback.
type Rater struct {
	client completer
	cache  phrasecache.Store
	logger *slog.Logger
}

// NewRater builds a rater. A nil cache disables caching entirely.
func NewRater(client completer, cache phrasecache.Store, logger *slog.Logger) *Rater {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Rater{
		client: client,
		cache:  cache,
		logger: logging.NewComponentLogger(logger, "ratings"),
	}
}

// RateBatch rates every line in the batch in transcript order. A line whose
// LLM call or parse fails is recorded with RatingError instead of failing
// the batch; the batch succeeds as long as every line was attempted.
func (r *Rater) RateBatch(ctx context.Context, batch Batch) []LineRating {
	results := make([]LineRating, 0, len(batch.Utterances))
	for _, utt := range batch.Utterances {
		results = append(results, r.rateLine(ctx, batch.SessionID, utt))
	}
	return results
}

func (r *Rater) rateLine(ctx context.Context, sessionID string, utt transcript.Utterance) LineRating {
	result := LineRating{Index: utt.Index, Text: utt.Text}

	if r.cache != nil {
		if entry, ok := r.cache.Get(utt.Text); ok {
			result.Rating = Rating(entry.Rating)
			result.Alternatives = entry.Alternatives
			result.Cached = true
			return result
		}
	}

	rating, alternatives, err := r.rateWithLLM(ctx, utt.Text)
	if err != nil {
		r.logger.Warn("line rating failed",
			logging.String(logging.FieldEventType, "line_rating_failed"),
			logging.String(logging.FieldSessionID, sessionID),
			logging.Int("utterance_index", utt.Index),
			logging.Error(err))
		result.Rating = RatingError
		return result
	}
	result.Rating = rating
	result.Alternatives = alternatives

	// Cache writes are fire-and-forget relative to the rating result.
	if r.cache != nil {
		if err := r.cache.Put(phrasecache.Entry{
			Phrase:       utt.Text,
			Rating:       string(rating),
			Alternatives: alternatives,
		}); err != nil {
			r.logger.Warn("phrase cache write failed",
				logging.String(logging.FieldEventType, "phrasecache_put_failed"),
				logging.Error(err))
		}
	}
	return result
}

type ratingResponse struct {
	Rating       string   `json:"rating"`
	Alternatives []string `json:"alternatives"`
}

func (r *Rater) rateWithLLM(ctx context.Context, text string) (Rating, []string, error) {
	if r.client == nil {
		return "", nil, fmt.Errorf("rate line: no llm client configured")
	}
	content, err := r.client.CompleteJSON(ctx, llm.Request{
		System:      ratingSystemPrompt,
		User:        fmt.Sprintf("Rep line: %q", text),
		MaxTokens:   300,
		Temperature: 0.3,
	})
	if err != nil {
		return "", nil, err
	}

	var decoded ratingResponse
	if err := llm.DecodeJSON(content, &decoded); err != nil {
		return "", nil, err
	}
	rating, err := parseRating(decoded.Rating)
	if err != nil {
		return "", nil, err
	}

	alternatives := make([]string, 0, maxAlternatives)
	for _, alt := range decoded.Alternatives {
		if alt = strings.TrimSpace(alt); alt != "" {
			alternatives = append(alternatives, alt)
		}
		if len(alternatives) == maxAlternatives {
			break
		}
	}
	return rating, alternatives, nil
}

func parseRating(raw string) (Rating, error) {
	switch Rating(strings.ToLower(strings.TrimSpace(raw))) {
	case RatingExcellent:
		return RatingExcellent, nil
	case RatingGood:
		return RatingGood, nil
	case RatingPoor:
		return RatingPoor, nil
	case RatingMissedOpportunity:
		return RatingMissedOpportunity, nil
	default:
		return "", fmt.Errorf("rate line: unrecognized rating %q", raw)
	}
}

// EncodeRatings serializes merged ratings for storage in the session record.
func EncodeRatings(ratings []LineRating) (json.RawMessage, error) {
	data, err := json.Marshal(ratings)
	if err != nil {
		return nil, fmt.Errorf("encode line ratings: %w", err)
	}
	return data, nil
}

// DecodeRatings parses previously stored ratings; empty input yields nil.
func DecodeRatings(data json.RawMessage) ([]LineRating, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var ratings []LineRating
	if err := json.Unmarshal(data, &ratings); err != nil {
		return nil, fmt.Errorf("decode line ratings: %w", err)
	}
	return ratings, nil
}
