package deepgrade

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"dooriq/internal/logging"
	"dooriq/internal/services"
	"dooriq/internal/services/llm"
	"dooriq/internal/transcript"
)

const (
	defaultMaxTokens = 2000
	temperature      = 0.1
)

// CategoryScores are the holistic 0-100 scores the deep grade produces.
type CategoryScores struct {
	Rapport           int `json:"rapport"`
	Discovery         int `json:"discovery"`
	ObjectionHandling int `json:"objection_handling"`
	Closing           int `json:"closing"`
	Safety            int `json:"safety"`
}

// DealDetails describes the closed deal, present only when SaleClosed.
type DealDetails struct {
	Product   string `json:"product,omitempty"`
	Price     string `json:"price,omitempty"`
	Frequency string `json:"frequency,omitempty"`
}

// QuotedMoment pairs a literal transcript quote with coaching commentary.
type QuotedMoment struct {
	Quote      string `json:"quote"`
	Commentary string `json:"commentary"`
}

// Result is the holistic assessment of a full conversation.
type Result struct {
	SaleClosed     bool           `json:"sale_closed"`
	Scores         CategoryScores `json:"scores"`
	OverallScore   int            `json:"overall_score"`
	DealDetails    *DealDetails   `json:"deal_details,omitempty"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	Strengths      []string       `json:"strengths,omitempty"`
	Improvements   []string       `json:"improvements,omitempty"`
	KeyMoments     []QuotedMoment `json:"key_moments,omitempty"`
	ContentFlagged bool           `json:"content_flagged,omitempty"`
}

type completer interface {
	CompleteJSON(ctx context.Context, req llm.Request) (string, error)
}

// Grader runs the single holistic LLM grading call.
type Grader struct {
	client    completer
	maxTokens int
	logger    *slog.Logger
}

// NewGrader builds a grader. maxTokens below 1 falls back to the default.
func NewGrader(client completer, maxTokens int, logger *slog.Logger) *Grader {
	if maxTokens < 1 {
		maxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Grader{
		client:    client,
		maxTokens: maxTokens,
		logger:    logging.NewComponentLogger(logger, "deepgrade"),
	}
}

// flaggedPatterns is the content-safety pre-check list. Any hit zeroes the
// grade and skips the LLM call entirely, trading nuance for predictability
// and cost safety.
var flaggedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bf+u+c+k+\w*`),
	regexp.MustCompile(`(?i)\bs+h+i+t+\w*`),
	regexp.MustCompile(`(?i)\bbitch(es)?\b`),
	regexp.MustCompile(`(?i)\bassholes?\b`),
	regexp.MustCompile(`(?i)\bgod ?damn\w*`),
	regexp.MustCompile(`(?i)\bbastards?\b`),
	regexp.MustCompile(`(?i)\b(kill|hurt) (you|yourself|them)\b`),
	regexp.MustCompile(`(?i)get (the hell |the f\w* )?off my (porch|property|lawn)`),
}

// ContentFlagged reports whether any utterance trips the safety list.
func ContentFlagged(tr *transcript.Transcript) bool {
	for _, utt := range tr.Utterances {
		for _, pattern := range flaggedPatterns {
			if pattern.MatchString(utt.Text) {
				return true
			}
		}
	}
	return false
}

// Grade performs the deep grade. A content-safety hit short-circuits with a
// zeroed result and no LLM call; that branch is not an error. An LLM failure
// or a response violating the JSON contract is a hard failure for this stage.
func (g *Grader) Grade(ctx context.Context, tr *transcript.Transcript, durationSeconds float64) (*Result, error) {
	if tr == nil || tr.Len() == 0 {
		return nil, services.Wrap(services.ErrValidation, "deepgrade", "grade", "transcript is empty", nil)
	}

	if ContentFlagged(tr) {
		g.logger.Warn("content safety short circuit",
			logging.String(logging.FieldEventType, "deepgrade_content_flagged"),
			logging.String(logging.FieldSessionID, tr.SessionID))
		return &Result{
			SaleClosed:     false,
			ContentFlagged: true,
			FailureReason:  "conversation flagged by content safety check",
		}, nil
	}
	if g.client == nil {
		return nil, services.Wrap(services.ErrConfiguration, "deepgrade", "grade", "no llm client configured", nil)
	}

	content, err := g.client.CompleteJSON(ctx, llm.Request{
		System:      gradeSystemPrompt,
		User:        buildGradePrompt(tr, durationSeconds),
		MaxTokens:   g.maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "deepgrade", "grade", "llm call failed", err)
	}

	var result Result
	if err := llm.DecodeJSON(content, &result); err != nil {
		return nil, services.Wrap(services.ErrTransient, "deepgrade", "grade", "response violated grading contract", err)
	}
	normalize(&result)

	g.logger.Info("deep grade complete",
		logging.String(logging.FieldSessionID, tr.SessionID),
		logging.Int("overall_score", result.OverallScore),
		logging.Bool("sale_closed", result.SaleClosed))
	return &result, nil
}

const gradeSystemPrompt = `You are an expert door-to-door sales coach grading a complete pest control sales conversation. Score each category 0-100, decide whether the sale closed, and give concrete coaching. Quote the transcript literally in key_moments. Respond with JSON only, matching exactly:
{"sale_closed":false,"scores":{"rapport":0,"discovery":0,"objection_handling":0,"closing":0,"safety":0},"overall_score":0,"deal_details":{"product":"","price":"","frequency":""},"failure_reason":"","strengths":["..."],"improvements":["..."],"key_moments":[{"quote":"...","commentary":"..."}]}
Omit deal_details unless the sale closed. Omit failure_reason when it did.`

func buildGradePrompt(tr *transcript.Transcript, durationSeconds float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation duration: %.0f seconds. Transcript:\n", durationSeconds)
	for _, utt := range tr.Utterances {
		fmt.Fprintf(&b, "%s: %s\n", utt.Role, utt.Text)
	}
	return b.String()
}

func normalize(result *Result) {
	result.Scores.Rapport = clampScore(result.Scores.Rapport)
	result.Scores.Discovery = clampScore(result.Scores.Discovery)
	result.Scores.ObjectionHandling = clampScore(result.Scores.ObjectionHandling)
	result.Scores.Closing = clampScore(result.Scores.Closing)
	result.Scores.Safety = clampScore(result.Scores.Safety)
	if result.OverallScore == 0 {
		sum := result.Scores.Rapport + result.Scores.Discovery +
			result.Scores.ObjectionHandling + result.Scores.Closing + result.Scores.Safety
		result.OverallScore = int(math.Round(float64(sum) / 5))
	}
	result.OverallScore = clampScore(result.OverallScore)
	if !result.SaleClosed {
		result.DealDetails = nil
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Encode serializes the result for storage in the session record.
func (r *Result) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode deep grade: %w", err)
	}
	return data, nil
}
