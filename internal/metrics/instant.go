// Package metrics implements the instant heuristic scorer: the first
// grading stage, synchronous and LLM-free.
package metrics

import (
	"encoding/json"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"dooriq/internal/logging"
	"dooriq/internal/patterns"
	"dooriq/internal/textutil"
	"dooriq/internal/transcript"
)

const baseScore = 70

// SubScores are the five heuristic category scores, each clamped to [0,100].
type SubScores struct {
	Rapport           int `json:"rapport"`
	Discovery         int `json:"discovery"`
	ObjectionHandling int `json:"objection_handling"`
	Closing           int `json:"closing"`
	Safety            int `json:"safety"`
}

// InstantMetrics is the full output of the instant stage.
type InstantMetrics struct {
	Scores  SubScores `json:"scores"`
	Overall int       `json:"overall"`

	Balance        float64 `json:"balance"`
	WordsPerMinute float64 `json:"words_per_minute"`

	ObjectionCount    int `json:"objection_count"`
	CloseAttempts     int `json:"close_attempts"`
	SafetyMentions    int `json:"safety_mentions"`
	QuestionCount     int `json:"question_count"`
	FillerWordCount   int `json:"filler_word_count"`
	LongPauses        int `json:"long_pauses"`
	ObjectionsHandled int `json:"objections_handled"`

	// Speech carries the external speech-quality webhook payload when one
	// was stored for the session.
	Speech json.RawMessage `json:"speech,omitempty"`
	// SpeechGradingError flags an expected-but-missing speech payload.
	// Soft: the stage still succeeds.
	SpeechGradingError bool `json:"speech_grading_error,omitempty"`
}

var (
	fillerPattern = regexp.MustCompile(`(?i)\b(um+|uh+|like,|you know|basically|literally|kinda|sorta|i mean)\b`)
	ackPattern    = regexp.MustCompile(`(?i)(i (totally |completely )?understand|great question|that makes sense|i hear you|fair enough|a lot of (folks|people|neighbors) (say|ask|feel))`)
)

// longPauseSeconds is the gap between consecutive utterances that counts as
// a long pause. Only measurable when timestamps are present.
const longPauseSeconds = 10

// Stage computes instant metrics from a transcript. Stateless beyond the
// shared pattern engine.
type Stage struct {
	engine *patterns.Engine
	logger *slog.Logger
}

// NewStage constructs the instant metrics stage.
func NewStage(engine *patterns.Engine, logger *slog.Logger) *Stage {
	if engine == nil {
		engine = patterns.NewEngine()
	}
	return &Stage{engine: engine, logger: logging.NewComponentLogger(logger, "instant-metrics")}
}

// SpeechPayload is the optional external speech-quality webhook input.
type SpeechPayload struct {
	// Expected is true when the session was told to wait for a payload.
	Expected bool
	// Data is the stored payload, nil when none arrived.
	Data json.RawMessage
}

// Compute runs the heuristic scorer. It never fails: any internal panic
// degrades to returning whatever partial metrics were already computed, so
// this stage can never block the pipeline.
func (s *Stage) Compute(tr *transcript.Transcript, speech SpeechPayload) (m InstantMetrics) {
	m.Scores = SubScores{
		Rapport:           baseScore,
		Discovery:         baseScore,
		ObjectionHandling: baseScore,
		Closing:           baseScore,
		Safety:            baseScore,
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("instant metrics degraded to partial result",
				logging.Any("panic", r),
				logging.String(logging.FieldEventType, "instant_metrics_panic"),
			)
		}
		m.clampAndFinalize()
	}()

	if tr == nil || tr.Len() == 0 {
		return m
	}

	repLines := tr.RepLines()
	s.tally(&m, tr, repLines)

	m.Balance = tr.CharBalance()
	switch {
	case m.Balance >= 40 && m.Balance <= 60:
		m.Scores.Rapport += 10
	case m.Balance <= 30:
		m.Scores.Rapport -= 15
	case m.Balance > 70:
		m.Scores.Rapport -= 10
	}

	m.WordsPerMinute = wordsPerMinute(tr, repLines)
	switch {
	case m.WordsPerMinute == 0:
		// No duration available; pacing unscored.
	case m.WordsPerMinute >= 140 && m.WordsPerMinute <= 160:
		m.Scores.Rapport += 5
	case m.WordsPerMinute < 120:
		m.Scores.Rapport -= 5
	case m.WordsPerMinute > 180:
		m.Scores.Rapport -= 10
	}

	switch {
	case m.QuestionCount >= 3:
		m.Scores.Discovery += 10
	case m.QuestionCount == 0:
		m.Scores.Discovery -= 15
	}

	switch {
	case m.CloseAttempts >= 2:
		m.Scores.Closing += 15
	case m.CloseAttempts == 1:
		m.Scores.Closing += 5
	default:
		m.Scores.Closing -= 20
	}

	if m.SafetyMentions > 0 {
		m.Scores.Safety += 20
	} else {
		m.Scores.Safety -= 10
	}

	fillerPenalty := m.FillerWordCount * 2
	if fillerPenalty > 15 {
		fillerPenalty = 15
	}
	m.Scores.Rapport -= fillerPenalty
	m.Scores.Discovery -= fillerPenalty

	if m.LongPauses > 5 {
		m.Scores.Rapport -= 5
	}

	if m.ObjectionCount == 0 {
		m.Scores.ObjectionHandling += 5
	} else {
		m.Scores.ObjectionHandling += 5*m.ObjectionsHandled - 5*(m.ObjectionCount-m.ObjectionsHandled)
	}

	s.mergeSpeech(&m, speech)
	return m
}

// tally runs the pattern engine over the rep lines and counts raw signals.
func (s *Stage) tally(m *InstantMetrics, tr *transcript.Transcript, repLines []transcript.Utterance) {
	for _, line := range repLines {
		match := s.engine.Classify(line.Text)
		switch match.Category {
		case patterns.CategoryObjection:
			m.ObjectionCount++
			if repHandlesObjection(tr, line.Index) {
				m.ObjectionsHandled++
			}
		case patterns.CategoryCloseAttempt:
			m.CloseAttempts++
		case patterns.CategorySafety:
			m.SafetyMentions++
		}

		m.QuestionCount += strings.Count(line.Text, "?")
		m.FillerWordCount += len(fillerPattern.FindAllString(line.Text, -1))
	}

	var prev float64
	var seen bool
	for _, u := range tr.Utterances {
		if u.Timestamp <= 0 {
			continue
		}
		if seen && u.Timestamp-prev > longPauseSeconds {
			m.LongPauses++
		}
		prev = u.Timestamp
		seen = true
	}
}

// repHandlesObjection checks whether the rep's next line after an objection
// acknowledges it.
func repHandlesObjection(tr *transcript.Transcript, objectionIndex int) bool {
	for i := objectionIndex + 1; i < tr.Len(); i++ {
		u := tr.Utterances[i]
		if u.Role != transcript.RoleRep {
			continue
		}
		return ackPattern.MatchString(u.Text)
	}
	return false
}

func (s *Stage) mergeSpeech(m *InstantMetrics, speech SpeechPayload) {
	if len(speech.Data) > 0 {
		m.Speech = speech.Data
		return
	}
	if speech.Expected {
		m.SpeechGradingError = true
		s.logger.Warn("speech grading payload expected but missing",
			logging.String(logging.FieldEventType, "speech_grading_missing"),
			logging.String(logging.FieldErrorHint, "speech webhook may be delayed; instant metrics remain valid"),
		)
	}
}

func wordsPerMinute(tr *transcript.Transcript, repLines []transcript.Utterance) float64 {
	seconds := tr.DurationSeconds()
	if seconds <= 0 {
		return 0
	}
	var words int
	for _, line := range repLines {
		words += textutil.CountWords(line.Text)
	}
	return float64(words) / (seconds / 60)
}

func (m *InstantMetrics) clampAndFinalize() {
	m.Scores.Rapport = clamp(m.Scores.Rapport)
	m.Scores.Discovery = clamp(m.Scores.Discovery)
	m.Scores.ObjectionHandling = clamp(m.Scores.ObjectionHandling)
	m.Scores.Closing = clamp(m.Scores.Closing)
	m.Scores.Safety = clamp(m.Scores.Safety)

	sum := m.Scores.Rapport + m.Scores.Discovery + m.Scores.ObjectionHandling + m.Scores.Closing + m.Scores.Safety
	m.Overall = int(math.Round(float64(sum) / 5))
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
