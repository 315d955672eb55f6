// Package transcript defines the conversation data model consumed by every
// grading stage: ordered utterances with normalized speaker roles.
package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role identifies which side of the conversation produced an utterance.
type Role string

const (
	// RoleRep is the sales-side speaker being graded.
	RoleRep Role = "rep"
	// RoleCustomer is the counterpart speaker.
	RoleCustomer Role = "customer"
	// RoleUnknown marks speakers that resolve to neither side. Unknown
	// utterances are excluded from balance math and never rated.
	RoleUnknown Role = "unknown"
)

// Historical exports and live-session payloads label the two roles several
// different ways; all aliases fold onto rep/customer.
var roleAliases = map[string]Role{
	"rep":         RoleRep,
	"sales_rep":   RoleRep,
	"salesperson": RoleRep,
	"agent":       RoleRep,
	"seller":      RoleRep,
	"user":        RoleRep,
	"trainee":     RoleRep,
	"customer":    RoleCustomer,
	"prospect":    RoleCustomer,
	"homeowner":   RoleCustomer,
	"buyer":       RoleCustomer,
	"assistant":   RoleCustomer,
	"ai":          RoleCustomer,
	"austin":      RoleCustomer,
}

// NormalizeRole resolves a raw speaker label to one of the two roles.
func NormalizeRole(speaker string) Role {
	key := strings.ToLower(strings.TrimSpace(speaker))
	if role, ok := roleAliases[key]; ok {
		return role
	}
	return RoleUnknown
}

// Utterance is one turn of speech with a stable position.
type Utterance struct {
	Index     int     `json:"index"`
	Speaker   string  `json:"speaker"`
	Role      Role    `json:"role"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// Transcript is an ordered sequence of utterances for one conversation.
type Transcript struct {
	SessionID  string      `json:"session_id"`
	Utterances []Utterance `json:"utterances"`
	Duration   time.Duration
}

// Record matches the external ingest format: {speaker, text, timestamp?}.
type Record struct {
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// Parse decodes an ingest payload (JSON array of {speaker, text, timestamp?})
// into a Transcript with normalized roles and sequential indices. Lines with
// empty text are dropped so indices stay meaningful for rating merges.
func Parse(sessionID string, data []byte) (*Transcript, error) {
	var raw []Record
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return FromRecords(sessionID, raw)
}

// FromRecords builds a Transcript from already-decoded records.
func FromRecords(sessionID string, records []Record) (*Transcript, error) {
	utterances := make([]Utterance, 0, len(records))
	for _, r := range records {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		utterances = append(utterances, Utterance{
			Index:     len(utterances),
			Speaker:   r.Speaker,
			Role:      NormalizeRole(r.Speaker),
			Text:      text,
			Timestamp: r.Timestamp,
		})
	}
	if len(utterances) == 0 {
		return nil, fmt.Errorf("transcript has no usable utterances")
	}
	return &Transcript{SessionID: sessionID, Utterances: utterances}, nil
}

// RepLines returns the utterances spoken by the rep, in transcript order.
func (t *Transcript) RepLines() []Utterance {
	var lines []Utterance
	for _, u := range t.Utterances {
		if u.Role == RoleRep {
			lines = append(lines, u)
		}
	}
	return lines
}

// CharBalance computes rep characters as a percentage of total characters.
// Unknown-role utterances are excluded from both sides. Returns 0 when no
// recognized speech exists.
func (t *Transcript) CharBalance() float64 {
	var rep, total int
	for _, u := range t.Utterances {
		switch u.Role {
		case RoleRep:
			rep += len(u.Text)
			total += len(u.Text)
		case RoleCustomer:
			total += len(u.Text)
		}
	}
	if total == 0 {
		return 0
	}
	return float64(rep) / float64(total) * 100
}

// DurationSeconds derives conversation length from explicit duration or the
// last timestamp when the caller did not supply one.
func (t *Transcript) DurationSeconds() float64 {
	if t.Duration > 0 {
		return t.Duration.Seconds()
	}
	var last float64
	for _, u := range t.Utterances {
		if u.Timestamp > last {
			last = u.Timestamp
		}
	}
	return last
}

// Len returns the utterance count.
func (t *Transcript) Len() int {
	return len(t.Utterances)
}
