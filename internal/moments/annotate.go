package moments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"dooriq/internal/services/llm"
)

const annotationSystemPrompt = `You are a door-to-door sales coach reviewing key moments from a pest control sales conversation. For each moment you receive, respond with concise, actionable coaching. Respond with JSON only, matching exactly:
{"moments":[{"index":0,"what_happened":"...","what_worked":"...","what_to_improve":"...","alternative_line":"..."}]}
Keep each field to one or two sentences. "alternative_line" is one concrete line the rep could have said instead.`

type annotationPromptMoment struct {
	Index    int      `json:"index"`
	Category string   `json:"category"`
	Outcome  string   `json:"outcome"`
	Lines    []string `json:"lines"`
}

type annotationResponse struct {
	Moments []struct {
		Index           int    `json:"index"`
		WhatHappened    string `json:"what_happened"`
		WhatWorked      string `json:"what_worked"`
		WhatToImprove   string `json:"what_to_improve"`
		AlternativeLine string `json:"alternative_line"`
	} `json:"moments"`
}

// annotate issues the single enrichment call for the selected moments and
// attaches annotations in place. Only the selected moments are sent, never
// the full transcript.
func (e *Extractor) annotate(ctx context.Context, selected []KeyMoment) error {
	prompt := make([]annotationPromptMoment, len(selected))
	for i, moment := range selected {
		lines := make([]string, 0, len(moment.Lines))
		for _, utt := range moment.Lines {
			lines = append(lines, fmt.Sprintf("%s: %s", utt.Role, utt.Text))
		}
		prompt[i] = annotationPromptMoment{
			Index:    i,
			Category: string(moment.Category),
			Outcome:  string(moment.Outcome),
			Lines:    lines,
		}
	}
	encoded, err := json.Marshal(map[string]any{"moments": prompt})
	if err != nil {
		return fmt.Errorf("encode moments: %w", err)
	}

	content, err := e.client.CompleteJSON(ctx, llm.Request{
		System:      annotationSystemPrompt,
		User:        string(encoded),
		MaxTokens:   150 * len(selected),
		Temperature: 0.3,
	})
	if err != nil {
		return err
	}

	var decoded annotationResponse
	if err := llm.DecodeJSON(content, &decoded); err != nil {
		return err
	}

	for _, ann := range decoded.Moments {
		if ann.Index < 0 || ann.Index >= len(selected) {
			continue
		}
		if strings.TrimSpace(ann.WhatHappened) == "" {
			continue
		}
		selected[ann.Index].Annotation = &Annotation{
			WhatHappened:    strings.TrimSpace(ann.WhatHappened),
			WhatWorked:      strings.TrimSpace(ann.WhatWorked),
			WhatToImprove:   strings.TrimSpace(ann.WhatToImprove),
			AlternativeLine: strings.TrimSpace(ann.AlternativeLine),
		}
	}
	return nil
}
