package deepgrade

import (
	"context"
	"errors"
	"testing"

	"dooriq/internal/services"
	"dooriq/internal/services/llm"
	"dooriq/internal/transcript"
)

type fakeCompleter struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, req llm.Request) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func mustTranscript(t *testing.T, records []transcript.Record) *transcript.Transcript {
	t.Helper()
	tr, err := transcript.FromRecords("session-1", records)
	if err != nil {
		t.Fatalf("FromRecords: %v", err)
	}
	return tr
}

func cleanConversation(t *testing.T) *transcript.Transcript {
	t.Helper()
	return mustTranscript(t, []transcript.Record{
		{Speaker: "rep", Text: "Hi, I'm with the local pest control service."},
		{Speaker: "customer", Text: "What do you charge?"},
		{Speaker: "rep", Text: "Most homes here run forty nine a month."},
		{Speaker: "customer", Text: "Okay, sounds good."},
	})
}

const validGradeResponse = `{
	"sale_closed": true,
	"scores": {"rapport": 80, "discovery": 60, "objection_handling": 70, "closing": 90, "safety": 50},
	"overall_score": 0,
	"deal_details": {"product": "quarterly service", "price": "$49/mo", "frequency": "quarterly"},
	"strengths": ["clear pricing"],
	"improvements": ["ask more discovery questions"],
	"key_moments": [{"quote": "Most homes here run forty nine a month.", "commentary": "Direct price anchor."}]
}`

func TestGradeParsesContract(t *testing.T) {
	client := &fakeCompleter{response: validGradeResponse}
	grader := NewGrader(client, 0, nil)

	result, err := grader.Grade(context.Background(), cleanConversation(t), 120)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("calls = %d, want 1", client.calls)
	}
	if !result.SaleClosed {
		t.Error("sale_closed = false, want true")
	}
	// Overall of 0 from the model is recomputed as the category mean.
	if result.OverallScore != 70 {
		t.Errorf("overall = %d, want 70", result.OverallScore)
	}
	if result.DealDetails == nil || result.DealDetails.Price != "$49/mo" {
		t.Errorf("deal details = %+v", result.DealDetails)
	}
}

func TestGradeContentSafetyShortCircuit(t *testing.T) {
	client := &fakeCompleter{response: validGradeResponse}
	grader := NewGrader(client, 0, nil)

	tr := mustTranscript(t, []transcript.Record{
		{Speaker: "rep", Text: "Hi there, do you have a minute?"},
		{Speaker: "customer", Text: "Get the hell off my porch."},
	})
	result, err := grader.Grade(context.Background(), tr, 30)
	if err != nil {
		t.Fatalf("short circuit is not an error: %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("calls = %d, want 0 (LLM skipped)", client.calls)
	}
	if !result.ContentFlagged {
		t.Error("result should be flagged")
	}
	if result.SaleClosed {
		t.Error("flagged conversation must not close the sale")
	}
	if result.OverallScore != 0 || result.Scores != (CategoryScores{}) {
		t.Errorf("flagged scores must be zero, got overall=%d scores=%+v", result.OverallScore, result.Scores)
	}
}

func TestGradeLLMFailureIsStageFailure(t *testing.T) {
	client := &fakeCompleter{err: errors.New("provider down")}
	grader := NewGrader(client, 0, nil)

	if _, err := grader.Grade(context.Background(), cleanConversation(t), 120); err == nil {
		t.Fatal("expected error when LLM call fails")
	}
}

func TestGradeMalformedResponseIsStageFailure(t *testing.T) {
	client := &fakeCompleter{response: "I could not grade this conversation."}
	grader := NewGrader(client, 0, nil)

	if _, err := grader.Grade(context.Background(), cleanConversation(t), 120); err == nil {
		t.Fatal("expected error for non-JSON response")
	}
}

func TestGradeEmptyTranscript(t *testing.T) {
	grader := NewGrader(&fakeCompleter{}, 0, nil)
	_, err := grader.Grade(context.Background(), nil, 0)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestGradeClampsScores(t *testing.T) {
	client := &fakeCompleter{response: `{"sale_closed":false,"scores":{"rapport":130,"discovery":-5,"objection_handling":50,"closing":50,"safety":50},"overall_score":120,"failure_reason":"no commitment"}`}
	grader := NewGrader(client, 0, nil)

	result, err := grader.Grade(context.Background(), cleanConversation(t), 120)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if result.Scores.Rapport != 100 || result.Scores.Discovery != 0 {
		t.Errorf("scores not clamped: %+v", result.Scores)
	}
	if result.OverallScore != 100 {
		t.Errorf("overall = %d, want clamped to 100", result.OverallScore)
	}
	if result.DealDetails != nil {
		t.Error("deal details must be dropped when sale did not close")
	}
}
