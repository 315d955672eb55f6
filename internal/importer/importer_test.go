package importer_test

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"dooriq/internal/importer"
)

func writeWorkbook(t *testing.T, rows [][]any) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cellRef, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "sessions.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}

func TestLoadGroupsRowsBySession(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"Session ID", "Speaker", "Text", "Timestamp", "Duration Seconds"},
		{"alpha", "rep", "Hi there, how are you today?", "1.5", "120"},
		{"alpha", "customer", "Doing fine, thanks.", "4.0", ""},
		{"beta", "rep", "Do you ever see ants in the kitchen?", "", "90"},
		{"alpha", "rep", "Great to hear.", "7.25", ""},
	})

	sessions, err := importer.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("session count = %d, want 2", len(sessions))
	}

	alpha := sessions[0]
	if alpha.SessionID != "alpha" {
		t.Fatalf("first session = %s, want alpha (first seen order)", alpha.SessionID)
	}
	if len(alpha.Records) != 3 {
		t.Fatalf("alpha record count = %d, want 3", len(alpha.Records))
	}
	if alpha.Records[2].Text != "Great to hear." {
		t.Fatalf("alpha rows out of sheet order: %q", alpha.Records[2].Text)
	}
	if alpha.Records[0].Timestamp != 1.5 {
		t.Fatalf("timestamp = %v, want 1.5", alpha.Records[0].Timestamp)
	}
	if alpha.Duration.Seconds() != 120 {
		t.Fatalf("alpha duration = %v, want 120s", alpha.Duration)
	}

	beta := sessions[1]
	if beta.SessionID != "beta" || len(beta.Records) != 1 {
		t.Fatalf("beta = %s with %d records", beta.SessionID, len(beta.Records))
	}
	if beta.Duration.Seconds() != 90 {
		t.Fatalf("beta duration = %v, want 90s", beta.Duration)
	}
}

func TestLoadSkipsIncompleteRows(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"session", "role", "utterance"},
		{"alpha", "rep", "Hello."},
		{"", "rep", "row without a session id"},
		{"alpha", "customer", ""},
		{"alpha", "customer", "Hi."},
	})

	sessions, err := importer.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(sessions) != 1 || len(sessions[0].Records) != 2 {
		t.Fatalf("got %d sessions, records %v", len(sessions), sessions)
	}
}

func TestLoadRejectsMissingColumns(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"id", "content"},
		{"alpha", "Hello."},
	})
	if _, err := importer.Load(path); err == nil {
		t.Fatal("header without required columns accepted")
	}
}
