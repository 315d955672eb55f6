// Package importer loads historical conversations from spreadsheet exports
// so they can be graded in bulk. One row per utterance; rows sharing a
// session id form one transcript in sheet order.
package importer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"dooriq/internal/transcript"
)

// Session is one imported conversation ready for grading.
type Session struct {
	SessionID string
	Records   []transcript.Record
	Duration  time.Duration
}

type columns struct {
	session   int
	speaker   int
	text      int
	timestamp int
	duration  int
}

// Load reads the first sheet of an xlsx export. Column positions are detected
// from the header row by name; a sheet without session, speaker, and text
// columns is rejected. Rows missing a session id or text are skipped.
func Load(path string) ([]Session, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("workbook has no data rows")
	}

	cols, err := detectColumns(rows[0])
	if err != nil {
		return nil, err
	}

	var order []string
	bySession := make(map[string]*Session)
	for _, row := range rows[1:] {
		sessionID := cell(row, cols.session)
		text := cell(row, cols.text)
		if sessionID == "" || text == "" {
			continue
		}

		session, ok := bySession[sessionID]
		if !ok {
			session = &Session{SessionID: sessionID}
			bySession[sessionID] = session
			order = append(order, sessionID)
		}

		record := transcript.Record{
			Speaker: cell(row, cols.speaker),
			Text:    text,
		}
		if ts := cell(row, cols.timestamp); ts != "" {
			if value, err := strconv.ParseFloat(ts, 64); err == nil {
				record.Timestamp = value
			}
		}
		if d := cell(row, cols.duration); d != "" {
			if seconds, err := strconv.ParseFloat(d, 64); err == nil && seconds > 0 {
				session.Duration = time.Duration(seconds * float64(time.Second))
			}
		}
		session.Records = append(session.Records, record)
	}

	sessions := make([]Session, 0, len(order))
	for _, id := range order {
		sessions = append(sessions, *bySession[id])
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("workbook has no usable rows")
	}
	return sessions, nil
}

func detectColumns(header []string) (columns, error) {
	cols := columns{session: -1, speaker: -1, text: -1, timestamp: -1, duration: -1}
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case cols.session == -1 && strings.Contains(name, "session"):
			cols.session = i
		case cols.speaker == -1 && (strings.Contains(name, "speaker") || strings.Contains(name, "role")):
			cols.speaker = i
		case cols.text == -1 && (strings.Contains(name, "text") || strings.Contains(name, "utterance") || strings.Contains(name, "line")):
			cols.text = i
		case cols.timestamp == -1 && (strings.Contains(name, "timestamp") || strings.Contains(name, "offset") || name == "time"):
			cols.timestamp = i
		case cols.duration == -1 && strings.Contains(name, "duration"):
			cols.duration = i
		}
	}
	if cols.session == -1 || cols.speaker == -1 || cols.text == -1 {
		return cols, fmt.Errorf("header must include session, speaker, and text columns")
	}
	return cols, nil
}

func cell(row []string, index int) string {
	if index < 0 || index >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[index])
}
