package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"dooriq/internal/api"
	"dooriq/internal/config"
	"dooriq/internal/pipeline"
	"dooriq/internal/queue"
	"dooriq/internal/transcript"
)

func newGradeCommand(ctx *commandContext) *cobra.Command {
	var sessionFlag string
	var durationFlag float64
	var timeoutFlag time.Duration
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "grade <transcript.json>",
		Short: "Grade a conversation transcript",
		Long: `Grade runs the full grading pipeline against one transcript file and waits
for the result. The file holds a JSON array of {speaker, text, timestamp?}
objects; pass "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readTranscript(args[0])
			if err != nil {
				return err
			}

			sessionID := sessionFlag
			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				logger, err := ctx.runtimeLogger(cfg)
				if err != nil {
					return err
				}
				rt := newGradingRuntime(cfg, store, logger)
				if err := rt.start(cmd.Context()); err != nil {
					return err
				}
				defer rt.shutdown()

				_, err = rt.grade(cmd.Context(), pipeline.Request{
					SessionID: sessionID,
					Records:   records,
					Duration:  time.Duration(durationFlag * float64(time.Second)),
				})
				if err != nil {
					return err
				}

				session, err := rt.awaitSession(cmd.Context(), sessionID, timeoutFlag)
				if err != nil {
					return err
				}
				return printSessionResult(cmd.OutOrStdout(), session, jsonFlag)
			})
		},
	}

	cmd.Flags().StringVarP(&sessionFlag, "session", "s", "", "Session identifier (generated when omitted)")
	cmd.Flags().Float64VarP(&durationFlag, "duration", "d", 0, "Conversation duration in seconds")
	cmd.Flags().DurationVar(&timeoutFlag, "timeout", 5*time.Minute, "How long to wait for grading to finish")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the full session record as JSON")
	return cmd
}

func readTranscript(path string) ([]transcript.Record, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var records []transcript.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	return records, nil
}

func printSessionResult(out io.Writer, session *queue.Session, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(api.FromSession(session))
	}

	rows := [][]string{
		{"Session", session.SessionID},
		{"Status", string(session.Status)},
		{"Overall score", strconv.Itoa(session.OverallScore)},
		{"Sale closed", yesNo(session.SaleClosed)},
		{"Rating batches", fmt.Sprintf("%d/%d", session.CompletedBatches, session.TotalBatches)},
	}
	if session.ErrorMessage != "" {
		rows = append(rows, []string{"Error", session.ErrorMessage})
	}
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft}))
	return nil
}
