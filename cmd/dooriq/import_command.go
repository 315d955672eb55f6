package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"dooriq/internal/config"
	"dooriq/internal/importer"
	"dooriq/internal/notifications"
	"dooriq/internal/pipeline"
	"dooriq/internal/queue"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	var timeoutFlag time.Duration
	var dryRunFlag bool

	cmd := &cobra.Command{
		Use:   "import <workbook.xlsx>",
		Short: "Import and grade historical sessions from a spreadsheet",
		Long: `Import reads an Excel workbook of historical conversations and grades each
session through the full pipeline. Rows are grouped by session column; see the
docs for the expected headers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := importer.Load(args[0])
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Workbook contains no sessions")
				return nil
			}

			if dryRunFlag {
				for _, session := range sessions {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d lines, %.0fs\n",
						session.SessionID, len(session.Records), session.Duration.Seconds())
				}
				return nil
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

				out := cmd.OutOrStdout()
				graded := 0
				rows := make([][]string, 0, len(sessions))
				for _, imported := range sessions {
					_, err := rt.grade(cmd.Context(), pipeline.Request{
						SessionID: imported.SessionID,
						Records:   imported.Records,
						Duration:  imported.Duration,
					})
					if err != nil {
						rows = append(rows, []string{imported.SessionID, "error", "", err.Error()})
						continue
					}
					session, err := rt.awaitSession(cmd.Context(), imported.SessionID, timeoutFlag)
					if err != nil {
						rows = append(rows, []string{imported.SessionID, "error", "", err.Error()})
						continue
					}
					note := session.ErrorMessage
					if session.Status == queue.StatusCompleted {
						graded++
						note = ""
					}
					rows = append(rows, []string{
						session.SessionID,
						string(session.Status),
						strconv.Itoa(session.OverallScore),
						note,
					})
				}

				table := renderTable(
					[]string{"Session", "Status", "Score", "Note"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(out, table)
				fmt.Fprintf(out, "Graded %d of %d sessions\n", graded, len(sessions))

				notifier := notifications.NewService(cfg)
				if err := notifier.Publish(cmd.Context(), notifications.EventImportCompleted, notifications.Payload{
					"count":  strconv.Itoa(graded),
					"source": args[0],
				}); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "notify import: %v\n", err)
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeoutFlag, "timeout", 5*time.Minute, "How long to wait for each session to finish")
	cmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Parse the workbook without grading")
	return cmd
}
