package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"dooriq/internal/api"
	"dooriq/internal/config"
	"dooriq/internal/pipeline"
	"dooriq/internal/queue"
	"dooriq/internal/textutil"
	"dooriq/internal/transcript"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage graded sessions",
	}

	sessionsCmd.AddCommand(newSessionsListCommand(ctx))
	sessionsCmd.AddCommand(newSessionsShowCommand(ctx))
	sessionsCmd.AddCommand(newSessionsRetryCommand(ctx))
	sessionsCmd.AddCommand(newSessionsRemoveCommand(ctx))
	sessionsCmd.AddCommand(newSessionsClearCommand(ctx))
	sessionsCmd.AddCommand(newSessionsHealthCommand(ctx))

	return sessionsCmd
}

func newSessionsListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]queue.Status, 0, len(listStatuses))
			for _, raw := range listStatuses {
				status, ok := queue.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				statuses = append(statuses, status)
			}

			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				sessions, err := store.ListSessions(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(sessions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No sessions")
					return nil
				}

				rows := make([][]string, 0, len(sessions))
				for _, session := range sessions {
					rows = append(rows, []string{
						session.SessionID,
						textutil.Title(string(session.Status)),
						strconv.Itoa(session.OverallScore),
						yesNo(session.SaleClosed),
						fmt.Sprintf("%d/%d", session.CompletedBatches, session.TotalBatches),
						session.CreatedAt.Format(time.RFC3339),
					})
				}
				table := renderTable(
					[]string{"Session", "Status", "Score", "Closed", "Batches", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by session status (repeatable)")
	return cmd
}

func newSessionsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "show <sessionID>",
		Short: "Show one session in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				session, err := store.GetSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if session == nil {
					return fmt.Errorf("session %s not found", args[0])
				}

				if jsonFlag {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(api.FromSession(session))
				}

				out := cmd.OutOrStdout()
				rows := [][]string{
					{"Session", session.SessionID},
					{"Status", string(session.Status)},
					{"Overall score", strconv.Itoa(session.OverallScore)},
					{"Sale closed", yesNo(session.SaleClosed)},
					{"Duration", fmt.Sprintf("%.0fs", session.DurationSeconds)},
					{"Rating batches", fmt.Sprintf("%d/%d (%s)", session.CompletedBatches, session.TotalBatches, session.LineRatingsStatus)},
					{"Instant metrics", presence(session.InstantMetricsJSON)},
					{"Key moments", presence(session.KeyMomentsJSON)},
					{"Deep grade", presence(session.DeepGradeJSON)},
					{"Created", session.CreatedAt.Format(time.RFC3339)},
					{"Updated", session.UpdatedAt.Format(time.RFC3339)},
				}
				if session.ErrorMessage != "" {
					rows = append(rows, []string{"Error", session.ErrorMessage})
				}
				fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft}))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the full session record as JSON")
	return cmd
}

func newSessionsRetryCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "retry [sessionID...]",
		Short: "Regrade failed sessions from their stored transcripts",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				if _, err := store.RetryFailed(cmd.Context(), args...); err != nil {
					return err
				}
				pending, err := resumableSessions(cmd.Context(), store, args)
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No failed sessions to retry")
					return nil
				}

				logger, err := ctx.runtimeLogger(cfg)
				if err != nil {
					return err
				}
				rt := newGradingRuntime(cfg, store, logger)
				if err := rt.start(cmd.Context()); err != nil {
					return err
				}
				defer rt.shutdown()

				regraded := 0
				for _, session := range pending {
					var records []transcript.Record
					if err := json.Unmarshal([]byte(session.TranscriptJSON), &records); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: stored transcript is unreadable: %v\n", session.SessionID, err)
						continue
					}
					if _, err := rt.grade(cmd.Context(), pipeline.Request{
						SessionID: session.SessionID,
						Records:   records,
						Duration:  time.Duration(session.DurationSeconds * float64(time.Second)),
					}); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", session.SessionID, err)
						continue
					}
					final, err := rt.awaitSession(cmd.Context(), session.SessionID, timeout)
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", session.SessionID, err)
						continue
					}
					if final.Status == queue.StatusCompleted {
						regraded++
					} else {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", session.SessionID, final.Status, final.ErrorMessage)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Regraded %d of %d sessions\n", regraded, len(pending))
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for each regraded session")
	return cmd
}

// resumableSessions resolves which parked sessions a retry run should
// regrade. With explicit ids only those sessions are considered; otherwise
// every not_started session with a stored transcript qualifies.
func resumableSessions(ctx context.Context, store *queue.Store, ids []string) ([]*queue.Session, error) {
	if len(ids) == 0 {
		return store.ListResumable(ctx, time.Now())
	}
	sessions := make([]*queue.Session, 0, len(ids))
	for _, id := range ids {
		session, err := store.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, fmt.Errorf("session %s not found", id)
		}
		if session.Status != queue.StatusNotStarted || session.TranscriptJSON == "" {
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func newSessionsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <sessionID>",
		Short: "Remove a single session and its rating jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				removed, err := store.RemoveSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("session %s not found", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed session %s\n", args[0])
				return nil
			})
		},
	}
}

func newSessionsClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted bool
	var clearFailed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed or failed sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearCompleted && clearFailed {
				return errors.New("specify only one of --completed or --failed")
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				out := cmd.OutOrStdout()
				switch {
				case clearFailed:
					removed, err := store.ClearFailed(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d failed sessions\n", removed)
				default:
					removed, err := store.ClearCompleted(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d completed sessions\n", removed)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearCompleted, "completed", false, "Remove completed sessions (default)")
	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove failed sessions instead")
	return cmd
}

func newSessionsHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show session counts per lifecycle state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Total: %d\nActive: %d\nCompleted: %d\nFailed: %d\nPending jobs: %d\n",
					health.Total,
					health.Active,
					health.Completed,
					health.Failed,
					health.PendingJobs,
				)
				return nil
			})
		},
	}
}

func presence(payload string) string {
	if payload == "" {
		return "absent"
	}
	return "present"
}
