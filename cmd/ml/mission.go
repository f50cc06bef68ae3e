package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"missionline/internal/domain"
	"missionline/internal/engine"
	"missionline/internal/repo"
)

func missionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mission",
		Short: "Manage missions",
	}
	cmd.AddCommand(missionGenerateCmd())
	cmd.AddCommand(missionAddCmd())
	cmd.AddCommand(missionListCmd())
	cmd.AddCommand(missionShowCmd())
	cmd.AddCommand(missionActiveCmd())
	cmd.AddCommand(missionTransitionCmd("start", "Start a pending or scheduled mission", domain.StatusActive))
	cmd.AddCommand(missionCompleteCmd())
	cmd.AddCommand(missionTransitionCmd("refuse", "Refuse a mission (essential missions cost their penalty)", domain.StatusRefused))
	cmd.AddCommand(missionScheduleCmd())
	cmd.AddCommand(missionVisibilityCmd("reveal", "Reveal a hidden mission for the reveal cost", true))
	cmd.AddCommand(missionVisibilityCmd("hide", "Hide a mission", false))
	cmd.AddCommand(missionFeedbackCmd())
	cmd.AddCommand(missionSettleCmd())
	cmd.AddCommand(missionClearCmd())
	cmd.AddCommand(missionStatsCmd())
	return cmd
}

func missionGenerateCmd() *cobra.Command {
	var activate bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the next mission",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.GenerateMission(ctx, activate)
				var rerr domain.RestingError
				if errors.As(err, &rerr) && !viper.GetBool("json") {
					return fmt.Errorf("%w (next mission at %s)", err, formatGateTime(rerr.Gate))
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().BoolVar(&activate, "activate", false, "start the mission right away")
	return cmd
}

func missionAddCmd() *cobra.Command {
	var label, title, desc, scheduledAt, reward, penalty string
	var duration int
	var visible, essential bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a custom mission",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := domain.Draft{
				Label:           domain.Label(label),
				Title:           title,
				Description:     desc,
				DurationMinutes: duration,
				Source:          domain.SourceCustom,
				Visible:         visible,
				Essential:       essential,
			}
			if scheduledAt != "" {
				at, err := time.Parse(time.RFC3339, scheduledAt)
				if err != nil {
					return fmt.Errorf("invalid --scheduled-at: %w", err)
				}
				d.ScheduledAt = &at
			}
			var err error
			if d.RewardAmount, err = optionalPoints(reward); err != nil {
				return err
			}
			if d.PenaltyAmount, err = optionalPoints(penalty); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.CreateMission(ctx, d)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "label (reading, movement, focus, mental_break, creativity, routine, social, admin)")
	cmd.Flags().StringVar(&title, "title", "", "mission title")
	cmd.Flags().StringVar(&desc, "description", "", "mission description")
	cmd.Flags().IntVar(&duration, "duration", 15, "duration in minutes")
	cmd.Flags().StringVar(&scheduledAt, "scheduled-at", "", "schedule time (RFC3339)")
	cmd.Flags().BoolVar(&visible, "visible", false, "create the mission already revealed")
	cmd.Flags().BoolVar(&essential, "essential", false, "refusing costs the penalty")
	cmd.Flags().StringVar(&reward, "reward", "", "reward points, e.g. 5 or 7.50")
	cmd.Flags().StringVar(&penalty, "penalty", "", "penalty points")
	_ = cmd.MarkFlagRequired("label")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func missionListCmd() *cobra.Command {
	var status, label string
	var scheduled bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListMissions(ctx, repo.MissionFilter{
					Status:    domain.Status(status),
					Label:     domain.Label(label),
					Scheduled: scheduled,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Label", "Title", "Status", "Minutes", "Reward", "Scheduled"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.Label, displayTitle(m), m.Status, m.DurationMinutes, pointsOrDash(m.RewardAmount), timeOrDash(m.ScheduledAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&label, "label", "", "label filter")
	cmd.Flags().BoolVar(&scheduled, "scheduled", false, "only scheduled missions, by scheduled time")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	return cmd
}

func missionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.GetMission(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func missionActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "Show the active mission",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.ActiveMission(ctx)
				if errors.Is(err, repo.ErrNotFound) {
					return errors.New("no active mission")
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func missionTransitionCmd(use, short string, to domain.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.TransitionMission(ctx, args[0], to, nil)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func missionCompleteCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete the active mission and collect its reward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var completedAt *time.Time
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				completedAt = &t
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.TransitionMission(ctx, args[0], domain.StatusCompleted, completedAt)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "completion time (RFC3339), defaults to now")
	return cmd
}

func missionScheduleCmd() *cobra.Command {
	var at string
	var visible bool
	cmd := &cobra.Command{
		Use:   "schedule <id>",
		Short: "Schedule a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return fmt.Errorf("invalid --at: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.ScheduleMission(ctx, args[0], when, visible)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "schedule time (RFC3339)")
	cmd.Flags().BoolVar(&visible, "visible", false, "reveal the mission without charge")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func missionVisibilityCmd(use, short string, visible bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SetVisibility(ctx, args[0], visible)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func missionFeedbackCmd() *cobra.Command {
	var rating int
	var comment string
	cmd := &cobra.Command{
		Use:   "feedback <id>",
		Short: "Rate a completed mission (1-5)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.RecordFeedback(ctx, args[0], rating, comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().IntVar(&rating, "rating", 0, "rating from 1 to 5")
	cmd.Flags().StringVar(&comment, "comment", "", "optional comment")
	_ = cmd.MarkFlagRequired("rating")
	return cmd
}

func missionSettleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settle <id>",
		Short: "Apply a missing reward or penalty for a finished mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SettleMission(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func missionClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every mission (the wallet history is kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear missions without --yes")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ClearMissions(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int64{"deleted": n})
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func missionStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Per-label statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stats, err := e.LabelStats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Label", "Missions", "Completed", "Rate", "Avg rating", "Minutes"})
				for _, s := range stats {
					tw.AppendRow(table.Row{s.Label, s.Count, s.CompletedCount, fmt.Sprintf("%.0f%%", s.CompletionRate*100), fmt.Sprintf("%.1f", s.AverageRating), s.TotalDuration})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func displayTitle(m domain.Mission) string {
	if m.Visible || m.Status != domain.StatusPending {
		return m.Title
	}
	return "(hidden)"
}

func optionalPoints(raw string) (*domain.Points, error) {
	if raw == "" {
		return nil, nil
	}
	p, err := domain.ParsePoints(raw)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func pointsOrDash(p *domain.Points) string {
	if p == nil {
		return "-"
	}
	return p.String()
}

func timeOrDash(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatGateTime(g domain.GateStatus) string {
	if g.NextAllowedAt == nil {
		return "now"
	}
	return g.NextAllowedAt.Local().Format("15:04")
}
