package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"missionline/internal/config"
	"missionline/internal/engine"
	"missionline/internal/repo"
	"missionline/internal/server"
)

func gateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gate",
		Short: "Show whether a new mission may be generated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				gate, err := e.CheckGenerationGate(ctx, e.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(gate)
				}
				switch {
				case gate.Allowed:
					fmt.Println("ready for the next mission")
				case gate.IsShortBreak:
					fmt.Printf("short break: %d minutes left (until %s)\n", gate.RemainingMinutes, formatGateTime(gate))
				default:
					fmt.Printf("resting: %d minutes left (until %s)\n", gate.RemainingMinutes, formatGateTime(gate))
				}
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every mission and wallet change, oldest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				last, err := e.Repo.LastEventID(ctx)
				if err != nil {
					return err
				}
				filter := repo.EventFilter{}
				if evtType != "" {
					filter.Types = []string{evtType}
				} else if last > int64(n) {
					filter.AfterID = last - int64(n)
				}
				events, err := e.ListEvents(ctx, filter)
				if err != nil {
					return err
				}
				if len(events) > n {
					events = events[len(events)-n:]
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + " " + evt.EntityID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Workspace configuration (missionline.yml)",
	}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default missionline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var rps, burst int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			handler, err := server.New(server.Config{
				Engine:            rt.Engine,
				BasePath:          basePath,
				RequestsPerSecond: rps,
				Burst:             burst,
			})
			if err != nil {
				return err
			}
			if n := rt.Notifier(); n.Enabled() {
				go n.Run(ctx)
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Missionline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().IntVar(&rps, "rate-limit", 0, "requests per second per client (0 disables)")
	cmd.Flags().IntVar(&burst, "rate-burst", 0, "burst size for --rate-limit")
	return cmd
}
