package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"guardpost/internal/assign"
	"guardpost/internal/audit"
	"guardpost/internal/config"
	"guardpost/internal/db"
	"guardpost/internal/domain"
	"guardpost/internal/engine"
	"guardpost/internal/escalate"
	"guardpost/internal/migrate"
	"guardpost/internal/notify"
	"guardpost/internal/notify/wshub"
	"guardpost/internal/repo"
	"guardpost/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gp",
	Short: "Guardpost CLI",
	Long: `Guardpost turns anomaly detections into managed alerts: each alert is
assigned to the best-placed on-duty responder, walked through an audited
lifecycle, and escalated automatically when response deadlines pass.
Notifications are queued durably and delivered at least once.`,
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("GUARDPOST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-operator", "actor identifier")
	rootCmd.PersistentFlags().String("actor-role", "admin", "actor role for local commands")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug|info|warn|error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-role", rootCmd.PersistentFlags().Lookup("actor-role"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(alertCmd())
	rootCmd.AddCommand(staffCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(tokenCmd())
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()
}

func actorFromFlags() (string, domain.ActorType) {
	actorID := viper.GetString("actor-id")
	if viper.GetString("actor-role") == string(domain.RoleAdmin) {
		return actorID, domain.ActorAdmin
	}
	return actorID, domain.ActorStaff
}

// withEngine opens the workspace database, migrates it, and hands a wired
// engine to fn. The dispatcher is attached for enqueueing; workers only run
// under serve.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	log := newLogger()
	r := repo.Repo{DB: conn}
	dispatcher := &notify.Dispatcher{
		Repo:   r,
		Config: cfg,
		Channels: map[string]notify.Channel{
			"log": notify.LogChannel{Log: log.With().Str("component", "notify").Logger()},
		},
		Log: log.With().Str("component", "notify").Logger(),
	}
	e := engine.Engine{
		DB:     conn,
		Repo:   r,
		Audit:  audit.Writer{},
		Assign: assign.Engine{Repo: r, Config: cfg, Log: log.With().Str("component", "assign").Logger()},
		Notify: dispatcher,
		Config: cfg,
		Log:    log.With().Str("component", "engine").Logger(),
	}
	return fn(ctx, e)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", cfgPath)
			}
			fmt.Println("workspace ready:", db.Path(workspace))
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath, webhookURL string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server, escalation scheduler, and notification workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			secret := os.Getenv("GUARDPOST_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("GUARDPOST_JWT_SECRET is required for bearer auth")
			}
			if webhookURL != "" {
				cfg.Notify.WebhookURL = webhookURL
			}

			log := newLogger()
			r := repo.Repo{DB: conn}
			hub := wshub.New()
			notifyLog := log.With().Str("component", "notify").Logger()
			dispatcher := &notify.Dispatcher{
				Repo:   r,
				Config: cfg,
				Channels: map[string]notify.Channel{
					"log":       notify.LogChannel{Log: notifyLog},
					"websocket": notify.WebsocketChannel{Hub: hub},
					"webhook": notify.WebhookChannel{
						URL:    cfg.Notify.WebhookURL,
						Client: &http.Client{Timeout: time.Duration(cfg.Notify.SendTimeoutSec) * time.Second},
					},
				},
				Log: notifyLog,
			}
			e := engine.Engine{
				DB:     conn,
				Repo:   r,
				Audit:  audit.Writer{},
				Assign: assign.Engine{Repo: r, Config: cfg, Log: log.With().Str("component", "assign").Logger()},
				Notify: dispatcher,
				Config: cfg,
				Log:    log.With().Str("component", "engine").Logger(),
			}
			scheduler := escalate.Scheduler{
				Engine:   e,
				Interval: time.Duration(cfg.Escalation.PollSeconds) * time.Second,
				Log:      log.With().Str("component", "escalation").Logger(),
			}

			handler, err := server.New(server.Config{
				Engine:    e,
				Scheduler: scheduler,
				Hub:       hub,
				BasePath:  basePath,
				Auth:      server.AuthConfig{JWTSecret: secret},
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go dispatcher.Run(ctx)
			go scheduler.Run(ctx)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				srv.Shutdown(shutdownCtx)
				hub.Close()
			}()
			log.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving guardpost API")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().StringVar(&webhookURL, "webhook-url", "", "webhook delivery endpoint (overrides config)")
	return cmd
}

func alertCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "alert", Short: "Manage alerts"}
	cmd.AddCommand(alertListCmd())
	cmd.AddCommand(alertShowCmd())
	cmd.AddCommand(alertIngestCmd())
	cmd.AddCommand(alertAssignCmd())
	cmd.AddCommand(alertAckCmd())
	cmd.AddCommand(alertInvestigateCmd())
	cmd.AddCommand(alertNoteCmd())
	cmd.AddCommand(alertResolveCmd())
	cmd.AddCommand(alertEscalateCmd())
	cmd.AddCommand(alertHistoryCmd())
	return cmd
}

func alertListCmd() *cobra.Command {
	var status, severity, assignee string
	var simulated bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts, critical first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.AlertFilters{AssignedTo: assignee, IncludeSimulated: simulated, Limit: limit}
				for _, s := range splitCSV(status) {
					f.Statuses = append(f.Statuses, domain.Status(s))
				}
				for _, s := range splitCSV(severity) {
					f.Severities = append(f.Severities, domain.Severity(s))
				}
				items, err := e.ListAlerts(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "SEVERITY", "STATUS", "ZONE", "ASSIGNED TO", "ESC", "CREATED"})
				for _, a := range items {
					assigned := ""
					if a.AssignedTo != nil {
						assigned = *a.AssignedTo
					}
					tw.AppendRow(table.Row{a.ID, a.Severity, a.Status, a.Location.ZoneID, assigned, a.EscalationCount, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "comma separated status filter")
	cmd.Flags().StringVar(&severity, "severity", "", "comma separated severity filter")
	cmd.Flags().StringVar(&assignee, "assignee", "", "filter by assigned staff id")
	cmd.Flags().BoolVar(&simulated, "simulated", false, "include simulated alerts")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func alertShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <alert-id>",
		Short: "Show one alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetAlert(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	return cmd
}

func alertIngestCmd() *cobra.Command {
	var anomalyID, anomalyType, severity, zone string
	var confidence float64
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest an anomaly event",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Ingest(ctx, domain.AnomalyEvent{
					AnomalyID:  anomalyID,
					Type:       anomalyType,
					Severity:   domain.Severity(severity),
					ZoneID:     zone,
					Confidence: confidence,
				}, false, "")
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&anomalyID, "anomaly-id", "", "detector anomaly id")
	cmd.Flags().StringVar(&anomalyType, "type", "intrusion", "anomaly type")
	cmd.Flags().StringVar(&severity, "severity", "medium", "severity")
	cmd.Flags().StringVar(&zone, "zone", "", "zone id")
	cmd.Flags().Float64Var(&confidence, "confidence", 0.9, "detector confidence")
	_ = cmd.MarkFlagRequired("anomaly-id")
	_ = cmd.MarkFlagRequired("zone")
	return cmd
}

func alertAssignCmd() *cobra.Command {
	var staffID, reason string
	cmd := &cobra.Command{
		Use:   "assign <alert-id>",
		Short: "Assign an alert (auto by score, or --staff to force)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, actorType := actorFromFlags()
				a, err := e.AssignAlert(ctx, engine.AssignOptions{
					AlertID:   args[0],
					StaffID:   staffID,
					Reason:    reason,
					ActorID:   actorID,
					ActorType: actorType,
				})
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&staffID, "staff", "", "force a specific responder")
	cmd.Flags().StringVar(&reason, "reason", "", "assignment reason")
	return cmd
}

func alertAckCmd() *cobra.Command {
	return transitionCmd("ack <alert-id>", "Acknowledge an alert", func(ctx context.Context, e engine.Engine, alertID string) (domain.Alert, error) {
		actorID, actorType := actorFromFlags()
		return e.Acknowledge(ctx, engine.TransitionOptions{AlertID: alertID, ActorID: actorID, ActorType: actorType})
	})
}

func alertInvestigateCmd() *cobra.Command {
	return transitionCmd("investigate <alert-id>", "Start investigating an alert", func(ctx context.Context, e engine.Engine, alertID string) (domain.Alert, error) {
		actorID, actorType := actorFromFlags()
		return e.StartInvestigation(ctx, engine.TransitionOptions{AlertID: alertID, ActorID: actorID, ActorType: actorType})
	})
}

func transitionCmd(use, short string, fn func(context.Context, engine.Engine, string) (domain.Alert, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := fn(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
}

func alertNoteCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "note <alert-id>",
		Short: "Add an investigation note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, actorType := actorFromFlags()
				return e.AddNote(ctx, engine.NoteOptions{
					AlertID:   args[0],
					Note:      note,
					ActorID:   actorID,
					ActorType: actorType,
				})
			})
		},
	}
	cmd.Flags().StringVar(&note, "text", "", "note text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func alertResolveCmd() *cobra.Command {
	var resType, notes string
	cmd := &cobra.Command{
		Use:   "resolve <alert-id>",
		Short: "Resolve an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, actorType := actorFromFlags()
				a, err := e.Resolve(ctx, engine.ResolveOptions{
					AlertID:   args[0],
					Type:      domain.ResolutionType(resType),
					Notes:     notes,
					ActorID:   actorID,
					ActorType: actorType,
				})
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&resType, "type", "resolved", "resolution type (resolved|false_alarm|no_action_required)")
	cmd.Flags().StringVar(&notes, "notes", "", "resolution notes")
	_ = cmd.MarkFlagRequired("notes")
	return cmd
}

func alertEscalateCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "escalate <alert-id>",
		Short: "Escalate an alert up the chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, actorType := actorFromFlags()
				a, err := e.Escalate(ctx, engine.EscalateOptions{
					AlertID:   args[0],
					Reason:    reason,
					ActorID:   actorID,
					ActorType: actorType,
				})
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "escalation reason")
	return cmd
}

func alertHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <alert-id>",
		Short: "Show an alert's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.History(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "ACTION", "ACTOR", "FROM", "TO"})
				for _, h := range items {
					tw.AppendRow(table.Row{h.TS, h.Action, h.ActorID, h.FromStatus, h.ToStatus})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func staffCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "staff", Short: "Manage responders"}
	cmd.AddCommand(staffAddCmd())
	cmd.AddCommand(staffListCmd())
	cmd.AddCommand(staffDutyCmd())
	cmd.AddCommand(staffLocateCmd())
	cmd.AddCommand(staffDashboardCmd())
	return cmd
}

func staffAddCmd() *cobra.Command {
	var name, email, role, zone, channels string
	var maxConcurrent int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a responder",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateStaff(ctx, engine.StaffCreateOptions{
					Name:            name,
					Email:           email,
					Role:            domain.Role(role),
					MaxConcurrent:   maxConcurrent,
					ContactChannels: splitCSV(channels),
					ZoneID:          zone,
				})
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&role, "role", "security", "role (security|supervisor|admin|lab_supervisor)")
	cmd.Flags().StringVar(&zone, "zone", "", "current zone")
	cmd.Flags().StringVar(&channels, "channels", "log", "comma separated contact channels")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 3, "max concurrent alerts")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func staffListCmd() *cobra.Command {
	var onDuty bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List responders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListStaff(ctx, repo.StaffFilters{OnDutyOnly: onDuty})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "NAME", "ROLE", "ON DUTY", "ZONE", "MAX"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.Role, s.OnDuty, s.ZoneID, s.MaxConcurrent})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&onDuty, "on-duty", false, "only staff currently on duty")
	return cmd
}

func staffDutyCmd() *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "duty <staff-id>",
		Short: "Toggle a responder's duty state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.SetDuty(ctx, args[0], !off)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "go off duty")
	return cmd
}

func staffLocateCmd() *cobra.Command {
	var zone string
	cmd := &cobra.Command{
		Use:   "locate <staff-id>",
		Short: "Record a responder's current zone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.SetLocation(ctx, args[0], zone)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&zone, "zone", "", "zone id")
	_ = cmd.MarkFlagRequired("zone")
	return cmd
}

func staffDashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard <staff-id>",
		Short: "Show a responder's active alerts and stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.StaffDashboard(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
}

func notifyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "notify", Short: "Notification queue"}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Queue depth by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.QueueStatus(ctx)
				if err != nil {
					return err
				}
				return printJSON(counts)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Process due notifications once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, ok := e.Notify.(*notify.Dispatcher)
				if !ok {
					return fmt.Errorf("dispatcher unavailable")
				}
				n, err := d.Drain(ctx, "cli")
				if err != nil {
					return err
				}
				fmt.Println("processed:", n)
				return nil
			})
		},
	})
	return cmd
}

func simulateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "simulate", Short: "Rehearsal scenarios"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(engine.Scenarios())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario with simulated alerts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				alerts, err := e.Simulate(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(alerts)
			})
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	var role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <actor-id>",
		Short: "Mint a bearer token for the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("GUARDPOST_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("GUARDPOST_JWT_SECRET is required")
			}
			token, err := server.MintToken(secret, args[0], domain.Role(role), ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "security", "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
