package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"secretsanta/internal/app"
	"secretsanta/internal/config"
	"secretsanta/internal/db"
	"secretsanta/internal/engine"
	"secretsanta/internal/engine/auth"
	"secretsanta/internal/migrate"
	"secretsanta/internal/repo"
	"secretsanta/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "santa",
	Short: "Secret Santa server and admin CLI",
	Long: `Santa runs a Secret Santa gift exchange.
- Participants log in with a personal password, leave one wish and see whom they give to.
- The organizer adds participants, then runs the draw once; nobody is ever assigned to themselves.
- Everything lives in the workspace: santa.yml for settings, .santa/santa.db for data, .env for secrets.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	// Values already in the environment win over .env.
	envFile := filepath.Join(viper.GetString("workspace"), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: %s: %v\n", envFile, err)
	}
	viper.SetEnvPrefix("SANTA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("db", "", "database file (default <workspace>/.santa/santa.db)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "admin", "actor identifier recorded in the event log")
	rootCmd.PersistentFlags().String("admin-password", "", "admin password (overrides santa.yml)")
	rootCmd.PersistentFlags().String("locale", "", "default message locale (overrides santa.yml)")
	rootCmd.PersistentFlags().String("event-name", "", "event name (overrides santa.yml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("admin-password", rootCmd.PersistentFlags().Lookup("admin-password"))
	_ = viper.BindPFlag("locale", rootCmd.PersistentFlags().Lookup("locale"))
	_ = viper.BindPFlag("event-name", rootCmd.PersistentFlags().Lookup("event-name"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(participantCmd())
	rootCmd.AddCommand(drawCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var name string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create santa.yml, the database and an admin password",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(name)), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(dbConfig())
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			version, err := migrate.Version(cmd.Context(), conn)
			if err != nil {
				return err
			}
			out := map[string]any{"config": path, "database": db.Path(dbConfig()), "schema_version": version}
			if viper.GetString("admin-password") == "" {
				pw, err := auth.GeneratePassword(12)
				if err != nil {
					return err
				}
				envPath := filepath.Join(workspace, ".env")
				if err := setEnvValue(envPath, "SANTA_ADMIN_PASSWORD", pw); err != nil {
					return err
				}
				out["admin_password"] = pw
				out["env"] = envPath
			}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			fmt.Printf("Wrote %s\n", path)
			fmt.Printf("Database at %s (schema v%d)\n", db.Path(dbConfig()), version)
			if pw, ok := out["admin_password"]; ok {
				fmt.Printf("Admin password %s saved to %s\n", pw, out["env"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "Secret Santa", "event name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing santa.yml")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolveConfig()
			if err != nil {
				return err
			}
			if c.Admin.Password != "" {
				c.Admin.Password = "********"
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			renderConfig(os.Stdout, c)
			return nil
		},
	})
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a santa.yml file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
				_, err = config.Load(viper.GetString("workspace"))
			} else {
				_, err = config.FromFile(file)
			}
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil, "file": file}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", file)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file (default <workspace>/santa.yml)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show event status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.Status(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Event: %s\n", st.EventName)
				fmt.Printf("Participants: %d\n", st.ParticipantCount)
				if st.MaxGiftPrice > 0 {
					fmt.Printf("Gift budget: %d %s\n", st.MaxGiftPrice, st.Currency)
				}
				if !st.IsDistributed {
					fmt.Println("Draw: not run yet")
					return nil
				}
				fmt.Printf("Draw: done at %s\n", st.DistributionDate)
				if st.GiftDeadline != "" {
					fmt.Printf("Gift deadline: %s\n", st.GiftDeadline)
				}
				return nil
			})
		},
	}
}

func participantCmd() *cobra.Command {
	p := &cobra.Command{Use: "participant", Short: "Manage participants"}
	p.AddCommand(participantAddCmd())
	p.AddCommand(participantListCmd())
	p.AddCommand(participantImportCmd())
	return p
}

func participantAddCmd() *cobra.Command {
	var name, password string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a participant; a password is generated when omitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.AddParticipant(ctx, engine.AddParticipantOptions{
					Name:     name,
					Password: password,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				out := map[string]string{"id": p.ID, "name": p.Name, "password": p.Password}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Added %s, password: %s\n", p.Name, p.Password)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "participant name")
	cmd.Flags().StringVar(&password, "password", "", "participant password")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func participantListCmd() *cobra.Command {
	var showPasswords bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List participants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Participants(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					type row struct {
						ID       string `json:"id"`
						Name     string `json:"name"`
						Password string `json:"password,omitempty"`
						HasWish  bool   `json:"has_wish"`
					}
					rows := make([]row, 0, len(items))
					for _, p := range items {
						r := row{ID: p.ID, Name: p.Name, HasWish: p.HasGiftRequest()}
						if showPasswords {
							r.Password = p.Password
						}
						rows = append(rows, r)
					}
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				header := table.Row{"#", "Name", "Wish", "Joined"}
				if showPasswords {
					header = append(header, "Password")
				}
				tw.AppendHeader(header)
				for i, p := range items {
					wish := "-"
					if p.HasGiftRequest() {
						wish = "yes"
					}
					row := table.Row{i + 1, p.Name, wish, p.CreatedAt}
					if showPasswords {
						row = append(row, p.Password)
					}
					tw.AppendRow(row)
				}
				tw.AppendFooter(table.Row{"", fmt.Sprintf("%d total", len(items))})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showPasswords, "passwords", false, "include passwords")
	return cmd
}

func participantImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import participants from CSV (name[,password]); use - for stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = os.Stdin
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ImportParticipants(ctx, in, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					added := make([]map[string]string, 0, len(res.Added))
					for _, p := range res.Added {
						added = append(added, map[string]string{"id": p.ID, "name": p.Name, "password": p.Password})
					}
					return printJSON(map[string]any{"added": added, "skipped": res.Skipped})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Password"})
				for _, p := range res.Added {
					tw.AppendRow(table.Row{p.Name, p.Password})
				}
				tw.Render()
				for _, s := range res.Skipped {
					fmt.Printf("skipped line %d (%s): %s\n", s.Line, s.Name, s.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "CSV file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func drawCmd() *cobra.Command {
	d := &cobra.Command{Use: "draw", Short: "Run and inspect the gift draw"}
	d.AddCommand(drawRunCmd())
	d.AddCommand(drawShowCmd())
	d.AddCommand(drawExportCmd())
	return d
}

func drawRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Assign every participant a recipient (once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.RunDistribution(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Draw done at %s\n", st.DistributionDate)
				if st.GiftDeadline != "" {
					fmt.Printf("Gift deadline: %s\n", st.GiftDeadline)
				}
				return nil
			})
		},
	}
}

func drawShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show giver -> receiver pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pairs, err := e.Pairs(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(pairs)
				}
				if len(pairs) == 0 {
					fmt.Println("Draw has not been run yet")
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Giver", "Receiver"})
				for _, p := range pairs {
					tw.AppendRow(table.Row{p.Giver, p.Receiver})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func drawExportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export pairs as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if file == "" || file == "-" {
					return e.ExportPairs(ctx, os.Stdout)
				}
				f, err := os.Create(file)
				if err != nil {
					return err
				}
				if err := e.ExportPairs(ctx, f); err != nil {
					f.Close()
					os.Remove(file)
					return err
				}
				return f.Close()
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "-", "output file")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Everything that changed: participants added, wishes submitted, the draw.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.ActorID, evt.Payload})
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

func serveCmd() *cobra.Command {
	var addr, basePath string
	var origins []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the action API. SANTA_JWT_SECRET enables bearer tokens on login; without it clients send passwords on every call.",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(dbConfig())
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			if err := app.RequireAdminPassword(cfg); err != nil {
				return err
			}
			log := newLogger()
			e := engine.New(conn, cfg)
			e.Log = log
			handler, err := server.New(server.Config{
				Engine:         e,
				BasePath:       basePath,
				Tokens:         app.TokenIssuer(cfg, viper.GetString("jwt-secret")),
				AllowedOrigins: origins,
				Logger:         log,
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(cmd.Context(), e, log)
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving %s on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", cfg.Event.Name, addr, basePath, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	cmd.Flags().StringSliceVar(&origins, "allowed-origin", nil, "CORS origin allowed to call the API (repeatable; default any)")
	return cmd
}

// --- helpers ---

func dbConfig() db.Config {
	return db.Config{Workspace: viper.GetString("workspace"), File: viper.GetString("db")}
}

func resolveConfig() (*config.Config, error) {
	return app.ResolveConfig(viper.GetString("workspace"), app.Overrides{
		AdminPassword: viper.GetString("admin-password"),
		EventName:     viper.GetString("event-name"),
		Locale:        viper.GetString("locale"),
	})
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, err := db.Open(dbConfig())
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	e.Log = newLogger()
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(dbConfig())
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func renderConfig(w io.Writer, c *config.Config) {
	price := "-"
	if c.Event.MaxGiftPrice > 0 {
		price = strings.TrimSpace(fmt.Sprintf("%d %s", c.Event.MaxGiftPrice, c.Event.Currency))
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Setting", "Value"})
	tw.AppendRows([]table.Row{
		{"event.name", c.Event.Name},
		{"event.locale", c.Locale()},
		{"event.max_gift_price", price},
		{"event.gift_deadline_days", c.Event.GiftDeadlineDays},
		{"admin.password", c.Admin.Password},
		{"draw.algorithm", c.DrawAlgorithm()},
		{"draw.forbid_mutual_pairs", c.Draw.ForbidMutualPairs},
		{"draw.max_attempts", c.DrawMaxAttempts()},
		{"passwords.length", c.PasswordLength()},
		{"auth.token_ttl_hours", c.TokenTTLHours()},
		{"webhooks", len(c.Webhooks)},
	})
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
