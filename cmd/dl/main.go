package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dayline/internal/app"
	"dayline/internal/config"
	"dayline/internal/db"
	"dayline/internal/domain"
	"dayline/internal/engine"
	"dayline/internal/migrate"
	"dayline/internal/repo"
	"dayline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dl",
	Short: "Dayline CLI",
	Long: `Dayline runs a fixed-length daily habit program.
- Program: a 63-day curriculum of tasks, unlocked one day at a time.
- Active day: the only day that accepts completions and skips; it advances
  when the previous day is fully resolved or calendar time catches up.
- Viewing day: the day on screen; browse unlocked history freely with
  'dl day', then come back with 'dl day today'.
- Achievements: earned when completion patterns satisfy catalog rules,
  including consecutive-day streaks. Skipped tasks never count.
- Event log: diary of changes, view with 'dl log tail'.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DAYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("user", "u", "", "user id (defaults to the only profile in the workspace)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(todayCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(skipCmd())
	rootCmd.AddCommand(dayCmd())
	rootCmd.AddCommand(achievementsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func startCmd() *cobra.Command {
	var userID, variant, startDate string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a program",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if userID == "" {
					userID = uuid.New().String()
				}
				start := time.Now().UTC()
				if startDate != "" {
					parsed, err := time.Parse("2006-01-02", startDate)
					if err != nil {
						return fmt.Errorf("--start-date must be YYYY-MM-DD: %w", err)
					}
					start = parsed
				}
				p, err := e.CreateProfile(ctx, userID, variant, start)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "id", "", "user id (generated when omitted)")
	cmd.Flags().StringVar(&variant, "variant", "beginner", "program variant")
	cmd.Flags().StringVar(&startDate, "start-date", "", "program start date (YYYY-MM-DD, defaults to today)")
	return cmd
}

func todayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "today",
		Short: "Show the active day's tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				state, err := e.GoToToday(ctx, userID)
				if err != nil {
					return err
				}
				view, err := e.ViewingDay(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"state": state, "day": view})
				}
				printDayView(state, view)
				return nil
			})
		},
	}
	return cmd
}

func completeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <task>",
		Short: "Complete a task on the active day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				res, err := e.CompleteTask(ctx, userID, args[0])
				if err != nil {
					return err
				}
				return printOutcome(res)
			})
		},
	}
	return cmd
}

func skipCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "skip <task>",
		Short: "Skip a task on the active day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				var reasonPtr *string
				if reason != "" {
					reasonPtr = &reason
				}
				res, err := e.SkipTask(ctx, userID, args[0], reasonPtr)
				if err != nil {
					return err
				}
				return printOutcome(res)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the task was skipped")
	return cmd
}

func dayCmd() *cobra.Command {
	day := &cobra.Command{
		Use:   "day",
		Short: "Browse program days",
	}
	day.AddCommand(dayShowCmd())
	day.AddCommand(dayGotoCmd())
	day.AddCommand(dayStepCmd("next", "Move the viewing day forward"))
	day.AddCommand(dayStepCmd("prev", "Move the viewing day back"))
	day.AddCommand(dayTodayCmd())
	return day
}

func dayShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [n]",
		Short: "Show a day's tasks (defaults to the viewing day)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				state, err := e.State(ctx, userID)
				if err != nil {
					return err
				}
				var view domain.DayView
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil {
						return fmt.Errorf("day must be a number: %w", err)
					}
					view, err = e.Day(ctx, userID, n)
					if err != nil {
						return err
					}
				} else {
					view, err = e.ViewingDay(ctx, userID)
					if err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				printDayView(state, view)
				return nil
			})
		},
	}
	return cmd
}

func dayGotoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goto <n>",
		Short: "Set the viewing day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("day must be a number: %w", err)
			}
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				state, moved, err := e.NavigateToDay(ctx, userID, n)
				if err != nil {
					return err
				}
				return printNavigation(state, moved)
			})
		},
	}
	return cmd
}

func dayStepCmd(direction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   direction,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				var (
					state domain.ProgramState
					moved bool
					err   error
				)
				if direction == "next" {
					state, moved, err = e.NavigateNext(ctx, userID)
				} else {
					state, moved, err = e.NavigatePrevious(ctx, userID)
				}
				if err != nil {
					return err
				}
				return printNavigation(state, moved)
			})
		},
	}
}

func dayTodayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Return to the active day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				state, err := e.GoToToday(ctx, userID)
				if err != nil {
					return err
				}
				return printNavigation(state, true)
			})
		},
	}
}

func achievementsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "achievements",
		Short: "List achievements and progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				statuses, err := e.Achievements(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(statuses)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Category", "Tier", "Status", "Progress"})
				for _, s := range statuses {
					status := "locked"
					if s.Unlocked {
						status = "unlocked " + s.UnlockedAt
					}
					var parts []string
					for _, r := range s.Requirements {
						kind := ""
						if r.Consecutive {
							kind = " consecutive"
						}
						parts = append(parts, fmt.Sprintf("%s %d/%d%s", r.TaskID, r.Current, r.Target, kind))
					}
					tw.AppendRow(table.Row{s.Definition.ID, s.Definition.Name, s.Definition.Category, s.Definition.Tier, status, strings.Join(parts, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				evts, err := e.Repo.ListEvents(ctx, userID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Task", "Day", "Payload"})
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.TS, evt.Type, evt.TaskID, evt.Day, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max events")
	return cmd
}

func resetCmd() *cobra.Command {
	var yes, hard bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe all progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				if !yes {
					what := "all completions and achievements"
					if hard {
						what = "the profile and all of its data"
					}
					fmt.Printf("This deletes %s for %s. Type 'yes' to continue: ", what, userID)
					scanner := bufio.NewScanner(os.Stdin)
					if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "yes" {
						fmt.Println("aborted")
						return nil
					}
				}
				if hard {
					if err := e.Repo.DeleteProfile(ctx, userID); err != nil {
						return err
					}
					fmt.Println("profile deleted")
					return nil
				}
				if err := e.Reset(ctx, userID); err != nil {
					return err
				}
				fmt.Println("progress reset")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip confirmation")
	cmd.Flags().BoolVar(&hard, "hard", false, "delete the profile itself, not just its progress")
	return cmd
}

func catalogCmd() *cobra.Command {
	cat := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the program catalog",
	}
	cat.AddCommand(catalogShowCmd())
	cat.AddCommand(catalogImportCmd())
	cat.AddCommand(catalogExportCmd())
	return cat
}

func catalogShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				cfg, err := e.Repo.GetProgramConfig(ctx, userID)
				if err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						cfg = config.Default()
					} else {
						return err
					}
				}
				return printJSONOrTable(cfg)
			})
		},
	}
}

func catalogImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a catalog from YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				cfg, err := config.FromFile(file)
				if err != nil {
					return err
				}
				if err := e.Repo.UpsertProgramConfig(ctx, userID, cfg); err != nil {
					return err
				}
				fmt.Printf("imported catalog %s for %s\n", cfg.Program.Name, userID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "catalog YAML path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func catalogExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the built-in catalog YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.DefaultYAML())
			return nil
		},
	}
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				secret := uuid.New().String()
				key := domain.APIKey{
					ID:      uuid.New().String(),
					UserID:  userID,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Printf("api key %s created; secret (shown once): %s\n", key.ID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				keys, err := e.Repo.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
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
			e := engine.New(conn, config.Default())
			authCfg := server.AuthConfig{
				JWTSecret:      os.Getenv("DAYLINE_JWT_SECRET"),
				EnableDevLogin: devLogin,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("DAYLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Dayline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable the development login endpoint")
	return cmd
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

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
	return fn(ctx, engine.New(conn, config.Default()))
}

func withUser(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		p, err := app.ResolveProfile(ctx, e.Repo, viper.GetString("user"))
		if err != nil {
			return err
		}
		return fn(ctx, e, p.UserID)
	})
}

func printOutcome(res engine.OutcomeResult) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{
			"state":          res.State,
			"day":            res.Day,
			"newly_unlocked": res.NewlyUnlocked,
		})
	}
	printDayView(res.State, res.Day)
	for _, def := range res.NewlyUnlocked {
		fmt.Printf("Achievement unlocked: %s (%s)\n", def.Name, def.ID)
	}
	return nil
}

func printNavigation(state domain.ProgramState, moved bool) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"state": state, "moved": moved})
	}
	if !moved {
		fmt.Printf("cannot navigate there; unlocked days are 1..%d\n", state.FurthestUnlockedDay)
		return nil
	}
	fmt.Printf("Viewing day %d (active day %d of %d)\n", state.ViewingDay, state.ActiveDay, state.ProgramDays)
	return nil
}

func printDayView(state domain.ProgramState, view domain.DayView) {
	marker := ""
	if view.IsActive {
		marker = " (active)"
	}
	fmt.Printf("Day %d of %d%s\n", view.Day, state.ProgramDays, marker)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Task", "Name", "Category", "Status"})
	for _, t := range view.Tasks {
		status := "open"
		switch {
		case t.Completed:
			status = "done"
		case t.Skipped:
			status = "skipped"
			if t.SkipReason != nil {
				status = "skipped: " + *t.SkipReason
			}
		}
		tw.AppendRow(table.Row{t.TaskID, t.Name, t.Category, status})
	}
	tw.Render()
	if state.ProgramComplete {
		fmt.Println("Program complete!")
	}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
