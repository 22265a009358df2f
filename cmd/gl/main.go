package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gateline/internal/app"
	"gateline/internal/artifacts"
	"gateline/internal/config"
	"gateline/internal/db"
	"gateline/internal/domain"
	"gateline/internal/engine"
	"gateline/internal/migrate"
	"gateline/internal/repo"
	"gateline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Gateline CLI",
	Long: `Gateline evaluates quality gates against build and test evidence and
decides whether a release is blocked.
- Workspace: your .gateline directory holding the database and artifact bundles.
- Project: owns a set of gate configurations, one per gate type.
- Gates: lint, coverage, security, performance, contract, complexity, type_check.
  Each is enabled/disabled, blocking/non-blocking, with its own thresholds and timeout.
- Runs: 'gl run' evaluates every enabled gate concurrently against a target
  (task, task run, or sandbox execution) and reports the blocking decision.
- Artifacts: checkers read already-produced tool output from
  .gateline/artifacts/<target>/<gate_type>.json; gateline never runs the tools.
- Event log: diary of config changes and runs, view with 'gl log tail'.`,
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
	viper.SetEnvPrefix("GATELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(gateCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(executionsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUseCmd())
	prj.AddCommand(projectConfigCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var id, workspaceID, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project with default gate configs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
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
			cfg := config.Default(id)
			e := engine.New(conn, cfg, engine.DefaultRegistry(), artifacts.Dir{Root: artifacts.DefaultRoot(workspace)})
			p, err := e.InitProject(cmd.Context(), id, workspaceID, desc, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&workspaceID, "workspace-id", "", "workspace id (defaults to config)")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				p, err := e.Repo.GetProject(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "GATELINE_DEFAULT_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set GATELINE_DEFAULT_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
	return cmd
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project config",
	}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			projectID := cfg.Project.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				if err := e.Repo.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect gateline config",
		Long:  "Config is the rulebook: project id/workspace, runner concurrency and default timeout, and the per-gate defaults used to seed gate configurations.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default gateline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "id", "", "project id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func gateCmd() *cobra.Command {
	gate := &cobra.Command{
		Use:   "gate",
		Short: "Manage gate configurations",
		Long:  "Each gate type has one configuration per project: enabled/disabled, blocking/non-blocking, thresholds, timeout, and rolling pass/fail counters.",
	}
	gate.AddCommand(gateListCmd())
	gate.AddCommand(gateShowCmd())
	gate.AddCommand(gateSetCmd())
	gate.AddCommand(gateEnableCmd(true))
	gate.AddCommand(gateEnableCmd(false))
	return gate
}

func gateListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List gate configurations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				gates, err := e.Store.GetGates(ctx, e.Config.Project.Workspace, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(gates)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Gate", "Enabled", "Blocking", "Total", "Passed", "Failed", "Last Result"})
				for _, gc := range gates {
					last := ""
					if gc.LastResult != nil {
						last = *gc.LastResult
					}
					tw.AppendRow(table.Row{gc.GateType, gc.IsEnabled, gc.IsBlocking, gc.TotalEvaluations, gc.PassedEvaluations, gc.FailedEvaluations, last})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func gateShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <gate_type>",
		Short: "Show one gate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gateType := domain.GateType(args[0])
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				gc, err := e.Repo.GetGateConfigByType(ctx, e.Config.Project.Workspace, e.Config.Project.ID, gateType)
				if err != nil {
					return err
				}
				return printJSONOrTable(gc)
			})
		},
	}
	return cmd
}

func gateSetCmd() *cobra.Command {
	var blocking bool
	var thresholdsJSON string
	var timeoutMs int64
	cmd := &cobra.Command{
		Use:   "set <gate_type>",
		Short: "Update gate thresholds, blocking flag, or timeout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gateType := domain.GateType(args[0])
			opts := engine.GateUpdateOptions{
				GateType: gateType,
				ActorID:  viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("blocking") {
				opts.Blocking = &blocking
			}
			if cmd.Flags().Changed("timeout-ms") {
				opts.TimeoutMs = &timeoutMs
			}
			if thresholdsJSON != "" {
				var thresholds map[string]any
				if err := json.Unmarshal([]byte(thresholdsJSON), &thresholds); err != nil {
					return fmt.Errorf("invalid --thresholds-json: %w", err)
				}
				opts.Thresholds = thresholds
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.WorkspaceID = e.Config.Project.Workspace
				opts.ProjectID = e.Config.Project.ID
				gc, err := e.UpdateGateConfig(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(gc)
			})
		},
	}
	cmd.Flags().BoolVar(&blocking, "blocking", false, "whether a failing gate blocks the release")
	cmd.Flags().StringVar(&thresholdsJSON, "thresholds-json", "", "threshold config JSON")
	cmd.Flags().Int64Var(&timeoutMs, "timeout-ms", 0, "per-gate timeout in ms (0 clears)")
	return cmd
}

func gateEnableCmd(enable bool) *cobra.Command {
	use, short := "enable <gate_type>", "Enable a gate"
	if !enable {
		use, short = "disable <gate_type>", "Disable a gate"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gateType := domain.GateType(args[0])
			enabled := enable
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				gc, err := e.UpdateGateConfig(ctx, engine.GateUpdateOptions{
					WorkspaceID: e.Config.Project.Workspace,
					ProjectID:   e.Config.Project.ID,
					GateType:    gateType,
					Enabled:     &enabled,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(gc)
			})
		},
	}
	return cmd
}

func runCmd() *cobra.Command {
	var taskID, taskRunID, sandboxID, artifactsDir string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run quality gates against a target",
		Long:  "Evaluates every enabled gate concurrently against already-produced tool output and prints the blocking decision. Exactly one of --task, --task-run, --sandbox names the target.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				target := domain.Target{
					WorkspaceID:        e.Config.Project.Workspace,
					ProjectID:          e.Config.Project.ID,
					TaskID:             taskID,
					TaskRunID:          taskRunID,
					SandboxExecutionID: sandboxID,
				}
				opts := engine.RunOptions{DryRun: dryRun, ActorID: viper.GetString("actor-id")}
				if artifactsDir != "" {
					opts.Artifacts = artifacts.Dir{Root: artifactsDir}
				}
				res, err := e.RunGates(ctx, target, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printRunResult(res)
				if res.Blocking {
					os.Exit(1)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id target")
	cmd.Flags().StringVar(&taskRunID, "task-run", "", "task run id target")
	cmd.Flags().StringVar(&sandboxID, "sandbox", "", "sandbox execution id target")
	cmd.Flags().StringVar(&artifactsDir, "artifacts-dir", "", "override artifact directory")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "include disabled gates as skipped executions")
	return cmd
}

func printRunResult(res domain.RunResult) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Gate", "Status", "Passed", "Issues", "Duration"})
	for _, exec := range res.Executions {
		passed := ""
		if exec.Passed != nil {
			passed = fmt.Sprintf("%t", *exec.Passed)
			if exec.PassedWithWarnings {
				passed += " (warnings)"
			}
		}
		duration := ""
		if exec.DurationMs != nil {
			duration = fmt.Sprintf("%dms", *exec.DurationMs)
		}
		tw.AppendRow(table.Row{exec.GateType, exec.Status, passed, exec.IssueCounts.Total(), duration})
	}
	tw.Render()
	if res.Blocking {
		fmt.Printf("BLOCKED by gates: %s\n", strings.Join(res.BlockingGateIDs, ", "))
	} else {
		fmt.Println("Release not blocked.")
	}
}

func executionsCmd() *cobra.Command {
	exe := &cobra.Command{
		Use:   "executions",
		Short: "Inspect gate executions",
	}
	exe.AddCommand(executionsListCmd())
	exe.AddCommand(executionsShowCmd())
	return exe
}

func executionsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListExecutions(ctx, e.Config.Project.ID, limit, "", "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Gate", "Status", "Issues", "Created"})
				for _, exec := range items {
					tw.AppendRow(table.Row{exec.ID, exec.GateType, exec.Status, exec.IssueCounts.Total(), exec.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "n", 20, "number of executions")
	return cmd
}

func executionsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				exec, err := e.Repo.GetExecution(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(exec)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: gate config changes, runs, and execution outcomes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, e.Config.Project.ID, n, 0)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func keysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	keys.AddCommand(keysCreateCmd())
	keys.AddCommand(keysListCmd())
	keys.AddCommand(keysDeleteCmd())
	return keys
}

func keysCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.New().String() + uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				// The raw key prints once; only its hash is stored.
				return printJSONOrTable(map[string]string{"id": key.ID, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func keysListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func keysDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
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
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg, engine.DefaultRegistry(), artifacts.Dir{Root: artifacts.DefaultRoot(workspace)})
			if err := e.VerifyStartup(cmd.Context(), cfg.Project.Workspace, cfg.Project.ID); err != nil {
				return err
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("GATELINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("GATELINE_JWT_SECRET is required for bearer auth")
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
			fmt.Printf("Serving Gateline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

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
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, engine.DefaultRegistry(), artifacts.Dir{Root: artifacts.DefaultRoot(workspace)})
	return fn(ctx, e)
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
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
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
	return os.WriteFile(path, []byte(content), 0o644)
}
