package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"orchard/internal/cache"
	"orchard/internal/config"
	"orchard/internal/db"
	"orchard/internal/domain"
	"orchard/internal/engine"
	"orchard/internal/migrate"
	"orchard/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "orc",
	Short: "Orchard CLI",
	Long: `Orchard tracks goals and the tasks they break down into.
Goals own tasks; tasks declare dependencies on other tasks and the graph
always stays acyclic. 'orc ready' lists what can run now, 'orc plan' layers
a goal into dependency-ordered phases, and 'orc snapshot'/'orc restore'
export and reload the whole state. State lives in .orchard/orchard.db under
the workspace; orchard.yml tunes storage, cache and batch behavior.`,
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
	viper.SetEnvPrefix("ORCHARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("verbose", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(goalCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(readyCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(restoreCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
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
	var c cache.Cache = cache.Disabled{}
	if cfg.Cache.Enabled {
		rc := cache.NewRedis(cfg.Cache.Addr)
		defer rc.Close()
		c = rc
	}
	e := engine.New(conn, cfg, c, newLogger())
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

func goalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "goal", Short: "Manage goals"}
	cmd.AddCommand(goalCreateCmd())
	cmd.AddCommand(goalListCmd())
	cmd.AddCommand(goalShowCmd())
	cmd.AddCommand(goalUpdateCmd())
	cmd.AddCommand(goalDeleteCmd())
	cmd.AddCommand(goalBreakdownCmd())
	return cmd
}

func goalCreateCmd() *cobra.Command {
	var desc, priority string
	var repos []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				g, err := e.CreateGoal(ctx, engine.CreateGoalOptions{
					Description: desc,
					Priority:    domain.Priority(priority),
					Repos:       repos,
				})
				if err != nil {
					return err
				}
				return printJSON(g)
			})
		},
	}
	cmd.Flags().StringVar(&desc, "description", "", "goal description")
	cmd.Flags().StringVar(&priority, "priority", "medium", "high|medium|low")
	cmd.Flags().StringSliceVar(&repos, "repo", nil, "repository (repeatable)")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func goalListCmd() *cobra.Command {
	var status, priority string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				goals, err := e.ListGoals(ctx, engine.GoalFilter{
					Status:   domain.GoalStatus(status),
					Priority: domain.Priority(priority),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(goals)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Description", "Priority", "Status", "Tasks"})
				for _, g := range goals {
					tw.AppendRow(table.Row{g.ID, g.Description, g.Priority, g.Status, len(g.TaskIDs)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&priority, "priority", "", "filter by priority")
	return cmd
}

func goalShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				g, err := e.GetGoal(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(g)
			})
		},
	}
	return cmd
}

func goalUpdateCmd() *cobra.Command {
	var desc, priority, status string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var patch engine.GoalPatch
			if cmd.Flags().Changed("description") {
				patch.Description = &desc
			}
			if cmd.Flags().Changed("priority") {
				p := domain.Priority(priority)
				patch.Priority = &p
			}
			if cmd.Flags().Changed("status") {
				s := domain.GoalStatus(status)
				patch.Status = &s
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				g, err := e.UpdateGoal(ctx, id, patch)
				if err != nil {
					return err
				}
				return printJSON(g)
			})
		},
	}
	cmd.Flags().StringVar(&desc, "description", "", "new description")
	cmd.Flags().StringVar(&priority, "priority", "", "high|medium|low")
	cmd.Flags().StringVar(&status, "status", "", "planned|in_progress|completed|cancelled")
	return cmd
}

func goalDeleteCmd() *cobra.Command {
	var cascade bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete goal and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.DeleteGoal(ctx, id, cascade)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().BoolVar(&cascade, "cascade", false, "drop cross-goal dependency references")
	return cmd
}

func goalBreakdownCmd() *cobra.Command {
	var specsJSON string
	cmd := &cobra.Command{
		Use:   "breakdown <id>",
		Short: "Break a goal down into tasks",
		Long: `Creates a batch of tasks under a goal from a JSON array of specs:
  [{"description":"...","priority":"high","depends_on_prev":[0]}, ...]
depends_on references existing task ids; depends_on_prev indexes earlier
entries in the same array.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var specs []struct {
				Description     string   `json:"description"`
				Type            string   `json:"type"`
				Priority        string   `json:"priority"`
				DependsOn       []int64  `json:"depends_on"`
				DependsOnPrev   []int    `json:"depends_on_prev"`
				Repo            string   `json:"repo"`
				EstimatedEffort string   `json:"estimated_effort"`
				AssignedTools   []string `json:"assigned_tools"`
			}
			if err := json.Unmarshal([]byte(specsJSON), &specs); err != nil {
				return fmt.Errorf("invalid --tasks json: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				in := make([]engine.TaskSpec, 0, len(specs))
				for _, s := range specs {
					in = append(in, engine.TaskSpec{
						Description:     s.Description,
						Type:            s.Type,
						Priority:        domain.Priority(s.Priority),
						DependsOn:       s.DependsOn,
						DependsOnPrev:   s.DependsOnPrev,
						Repo:            s.Repo,
						EstimatedEffort: s.EstimatedEffort,
						AssignedTools:   s.AssignedTools,
					})
				}
				g, tasks, err := e.BreakDownGoal(ctx, id, in)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"goal": g, "tasks": tasks})
			})
		},
	}
	cmd.Flags().StringVar(&specsJSON, "tasks", "", "JSON array of task specs")
	_ = cmd.MarkFlagRequired("tasks")
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskCreateCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskShowCmd())
	cmd.AddCommand(taskStatusCmd())
	cmd.AddCommand(taskDeleteCmd())
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var goalID int64
	var desc, typ, priority, repo, effort string
	var deps []int64
	var tools []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.CreateTask(ctx, engine.CreateTaskOptions{
					GoalID:          goalID,
					Description:     desc,
					Type:            typ,
					Priority:        domain.Priority(priority),
					Dependencies:    deps,
					Repo:            repo,
					EstimatedEffort: effort,
					AssignedTools:   tools,
				})
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().Int64Var(&goalID, "goal", 0, "owning goal id")
	cmd.Flags().StringVar(&desc, "description", "", "task description")
	cmd.Flags().StringVar(&typ, "type", "", "task type")
	cmd.Flags().StringVar(&priority, "priority", "medium", "high|medium|low")
	cmd.Flags().Int64SliceVar(&deps, "depends-on", nil, "dependency task id (repeatable)")
	cmd.Flags().StringVar(&repo, "repo", "", "repository")
	cmd.Flags().StringVar(&effort, "effort", "", "estimated effort")
	cmd.Flags().StringSliceVar(&tools, "tool", nil, "assigned tool (repeatable)")
	_ = cmd.MarkFlagRequired("goal")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func taskListCmd() *cobra.Command {
	var goalID int64
	var status, priority string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				tasks, err := e.ListTasks(ctx, engine.TaskFilter{
					GoalID:   goalID,
					Status:   domain.TaskStatus(status),
					Priority: domain.Priority(priority),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				renderTaskTable(tasks)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&goalID, "goal", 0, "filter by goal id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&priority, "priority", "", "filter by priority")
	return cmd
}

func renderTaskTable(tasks []domain.Task) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Goal", "Description", "Priority", "Status", "Deps"})
	for _, t := range tasks {
		deps := ""
		if len(t.Dependencies) > 0 {
			parts := make([]string, 0, len(t.Dependencies))
			for _, d := range t.Dependencies {
				parts = append(parts, strconv.FormatInt(d, 10))
			}
			deps = strings.Join(parts, ",")
		}
		tw.AppendRow(table.Row{t.ID, t.GoalID, t.Description, t.Priority, t.Status, deps})
	}
	tw.Render()
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.GetTask(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	return cmd
}

func taskStatusCmd() *cobra.Command {
	var resultJSON string
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Update task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var result map[string]any
			if resultJSON != "" {
				if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
					return fmt.Errorf("invalid --result json: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.UpdateTaskStatus(ctx, id, domain.TaskStatus(args[1]), result)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&resultJSON, "result", "", "JSON result payload")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	var cascade bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.DeleteTask(ctx, id, cascade)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().BoolVar(&cascade, "cascade", false, "drop dependent references instead of rejecting")
	return cmd
}

func readyCmd() *cobra.Command {
	var goalID int64
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "List tasks ready to run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				tasks, err := e.NextReadyTasks(ctx, goalID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				renderTaskTable(tasks)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&goalID, "goal", 0, "restrict to one goal")
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <goal-id>",
		Short: "Generate a phase-ordered execution plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				plan, err := e.GenerateExecutionPlan(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plan)
				}
				for i, phase := range plan.Phases {
					fmt.Printf("phase %d: %v\n", i+1, phase)
				}
				if len(plan.Cycle) > 0 {
					fmt.Printf("warning: tasks %v form a dependency cycle and were not placed\n", plan.Cycle)
				}
				return nil
			})
		},
	}
	return cmd
}

func batchCmd() *cobra.Command {
	var itemsJSON string
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Batch update task statuses",
		Long: `Applies several status changes concurrently from a JSON array:
  [{"id":1,"status":"completed"},{"id":2,"status":"in_progress"}]
Failures are isolated per item; the rest of the batch still applies.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []struct {
				ID     int64          `json:"id"`
				Status string         `json:"status"`
				Result map[string]any `json:"result"`
			}
			if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
				return fmt.Errorf("invalid --items json: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				in := make([]engine.BatchUpdateItem, 0, len(items))
				for _, it := range items {
					in = append(in, engine.BatchUpdateItem{
						ID:     it.ID,
						Status: domain.TaskStatus(it.Status),
						Result: it.Result,
					})
				}
				res, err := e.BatchUpdateTasks(ctx, in)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().StringVar(&itemsJSON, "items", "", "JSON array of status changes")
	_ = cmd.MarkFlagRequired("items")
	return cmd
}

func snapshotCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export all goals and tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				snap, err := e.SnapshotState(ctx)
				if err != nil {
					return err
				}
				if out == "" {
					return printJSON(snap)
				}
				b, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, b, 0o644); err != nil {
					return err
				}
				fmt.Printf("snapshot %s written to %s (%d goals, %d tasks)\n", snap.ID, out, len(snap.Goals), len(snap.Tasks))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write snapshot to file instead of stdout")
	return cmd
}

func restoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <snapshot-file>",
		Short: "Replace all state with a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var snap engine.Snapshot
			if err := json.Unmarshal(b, &snap); err != nil {
				return fmt.Errorf("invalid snapshot file: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				counts, err := e.RestoreState(ctx, snap)
				if err != nil {
					return err
				}
				return printJSON(counts)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				evts, err := e.Events.Latest(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Entity ID"})
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind, evt.EntityID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				handler := server.New(server.Config{Engine: e, BasePath: basePath})
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving Orchard API on http://%s%s\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
