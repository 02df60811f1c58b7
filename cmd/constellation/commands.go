package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"constellation/internal/config"
	"constellation/internal/domain"
	"constellation/internal/engine"
	"constellation/internal/server"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	cmd.AddCommand(userCreateCmd())
	cmd.AddCommand(userListCmd())
	cmd.AddCommand(userTokenCmd())
	cmd.AddCommand(userOrgCmd())
	return cmd
}

func userOrgCmd() *cobra.Command {
	var email, org string
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Assign a user to an organization (empty --org removes it)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.AssignOrganization(ctx, email, org)
				if err != nil {
					return err
				}
				return printJSONOrText(u, fmt.Sprintf("user %s organization=%q", u.Email, u.OrganizationID))
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userCreateCmd() *cobra.Command {
	var opts engine.SignupOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Signup(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrText(u, fmt.Sprintf("created user %s (%s)", u.Email, u.ID))
			})
		},
	}
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.OrganizationID, "org", "", "organization id")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Name", "Organization", "Created"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Email, u.Name, u.OrganizationID, u.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userTokenCmd() *cobra.Command {
	var (
		email string
		ttl   time.Duration
		save  bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("CONSTELLATION_JWT_SECRET (or auth.jwt_secret) is required to sign tokens")
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Login(ctx, email)
				if err != nil {
					return err
				}
				token, expires, err := server.SignToken(cfg.Auth.JWTSecret, u, ttl, time.Now())
				if err != nil {
					return err
				}
				if save {
					path := filepath.Join(viper.GetString("workspace"), ".env")
					if err := setEnvValue(path, "CONSTELLATION_TOKEN", token); err != nil {
						return err
					}
				}
				out := map[string]any{"token": token, "expires_at": domain.FormatTime(expires), "user_id": u.ID}
				return printJSONOrText(out, token)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl_hours)")
	cmd.Flags().BoolVar(&save, "save", false, "store the token as CONSTELLATION_TOKEN in <workspace>/.env")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// setEnvValue sets key in the dotenv file at path, keeping other entries.
func setEnvValue(path, key, value string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		env = map[string]string{}
	}
	env[key] = value
	return godotenv.Write(env, path)
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskShowCmd())
	cmd.AddCommand(taskCreateCmd())
	cmd.AddCommand(taskArchiveCmd())
	cmd.AddCommand(taskDeleteCmd())
	cmd.AddCommand(taskEventsCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	var (
		archived string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				who, err := actingIdentity(ctx, e)
				if err != nil {
					return err
				}
				opts := engine.TaskListOptions{Limit: limit}
				switch strings.ToLower(archived) {
				case "":
				case "true":
					v := true
					opts.Archived = &v
				case "false":
					v := false
					opts.Archived = &v
				default:
					return fmt.Errorf("--archived must be true or false")
				}
				tasks, err := e.ListTasks(ctx, who, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Nodes", "Edges", "Archived", "Updated"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, len(t.Nodes), len(t.Edges), t.IsArchived, t.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&archived, "archived", "", "filter by archived flag (true|false)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				who, err := actingIdentity(ctx, e)
				if err != nil {
					return err
				}
				t, err := e.GetTask(ctx, who, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRows([]table.Row{
					{"ID", t.ID},
					{"Title", t.Title},
					{"Description", t.Description},
					{"Owner", t.OwnerID},
					{"Nodes", len(t.Nodes)},
					{"Edges", len(t.Edges)},
					{"Viewport", fmt.Sprintf("%.1f,%.1f @ %.2f", t.Viewport.X, t.Viewport.Y, t.Viewport.Zoom)},
					{"Archived", t.IsArchived},
					{"Updated", t.UpdatedAt},
				})
				tw.Render()
				return nil
			})
		},
	}
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				who, err := actingIdentity(ctx, e)
				if err != nil {
					return err
				}
				t, err := e.CreateTask(ctx, who, opts)
				if err != nil {
					return err
				}
				return printJSONOrText(t, fmt.Sprintf("created task %s", t.ID))
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "task description")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskArchiveCmd() *cobra.Command {
	var restore bool
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive (or restore) a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				who, err := actingIdentity(ctx, e)
				if err != nil {
					return err
				}
				archived := !restore
				t, err := e.UpdateTask(ctx, who, args[0], engine.TaskUpdateOptions{IsArchived: &archived})
				if err != nil {
					return err
				}
				return printJSONOrText(t, fmt.Sprintf("task %s archived=%t", t.ID, t.IsArchived))
			})
		},
	}
	cmd.Flags().BoolVar(&restore, "restore", false, "unarchive instead")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				who, err := actingIdentity(ctx, e)
				if err != nil {
					return err
				}
				if err := e.DeleteTask(ctx, who, args[0]); err != nil {
					return err
				}
				return printJSONOrText(map[string]any{"deleted": args[0]}, "deleted "+args[0])
			})
		},
	}
}

func taskEventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <id>",
		Short: "Show a task's event log, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				who, err := actingIdentity(ctx, e)
				if err != nil {
					return err
				}
				evs, err := e.TaskEvents(ctx, who, args[0], 0, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, ev := range evs {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max events")
	return cmd
}

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agent", Short: "Manage agents"}
	cmd.AddCommand(agentListCmd())
	cmd.AddCommand(agentCreateCmd())
	return cmd
}

func agentListCmd() *cobra.Command {
	var opts engine.AgentListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				who, err := actingIdentity(ctx, e)
				if err != nil {
					return err
				}
				agents, err := e.ListAgents(ctx, who, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Task", "Status", "Messages", "Updated"})
				for _, a := range agents {
					task := ""
					if a.TaskID != nil {
						task = *a.TaskID
					}
					tw.AppendRow(table.Row{a.ID, a.Name, task, a.Status, len(a.ChatHistory), a.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.TaskID, "task", "", "task id filter")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "max results")
	return cmd
}

func agentCreateCmd() *cobra.Command {
	var opts engine.AgentCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				who, err := actingIdentity(ctx, e)
				if err != nil {
					return err
				}
				a, err := e.CreateAgent(ctx, who, opts)
				if err != nil {
					return err
				}
				return printJSONOrText(a, fmt.Sprintf("created agent %s", a.ID))
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "agent name")
	cmd.Flags().StringVar(&opts.TaskID, "task", "", "task the agent sits on")
	cmd.Flags().StringVar(&opts.Prompt, "prompt", "", "initial draft")
	cmd.Flags().StringSliceVar(&opts.Connections, "connect", nil, "connected agent ids")
	return cmd
}

func presenceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "presence", Short: "Presence maintenance"}
	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete stale presence rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.PrunePresence(ctx, olderThan)
				if err != nil {
					return err
				}
				return printJSONOrText(map[string]any{"removed": n}, fmt.Sprintf("removed %d presence row(s)", n))
			})
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 0, "age cutoff (defaults to the presence window)")
	cmd.AddCommand(prune)
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect and initialize configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redacted := *cfg
			if redacted.Auth.JWTSecret != "" {
				redacted.Auth.JWTSecret = "***"
			}
			if redacted.LLM.APIKey != "" {
				redacted.LLM.APIKey = "***"
			}
			redacted.Webhooks = make([]config.WebhookConfig, len(cfg.Webhooks))
			for i, hook := range cfg.Webhooks {
				if hook.Secret != "" {
					hook.Secret = "***"
				}
				redacted.Webhooks[i] = hook
			}
			if viper.GetBool("json") {
				return printJSON(redacted)
			}
			out, err := yaml.Marshal(redacted)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			return printJSONOrText(map[string]any{"valid": true}, "config ok")
		},
	})
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default constellation.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			return printJSONOrText(map[string]any{"path": path}, "wrote "+path)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}
