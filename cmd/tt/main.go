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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tasktrail/internal/app"
	"tasktrail/internal/auth"
	"tasktrail/internal/db"
	"tasktrail/internal/domain"
	"tasktrail/internal/engine"
	"tasktrail/internal/repo"
	"tasktrail/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tt",
	Short: "Tasktrail CLI",
	Long: `Tasktrail is a multi-tenant task tracker for humans and bots.
- Workspace: the .tasktrail directory holding the database.
- Users log in with passwords; bots authenticate with bot_<hex> API tokens.
- Bots act only within the capabilities granted to them; humans are unrestricted.
- Teams scope projects and tasks; joining a team takes an admin-approved request.
- Deleting a project removes its tasks and subtasks and reports the counts.
- Every mutation appends one entry to the activity log; view it with 'tt activity'.`,
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
	viper.SetEnvPrefix("TASKTRAIL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "", "acting user id")
	rootCmd.PersistentFlags().String("token", "", "acting bot token (bot_<hex>)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func registerCommands() {
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(botCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(subtaskCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(maintenanceCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- users ---

func userCmd() *cobra.Command {
	c := &cobra.Command{Use: "user", Short: "Manage user accounts"}
	c.AddCommand(userCreateCmd())
	c.AddCommand(userListCmd())
	c.AddCommand(userShowCmd())
	c.AddCommand(userRemovalPlanCmd())
	c.AddCommand(userRemoveCmd())
	return c
}

func userCreateCmd() *cobra.Command {
	var username, email, fullName, password string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.CreateUser(ctx, engine.UserCreateOptions{
					Username: username,
					Email:    email,
					FullName: fullName,
					Password: password,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&fullName, "full-name", "", "full name")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				users, err := a.Repo().ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Username", "Email", "Team", "Admin", "Active"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Username, u.Email, deref(u.TeamID), u.IsTeamAdmin, u.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func userShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Repo().GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userRemovalPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "removal-plan <id>",
		Short: "Preview what removing a user would touch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Repo().GetUser(ctx, args[0]); err != nil {
					return err
				}
				plan, err := a.Engine.RemovalPlanFor(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(plan)
			})
		},
	}
	return cmd
}

func userRemoveCmd() *cobra.Command {
	var transferTo string
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a user and transfer their content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				plan, err := a.Engine.RemoveUser(ctx, p, args[0], engine.RemovalTarget{TransferTo: transferTo})
				if err != nil {
					return err
				}
				return printJSONOrTable(plan)
			})
		},
	}
	cmd.Flags().StringVar(&transferTo, "transfer-to", "", "user id receiving ownership and assignments")
	return cmd
}

// --- bots ---

func botCmd() *cobra.Command {
	c := &cobra.Command{Use: "bot", Short: "Manage bot accounts"}
	c.AddCommand(botCreateCmd())
	c.AddCommand(botListCmd())
	c.AddCommand(botShowCmd())
	c.AddCommand(botPermissionsCmd())
	c.AddCommand(botRemoveCmd())
	return c
}

func botCreateCmd() *cobra.Command {
	var username, owner string
	var perms []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a bot; prints its API token once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				if owner == "" && p.Type == auth.PrincipalHuman {
					owner = p.ID
				}
				b, err := a.Engine.CreateBot(ctx, p, engine.BotCreateOptions{
					Username:    username,
					OwnerID:     owner,
					Permissions: perms,
				})
				if err != nil {
					return err
				}
				out := map[string]any{"bot": b, "api_token": b.APIToken}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "bot username")
	cmd.Flags().StringVar(&owner, "owner", "", "owning user id (defaults to the acting user)")
	cmd.Flags().StringArrayVar(&perms, "perm", []string{}, "capability grant (repeatable)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func botListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				bots, err := a.Repo().ListBots(ctx, owner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(bots)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Username", "Owner", "Permissions", "Active"})
				for _, b := range bots {
					tw.AppendRow(table.Row{b.ID, b.Username, b.OwnerID, strings.Join(b.Permissions, ","), b.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "filter by owning user id")
	return cmd
}

func botShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				b, err := a.Repo().GetBot(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	return cmd
}

func botPermissionsCmd() *cobra.Command {
	var perms []string
	cmd := &cobra.Command{
		Use:   "permissions <id>",
		Short: "Replace a bot's capability grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				b, err := a.Engine.SetBotPermissions(ctx, p, args[0], perms)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringArrayVar(&perms, "perm", []string{}, "capability grant (repeatable)")
	return cmd
}

func botRemoveCmd() *cobra.Command {
	var transferTo string
	var deleteContent bool
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				plan, err := a.Engine.RemoveBot(ctx, p, args[0], engine.RemovalTarget{
					TransferTo:    transferTo,
					DeleteContent: deleteContent,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(plan)
			})
		},
	}
	cmd.Flags().StringVar(&transferTo, "transfer-to", "", "user id receiving ownership and assignments")
	cmd.Flags().BoolVar(&deleteContent, "delete-content", false, "cascade the bot's owned content instead of transferring")
	return cmd
}

// --- teams ---

func teamCmd() *cobra.Command {
	c := &cobra.Command{Use: "team", Short: "Manage teams"}
	c.AddCommand(teamCreateCmd())
	c.AddCommand(teamListCmd())
	c.AddCommand(teamMembersCmd())
	c.AddCommand(teamJoinCmd())
	c.AddCommand(teamRequestsCmd())
	c.AddCommand(teamApproveCmd())
	c.AddCommand(teamRejectCmd())
	c.AddCommand(teamRemoveMemberCmd())
	return c
}

func teamCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a team; the creator becomes its admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				t, err := a.Engine.CreateTeam(ctx, p, name, p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "team name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func teamListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				teams, err := a.Repo().ListTeams(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(teams)
			})
		},
	}
	return cmd
}

func teamMembersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members <team-id>",
		Short: "List team members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Repo().GetTeam(ctx, args[0]); err != nil {
					return err
				}
				members, err := a.Repo().ListTeamMembers(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(members)
			})
		},
	}
	return cmd
}

func teamJoinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join <team-id>",
		Short: "Request to join a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				req, err := a.Engine.RequestToJoin(ctx, p, args[0], p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
	return cmd
}

func teamRequestsCmd() *cobra.Command {
	var f repo.TeamRequestFilters
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List join requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				reqs, err := a.Repo().ListTeamRequests(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(reqs)
			})
		},
	}
	cmd.Flags().StringVar(&f.TeamID, "team", "", "team id filter")
	cmd.Flags().StringVar(&f.UserID, "user", "", "user id filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (pending, approved, rejected)")
	return cmd
}

func teamApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a join request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				req, err := a.Engine.ApproveJoinRequest(ctx, p, args[0], p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
	return cmd
}

func teamRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject a join request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				req, err := a.Engine.RejectJoinRequest(ctx, p, args[0], p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
	return cmd
}

func teamRemoveMemberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-member <user-id>",
		Short: "Remove a member from your team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				return a.Engine.RemoveUserFromTeam(ctx, p, args[0], p.ID)
			})
		},
	}
	return cmd
}

// --- projects ---

func projectCmd() *cobra.Command {
	c := &cobra.Command{Use: "project", Short: "Manage projects"}
	c.AddCommand(projectCreateCmd())
	c.AddCommand(projectListCmd())
	c.AddCommand(projectShowCmd())
	c.AddCommand(projectUpdateCmd())
	c.AddCommand(projectDeleteCmd())
	return c
}

func projectCreateCmd() *cobra.Command {
	var name, desc, teamID, ownerID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				proj, err := a.Engine.CreateProject(ctx, p, engine.ProjectCreateOptions{
					Name:        name,
					Description: desc,
					TeamID:      teamID,
					OwnerID:     ownerID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(proj)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&teamID, "team", "", "team id (defaults to the actor's team)")
	cmd.Flags().StringVar(&ownerID, "owner", "", "owner user id (defaults to the actor)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				projects, err := a.Repo().ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Team", "Owner"})
				for _, p := range projects {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, deref(p.TeamID), deref(p.OwnerID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.TeamID, "team", "", "team id filter")
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "owner filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (active, archived)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Repo().GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name, desc, status string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				opts := engine.ProjectUpdateOptions{}
				if cmd.Flags().Changed("name") {
					opts.Name = &name
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &desc
				}
				if cmd.Flags().Changed("status") {
					opts.Status = &status
				}
				proj, err := a.Engine.UpdateProject(ctx, p, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(proj)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (active, archived)")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				summary, err := a.Engine.DeleteProject(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(summary)
			})
		},
	}
	return cmd
}

// --- tasks ---

func taskCmd() *cobra.Command {
	c := &cobra.Command{Use: "task", Short: "Manage tasks"}
	c.AddCommand(taskCreateCmd())
	c.AddCommand(taskListCmd())
	c.AddCommand(taskShowCmd())
	c.AddCommand(taskUpdateCmd())
	c.AddCommand(taskDeleteCmd())
	return c
}

func taskCreateCmd() *cobra.Command {
	var project, title, desc, assignedTo, owner string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				t, err := a.Engine.CreateTask(ctx, p, engine.TaskCreateOptions{
					ProjectID:   project,
					Title:       title,
					Description: desc,
					AssignedTo:  assignedTo,
					OwnerID:     owner,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&assignedTo, "assign", "", "assignee principal id")
	cmd.Flags().StringVar(&owner, "owner", "", "owner user id (defaults to the actor)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Repo().ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Project"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, deref(t.AssignedTo), t.ProjectID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.TeamID, "team", "", "team id")
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "owner filter")
	cmd.Flags().StringVar(&f.AssignedTo, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (pending, in-progress, done)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Repo().GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, desc, status, assignedTo string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				opts := engine.TaskUpdateOptions{}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &desc
				}
				if cmd.Flags().Changed("status") {
					opts.Status = &status
				}
				if cmd.Flags().Changed("assign") {
					opts.AssignedTo = &assignedTo
				}
				t, err := a.Engine.UpdateTask(ctx, p, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (pending, in-progress, done)")
	cmd.Flags().StringVar(&assignedTo, "assign", "", "assignee principal id; empty clears the assignment")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task and its subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				summary, err := a.Engine.DeleteTask(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(summary)
			})
		},
	}
	return cmd
}

// --- subtasks ---

func subtaskCmd() *cobra.Command {
	c := &cobra.Command{Use: "subtask", Short: "Manage subtasks"}
	c.AddCommand(subtaskCreateCmd())
	c.AddCommand(subtaskListCmd())
	c.AddCommand(subtaskShowCmd())
	c.AddCommand(subtaskAnswerCmd())
	c.AddCommand(subtaskAssignCmd())
	c.AddCommand(subtaskDeleteCmd())
	return c
}

func subtaskCreateCmd() *cobra.Command {
	var taskID, subType, question, assignedTo string
	var options []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create subtask",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				s, err := a.Engine.CreateSubtask(ctx, p, engine.SubtaskCreateOptions{
					TaskID:     taskID,
					Type:       subType,
					Question:   question,
					Options:    options,
					AssignedTo: assignedTo,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "parent task id")
	cmd.Flags().StringVar(&subType, "type", "open_answer", "subtask type (multiple_choice, open_answer)")
	cmd.Flags().StringVar(&question, "question", "", "question text")
	cmd.Flags().StringArrayVar(&options, "option", []string{}, "answer option for multiple_choice (repeatable)")
	cmd.Flags().StringVar(&assignedTo, "assign", "", "assignee principal id")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

func subtaskListCmd() *cobra.Command {
	var f repo.SubtaskFilters
	var answered bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List subtasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("answered") {
				f.Answered = &answered
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				subs, err := a.Repo().ListSubtasks(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(subs)
			})
		},
	}
	cmd.Flags().StringVar(&f.TaskID, "task", "", "parent task id")
	cmd.Flags().StringVar(&f.AssignedTo, "assignee", "", "assignee filter")
	cmd.Flags().BoolVar(&answered, "answered", false, "filter by answered state")
	return cmd
}

func subtaskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a subtask",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Repo().GetSubtask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func subtaskAnswerCmd() *cobra.Command {
	var answer string
	cmd := &cobra.Command{
		Use:   "answer <id>",
		Short: "Answer a subtask",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				s, err := a.Engine.AnswerSubtask(ctx, p, args[0], answer)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&answer, "answer", "", "answer text (must match an option for multiple_choice)")
	_ = cmd.MarkFlagRequired("answer")
	return cmd
}

func subtaskAssignCmd() *cobra.Command {
	var assignedTo string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign a subtask",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				s, err := a.Engine.AssignSubtask(ctx, p, args[0], assignedTo)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&assignedTo, "to", "", "assignee principal id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func subtaskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a subtask",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := actorPrincipal(ctx, a)
				if err != nil {
					return err
				}
				return a.Engine.DeleteSubtask(ctx, p, args[0])
			})
		},
	}
	return cmd
}

// --- activity ---

func activityCmd() *cobra.Command {
	var n int
	var since, mode string
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the activity log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				switch mode {
				case "recent", "":
					entries, err := a.Repo().RecentActivity(ctx, n)
					if err != nil {
						return err
					}
					return printActivity(entries)
				case "updates", "mine":
					if since == "" {
						return fmt.Errorf("--since required for --mode %s", mode)
					}
					p, err := actorPrincipal(ctx, a)
					if err != nil {
						return err
					}
					var entries []domain.ActivityEntry
					if mode == "updates" {
						entries, err = a.Repo().ActivitySince(ctx, since, p.ID)
					} else {
						entries, err = a.Repo().ActivityAssignedToUser(ctx, p.ID, since)
					}
					if err != nil {
						return err
					}
					return printActivity(entries)
				default:
					return fmt.Errorf("unknown mode %q", mode)
				}
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 50, "number of entries")
	cmd.Flags().StringVar(&since, "since", "", "RFC3339 timestamp lower bound")
	cmd.Flags().StringVar(&mode, "mode", "recent", "recent, updates (others since), or mine (assigned to me)")
	return cmd
}

// --- maintenance ---

func maintenanceCmd() *cobra.Command {
	c := &cobra.Command{Use: "maintenance", Short: "Integrity and housekeeping"}
	c.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Delete orphaned tasks and subtasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Engine.OrphanSweep(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "cleanup-sessions",
		Short: "Delete expired sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Engine.CleanupSessions(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"deleted": n})
			})
		},
	})
	return c
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			a, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			if basePath == "" {
				basePath = a.Config.Server.BasePath
			}
			handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath})
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
			a.Log.Infof("serving Tasktrail API on http://%s%s (Swagger UI at /docs)", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// actorPrincipal resolves the acting principal from --token (bot) or
// --actor (user id).
func actorPrincipal(ctx context.Context, a *app.App) (auth.Principal, error) {
	if token := viper.GetString("token"); token != "" {
		return a.Engine.Auth.ResolveToken(ctx, token)
	}
	actorID := viper.GetString("actor")
	if actorID == "" {
		return auth.Principal{}, fmt.Errorf("--actor or --token required")
	}
	u, err := a.Repo().GetUser(ctx, actorID)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("actor %s: %w", actorID, err)
	}
	return auth.Principal{
		ID:       u.ID,
		Username: u.Username,
		FullName: u.FullName,
		Type:     auth.PrincipalHuman,
		TeamID:   u.TeamID,
	}, nil
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

func printActivity(entries []domain.ActivityEntry) error {
	if viper.GetBool("json") {
		return printJSON(entries)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "When", "Actor", "Action", "Entity", "Name"})
	for _, e := range entries {
		tw.AppendRow(table.Row{e.ID, e.CreatedAt, deref(e.ActorID), e.ActionType, e.EntityType + "/" + e.EntityID, deref(e.EntityName)})
	}
	tw.Render()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
