package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/imeapplication/regulatory-patrol/internal/app"
	"github.com/imeapplication/regulatory-patrol/internal/domain"
	"github.com/imeapplication/regulatory-patrol/internal/repo"
)

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users and the login session"}
	usr.AddCommand(userListCmd())
	usr.AddCommand(userAddCmd())
	usr.AddCommand(userUpdateCmd())
	usr.AddCommand(userDeleteCmd())
	usr.AddCommand(userLoginCmd())
	usr.AddCommand(userLogoutCmd())
	usr.AddCommand(userWhoamiCmd())
	return usr
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				list := a.Engine.Users.List()
				if role != "" {
					r, err := domain.ParseRole(role)
					if err != nil {
						return err
					}
					list = a.Engine.Users.ByRole(r)
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role", "Allocations"})
				for _, u := range list {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Role, allocations(u)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "only users with this role")
	return cmd
}

func userAddCmd() *cobra.Command {
	var u domain.User
	var role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			u.Role = r
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				added, err := a.Engine.Users.Add(ctx, u)
				if err != nil {
					return err
				}
				return printJSONOrTable(added)
			})
		},
	}
	cmd.Flags().StringVar(&u.ID, "id", "", "user id (generated when empty)")
	cmd.Flags().StringVar(&u.Name, "name", "", "display name")
	cmd.Flags().StringVar(&u.Email, "email", "", "login email")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleRegular), "role")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userUpdateCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a user's name or email (use 'rp role set' for roles)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.Users.Get(args[0])
				if err != nil {
					return fmt.Errorf("user %s: %w", args[0], err)
				}
				if cmd.Flags().Changed("name") {
					u.Name = name
				}
				if cmd.Flags().Changed("email") {
					u.Email = email
				}
				if err := a.Engine.Users.Update(ctx, u); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	return cmd
}

func userDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user; allocation history about them is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteUser(ctx, args[0]); err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("user %s not found", args[0])
					}
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

func userLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Start a session as the user with this email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ok, err := a.Engine.Users.Login(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no user with email %s", args[0])
				}
				u, _ := a.Engine.Users.Current()
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Users.Logout(ctx)
			})
		},
	}
	return cmd
}

func userWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the session user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, ok := a.Engine.Users.Current()
				if !ok {
					return fmt.Errorf("not logged in; use rp user login <email>")
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func roleCmd() *cobra.Command {
	role := &cobra.Command{Use: "role", Short: "Manage user roles"}
	role.AddCommand(&cobra.Command{
		Use:   "set <user-id> <role>",
		Short: "Change a user's role, releasing every allocation they hold",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.ChangeRole(ctx, args[0], domain.Role(args[1]))
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	})
	return role
}

func allocations(u domain.User) string {
	var parts []string
	p := u.Permissions
	if len(p.AccountableDomains) > 0 {
		parts = append(parts, "accountable: "+strings.Join(p.AccountableDomains, ", "))
	}
	if len(p.ManageableDomains) > 0 {
		parts = append(parts, "manages: "+strings.Join(p.ManageableDomains, ", "))
	}
	if len(p.ManageableTasks) > 0 {
		parts = append(parts, "tasks: "+strings.Join(p.ManageableTasks, ", "))
	}
	return strings.Join(parts, "; ")
}
