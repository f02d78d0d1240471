package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/imeapplication/regulatory-patrol/internal/app"
	"github.com/imeapplication/regulatory-patrol/internal/engine"
)

type allocationOp func(ctx context.Context, e engine.Engine, userID, name, domainName string) (engine.Result, error)

func assignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Allocate a domain or task to a user",
		Long:  "Assigning a name someone else holds in the same scope moves it: the previous holder loses it first.",
	}
	cmd.AddCommand(allocationSubCmd("accountable <user-id> <domain>", "Make a Domain Accountable answer for a domain", false,
		func(ctx context.Context, e engine.Engine, userID, name, _ string) (engine.Result, error) {
			return e.AssignDomainToAccountable(ctx, userID, name)
		}))
	cmd.AddCommand(allocationSubCmd("manager <user-id> <domain>", "Give a domain to a Domain Manager", false,
		func(ctx context.Context, e engine.Engine, userID, name, _ string) (engine.Result, error) {
			return e.AssignDomainToManager(ctx, userID, name)
		}))
	cmd.AddCommand(allocationSubCmd("task <user-id> <task>", "Give a task to a Task Manager", true,
		func(ctx context.Context, e engine.Engine, userID, name, domainName string) (engine.Result, error) {
			return e.AssignTaskToManager(ctx, userID, domainName, name)
		}))
	return cmd
}

func unassignCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "unassign", Short: "Take a domain or task away from a user"}
	cmd.AddCommand(allocationSubCmd("accountable <user-id> <domain>", "Remove a domain from a Domain Accountable", false,
		func(ctx context.Context, e engine.Engine, userID, name, _ string) (engine.Result, error) {
			return e.RemoveDomainFromAccountable(ctx, userID, name)
		}))
	cmd.AddCommand(allocationSubCmd("manager <user-id> <domain>", "Remove a domain from a Domain Manager", false,
		func(ctx context.Context, e engine.Engine, userID, name, _ string) (engine.Result, error) {
			return e.RemoveDomainFromManager(ctx, userID, name)
		}))
	cmd.AddCommand(allocationSubCmd("task <user-id> <task>", "Remove a task from a Task Manager", false,
		func(ctx context.Context, e engine.Engine, userID, name, _ string) (engine.Result, error) {
			return e.RemoveTaskFromManager(ctx, userID, name)
		}))
	return cmd
}

func allocationSubCmd(use, short string, withDomain bool, op allocationOp) *cobra.Command {
	var domainName string
	var strict bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := op(ctx, a.Engine, args[0], args[1], domainName)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(res); err != nil {
						return err
					}
				} else {
					printResult(args[0], args[1], res)
				}
				if strict && !res.Applied {
					return fmt.Errorf("not applied: %s", res.Reason)
				}
				return nil
			})
		},
	}
	if withDomain {
		cmd.Flags().StringVar(&domainName, "domain", "", "domain holding the task (looked up when empty)")
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when nothing changed")
	return cmd
}

func printResult(userID, name string, res engine.Result) {
	switch {
	case res.Applied && res.Displaced != "":
		fmt.Printf("%s: applied for user %s (taken from user %s)\n", name, userID, res.Displaced)
	case res.Applied:
		fmt.Printf("%s: applied for user %s\n", name, userID)
	default:
		fmt.Printf("%s: unchanged for user %s (%s)\n", name, userID, res.Reason)
	}
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "check", Short: "Check what the session user holds"}
	checks := []struct {
		use, short string
		fn         func(engine.Engine, string) bool
	}{
		{"accountable <domain>", "Is the session user accountable for the domain", engine.Engine.IsDomainAccountableFor},
		{"manager <domain>", "Does the session user manage the domain", engine.Engine.IsDomainManagerFor},
		{"task <task>", "Does the session user manage the task", engine.Engine.IsTaskManagerFor},
	}
	for _, c := range checks {
		c := c
		cmd.AddCommand(&cobra.Command{
			Use:   c.use,
			Short: c.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					ok := c.fn(a.Engine, args[0])
					if viper.GetBool("json") {
						return printJSON(map[string]any{"name": args[0], "allowed": ok})
					}
					fmt.Println(ok)
					return nil
				})
			},
		})
	}
	return cmd
}
