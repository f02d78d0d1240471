package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/imeapplication/regulatory-patrol/internal/app"
	"github.com/imeapplication/regulatory-patrol/internal/compliance"
	"github.com/imeapplication/regulatory-patrol/internal/domain"
	"github.com/imeapplication/regulatory-patrol/internal/projection"
)

func historyCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the allocation history log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries := a.Engine.AllocationHistory()
				if userID != "" {
					entries = a.Engine.UserAllocationHistory(userID)
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				printEntries(entries)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "only entries for this user id")
	return cmd
}

func printEntries(entries []domain.AllocationHistoryEntry) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Timestamp", "User", "Action", "Role", "Domain", "Task"})
	for _, e := range entries {
		tw.AppendRow(table.Row{e.Timestamp, e.UserID, e.Action, e.Role, e.DomainName, e.TaskName})
	}
	tw.Render()
}

func allocationCmd() *cobra.Command {
	alloc := &cobra.Command{Use: "allocation", Short: "Replay allocations"}
	var userID, at string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show what a user held at a point in time",
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf, err := parseAt(at)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.AllocationAt(userID, asOf)
				if err != nil {
					return fmt.Errorf("user %s: %w", userID, err)
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("%s (%s) as of %s\n", s.User.Name, s.User.Role, s.AsOf)
				if len(s.Domains) > 0 {
					fmt.Println("domains:", strings.Join(s.Domains, ", "))
				}
				if len(s.Tasks) > 0 {
					fmt.Println("tasks:", strings.Join(s.Tasks, ", "))
				}
				fmt.Printf("man-days: %g\n", s.TotalManDays)
				printEntries(s.History)
				return nil
			})
		},
	}
	show.Flags().StringVar(&userID, "user", "", "user id")
	show.Flags().StringVar(&at, "at", "", "date (YYYY-MM-DD) or RFC 3339 time; default now")
	_ = show.MarkFlagRequired("user")
	alloc.AddCommand(show)
	return alloc
}

func timelineCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Rank users by allocated man-days at a point in time",
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf, err := parseAt(at)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rows := a.Engine.Timeline(asOf)
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"User", "Role", "Domains", "Tasks", "Man-days"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.User.Name, r.User.Role, strings.Join(r.Domains, ", "), strings.Join(r.Tasks, ", "), r.TotalManDays})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "date (YYYY-MM-DD) or RFC 3339 time; default now")
	return cmd
}

func dataCmd() *cobra.Command {
	data := &cobra.Command{Use: "data", Short: "Inspect or save the compliance hierarchy"}
	data.AddCommand(dataShowCmd())
	data.AddCommand(dataSaveCmd())
	return data
}

func dataShowCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the hierarchy as it existed at a point in time",
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf, err := parseAt(at)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				doc := projection.At(a.Engine.Data.Snapshot(), asOf)
				if viper.GetBool("json") {
					return printJSON(doc)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Domain", "Task", "Man-days", "Accountable", "Managers", "Task manager"})
				for _, d := range doc.Regulations.Domains {
					h := a.Engine.DomainHolders(d.Name)
					tw.AppendRow(table.Row{d.Name, "", d.ManDayCost, strings.Join(h.Accountable, ", "), strings.Join(h.Managers, ", "), ""})
					for _, t := range d.Tasks {
						tw.AppendRow(table.Row{"", t.Name, t.ManDayCost, "", "", t.TaskManagerID})
					}
				}
				tw.AppendFooter(table.Row{"", "Total", compliance.TotalManDays(doc), "", "", ""})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "date (YYYY-MM-DD) or RFC 3339 time; default now")
	return cmd
}

func dataSaveCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save the current hierarchy, or replace it with a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if file == "" {
					if err := a.Engine.Data.Save(ctx); err != nil {
						return err
					}
					fmt.Println("compliance data saved")
					return nil
				}
				raw, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				var doc domain.ComplianceData
				if err := json.Unmarshal(raw, &doc); err != nil {
					return fmt.Errorf("parse %s: %w", file, err)
				}
				if err := a.Engine.Data.Replace(ctx, doc); err != nil {
					return err
				}
				fmt.Printf("compliance data replaced from %s (%d domains)\n", file, len(doc.Regulations.Domains))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON document to store instead of the current one")
	return cmd
}

func metricsCmd() *cobra.Command {
	m := &cobra.Command{Use: "metrics", Short: "Engine metrics"}
	var file string
	m.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print metrics in the Prometheus text format",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if file != "" {
					return a.Metrics.WriteTextfile(file)
				}
				return a.Metrics.Write(os.Stdout)
			})
		},
	})
	m.PersistentFlags().StringVar(&file, "file", "", "write a node_exporter textfile instead of stdout")
	return m
}
