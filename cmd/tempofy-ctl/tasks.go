package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiroq/tempofy/internal/config"
	"github.com/tiroq/tempofy/internal/jira"
	"github.com/tiroq/tempofy/internal/store"
)

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List recent, custom and Jira tasks to start",
		Args:  cobra.NoArgs,
		RunE:  runTasks,
	}
	cmd.Flags().Bool("jira", false, "Include open Jira tickets (requires jira config)")
	cmd.Flags().Bool("reported", false, "With --jira, list reported instead of assigned tickets")
	cmd.Flags().String("add", "", "Add a custom task and exit")
	cmd.Flags().String("remove", "", "Remove a custom task and exit")
	return cmd
}

func runTasks(cmd *cobra.Command, args []string) error {
	st, err := store.Open(store.DefaultPath())
	if err != nil {
		return err
	}
	defer st.Close()

	if name, _ := cmd.Flags().GetString("add"); name != "" {
		if err := st.AddCustomTask(name); err != nil {
			return err
		}
		fmt.Printf("Added custom task: %s\n", name)
		return nil
	}
	if name, _ := cmd.Flags().GetString("remove"); name != "" {
		if err := st.DeleteCustomTask(name); err != nil {
			return err
		}
		fmt.Printf("Removed custom task: %s\n", name)
		return nil
	}

	recent, err := st.RecentTasks(5)
	if err != nil {
		return err
	}
	fmt.Println("Recent tasks:")
	if len(recent) == 0 {
		fmt.Println("  (none yet)")
	}
	for _, task := range recent {
		fmt.Printf("  %s\n", task)
	}

	custom, err := st.CustomTasks()
	if err != nil {
		return err
	}
	if len(custom) > 0 {
		fmt.Println("\nCustom tasks:")
		for _, task := range custom {
			fmt.Printf("  %s\n", task)
		}
	}

	if withJira, _ := cmd.Flags().GetBool("jira"); withJira {
		if err := printJiraTickets(cmd); err != nil {
			return err
		}
	}
	return nil
}

func printJiraTickets(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Jira == nil || !cfg.Jira.Enabled {
		return fmt.Errorf("jira is not configured; add a jira section to %s/config.json", config.ConfigDir())
	}

	client := jira.New(jira.Config{
		Domain:   cfg.Jira.Domain,
		Email:    cfg.Jira.Email,
		APIToken: cfg.Jira.APIToken,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	reported, _ := cmd.Flags().GetBool("reported")
	var tickets []jira.Ticket
	if reported {
		tickets, err = client.ReportedTickets(ctx)
	} else {
		tickets, err = client.AssignedTickets(ctx)
	}
	if err != nil {
		return err
	}

	if reported {
		fmt.Println("\nReported Jira tickets:")
	} else {
		fmt.Println("\nAssigned Jira tickets:")
	}
	if len(tickets) == 0 {
		fmt.Println("  (none open)")
	}
	for _, t := range tickets {
		line := fmt.Sprintf("  %-12s %-14s %s", t.Key, "["+t.Status+"]", t.Summary)
		if t.Assignee != "" {
			line += fmt.Sprintf(" (assignee: %s)", t.Assignee)
		}
		fmt.Println(line)
	}
	return nil
}
