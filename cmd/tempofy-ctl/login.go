package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiroq/tempofy/internal/config"
	"github.com/tiroq/tempofy/internal/graph"
)

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in to Microsoft Graph for meeting enrichment",
		Long: `Runs the device-code sign-in flow against the Azure AD app configured in
the graph section of the config, then saves the access token so the daemon
can enrich detected calls with calendar subjects and participants.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Graph == nil || cfg.Graph.TenantID == "" || cfg.Graph.ClientID == "" {
		return fmt.Errorf("graph is not configured; add tenant_id and client_id to the graph section of %s/config.json", config.ConfigDir())
	}

	client := graph.New(graph.Config{
		TenantID: cfg.Graph.TenantID,
		ClientID: cfg.Graph.ClientID,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	dc, err := client.BeginDeviceCode(ctx)
	if err != nil {
		return err
	}
	fmt.Println("\n=== Microsoft Sign-In ===")
	fmt.Println(dc.Message)
	fmt.Println("=========================")

	token, err := client.WaitForToken(ctx, dc)
	if err != nil {
		return err
	}

	profile, err := client.Me(ctx)
	if err != nil {
		return fmt.Errorf("token acquired but profile check failed: %w", err)
	}

	cfg.Graph.AccessToken = token
	cfg.Graph.Enabled = true
	if err := config.Save(cfg); err != nil {
		return err
	}

	fmt.Printf("\nSigned in as %s (%s). Restart tempofy-core to enable enrichment.\n",
		profile.DisplayName, profile.Email())
	return nil
}
