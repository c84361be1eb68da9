package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"duesync/internal/api"
	"duesync/internal/config"
	"duesync/internal/format"
)

func newStateCmd(cfg *config.Config) *cobra.Command {
	var (
		outputFormat string
		remote       string
		adminToken   string
	)

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show tracked extensions, processed triggers and assigned due dates",
		Long: "Reads tracking state from a running server (--remote) or directly from the\n" +
			"configured sqlite or redis backend.",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := format.ForName(outputFormat)
			if err != nil {
				return err
			}

			if remote != "" {
				client := api.NewClient(remote)
				if adminToken != "" {
					client = client.WithAdminToken(adminToken)
				}
				resp, err := client.State(cmd.Context())
				if err != nil {
					return err
				}
				return formatter.Write(cmd.OutOrStdout(), resp)
			}

			if cfg.State.Backend == config.BackendMemory {
				return fmt.Errorf("state backend is memory; use --remote to query a running server")
			}
			backend, err := openStateBackend(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}
			defer backend.Close()

			snap, err := backend.persister.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load state: %w", err)
			}
			return formatter.Write(cmd.OutOrStdout(), api.StateResponse{
				TrackedSection: cfg.Asana.TrackedSectionID,
				Extensions:     snap.Extensions,
				Processed:      snap.Processed,
				Assignments:    snap.Assignments,
			})
		},
	}

	cmd.Flags().StringVar(&outputFormat, "format", "json", "output format (json or yaml)")
	cmd.Flags().StringVar(&remote, "remote", "", "base URL of a running duesync server")
	cmd.Flags().StringVar(&adminToken, "admin-token", "", "admin token for --remote (default $DUESYNC_ADMIN_TOKEN)")
	return cmd
}
