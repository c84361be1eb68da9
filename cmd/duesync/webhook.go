package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"duesync/internal/config"
	"duesync/internal/server"
)

func newWebhookCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage webhook subscriptions on the task service",
	}

	cmd.AddCommand(newWebhookCreateCmd(cfg, jsonOutput))
	cmd.AddCommand(newWebhookListCmd(cfg, jsonOutput))
	cmd.AddCommand(newWebhookDeleteCmd(cfg))
	return cmd
}

func newWebhookCreateCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var target, resource string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Subscribe this server to events of the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				target = cfg.Webhook.TargetURL
			}
			if resource == "" {
				resource = cfg.Asana.ProjectID
			}
			if strings.TrimSpace(target) == "" {
				return fmt.Errorf("--target is required (or set webhook.target_url)")
			}
			if strings.TrimSpace(resource) == "" {
				return fmt.Errorf("--resource is required (or set asana.project_id)")
			}
			if cfg.Asana.Token == "" {
				return fmt.Errorf("asana.token is not configured")
			}

			if err := resetWebhookSecret(cmd.Context(), cfg); err != nil {
				return err
			}

			client := newAsanaClient(cfg, slog.Default())
			hook, err := client.CreateWebhook(cmd.Context(), resource, target)
			if err != nil {
				return fmt.Errorf("create webhook: %w", err)
			}
			if *jsonOutput {
				return writeJSON(hook)
			}
			return writePlain("created webhook %s for %s -> %s\n", hook.GID, resource, hook.Target)
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "public URL of the /webhook endpoint")
	cmd.Flags().StringVar(&resource, "resource", "", "resource gid to watch (default asana.project_id)")
	return cmd
}

// resetWebhookSecret clears the stored handshake secret so a running server
// accepts the handshake of the new subscription.
func resetWebhookSecret(ctx context.Context, cfg *config.Config) error {
	if cfg.State.Backend == config.BackendMemory || cfg.State.Backend == "" {
		slog.Warn("memory backend keeps the handshake secret in the running server; restart it before re-registering")
		return nil
	}
	backend, err := openStateBackend(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer backend.Close()
	if err := server.ResetSecret(ctx, backend.secrets); err != nil {
		return fmt.Errorf("reset webhook secret: %w", err)
	}
	return nil
}

func newWebhookListCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var workspace, resource string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List webhook subscriptions in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" {
				workspace = cfg.Asana.WorkspaceID
			}
			if strings.TrimSpace(workspace) == "" {
				return fmt.Errorf("--workspace is required (or set asana.workspace_id)")
			}

			client := newAsanaClient(cfg, slog.Default())
			hooks, err := client.ListWebhooks(cmd.Context(), workspace, resource)
			if err != nil {
				return fmt.Errorf("list webhooks: %w", err)
			}
			if *jsonOutput {
				return writeJSON(hooks)
			}
			if len(hooks) == 0 {
				return writePlain("no webhooks\n")
			}
			for _, hook := range hooks {
				state := "inactive"
				if hook.Active {
					state = "active"
				}
				if err := writePlain("%s [%s] %s -> %s\n", hook.GID, state, hook.Resource.GID, hook.Target); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace gid (default asana.workspace_id)")
	cmd.Flags().StringVar(&resource, "resource", "", "only list webhooks on this resource")
	return cmd
}

func newWebhookDeleteCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <webhook-gid>",
		Short: "Remove a webhook subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAsanaClient(cfg, slog.Default())
			if err := client.DeleteWebhook(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete webhook: %w", err)
			}
			return writePlain("deleted webhook %s\n", args[0])
		},
	}
}
