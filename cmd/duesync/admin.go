package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"duesync/internal/auth"
	"duesync/internal/config"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands",
	}

	cmd.AddCommand(newAdminTokenCmd())
	return cmd
}

func newAdminTokenCmd() *cobra.Command {
	var (
		fromStdin bool
		save      bool
		global    bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Create an admin token for /v1/state and print its bcrypt hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if fromStdin {
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token from stdin: %w", err)
				}
				token = strings.TrimSpace(line)
			} else {
				generated, err := auth.GenerateToken()
				if err != nil {
					return err
				}
				token = generated
			}

			hash, err := auth.HashToken(token)
			if err != nil {
				return err
			}

			if save {
				path, err := config.ProjectPath()
				if global {
					path, err = config.GlobalPath()
				}
				if err != nil {
					return err
				}
				if err := config.SetKey(path, "admin.token_hash", hash); err != nil {
					return err
				}
			}

			if !fromStdin {
				if err := writePlain("token: %s\n", token); err != nil {
					return err
				}
			}
			return writePlain("token_hash: %s\n", hash)
		},
	}

	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "hash a token read from stdin instead of generating one")
	cmd.Flags().BoolVar(&save, "save", false, "store the hash as admin.token_hash")
	cmd.Flags().BoolVar(&global, "global", false, "with --save, write to the global config")
	return cmd
}
