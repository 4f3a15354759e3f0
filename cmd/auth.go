package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxresponder/internal/google"
)

func newAuthCmd() *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to the Gmail account",
		Long: `Run the OAuth consent flow for the Gmail account to be monitored.

The command prints a consent URL. Open it, grant access and paste the
authorization code back (or pass it with --code). The resulting token is
stored in the token file and refreshed automatically by later runs.

The client secret file (--credentials) is the OAuth client JSON downloaded
from the Google Cloud console.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			authorizer, err := google.NewAuthorizer(cfg.Google.CredentialsFile, cfg.Google.TokenFile, logger, nil)
			if err != nil {
				return err
			}

			if code == "" {
				state, err := google.NewState()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Open the following URL in your browser and grant access:\n\n%s\n\n", authorizer.AuthCodeURL(state))
				fmt.Fprint(out, "Enter the authorization code: ")

				code, err = readLine(cmd)
				if err != nil {
					return err
				}
			}

			if err := authorizer.Exchange(cmd.Context(), code); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token stored in %s\n", authorizer.TokenFile())
			return nil
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "Authorization code, skips the interactive prompt")
	return cmd
}

func readLine(cmd *cobra.Command) (string, error) {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read authorization code: %w", err)
		}
		return "", errors.New("no authorization code entered")
	}
	line := strings.TrimSpace(scanner.Text())
	if line == "" {
		return "", errors.New("no authorization code entered")
	}
	return line, nil
}
