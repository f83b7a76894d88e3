package commands

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/monitorhub/monitorhub/internal/config"
	"github.com/spf13/cobra"
)

// NewTestCmd creates the test command
func NewTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test authentication configuration",
		Long:  "Test the configured JWKS endpoint by fetching and parsing the key set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if cfg.JWKSURL == "" {
				return fmt.Errorf("JWKS_URL is not configured")
			}

			fmt.Printf("Testing JWKS endpoint: %s\n", cfg.JWKSURL)
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Get(cfg.JWKSURL)
			if err != nil {
				return fmt.Errorf("failed to reach JWKS endpoint: %w", err)
			}
			defer func() {
				if err := resp.Body.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to close response body: %v\n", err)
				}
			}()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("JWKS endpoint returned status: %d", resp.StatusCode)
			}
			fmt.Println("✓ JWKS endpoint is accessible")

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read JWKS response: %w", err)
			}

			keys, err := jwk.Parse(body)
			if err != nil {
				return fmt.Errorf("failed to parse JWKS response: %w", err)
			}
			fmt.Printf("✓ Key set parsed (%d keys)\n", keys.Len())

			if cfg.JWTIssuer != "" {
				fmt.Printf("Expected token issuer: %s\n", cfg.JWTIssuer)
			} else {
				fmt.Println("Warning: JWT_ISSUER is not set, issuer claims will not be checked")
			}

			fmt.Println("\n✓ Authentication configuration test passed")
			return nil
		},
	}

	return cmd
}
