// Package cmd provides the CLI commands for the identity and access service.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/identitygate/identitygate/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "identitygate",
	Short: "identitygate - SCIM provisioning, token issuance, and ABAC authorization",
	Long: `identitygate is an identity and access service: it provisions users and
groups over SCIM 2.0, issues and verifies bearer tokens, and evaluates
attribute-based access control policies.

Configuration is environment-variable driven; there is no config file.
See JWT_SECRET, JWT_ALGORITHM, POLICIES_PATH, DB_PATH, CREDENTIALS_PATH,
and ENVIRONMENT. Ambient server/audit/rate-limit settings can be overridden
under the IDENTITYGATE_ prefix, e.g. IDENTITYGATE_SERVER_HTTP_ADDR=:9090.

Commands:
  serve     Start the HTTP server
  genkey    Generate an RS256 key pair for JWT signing
  version   Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(config.InitViper)
}
