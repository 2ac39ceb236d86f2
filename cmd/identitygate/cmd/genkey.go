package cmd

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/spf13/cobra"
)

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate an RS256 key pair for JWT signing",
	Long: `Generate a 2048-bit RSA key pair and print it as PEM, for populating
JWT_PRIVATE_KEY and JWT_PUBLIC_KEY when JWT_ALGORITHM=RS256.

Example:
  identitygate genkey > keys.txt
  export JWT_PRIVATE_KEY="$(sed -n '/BEGIN PRIVATE/,/END PRIVATE/p' keys.txt)"
  export JWT_PUBLIC_KEY="$(sed -n '/BEGIN PUBLIC/,/END PUBLIC/p' keys.txt)"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}

		privDER, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return fmt.Errorf("marshal private key: %w", err)
		}
		pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
		if err != nil {
			return fmt.Errorf("marshal public key: %w", err)
		}

		privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
		pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

		fmt.Print(string(privPEM))
		fmt.Print(string(pubPEM))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(genkeyCmd)
}
