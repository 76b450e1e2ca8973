// Command fedsign signs and verifies federation requests for partners
// integrating with the gateway.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fedsign",
		Short:         "Sign, verify and send federation requests",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(sendCmd())
	return rootCmd
}

// secretFlag reads --secret, falling back to FEDSIGN_SECRET so secrets stay
// out of shell history.
func secretFlag(cmd *cobra.Command) (string, error) {
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		secret = os.Getenv("FEDSIGN_SECRET")
	}
	if secret == "" {
		return "", fmt.Errorf("a signing secret is required (--secret or FEDSIGN_SECRET)")
	}
	return secret, nil
}
