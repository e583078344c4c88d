package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	polymarket "github.com/GoPolymarket/polymarket-go-sdk"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"
	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Create or derive CLOB API credentials from POLYMARKET_PK",
	RunE:  runKeys,
}

func init() {
	rootCmd.AddCommand(keysCmd)
}

func runKeys(cmd *cobra.Command, _ []string) error {
	pk := strings.TrimSpace(os.Getenv("POLYMARKET_PK"))
	if pk == "" {
		return errors.New("set POLYMARKET_PK to your wallet private key")
	}
	signer, err := auth.NewPrivateKeySigner(pk, 137)
	if err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}

	clobClient := polymarket.NewClient().CLOB.WithAuth(signer, nil)
	resp, err := clobClient.CreateOrDeriveAPIKey(cmd.Context())
	if err != nil {
		return fmt.Errorf("create API key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "=== API credentials ===")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "export POLYMARKET_API_KEY=%q\n", resp.APIKey)
	fmt.Fprintf(out, "export POLYMARKET_API_SECRET=%q\n", resp.Secret)
	fmt.Fprintf(out, "export POLYMARKET_API_PASSPHRASE=%q\n", resp.Passphrase)
	return nil
}
