package main

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/client"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	serverURL string
	keyPath   string
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scavenger",
		Short: "Scavenger CLI - claim loot and follow your progress",
		Long: `Scavenger talks to the claim server on behalf of one wallet.
Claims and equipment changes are signed locally with the wallet key.

Examples:
  scavenger keygen --out wallet.json
  scavenger locations
  scavenger claim "Freeside Shack" --lat 36.1727 --lng -115.1426
  scavenger player
  scavenger equip gear_1a2b
  scavenger watch`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("SCAVENGER_SERVER", "http://localhost:8080"),
		"Claim server base URL")
	rootCmd.PersistentFlags().StringVar(&keyPath, "key", envOr("SCAVENGER_KEY", "wallet.json"),
		"Path to the wallet key file")

	rootCmd.AddCommand(newKeygenCommand())
	rootCmd.AddCommand(newLocationsCommand())
	rootCmd.AddCommand(newClaimCommand())
	rootCmd.AddCommand(newPlayerCommand())
	rootCmd.AddCommand(newEquipCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// newClient loads the wallet key and binds a client to it
func newClient() (*client.Client, error) {
	key, err := client.LoadKey(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w (create one with: scavenger keygen --out %s)", err, keyPath)
	}
	return client.New(serverURL, key), nil
}

// newReadClient is for commands that only read and may run without a key
func newReadClient() *client.Client {
	if c, err := newClient(); err == nil {
		return c
	}
	key := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	return client.New(serverURL, key)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
