package cmd

import (
	"bufio"
	"fmt"
	"log"
	"strings"
	"syscall"

	"github.com/mvarley/vendcord/vendcord"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// payloadReader is a function type for reading stock payloads without
// echoing them. It's really only here to make testing easier.
type payloadReader func() ([]byte, error)

var customPayloadReader payloadReader

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and optionally seed initial stock",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("Environment variable VC_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable VC_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}
		// Run database migrations
		db, err := vendcord.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		out := cmd.OutOrStdout()
		reader := bufio.NewReader(cmd.InOrStdin())

		if customPayloadReader == nil {
			customPayloadReader = func() ([]byte, error) {
				return term.ReadPassword(int(syscall.Stdin))
			}
		}

		for {
			fmt.Fprint(out, "Add a stock item? [y/N]: ")
			answer, _ := reader.ReadString('\n')
			if !strings.EqualFold(strings.TrimSpace(answer), "y") {
				break
			}

			fmt.Fprint(out, "Product name: ")
			product, _ := reader.ReadString('\n')
			product = strings.TrimSpace(product)
			if product == "" {
				fmt.Fprintln(out, "Product name can't be empty.")
				continue
			}

			fmt.Fprint(out, "Payload (hidden): ")
			payloadBytes, _ := customPayloadReader()
			fmt.Fprintln(out)
			payload := strings.TrimSpace(string(payloadBytes))
			if payload == "" {
				fmt.Fprintln(out, "Payload can't be empty.")
				continue
			}

			item := &vendcord.StockItem{Product: product, Payload: payload}
			if createErr := db.Create(item).Error; createErr != nil {
				log.Fatalf("Error creating stock item: %v", createErr)
			}
			fmt.Fprintf(out, "Added 1 unit of %q.\n", product)
		}

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(initCmd)
}
