package cmd

import (
	"log"

	"github.com/mvarley/vendcord/vendcord"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the VendCord bot and (optionally) the status API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := vendcord.New(cfg)
		if err != nil {
			log.Fatalf("error creating vendcord: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running vendcord: %s", err.Error())
		}
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
