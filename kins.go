package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/koinu-labs/kins/inscription"
	"github.com/koinu-labs/kins/inscription/server"
)

var rootCmd = &cobra.Command{
	Use:   "kins",
	Short: "kins inscription protocol, include inscribe, resume and marketplace server tools.",
}

func init() {
	rootCmd.AddCommand(inscription.Cmd)
	rootCmd.AddCommand(inscription.ResumeCmd)
	rootCmd.AddCommand(server.Cmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
