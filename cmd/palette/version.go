package main

import (
	"fmt"

	"github.com/spf13/cobra"

	palette "github.com/mindspring/palette"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of palette",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("palette version %s\n", palette.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
