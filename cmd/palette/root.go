package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "palette",
	Short: "Palette is a node suggestion engine for diagram editors",
	Long: `Palette fans brainstorming prompts out to multiple streaming LLM
providers in parallel, dedups their answers per tab, and walks users through
stage-based diagram workflows (tree, flow, mind map, ...).`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Provider API keys come from the environment; a local .env is the
	// development convenience path.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML config file")
}
