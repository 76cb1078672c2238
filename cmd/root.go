package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deskjarvis/agent/cmd/schema"
	"deskjarvis/agent/cmd/serve"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "deskjarvis-agent",
	Short: "Desktop automation agent kernel",
	Long: `The DeskJarvis agent kernel: plans user instructions with an LLM,
dispatches the steps to local and MCP tool executors, and streams
progress back to the desktop host over stdio.

stdout carries the JSON wire protocol exclusively; logs go to the log
file and stderr.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.deskjarvis/config.json)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.PersistentFlags().String("log-file", "", "log file path (optional)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(serve.ServeCmd)
	rootCmd.AddCommand(schema.SchemaCmd)
}

// initConfig reads in the .env file and environment variables if set.
func initConfig() {
	if err := godotenv.Load(".env"); err == nil {
		// Environment loaded successfully
	} else if err := godotenv.Load("../.env"); err == nil {
		// Environment loaded successfully
	} else {
		fmt.Fprintln(os.Stderr, "No .env file found, using system environment variables")
	}

	if cfgFile != "" {
		viper.Set("config", cfgFile)
	}

	viper.AutomaticEnv()
}
