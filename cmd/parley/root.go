package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parley-dev/parley/internal/config"
)

var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Terminal client for parley agent servers",
	Long: `parley drives conversations with a remote conversational agent over a
long-lived streaming connection. It multiplexes several concurrent
sessions, replays what happened in the background when you switch, and
walks you through structured widget input when the agent asks for it.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().String("config", "", "config file (default ~/.config/parley/config.yaml)")
	rootCmd.PersistentFlags().String("server", "", "agent server base URL")
	rootCmd.PersistentFlags().String("token", "", "bearer token for the agent server")

	_ = viper.BindPFlag("server_url", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "parley"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PARLEY")
	viper.AutomaticEnv()
	config.SetDefaults(viper.GetViper())

	// Config file is optional.
	_ = viper.ReadInConfig()
}

func settings() config.Settings {
	return config.FromViper(viper.GetViper())
}
