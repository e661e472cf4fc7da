package main

import (
	"fmt"
	"os"

	"github.com/harunnryd/kokoro/internal/config"
	"github.com/harunnryd/kokoro/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kokoro",
	Short: "Kokoro conversational engine",
	Long:  `Kokoro is a conversational cognitive engine with layered memory, guarded tool execution, and human-in-the-loop forms.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Server.LogLevel)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.kokoro/config.yaml)")
	rootCmd.PersistentFlags().String("chat-config", "", "chat settings file (default is ./chat_config.json)")
	rootCmd.PersistentFlags().String("server.log_level", config.DefaultServerLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Int("server.port", config.DefaultServerPort, "server port")
}
