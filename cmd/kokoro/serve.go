package main

import (
	"fmt"

	"github.com/harunnryd/kokoro/cmd/kokoro/runtime"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Kokoro server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeWithRuntime(cmd, func(r *runtime.RuntimeComponents) error {
			if err := r.Start(); err != nil {
				return fmt.Errorf("failed to start runtime components: %w", err)
			}

			handler := NewSignalHandler(r.Ctx)
			handler.Start()
			defer handler.Stop()

			<-handler.Context().Done()
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
