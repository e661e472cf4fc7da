package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/kokoro/cmd/kokoro/runtime"

	"github.com/spf13/cobra"
)

func executeWithRuntime(cmd *cobra.Command, fn func(*runtime.RuntimeComponents) error) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	builder := runtime.NewRuntimeBuilder().
		WithContext(ctx).
		WithConfig(cfg)

	components, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer components.Stop()

	return fn(components)
}
