// Package cli 实现 keyctl 命令行工具：直接操作持久化存储和缓存管理 API Key。
package cli

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var verbose bool

// Execute 构建命令树并执行
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return newRootCmd(version).ExecuteContext(ctx)
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyctl",
		Short: "Manage keyguard API keys",
		Long: `keyctl talks to the same durable store and fast cache as the keyguard server.

Configuration is read from KEYGUARD_* environment variables and an optional .env file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newTokenCmd())

	return cmd
}
