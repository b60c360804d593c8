package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Nyukimin/portalclaw/internal/adapter/config"
	"github.com/Nyukimin/portalclaw/internal/infrastructure/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "portalclaw",
	Short: "Directive-driven tool execution for the CRM portal assistant",
	Long: `portalclaw lets the portal's AI assistant and its users run inline
@directives (file access, container exec, agent and task status) against live
resources, gated by the session's operating mode: chat, hybrid or autonomous.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(resolveConfigPath())
		if err != nil {
			return err
		}

		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Log.Format)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $PORTALCLAW_CONFIG or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(parseCmd)
}

// resolveConfigPath は設定ファイルパスを取得
// 既定の ./config.yaml が存在しなければ環境変数とデフォルト値だけで起動する
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if path := os.Getenv("PORTALCLAW_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml"
	}
	return ""
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
