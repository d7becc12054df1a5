// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shopscope/internal/config"
	"github.com/xkilldash9x/shopscope/internal/observability"
)

// envPrefix namespaces every environment override, e.g. SHOPSCOPE_EVALUATION_SHEET.
const envPrefix = "SHOPSCOPE"

// appState carries what PersistentPreRunE resolves to the subcommands.
type appState struct {
	cfgFile string
	cfg     *config.Config
}

// NewRootCommand builds a fresh command tree. Each call has its own flag and
// config state.
func NewRootCommand() *cobra.Command {
	state := &appState{}

	rootCmd := &cobra.Command{
		Use:           "shopscope",
		Short:         "ShopScope evaluates e-commerce sites against a scoring framework with a vision model driving a browser.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(v, state.cfgFile); err != nil {
				// Config is unusable, so fall back to a plain console logger.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "shopscope"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "shopscope"})
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			state.cfg = cfg

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting ShopScope", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&state.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newEvaluateCmd(state))
	rootCmd.AddCommand(newConfigCmd(state))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command tree with ctx, which main ties to SIGINT and SIGTERM.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	err := NewRootCommand().ExecuteContext(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	if logger := observability.GetLogger(); logger != nil {
		logger.Error("Command execution failed", zap.Error(err))
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return err
}

// initializeConfig reads the config file, if any, and wires environment overrides.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment apply.
	}
	return nil
}
