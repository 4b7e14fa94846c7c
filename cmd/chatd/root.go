package main

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"chatd/internal/config"
)

// options holds flags shared by every subcommand.
type options struct {
	configPath string
	envFile    string
	logLevel   string
	addr       string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "chatd",
		Short:         "Chat completion server for recurrent language models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env only fills variables the environment does not already set.
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if !cmd.Flags().Changed("config") {
				opts.configPath = envStr("CHATD_CONFIG", opts.configPath)
			}
			if !cmd.Flags().Changed("log-level") {
				opts.logLevel = envStr("CHATD_LOG_LEVEL", opts.logLevel)
			}
			if !cmd.Flags().Changed("addr") {
				opts.addr = envStr("CHATD_ADDR", opts.addr)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "chatd.toml", "Config file (.toml, .yaml, .json); env CHATD_CONFIG")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: trace|debug|info|warn|error|off; env CHATD_LOG_LEVEL")
	root.PersistentFlags().StringVar(&opts.addr, "addr", "", "HTTP listen address, overrides the config; env CHATD_ADDR")

	root.AddCommand(newServeCmd(opts), newModelsCmd(opts), newVersionCmd())
	return root
}

// loadConfig reads the config file and applies flag and environment overrides.
func (o *options) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.addr != "" {
		cfg.Addr = o.addr
	}
	if v := splitCSV(os.Getenv("CHATD_CORS_ORIGINS")); len(v) > 0 {
		cfg.CORSEnabled = true
		cfg.CORSOrigins = v
	}
	return cfg, cfg.Validate()
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// splitCSV splits a comma separated list, dropping empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
