package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"inferd/internal/config"
)

// newRootCmd builds the CLI. Flags and INFERD_* environment variables
// override values from the config file.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("inferd")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "inferd",
		Short:         "Bounded local LLM inference server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Config file (.yaml, .yml, .json or .toml)")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the model and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	f := serveCmd.Flags()
	f.String("addr", "", "HTTP listen address, e.g. :8080")
	f.String("model-path", "", "GGUF file or directory of *.gguf models")
	f.String("default-model", "", "Model to pick from a model directory, or the server model name")
	f.String("runtime", "", "Model runtime: llama|server")
	f.String("server-url", "", "llama.cpp server base URL for the server runtime")
	f.Int("max-concurrency", 0, "Concurrent generations")
	f.Int("queue-size", 0, "Requests allowed to wait for a slot (0 disables the backlog)")
	f.Duration("timeout", 0, "Wall-clock limit per generation")
	f.String("log-level", "", "Log level: trace|debug|info|warn|error|off")
	f.String("log-format", "", "Log format: json|console")
	f.String("cors-origins", "", "Comma-separated allowed CORS origins (enables CORS)")
	for _, name := range []string{"addr", "model-path", "default-model", "runtime", "server-url",
		"max-concurrency", "queue-size", "timeout", "log-level", "log-format", "cors-origins"} {
		_ = v.BindPFlag(name, f.Lookup(name))
	}

	check := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the resolved configuration and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(v)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: runtime=%s addr=%s model=%s concurrency=%d queue=%d timeout=%s\n",
				cfg.Runtime, cfg.Addr, cfg.ModelPath, cfg.Inference.MaxConcurrency, *cfg.Inference.QueueSize, cfg.Inference.Timeout.Std())
			return nil
		},
	}
	// check-config shares serve's flags.
	check.Flags().AddFlagSet(serveCmd.Flags())

	root.AddCommand(serveCmd, check)
	return root
}

// resolveConfig decodes the config file, overlays flags and environment,
// fills defaults and validates.
func resolveConfig(v *viper.Viper) (config.Config, error) {
	var cfg config.Config
	if path := v.GetString("config"); path != "" {
		var err error
		if cfg, err = config.Decode(path); err != nil {
			return cfg, err
		}
	}
	if v.IsSet("addr") {
		cfg.Addr = v.GetString("addr")
	}
	if v.IsSet("model-path") {
		cfg.ModelPath = v.GetString("model-path")
	}
	if v.IsSet("default-model") {
		cfg.DefaultModel = v.GetString("default-model")
	}
	if v.IsSet("runtime") {
		cfg.Runtime = v.GetString("runtime")
	}
	if v.IsSet("server-url") {
		cfg.ServerURL = v.GetString("server-url")
	}
	if v.IsSet("max-concurrency") {
		cfg.Inference.MaxConcurrency = v.GetInt("max-concurrency")
	}
	if v.IsSet("queue-size") {
		cfg.Inference.QueueSize = config.IntPtr(v.GetInt("queue-size"))
	}
	if v.IsSet("timeout") {
		cfg.Inference.Timeout = config.Duration(v.GetDuration("timeout"))
	}
	if v.IsSet("log-level") {
		cfg.Log.Level = v.GetString("log-level")
	}
	if v.IsSet("log-format") {
		cfg.Log.Format = v.GetString("log-format")
	}
	if v.IsSet("cors-origins") {
		cfg.HTTP.CORSOrigins = splitCSV(v.GetString("cors-origins"))
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
