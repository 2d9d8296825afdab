// Package cli builds the standard command-line surface for services
// embedding the store. Consumers call NewStoreCommand with their
// service metadata and get version, config, healthcheck, get and put
// subcommands wired to the configured storage backend.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nodekv/nodekv/pkg/config"
	"github.com/nodekv/nodekv/pkg/engine"
	"github.com/nodekv/nodekv/pkg/health"
	"github.com/nodekv/nodekv/pkg/observability/logger"
	"github.com/nodekv/nodekv/pkg/observability/tracing"
	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage/factory"
	"github.com/nodekv/nodekv/pkg/version"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// StoreCommandOptions defines callbacks for service-specific logic.
type StoreCommandOptions struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Optional: custom config validation (runs after the built-in validation)
	ValidateConfig func(cfg *config.Config) error

	// Optional: additional custom commands
	CustomCommands []*cobra.Command
}

// NewStoreCommand creates a standardized CLI with version, config,
// healthcheck, get and put subcommands.
func NewStoreCommand(opts StoreCommandOptions) *cobra.Command {
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "NODEKV"
	}

	rootCmd := &cobra.Command{
		Use:   opts.Name,
		Short: opts.Description,
	}

	var cfgPath string
	var secretFilePath string
	var envFilePath string
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&secretFilePath, "secret-file", "", "path to secrets file (sets "+resolveEnvPrefix(opts.EnvPrefix)+"_SECRETS_FILE)")
	rootCmd.PersistentFlags().StringVar(&envFilePath, "env-file", "", "load environment variables from this file before reading config")

	loadConfig := func() (*config.Config, logger.Logger, error) {
		return LoadConfigAndLogger(cfgPath, opts.EnvPrefix, secretFilePath, envFilePath, opts.ValidateConfig, opts.Name)
	}

	// version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(opts.Name)
			fmt.Printf("Service:    %s\n", info.Service)
			fmt.Printf("Version:    %s\n", info.Version)
			fmt.Printf("Commit:     %s\n", info.Commit)
			fmt.Printf("Build Time: %s\n", info.BuildTime)
		},
	})

	// config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	loadWithSecrets := func() (*config.Config, *config.Config, error) {
		if err := applyEnvFileFlag(envFilePath); err != nil {
			return nil, nil, err
		}
		if err := applySecretFileFlag(opts.EnvPrefix, secretFilePath); err != nil {
			return nil, nil, err
		}
		cfg, secrets, err := config.NewViperLoader(cfgPath, opts.EnvPrefix).
			WithServiceNameDefault(opts.Name).
			LoadWithSecrets()
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		if opts.ValidateConfig != nil {
			if err := opts.ValidateConfig(cfg); err != nil {
				return nil, nil, fmt.Errorf("custom validation failed: %w", err)
			}
		}
		return cfg, secrets, nil
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := loadWithSecrets(); err != nil {
				return err
			}
			fmt.Println("✓ Configuration is valid")
			return nil
		},
	})

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, secrets, err := loadWithSecrets()
			if err != nil {
				return err
			}
			if showSecrets {
				fmt.Print(cfg.String())
				return nil
			}
			fmt.Print(cfg.Redacted(secrets))
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	configCmd.AddCommand(showCmd)
	rootCmd.AddCommand(configCmd)

	// healthcheck command
	var healthTimeout time.Duration
	healthCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to the configured storage backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
			defer cancel()

			adapter, err := factory.NewStorageAdapter(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("create storage adapter: %w", err)
			}
			if err := adapter.Connect(ctx); err != nil {
				return fmt.Errorf("connect to %s backend: %w", cfg.Storage.Type, err)
			}
			defer func() {
				if err := adapter.Close(); err != nil {
					log.Warn("storage close failed", "error", err)
				}
			}()

			registry := health.NewRegistry()
			registry.Register(health.NewStorageChecker(cfg.Storage.Type, adapter))

			result := registry.Check(ctx)
			for _, check := range result.Checks {
				mark := "✓"
				if check.Status != health.StatusHealthy {
					mark = "✗"
				}
				line := fmt.Sprintf("%s %s: %s", mark, check.Name, check.Status)
				if check.Error != "" {
					line += " (" + check.Error + ")"
				}
				fmt.Println(line)
			}
			if !result.IsHealthy() {
				return fmt.Errorf("storage backend %s is unhealthy", cfg.Storage.Type)
			}
			return nil
		},
	}
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 10*time.Second, "overall timeout for connect and probe")
	rootCmd.AddCommand(healthCmd)

	// get command
	var getStream bool
	var getOutput string
	getCmd := &cobra.Command{
		Use:   "get KEY [FIELD]",
		Short: "Read a node, or a single field, from the store",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(getOutput); err != nil {
				return err
			}
			if getStream && len(args) == 2 {
				return fmt.Errorf("--stream reads the whole node; drop the FIELD argument")
			}

			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			eng, cleanup, err := openEngine(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			switch {
			case getStream:
				return streamNode(cmd.Context(), eng, args[0], getOutput)
			case len(args) == 2:
				rec, err := eng.Field(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printRecord(rec, getOutput)
			default:
				node, err := eng.Node(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printNode(node, getOutput)
			}
		},
	}
	getCmd.Flags().BoolVar(&getStream, "stream", false, "stream records as the backend yields them")
	getCmd.Flags().StringVarP(&getOutput, "output", "o", outputText, "output format (text, json, yaml)")
	rootCmd.AddCommand(getCmd)

	// put command
	var putRel bool
	putCmd := &cobra.Command{
		Use:   "put KEY FIELD VALUE",
		Short: "Write a single field of a node",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			eng, cleanup, err := openEngine(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			var value any = args[2]
			if putRel {
				value = engine.Ref(args[2])
			}
			if err := eng.Write(cmd.Context(), args[0], map[string]any{args[1]: value}); err != nil {
				return err
			}
			fmt.Printf("wrote %s.%s\n", args[0], args[1])
			return nil
		},
	}
	putCmd.Flags().BoolVar(&putRel, "rel", false, "treat VALUE as a relationship target key")
	rootCmd.AddCommand(putCmd)

	// Add custom service-specific commands
	for _, customCmd := range opts.CustomCommands {
		rootCmd.AddCommand(customCmd)
	}

	return rootCmd
}

// LoadConfigAndLogger resolves configuration from flags, environment and
// files, then builds the logger the resolved observability settings ask
// for.
func LoadConfigAndLogger(
	cfgPath,
	envPrefix,
	secretFilePath,
	envFilePath string,
	customValidator func(*config.Config) error,
	defaultServiceName string,
) (*config.Config, logger.Logger, error) {
	if envPrefix == "" {
		envPrefix = "NODEKV"
	}
	if err := applyEnvFileFlag(envFilePath); err != nil {
		return nil, nil, err
	}
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, err
	}

	cfg, err := config.NewViperLoader(cfgPath, envPrefix).
		WithServiceNameDefault(defaultServiceName).
		Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	// Built-in validation already ran in Load().
	if customValidator != nil {
		if err := customValidator(cfg); err != nil {
			return nil, nil, fmt.Errorf("custom validation failed: %w", err)
		}
	}

	logCfg := logger.Config{
		Level:  logger.LogLevel(cfg.Observability.LogLevel),
		Format: logger.LogFormat(cfg.Observability.LogFormat),
	}
	log, err := logger.NewZapLogger(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	log = logger.WrapAsync(log, logger.AsyncConfig{
		Enabled:      cfg.Observability.AsyncLogging.Enabled,
		QueueSize:    cfg.Observability.AsyncLogging.QueueSize,
		WorkerCount:  cfg.Observability.AsyncLogging.WorkerCount,
		DropWhenFull: cfg.Observability.AsyncLogging.DropWhenFull,
	})

	logConfigIfDebug(log, cfg)
	return cfg, log, nil
}

// Execute runs the command and exits with appropriate code.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openEngine(ctx context.Context, cfg *config.Config, log logger.Logger) (*engine.Engine, func(), error) {
	tp, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version.Current(cfg.Service.Name).Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create tracer provider: %w", err)
	}

	adapter, err := factory.NewStorageAdapter(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("create storage adapter: %w", err)
	}

	eng := engine.New(log)
	if err := eng.Register(ctx, adapter); err != nil {
		return nil, nil, fmt.Errorf("register storage adapter: %w", err)
	}
	cleanup := func() {
		if err := eng.Close(); err != nil {
			log.Warn("engine close failed", "error", err)
		}
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}
	return eng, cleanup, nil
}

// recordView is the wire shape for json and yaml output.
type recordView struct {
	Key   string  `json:"key" yaml:"key"`
	Field string  `json:"field" yaml:"field"`
	Val   *string `json:"val,omitempty" yaml:"val,omitempty"`
	Rel   *string `json:"rel,omitempty" yaml:"rel,omitempty"`
	State int64   `json:"state" yaml:"state"`
}

type nodeView struct {
	Key    string                `json:"key" yaml:"key"`
	Fields map[string]recordView `json:"fields" yaml:"fields"`
}

func viewOf(rec record.Record) recordView {
	return recordView{
		Key:   rec.Key,
		Field: rec.Field,
		Val:   rec.Val,
		Rel:   rec.Rel,
		State: rec.State,
	}
}

func printNode(node engine.Node, format string) error {
	if format != outputText {
		view := nodeView{Key: node.Key, Fields: make(map[string]recordView, len(node.Fields))}
		for name, rec := range node.Fields {
			view.Fields[name] = viewOf(rec)
		}
		return renderStructured(format, view)
	}

	fmt.Println(node.Key)
	names := make([]string, 0, len(node.Fields))
	for name := range node.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Println(recordLine(node.Fields[name]))
	}
	return nil
}

func printRecord(rec record.Record, format string) error {
	if format != outputText {
		return renderStructured(format, viewOf(rec))
	}
	if rec.HasRel() {
		fmt.Println(rec.RelOrEmpty())
		return nil
	}
	fmt.Println(rec.ValOrEmpty())
	return nil
}

func streamNode(ctx context.Context, eng *engine.Engine, key, format string) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(os.Stdout)
		return eng.Each(ctx, key, func(rec record.Record) error {
			return enc.Encode(viewOf(rec))
		})
	case outputYAML:
		return eng.Each(ctx, key, func(rec record.Record) error {
			data, err := yaml.Marshal(viewOf(rec))
			if err != nil {
				return err
			}
			fmt.Print("---\n" + string(data))
			return nil
		})
	default:
		return eng.Each(ctx, key, func(rec record.Record) error {
			fmt.Println(recordLine(rec))
			return nil
		})
	}
}

func recordLine(rec record.Record) string {
	if rec.HasRel() {
		return fmt.Sprintf("  %s -> %s", rec.Field, rec.RelOrEmpty())
	}
	return fmt.Sprintf("  %s = %s", rec.Field, rec.ValOrEmpty())
}

func renderStructured(format string, v any) error {
	switch format {
	case outputJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		fmt.Println(string(data))
		return nil
	case outputYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		fmt.Print(string(data))
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func validateOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unsupported output format %q (valid: text, json, yaml)", format)
}

func applyEnvFileFlag(envFilePath string) error {
	if envFilePath == "" {
		return nil
	}
	if err := godotenv.Load(envFilePath); err != nil {
		return fmt.Errorf("env file %s could not be loaded: %w", envFilePath, err)
	}
	return nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return "NODEKV"
	}
	return strings.ToUpper(trimmed)
}

func logConfigIfDebug(log logger.Logger, cfg *config.Config) {
	if log == nil || cfg == nil {
		return
	}

	if !strings.EqualFold(cfg.Observability.LogLevel, string(logger.DebugLevel)) {
		return
	}

	log.Debug("effective configuration", "config", fmt.Sprintf("%+v", cfg))
}
