// internal/api/cli/cobra.go
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	apihttp "github.com/openeeap/haloalign/internal/api/http"
	"github.com/openeeap/haloalign/internal/api/cli/commands"
	"github.com/openeeap/haloalign/internal/observability/logging"
	"github.com/openeeap/haloalign/internal/observability/metrics"
	"github.com/openeeap/haloalign/internal/observability/trace"
	"github.com/openeeap/haloalign/internal/platform/training"
	"github.com/openeeap/haloalign/pkg/config"
	"github.com/openeeap/haloalign/pkg/errors"
	"github.com/openeeap/haloalign/pkg/types"
)

// 版本信息，构建时通过 -ldflags 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// persistentFlagKeys 全局标志与配置键的对应关系
var persistentFlagKeys = map[string]string{
	"rank":       "distributed.rank",
	"world-size": "distributed.world_size",
	"backend":    "distributed.backend",
	"run-id":     "distributed.run_id",
}

// rootOptions 全局标志
type rootOptions struct {
	cfgFile     string
	verbose     bool
	watchConfig bool
}

// NewRootCommand 创建根命令
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "haloalign",
		Short: "HaloAlign - preference alignment trainer",
		Long: `HaloAlign trains a causal language model policy against a frozen reference
with human-aware losses (SFT, KTO and its variants).

It provides:
 - Training with periodic evaluation and checkpointing
 - Evaluation of a checkpoint into a results file
 - Sampling of completions for the eval prompts
 - A status server with progress, health and Prometheus metrics`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default: ./haloalign.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&opts.watchConfig, "watch-config", false, "reload the logging level when the config file changes")
	rootCmd.PersistentFlags().Int("rank", 0, "rank of this process")
	rootCmd.PersistentFlags().Int("world-size", 1, "number of ranks in the process group")
	rootCmd.PersistentFlags().String("backend", "", "process group backend (single, local, redis)")
	rootCmd.PersistentFlags().String("run-id", "", "run identifier shared by every rank")

	run := func(cmd *cobra.Command, mode types.Mode) error {
		return runMode(cmd, opts, mode)
	}
	rootCmd.AddCommand(
		commands.TrainCommand(run),
		commands.EvalCommand(run),
		commands.SampleCommand(run),
		newVersionCmd(),
		newCompletionCmd(),
	)

	rootCmd.SetHelpTemplate(helpTemplate)
	rootCmd.SetUsageTemplate(usageTemplate)
	return rootCmd
}

// Execute 执行 CLI 命令，返回进程退出码
func Execute(ctx context.Context, args []string, stderr io.Writer) int {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderrOrDefault(stderr), "Error: %v\n", err)
		return errors.GetExitCode(err)
	}
	return 0
}

// runMode 加载配置、构建可观测性组件并执行一次运行
func runMode(cmd *cobra.Command, opts *rootOptions, mode types.Mode) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	loader, cfg, err := loadConfig(cmd, opts.cfgFile, opts.watchConfig)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Observability.Logging, opts.verbose)
	if err != nil {
		return errors.ConfigurationError("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	loader.SetLogger(loaderLogger{logger})
	if opts.watchConfig && !opts.verbose {
		watchLogLevel(loader, logger)
	}

	tc := cfg.Observability.Tracing
	tracer, err := trace.NewTracer(trace.TracerConfig{
		ServiceName:    tc.ServiceName,
		ServiceVersion: Version,
		Provider:       tc.Provider,
		Endpoint:       tc.Endpoint,
		SamplingRate:   tc.SamplingRate,
	})
	if err != nil {
		return errors.InfrastructureError("tracer", err)
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	collector := metrics.NewMetricsCollector(metrics.CollectorConfig{
		Namespace:            cfg.Observability.Metrics.Namespace,
		EnableGoMetrics:      true,
		EnableProcessMetrics: true,
	})

	svc, err := training.NewTrainingService(cfg, training.Dependencies{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: collector,
	})
	if err != nil {
		return err
	}

	if cfg.Server.Enabled && cfg.Distributed.Rank == 0 {
		srv := apihttp.NewServer(cfg.Server.Address(), apihttp.NewRouter(apihttp.RouterOptions{
			Server:            cfg.Server,
			MetricsPath:       cfg.Observability.Metrics.Path,
			RunName:           cfg.Run.Name,
			RunID:             cfg.Distributed.RunID,
			Version:           Version,
			ProgressRateLimit: cfg.Server.ProgressRateLimit,
			Progress:          svc,
			Metrics:           collector,
			Logger:            logger,
			Tracer:            tracer,
		}), cfg.Server.ShutdownTimeout, logger)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}

	if err := svc.Run(ctx, mode); err != nil {
		logger.Error("run failed",
			logging.String("mode", string(mode)),
			logging.String("code", errors.GetCode(err)),
			logging.Error(err))
		return err
	}
	logger.Info("run finished", logging.String("mode", string(mode)), logging.String("run_dir", cfg.Run.RunDir))
	return nil
}

// loadConfig 合并配置文件、HALO_ 环境变量与命令行标志
func loadConfig(cmd *cobra.Command, cfgFile string, watch bool) (*config.Loader, *config.Config, error) {
	flags := make(map[string]*pflag.Flag)
	for name, key := range persistentFlagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			flags[key] = f
		}
	}
	for name, key := range commands.FlagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			flags[key] = f
		}
	}

	loader, err := config.NewLoader(config.LoaderOptions{ConfigFile: cfgFile, EnableWatch: watch, Flags: flags})
	if err != nil {
		return nil, nil, errors.ConfigurationError("%v", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, nil, err
		}
		return nil, nil, errors.ConfigurationError("%v", err)
	}
	return loader, cfg, nil
}

// watchLogLevel 配置文件变更后应用新的日志级别，其余配置项在运行中保持不变
func watchLogLevel(loader *config.Loader, logger *logging.ZapLogger) {
	loader.OnReload(func(oldConfig, newConfig *config.Config) error {
		level := newConfig.Observability.Logging.Level
		if level == oldConfig.Observability.Logging.Level {
			return nil
		}
		logger.SetLevel(level)
		logger.Info("log level changed", logging.String("level", logger.Level()))
		return nil
	})
}

// loaderLogger 把加载器的键值对日志转给结构化日志
type loaderLogger struct {
	logger logging.Logger
}

func (l loaderLogger) Info(msg string, kv ...interface{})  { l.logger.Info(msg, kvFields(kv)...) }
func (l loaderLogger) Warn(msg string, kv ...interface{})  { l.logger.Warn(msg, kvFields(kv)...) }
func (l loaderLogger) Error(msg string, kv ...interface{}) { l.logger.Error(msg, kvFields(kv)...) }

func kvFields(kv []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logging.String(fmt.Sprint(kv[i]), fmt.Sprint(kv[i+1])))
	}
	return fields
}

// newLogger 按日志配置创建 zap 日志，file 输出经 lumberjack 轮转
func newLogger(lc config.LoggingConfig, verbose bool) (*logging.ZapLogger, error) {
	level := lc.Level
	if verbose {
		level = "debug"
	}
	return logging.NewZapLogger(logging.LogConfig{
		Level:        level,
		Format:       lc.Format,
		Output:       lc.Output,
		FilePath:     lc.FilePath,
		MaxSize:      lc.MaxSize,
		MaxBackups:   lc.MaxBackups,
		MaxAge:       lc.MaxAge,
		Compress:     lc.Compress,
		Development:  lc.Development,
		EnableCaller: lc.Development,
	})
}

// newVersionCmd 创建 version 命令
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "HaloAlign Version: %s\n", Version)
			fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
			fmt.Fprintf(out, "Go Version: %s\n", strings.TrimPrefix(runtime.Version(), "go"))
		},
	}
}

// newCompletionCmd 创建 completion 命令
func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `To load completions:

Bash:
 $ source <(haloalign completion bash)

Zsh:
 $ haloalign completion zsh > "${fpath[1]}/_haloalign"

Fish:
 $ haloalign completion fish | source

PowerShell:
 PS> haloalign completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			default:
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
		},
	}
}

// stderrOrDefault 未指定输出时使用标准错误
func stderrOrDefault(w io.Writer) io.Writer {
	if w == nil {
		return os.Stderr
	}
	return w
}

// helpTemplate 自定义帮助模板
const helpTemplate = `{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}{{if or .Runnable .HasSubCommands}}{{.UsageString}}{{end}}`

// usageTemplate 自定义用法模板
const usageTemplate = `Usage:{{if .Runnable}}
 {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
 {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
 {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
 {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}

Use "{{.CommandPath}} [command] --help" for more information about a command.
`

//Personal.AI order the ending
