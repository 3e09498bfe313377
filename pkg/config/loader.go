// Package config provides configuration loading and management for HALOAlign.
// It supports loading from YAML files, HALO_-prefixed environment variables
// and bound command-line flags, with hot reload using Viper.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ============================================================================
// Configuration Loader
// ============================================================================

// Loader manages configuration loading and reloading
type Loader struct {
	viper *viper.Viper

	config *Config
	mu     sync.RWMutex

	configFile   string
	watchEnabled bool

	reloadCallbacks []ReloadCallback

	logger Logger
}

// ReloadCallback is called when configuration is reloaded
type ReloadCallback func(oldConfig, newConfig *Config) error

// Logger interface for configuration loader logging
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// LoaderOptions defines options for configuration loader
type LoaderOptions struct {
	// Configuration file path
	ConfigFile string

	// Configuration file type (yaml, json, toml)
	ConfigType string

	// Enable watching for file changes
	EnableWatch bool

	// Environment variable prefix
	EnvPrefix string

	// Additional config paths to search
	ConfigPaths []string

	// Flags bound by their config key, e.g. "distributed.rank" -> --rank
	Flags map[string]*pflag.Flag
}

// DefaultEnvPrefix prefixes every environment override (HALO_MODEL_BATCH_SIZE)
const DefaultEnvPrefix = "HALO"

// ============================================================================
// Loader Creation and Initialization
// ============================================================================

// NewLoader creates a new configuration loader
func NewLoader(opts LoaderOptions) (*Loader, error) {
	v := viper.New()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		configType := opts.ConfigType
		if configType == "" {
			configType = "yaml"
		}
		v.SetConfigName("haloalign")
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/haloalign")
		for _, path := range opts.ConfigPaths {
			v.AddConfigPath(path)
		}
	}

	envPrefix := opts.EnvPrefix
	if envPrefix == "" {
		envPrefix = DefaultEnvPrefix
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for key, flag := range opts.Flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
		}
	}

	return &Loader{
		viper:        v,
		configFile:   opts.ConfigFile,
		watchEnabled: opts.EnableWatch,
	}, nil
}

// Load loads configuration from all sources
func (l *Loader) Load() (*Config, error) {
	if err := l.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && l.configFile == "" {
			l.logWarn("Configuration file not found, using defaults", "error", err)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config, err := l.decode()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.config = config
	l.mu.Unlock()

	l.logInfo("Configuration loaded successfully", "file", l.viper.ConfigFileUsed())

	if l.watchEnabled {
		l.startWatch()
	}

	return config, nil
}

func (l *Loader) decode() (*Config, error) {
	config := &Config{}
	if err := l.viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDerivedDefaults(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// Get returns the current configuration
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// ============================================================================
// Configuration Defaults
// ============================================================================

// setDefaults registers every key so that environment overrides apply even
// when the file omits the key.
func setDefaults(v *viper.Viper) {
	// Run defaults
	v.SetDefault("run.name", "haloalign")
	v.SetDefault("run.seed", 0)
	v.SetDefault("run.run_dir", "./runs/haloalign")
	v.SetDefault("run.debug", false)
	v.SetDefault("run.mode", "train")
	v.SetDefault("run.n_samples", 0)
	v.SetDefault("run.top_p", 0.95)
	v.SetDefault("run.resume_from", "")

	// Trainer defaults
	v.SetDefault("trainer.eval_every", 20000)
	v.SetDefault("trainer.do_first_eval", true)
	v.SetDefault("trainer.minimum_log_interval_secs", 1.0)
	v.SetDefault("trainer.intermediate_checkpoints", false)
	v.SetDefault("trainer.optimizer", "RMSprop")
	v.SetDefault("trainer.lr", 5e-7)
	v.SetDefault("trainer.warmup_steps", 150)
	v.SetDefault("trainer.save_model_only", true)
	v.SetDefault("trainer.epochs", 1)

	// Model defaults
	v.SetDefault("model.name_or_path", "tiny-lm")
	v.SetDefault("model.block_name", "TinyBlock")
	v.SetDefault("model.policy_dtype", "float32")
	v.SetDefault("model.fsdp_policy_mp", "")
	v.SetDefault("model.sharded", false)
	v.SetDefault("model.activation_checkpointing", false)
	v.SetDefault("model.min_num_params", 100)
	v.SetDefault("model.batch_size", 32)
	v.SetDefault("model.eval_batch_size", 16)
	v.SetDefault("model.gradient_accumulation_steps", 1)
	v.SetDefault("model.max_grad_norm", 10.0)
	v.SetDefault("model.max_length", 64)
	v.SetDefault("model.vocab_size", 64)
	v.SetDefault("model.hidden_size", 16)
	v.SetDefault("model.num_blocks", 2)
	v.SetDefault("model.value_head", false)

	// Loss defaults
	v.SetDefault("loss.name", "kto")
	v.SetDefault("loss.beta", 0.1)
	v.SetDefault("loss.desirable_weight", 1.0)
	v.SetDefault("loss.undesirable_weight", 1.0)
	v.SetDefault("loss.average_log_prob", false)

	// Data defaults
	v.SetDefault("data.train_file", "")
	v.SetDefault("data.eval_file", "")
	v.SetDefault("data.num_examples", 256)
	v.SetDefault("data.num_eval_examples", 64)
	v.SetDefault("data.prompt_length", 8)
	v.SetDefault("data.target_length", 8)
	v.SetDefault("data.rejected_fraction", 0.5)
	v.SetDefault("data.max_prompt_length", 0)
	v.SetDefault("data.shuffle", true)

	// Distributed defaults
	v.SetDefault("distributed.backend", "single")
	v.SetDefault("distributed.world_size", 1)
	v.SetDefault("distributed.rank", 0)
	v.SetDefault("distributed.run_id", "")
	v.SetDefault("distributed.poll_interval", 5*time.Millisecond)
	v.SetDefault("distributed.op_timeout", 5*time.Minute)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.key_prefix", "haloalign")
	v.SetDefault("redis.key_ttl", 10*time.Minute)

	// MinIO defaults
	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.region", "us-east-1")
	v.SetDefault("minio.bucket", "checkpoints")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client_id", "haloalign")
	v.SetDefault("kafka.topic", "training.metrics")
	v.SetDefault("kafka.required_acks", 1)
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.dial_timeout", 10*time.Second)

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.output", "stdout")
	v.SetDefault("observability.logging.file_path", "")
	v.SetDefault("observability.logging.max_size", 100)
	v.SetDefault("observability.logging.max_backups", 3)
	v.SetDefault("observability.logging.max_age", 7)
	v.SetDefault("observability.logging.compress", true)
	v.SetDefault("observability.logging.development", false)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.namespace", "haloalign")
	v.SetDefault("observability.metrics.path", "/metrics")
	v.SetDefault("observability.tracing.provider", "none")
	v.SetDefault("observability.tracing.endpoint", "")
	v.SetDefault("observability.tracing.sampling_rate", 0.1)
	v.SetDefault("observability.tracing.service_name", "haloalign")

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.enable_pprof", false)
	v.SetDefault("server.progress_rate_limit", 20)
	v.SetDefault("server.cors_allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
}

// applyDerivedDefaults fills values that depend on other settings
func applyDerivedDefaults(config *Config) {
	if config.Model.EvalBatchSize == 0 {
		config.Model.EvalBatchSize = config.Model.BatchSize
	}
	if config.Distributed.Backend == "local" && config.Distributed.WorldSize == 1 {
		config.Distributed.Backend = "single"
	}
}

// ============================================================================
// Hot Reload Support
// ============================================================================

func (l *Loader) startWatch() {
	l.viper.OnConfigChange(func(e fsnotify.Event) {
		l.logInfo("Configuration file changed, reloading", "file", e.Name)

		if err := l.reload(); err != nil {
			l.logError("Failed to reload configuration", "error", err)
		}
	})
	l.viper.WatchConfig()
}

func (l *Loader) reload() error {
	l.mu.RLock()
	oldConfig := l.config
	callbacks := append([]ReloadCallback(nil), l.reloadCallbacks...)
	l.mu.RUnlock()

	newConfig, err := l.decode()
	if err != nil {
		return err
	}

	for _, callback := range callbacks {
		if err := callback(oldConfig, newConfig); err != nil {
			return fmt.Errorf("reload callback failed: %w", err)
		}
	}

	l.mu.Lock()
	l.config = newConfig
	l.mu.Unlock()

	l.logInfo("Configuration reloaded successfully")

	return nil
}

// OnReload registers a callback to be called when configuration is reloaded.
// Callbacks may be registered after Load has started the watch.
func (l *Loader) OnReload(callback ReloadCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reloadCallbacks = append(l.reloadCallbacks, callback)
}

// ============================================================================
// Convenience Loading
// ============================================================================

// LoadFile loads a configuration file without watching
func LoadFile(path string) (*Config, error) {
	loader, err := NewLoader(LoaderOptions{ConfigFile: path})
	if err != nil {
		return nil, err
	}
	return loader.Load()
}

// ============================================================================
// Logger Methods
// ============================================================================

// SetLogger sets the logger for configuration loader
func (l *Loader) SetLogger(logger Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger = logger
}

func (l *Loader) currentLogger() Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logger
}

func (l *Loader) logInfo(msg string, fields ...interface{}) {
	if logger := l.currentLogger(); logger != nil {
		logger.Info(msg, fields...)
	}
}

func (l *Loader) logWarn(msg string, fields ...interface{}) {
	if logger := l.currentLogger(); logger != nil {
		logger.Warn(msg, fields...)
	}
}

func (l *Loader) logError(msg string, fields ...interface{}) {
	if logger := l.currentLogger(); logger != nil {
		logger.Error(msg, fields...)
	}
}

//Personal.AI order the ending
