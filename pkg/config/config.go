// Package config provides centralized configuration management for HALOAlign.
// It defines configuration structures for the training run and its
// infrastructure, and supports validation, default values and
// environment-based configuration loading.
package config

import (
	"fmt"
	"time"

	"github.com/openeeap/haloalign/pkg/validator"
)

// ============================================================================
// Main Configuration Structure
// ============================================================================

// Config represents the complete training configuration
type Config struct {
	// Run-level settings
	Run RunConfig `mapstructure:"run" yaml:"run" json:"run"`

	// Trainer loop settings
	Trainer TrainerConfig `mapstructure:"trainer" yaml:"trainer" json:"trainer"`

	// Model and sharding settings
	Model ModelConfig `mapstructure:"model" yaml:"model" json:"model"`

	// Loss strategy settings
	Loss LossConfig `mapstructure:"loss" yaml:"loss" json:"loss"`

	// Dataset settings
	Data DataConfig `mapstructure:"data" yaml:"data" json:"data"`

	// Process group settings
	Distributed DistributedConfig `mapstructure:"distributed" yaml:"distributed" json:"distributed"`

	// Redis rendezvous store
	Redis RedisConfig `mapstructure:"redis" yaml:"redis" json:"redis"`

	// Checkpoint object storage
	MinIO MinIOConfig `mapstructure:"minio" yaml:"minio" json:"minio"`

	// Metric record streaming
	Kafka KafkaConfig `mapstructure:"kafka" yaml:"kafka" json:"kafka"`

	// Observability configuration
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability" json:"observability"`

	// Status server configuration
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// ============================================================================
// Run Configuration
// ============================================================================

// RunConfig defines run-level settings
type RunConfig struct {
	// Experiment name
	Name string `mapstructure:"name" yaml:"name" json:"name"`

	// Random seed for every random source
	Seed int64 `mapstructure:"seed" yaml:"seed" json:"seed"`

	// Local directory for checkpoints and eval results
	RunDir string `mapstructure:"run_dir" yaml:"run_dir" json:"run_dir" validate:"required"`

	// Debug mode skips intermediate checkpoint writes
	Debug bool `mapstructure:"debug" yaml:"debug" json:"debug"`

	// Default batch metrics mode
	Mode string `mapstructure:"mode" yaml:"mode" json:"mode" validate:"oneof=train eval sample"`

	// Maximum number of samples to generate (0 means all eval batches)
	NSamples int `mapstructure:"n_samples" yaml:"n_samples" json:"n_samples" validate:"gte=0"`

	// Nucleus sampling threshold
	TopP float64 `mapstructure:"top_p" yaml:"top_p" json:"top_p" validate:"gt=0,lte=1"`

	// Resume from this checkpoint directory
	ResumeFrom string `mapstructure:"resume_from" yaml:"resume_from" json:"resume_from"`
}

// ============================================================================
// Trainer Configuration
// ============================================================================

// TrainerConfig defines trainer loop settings
type TrainerConfig struct {
	// Evaluate every N training examples
	EvalEvery int `mapstructure:"eval_every" yaml:"eval_every" json:"eval_every" validate:"gt=0"`

	// Run an evaluation before the first training step
	DoFirstEval bool `mapstructure:"do_first_eval" yaml:"do_first_eval" json:"do_first_eval"`

	// Minimum wall-clock seconds between train metric flushes
	MinimumLogIntervalSecs float64 `mapstructure:"minimum_log_interval_secs" yaml:"minimum_log_interval_secs" json:"minimum_log_interval_secs" validate:"gte=0"`

	// Write a checkpoint after each evaluation
	IntermediateCheckpoints bool `mapstructure:"intermediate_checkpoints" yaml:"intermediate_checkpoints" json:"intermediate_checkpoints"`

	// Optimizer name (SGD, Adam, AdamW, RMSprop)
	Optimizer string `mapstructure:"optimizer" yaml:"optimizer" json:"optimizer" validate:"required,optimizer"`

	// Base learning rate
	LR float64 `mapstructure:"lr" yaml:"lr" json:"lr" validate:"gt=0"`

	// Linear warmup steps
	WarmupSteps int `mapstructure:"warmup_steps" yaml:"warmup_steps" json:"warmup_steps" validate:"gte=0"`

	// Save only the model at checkpoints
	SaveModelOnly bool `mapstructure:"save_model_only" yaml:"save_model_only" json:"save_model_only"`

	// Number of passes over the training data
	Epochs int `mapstructure:"epochs" yaml:"epochs" json:"epochs" validate:"gt=0"`
}

// MinimumLogInterval returns the flush interval as a duration
func (tc *TrainerConfig) MinimumLogInterval() time.Duration {
	return time.Duration(tc.MinimumLogIntervalSecs * float64(time.Second))
}

// ============================================================================
// Model Configuration
// ============================================================================

// ModelConfig defines model, batching and sharding settings
type ModelConfig struct {
	// Model identifier
	NameOrPath string `mapstructure:"name_or_path" yaml:"name_or_path" json:"name_or_path"`

	// Repeated transformer block type name used as the shard unit
	BlockName string `mapstructure:"block_name" yaml:"block_name" json:"block_name" validate:"omitempty,identifier"`

	// Dtype logits are cast to before log-prob extraction
	PolicyDType string `mapstructure:"policy_dtype" yaml:"policy_dtype" json:"policy_dtype" validate:"dtype"`

	// Mixed-precision dtype for sharded params, reductions and buffers (empty disables)
	FSDPPolicyMP string `mapstructure:"fsdp_policy_mp" yaml:"fsdp_policy_mp" json:"fsdp_policy_mp" validate:"omitempty,dtype"`

	// Shard policy/reference parameters across ranks
	Sharded bool `mapstructure:"sharded" yaml:"sharded" json:"sharded"`

	// Recompute block activations in backward
	ActivationCheckpointing bool `mapstructure:"activation_checkpointing" yaml:"activation_checkpointing" json:"activation_checkpointing"`

	// Minimum parameter count for the size-based auxiliary head rule
	MinNumParams int `mapstructure:"min_num_params" yaml:"min_num_params" json:"min_num_params" validate:"gt=0"`

	// Global training batch size
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size" validate:"gt=0"`

	// Global eval batch size
	EvalBatchSize int `mapstructure:"eval_batch_size" yaml:"eval_batch_size" json:"eval_batch_size" validate:"gt=0"`

	// Microbatches accumulated per optimizer step
	GradientAccumulationSteps int `mapstructure:"gradient_accumulation_steps" yaml:"gradient_accumulation_steps" json:"gradient_accumulation_steps" validate:"gt=0"`

	// Gradient norm clip threshold
	MaxGradNorm float64 `mapstructure:"max_grad_norm" yaml:"max_grad_norm" json:"max_grad_norm" validate:"gt=0"`

	// Maximum sequence length including prompt
	MaxLength int `mapstructure:"max_length" yaml:"max_length" json:"max_length" validate:"gt=0"`

	// Reference model architecture: vocabulary size
	VocabSize int `mapstructure:"vocab_size" yaml:"vocab_size" json:"vocab_size" validate:"gt=1"`

	// Reference model architecture: hidden width
	HiddenSize int `mapstructure:"hidden_size" yaml:"hidden_size" json:"hidden_size" validate:"gt=0"`

	// Reference model architecture: number of blocks
	NumBlocks int `mapstructure:"num_blocks" yaml:"num_blocks" json:"num_blocks" validate:"gt=0"`

	// Attach a value head (value-based modes)
	ValueHead bool `mapstructure:"value_head" yaml:"value_head" json:"value_head"`
}

// ============================================================================
// Loss Configuration
// ============================================================================

// LossConfig defines loss strategy settings
type LossConfig struct {
	// Strategy name (sft, kto, simple-kto, kto-zero)
	Name string `mapstructure:"name" yaml:"name" json:"name" validate:"required,oneof=sft kto simple-kto kto-zero"`

	// Reward scale
	Beta float64 `mapstructure:"beta" yaml:"beta" json:"beta" validate:"gt=0"`

	// Weight on desirable (chosen) losses
	DesirableWeight float64 `mapstructure:"desirable_weight" yaml:"desirable_weight" json:"desirable_weight" validate:"gte=0"`

	// Weight on undesirable (rejected) losses
	UndesirableWeight float64 `mapstructure:"undesirable_weight" yaml:"undesirable_weight" json:"undesirable_weight" validate:"gte=0"`

	// Length-normalize log-probabilities
	AverageLogProb bool `mapstructure:"average_log_prob" yaml:"average_log_prob" json:"average_log_prob"`
}

// ============================================================================
// Data Configuration
// ============================================================================

// DataConfig defines where examples come from. Empty file paths select the
// seeded synthetic generator.
type DataConfig struct {
	// JSONL file with training examples
	TrainFile string `mapstructure:"train_file" yaml:"train_file" json:"train_file"`

	// JSONL file with evaluation examples
	EvalFile string `mapstructure:"eval_file" yaml:"eval_file" json:"eval_file"`

	// Synthetic training example count
	NumExamples int `mapstructure:"num_examples" yaml:"num_examples" json:"num_examples" validate:"gte=0"`

	// Synthetic evaluation example count
	NumEvalExamples int `mapstructure:"num_eval_examples" yaml:"num_eval_examples" json:"num_eval_examples" validate:"gte=0"`

	// Synthetic prompt length in tokens
	PromptLength int `mapstructure:"prompt_length" yaml:"prompt_length" json:"prompt_length" validate:"gte=0"`

	// Synthetic target length in tokens
	TargetLength int `mapstructure:"target_length" yaml:"target_length" json:"target_length" validate:"gte=0"`

	// Fraction of synthetic examples labelled rejected
	RejectedFraction float64 `mapstructure:"rejected_fraction" yaml:"rejected_fraction" json:"rejected_fraction" validate:"gte=0,lte=1"`

	// Prompt truncation length (0 keeps the whole prompt)
	MaxPromptLength int `mapstructure:"max_prompt_length" yaml:"max_prompt_length" json:"max_prompt_length" validate:"gte=0"`

	// Shuffle training examples every epoch
	Shuffle bool `mapstructure:"shuffle" yaml:"shuffle" json:"shuffle"`
}

// ============================================================================
// Distributed Configuration
// ============================================================================

// DistributedConfig defines the process group
type DistributedConfig struct {
	// Backend (single, local, redis)
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend" validate:"oneof=single local redis"`

	// Number of participating processes
	WorldSize int `mapstructure:"world_size" yaml:"world_size" json:"world_size" validate:"gt=0"`

	// Rank of this process (redis backend)
	Rank int `mapstructure:"rank" yaml:"rank" json:"rank" validate:"gte=0"`

	// Group identifier shared by all ranks of the run
	RunID string `mapstructure:"run_id" yaml:"run_id" json:"run_id"`

	// Poll interval while waiting on peers
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" json:"poll_interval"`

	// Per-collective timeout
	OpTimeout time.Duration `mapstructure:"op_timeout" yaml:"op_timeout" json:"op_timeout"`
}

// ============================================================================
// Infrastructure Configuration
// ============================================================================

// RedisConfig defines the Redis rendezvous store
type RedisConfig struct {
	// Address host:port
	Addr string `mapstructure:"addr" yaml:"addr" json:"addr"`

	// Password
	Password string `mapstructure:"password" yaml:"password" json:"password"`

	// Database index
	DB int `mapstructure:"db" yaml:"db" json:"db"`

	// Connection pool size
	PoolSize int `mapstructure:"pool_size" yaml:"pool_size" json:"pool_size"`

	// Key prefix
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix" json:"key_prefix"`

	// Expiry of collective payload keys
	KeyTTL time.Duration `mapstructure:"key_ttl" yaml:"key_ttl" json:"key_ttl"`
}

// MinIOConfig defines checkpoint object storage
type MinIOConfig struct {
	// Mirror checkpoints to object storage
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Endpoint host:port
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`

	// Access key
	AccessKeyID string `mapstructure:"access_key_id" yaml:"access_key_id" json:"access_key_id"`

	// Secret key
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key" json:"secret_access_key"`

	// Use TLS
	UseSSL bool `mapstructure:"use_ssl" yaml:"use_ssl" json:"use_ssl"`

	// Region
	Region string `mapstructure:"region" yaml:"region" json:"region"`

	// Bucket for checkpoint artifacts
	Bucket string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
}

// KafkaConfig defines metric record streaming
type KafkaConfig struct {
	// Stream train/eval metrics to Kafka
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Bootstrap brokers
	Brokers []string `mapstructure:"brokers" yaml:"brokers" json:"brokers"`

	// Client ID
	ClientID string `mapstructure:"client_id" yaml:"client_id" json:"client_id"`

	// Metrics topic
	Topic string `mapstructure:"topic" yaml:"topic" json:"topic"`

	// Required acks (0, 1, -1)
	RequiredAcks int `mapstructure:"required_acks" yaml:"required_acks" json:"required_acks"`

	// Producer retries
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`

	// Dial timeout
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" json:"dial_timeout"`
}

// ============================================================================
// Observability Configuration
// ============================================================================

// ObservabilityConfig defines observability configuration
type ObservabilityConfig struct {
	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics" json:"metrics"`

	// Tracing configuration
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Level (debug, info, warn, error)
	Level string `mapstructure:"level" yaml:"level" json:"level" validate:"oneof=debug info warn warning error fatal"`

	// Format (json, console)
	Format string `mapstructure:"format" yaml:"format" json:"format" validate:"oneof=json console"`

	// Output (stdout, stderr, file)
	Output string `mapstructure:"output" yaml:"output" json:"output" validate:"oneof=stdout stderr file"`

	// File path when output is file
	FilePath string `mapstructure:"file_path" yaml:"file_path" json:"file_path"`

	// Max file size in MB
	MaxSize int `mapstructure:"max_size" yaml:"max_size" json:"max_size"`

	// Max backup files
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups" json:"max_backups"`

	// Max age in days
	MaxAge int `mapstructure:"max_age" yaml:"max_age" json:"max_age"`

	// Compress rotated files
	Compress bool `mapstructure:"compress" yaml:"compress" json:"compress"`

	// Development mode
	Development bool `mapstructure:"development" yaml:"development" json:"development"`
}

// MetricsConfig defines metrics configuration
type MetricsConfig struct {
	// Enable metrics
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Namespace for all series
	Namespace string `mapstructure:"namespace" yaml:"namespace" json:"namespace"`

	// Metrics path on the status server
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// TracingConfig defines distributed tracing configuration
type TracingConfig struct {
	// Provider (jaeger, zipkin, otlp, none)
	Provider string `mapstructure:"provider" yaml:"provider" json:"provider" validate:"omitempty,oneof=jaeger zipkin otlp none"`

	// Exporter endpoint
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`

	// Sampling rate (0.0 - 1.0)
	SamplingRate float64 `mapstructure:"sampling_rate" yaml:"sampling_rate" json:"sampling_rate" validate:"gte=0,lte=1"`

	// Service name
	ServiceName string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
}

// ============================================================================
// Server Configuration
// ============================================================================

// ServerConfig defines the status HTTP server
type ServerConfig struct {
	// Enable the status server
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Host to bind to
	Host string `mapstructure:"host" yaml:"host" json:"host"`

	// Port to listen on
	Port int `mapstructure:"port" yaml:"port" json:"port"`

	// Gin mode (debug, release)
	Mode string `mapstructure:"mode" yaml:"mode" json:"mode"`

	// Enable pprof handlers
	EnablePprof bool `mapstructure:"enable_pprof" yaml:"enable_pprof" json:"enable_pprof"`

	// Requests per second per client on /v1, 0 disables limiting
	ProgressRateLimit int `mapstructure:"progress_rate_limit" yaml:"progress_rate_limit" json:"progress_rate_limit" validate:"gte=0"`

	// CORS allowed origins
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins" yaml:"cors_allowed_origins" json:"cors_allowed_origins"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// Address returns host:port
func (sc *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", sc.Host, sc.Port)
}

// ============================================================================
// Configuration Validation
// ============================================================================

// Validate validates the entire configuration: struct tags first, then
// cross-field rules per section.
func (c *Config) Validate() error {
	if err := validator.ValidateStruct(c); err != nil {
		return err
	}

	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model config: %w", err)
	}

	if err := c.Distributed.Validate(); err != nil {
		return fmt.Errorf("distributed config: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if c.Distributed.WorldSize > 1 && !c.Model.Sharded {
		return fmt.Errorf("model config: world_size %d requires sharded parameters", c.Distributed.WorldSize)
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka config: brokers and topic are required when enabled")
	}

	if c.MinIO.Enabled && (c.MinIO.Endpoint == "" || c.MinIO.Bucket == "") {
		return fmt.Errorf("minio config: endpoint and bucket are required when enabled")
	}

	return nil
}

// Validate validates model configuration
func (mc *ModelConfig) Validate() error {
	if mc.Sharded && mc.BlockName == "" {
		return fmt.Errorf("block_name is required when sharded")
	}
	return nil
}

// Validate validates distributed configuration
func (dc *DistributedConfig) Validate() error {
	if dc.Backend == "single" && dc.WorldSize != 1 {
		return fmt.Errorf("single backend requires world_size 1, got %d", dc.WorldSize)
	}
	if dc.Rank >= dc.WorldSize {
		return fmt.Errorf("rank %d is outside world of size %d", dc.Rank, dc.WorldSize)
	}
	if dc.Backend == "redis" && dc.RunID == "" {
		return fmt.Errorf("run_id is required for the redis backend")
	}
	return nil
}

// Validate validates server configuration
func (sc *ServerConfig) Validate() error {
	if sc.Enabled && (sc.Port < 1 || sc.Port > 65535) {
		return fmt.Errorf("invalid port: %d", sc.Port)
	}
	return nil
}

//Personal.AI order the ending
