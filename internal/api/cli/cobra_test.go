package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openeeap/haloalign/internal/observability/logging"
	"github.com/openeeap/haloalign/internal/platform/training"
	"github.com/openeeap/haloalign/internal/platform/training/checkpoint"
	"github.com/openeeap/haloalign/pkg/config"
)

func writeConfig(t *testing.T, runDir string) string {
	t.Helper()
	body := fmt.Sprintf(`
run:
  name: cli-test
  run_dir: %s
  seed: 3
  n_samples: 2
trainer:
  eval_every: 8
  warmup_steps: 1
  lr: 0.01
  minimum_log_interval_secs: 0
  save_model_only: false
model:
  batch_size: 4
  eval_batch_size: 2
  max_length: 10
  vocab_size: 12
  hidden_size: 4
  num_blocks: 1
  min_num_params: 10
data:
  num_examples: 8
  num_eval_examples: 4
  prompt_length: 3
  target_length: 3
observability:
  logging:
    level: error
    output: stderr
`, runDir)
	path := filepath.Join(t.TempDir(), "haloalign.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestVersionCommand(t *testing.T) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "HaloAlign Version: dev")
	assert.Contains(t, out.String(), "Go Version:")
}

func TestCommandsRegistered(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"train", "eval", "sample", "version", "completion"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
	for _, name := range []string{"rank", "world-size", "backend", "run-id", "config", "verbose", "watch-config"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestTrainEvalSample(t *testing.T) {
	ctx := context.Background()
	runDir := t.TempDir()
	cfgPath := writeConfig(t, runDir)
	var stderr bytes.Buffer

	require.Equal(t, 0, Execute(ctx, []string{"train", "--config", cfgPath}, &stderr), stderr.String())
	latest := filepath.Join(runDir, checkpoint.LatestDir)
	for _, name := range []string{checkpoint.PolicyFile, checkpoint.OptimizerFile, checkpoint.SchedulerFile} {
		assert.FileExists(t, filepath.Join(latest, name))
	}

	t.Run("Eval resumes from flag", func(t *testing.T) {
		code := Execute(ctx, []string{"eval", "--config", cfgPath, "--resume-from", latest}, &stderr)
		require.Equal(t, 0, code, stderr.String())
		assert.FileExists(t, filepath.Join(runDir, training.EvalResultsFile))
	})

	t.Run("Sample into another run dir", func(t *testing.T) {
		other := t.TempDir()
		code := Execute(ctx, []string{"sample", "--config", cfgPath, "--run-dir", other, "--n-samples", "2"}, &stderr)
		require.Equal(t, 0, code, stderr.String())
		assert.FileExists(t, filepath.Join(other, training.SamplesFile))
		assert.NoFileExists(t, filepath.Join(runDir, training.SamplesFile))
	})
}

func TestExitCodes(t *testing.T) {
	ctx := context.Background()
	cfgPath := writeConfig(t, t.TempDir())

	t.Run("Missing config file", func(t *testing.T) {
		var stderr bytes.Buffer
		code := Execute(ctx, []string{"train", "--config", filepath.Join(t.TempDir(), "absent.yaml")}, &stderr)
		assert.Equal(t, 2, code)
		assert.Contains(t, stderr.String(), "Error:")
	})

	t.Run("Multiple ranks without sharding", func(t *testing.T) {
		var stderr bytes.Buffer
		code := Execute(ctx, []string{"train", "--config", cfgPath, "--backend", "local", "--world-size", "2"}, &stderr)
		assert.Equal(t, 2, code, stderr.String())
	})

	t.Run("Missing resume directory", func(t *testing.T) {
		var stderr bytes.Buffer
		code := Execute(ctx, []string{"eval", "--config", cfgPath, "--resume-from", filepath.Join(t.TempDir(), "gone")}, &stderr)
		assert.Equal(t, 6, code, stderr.String())
	})

	t.Run("Unknown command", func(t *testing.T) {
		var stderr bytes.Buffer
		assert.Equal(t, 1, Execute(ctx, []string{"distill"}, &stderr))
	})
}

func TestWatchLogLevel(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())
	loader, err := config.NewLoader(config.LoaderOptions{ConfigFile: cfgPath, EnableWatch: true})
	require.NoError(t, err)
	cfg, err := loader.Load()
	require.NoError(t, err)

	logger, err := newLogger(cfg.Observability.Logging, false)
	require.NoError(t, err)
	require.Equal(t, "error", logger.Level())
	loader.SetLogger(loaderLogger{logging.NewNoopLogger()})
	watchLogLevel(loader, logger)

	body, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	updated := strings.Replace(string(body), "level: error", "level: debug", 1)
	require.NoError(t, os.WriteFile(cfgPath, []byte(updated), 0o644))

	assert.Eventually(t, func() bool {
		return logger.Level() == "debug"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestKVFields(t *testing.T) {
	fields := kvFields([]interface{}{"file", "a.yaml", "dangling"})
	require.Len(t, fields, 1)
	assert.Equal(t, "file", fields[0].Key)
	assert.Equal(t, "a.yaml", fields[0].String)
}
