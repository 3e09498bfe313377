// internal/api/cli/commands/run_cmd.go
package commands

import (
	"github.com/spf13/cobra"

	"github.com/openeeap/haloalign/pkg/types"
)

// Runner 以给定模式执行一次运行，命令的本地标志已解析完毕
type Runner func(cmd *cobra.Command, mode types.Mode) error

// FlagKeys 本地标志与配置键的对应关系，由加载器绑定
var FlagKeys = map[string]string{
	"resume-from": "run.resume_from",
	"run-dir":     "run.run_dir",
	"debug":       "run.debug",
	"n-samples":   "run.n_samples",
	"epochs":      "trainer.epochs",
	"loss":        "loss.name",
	"serve":       "server.enabled",
	"port":        "server.port",
}

// TrainCommand 创建 train 命令
func TrainCommand(run Runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the policy with the configured loss",
		Long: `Train runs the configured loss strategy over the training set, evaluating
every trainer.eval_every examples, then writes the final checkpoint to
<run_dir>/LATEST.`,
		Example: `  # Train with a config file
 haloalign train --config kto.yaml

 # Two in-process ranks with sharded parameters
 HALO_DISTRIBUTED_BACKEND=local HALO_MODEL_SHARDED=true haloalign train --world-size 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, types.ModeTrain)
		},
	}
	addRunFlags(cmd)
	cmd.Flags().Bool("debug", false, "skip intermediate checkpoints")
	cmd.Flags().Int("epochs", 1, "passes over the training data")
	cmd.Flags().String("loss", "", "loss strategy (sft, kto, simple-kto, kto-zero)")
	return cmd
}

// EvalCommand 创建 eval 命令
func EvalCommand(run Runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a checkpoint and write the results file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, types.ModeEval)
		},
	}
	addRunFlags(cmd)
	cmd.Flags().String("loss", "", "loss strategy used to score the eval set")
	return cmd
}

// SampleCommand 创建 sample 命令
func SampleCommand(run Runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Generate completions for the eval prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, types.ModeSample)
		},
	}
	addRunFlags(cmd)
	cmd.Flags().Int("n-samples", 0, "maximum number of samples, 0 for every eval prompt")
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("resume-from", "", "checkpoint directory, or minio://<step dir> for the mirror")
	cmd.Flags().String("run-dir", "", "directory for checkpoints and results")
	cmd.Flags().Bool("serve", false, "start the status server")
	cmd.Flags().Int("port", 8090, "status server port")
}

//Personal.AI order the ending
