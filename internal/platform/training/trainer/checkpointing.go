// internal/platform/training/trainer/checkpointing.go
package trainer

import (
	"context"
	"sort"

	"github.com/openeeap/haloalign/internal/observability/logging"
	"github.com/openeeap/haloalign/internal/observability/trace"
	"github.com/openeeap/haloalign/internal/platform/training/checkpoint"
	"github.com/openeeap/haloalign/internal/platform/training/dist"
	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/internal/platform/training/optim"
	"github.com/openeeap/haloalign/internal/platform/training/sharding"
)

// ============================================================================
// 保存
// ============================================================================

// Save 写入 policy.pt，modelOnly 为 false 时追加 optimizer.pt 与 scheduler.pt
// 分片模型先汇集完整状态到 0 号进程，只有 0 号进程写文件，每个产物之后所有进程过屏障
func (t *trainer) Save(ctx context.Context, dir string, values map[string]float64, modelOnly bool) error {
	ctx, span := t.tracer.Start(ctx, "Trainer.Save")
	defer span.End()
	span.SetAttributes(trace.ExamplesAttr(t.exampleCounter), trace.BoolAttr("model_only", modelOnly))

	if dir == "" {
		dir = t.writer.DefaultDir()
	}

	var err error
	if full, ok := t.policy.(sharding.FullStateModel); ok {
		err = t.saveSharded(ctx, full, dir, values, modelOnly)
	} else {
		err = t.saveLocal(ctx, dir, values, modelOnly)
	}
	if err != nil {
		trace.RecordSpanError(ctx, err)
	}
	return err
}

// saveSharded 0 号进程的写入错误不打断屏障序列，保存结束后返回第一个错误
func (t *trainer) saveSharded(ctx context.Context, full sharding.FullStateModel, dir string, values map[string]float64, modelOnly bool) error {
	coordinator := dist.IsCoordinator(t.comm)
	var writeErr error
	record := func(err error) {
		if writeErr == nil {
			writeErr = err
		}
	}

	policyState, err := full.FullStateDict(ctx)
	if err != nil {
		return err
	}
	if coordinator {
		record(t.write(ctx, policyState, values, checkpoint.PolicyFile, dir))
		record(t.saveArtifacts(ctx))
	}
	if err := t.comm.Barrier(ctx); err != nil {
		return err
	}

	if !modelOnly {
		optimizerState, err := t.gatherOptimizerState(ctx, full)
		if err != nil {
			return err
		}
		if coordinator {
			record(t.write(ctx, optimizerState, values, checkpoint.OptimizerFile, dir))
		}
		if err := t.comm.Barrier(ctx); err != nil {
			return err
		}

		if coordinator {
			record(t.write(ctx, t.scheduler.StateDict(), values, checkpoint.SchedulerFile, dir))
		}
		if err := t.comm.Barrier(ctx); err != nil {
			return err
		}
	}
	return writeErr
}

// saveLocal 非分片拓扑直接写入
func (t *trainer) saveLocal(ctx context.Context, dir string, values map[string]float64, modelOnly bool) error {
	if err := t.saveArtifacts(ctx); err != nil {
		return err
	}
	if err := t.write(ctx, model.StateDictOf(t.policy.Parameters()), values, checkpoint.PolicyFile, dir); err != nil {
		return err
	}
	if modelOnly {
		return nil
	}
	if err := t.write(ctx, t.optimizer.StateDict(), values, checkpoint.OptimizerFile, dir); err != nil {
		return err
	}
	return t.write(ctx, t.scheduler.StateDict(), values, checkpoint.SchedulerFile, dir)
}

func (t *trainer) write(ctx context.Context, state interface{}, values map[string]float64, filename, dir string) error {
	_, err := t.writer.Write(ctx, t.exampleCounter, state, values, filename, dir)
	return err
}

func (t *trainer) saveArtifacts(ctx context.Context) error {
	if t.artifacts == nil {
		return nil
	}
	return t.artifacts.SaveArtifacts(ctx, t.writer.RunDir())
}

// gatherOptimizerState 槽按名称排序后逐个汇集，所有进程的调用顺序一致
func (t *trainer) gatherOptimizerState(ctx context.Context, full sharding.FullStateModel) (*optim.State, error) {
	st := t.optimizer.StateDict()
	slots := make([]string, 0, len(st.Slots))
	for slot := range st.Slots {
		slots = append(slots, slot)
	}
	sort.Strings(slots)

	gathered := make(map[string]map[string][]float64, len(slots))
	for _, slot := range slots {
		values, err := full.GatherFull(ctx, st.Slots[slot])
		if err != nil {
			return nil, err
		}
		gathered[slot] = values
	}
	if !dist.IsCoordinator(t.comm) {
		return nil, nil
	}
	st.Slots = gathered
	return st, nil
}

// ============================================================================
// 恢复
// ============================================================================

// Restore 读取策略模型状态，full 时追加优化器与调度器，样本计数取自 policy.pt 的步数
func (t *trainer) Restore(ctx context.Context, src checkpoint.Source, full bool) error {
	ctx, span := t.tracer.Start(ctx, "Trainer.Restore")
	defer span.End()

	if err := t.restore(ctx, src, full); err != nil {
		trace.RecordSpanError(ctx, err)
		return err
	}
	t.logger.WithContext(ctx).Info("restored checkpoint",
		logging.String("source", src.String()),
		logging.Int("examples", t.exampleCounter),
		logging.Bool("full", full))
	return nil
}

func (t *trainer) restore(ctx context.Context, src checkpoint.Source, full bool) error {
	rec, err := src.Fetch(ctx, checkpoint.PolicyFile)
	if err != nil {
		return err
	}
	var sd model.StateDict
	if err := rec.DecodeState(&sd); err != nil {
		return err
	}
	sharded, isSharded := t.policy.(sharding.FullStateModel)
	if isSharded {
		err = sharded.LoadFullStateDict(sd)
	} else {
		err = model.LoadStateDict(t.policy.Parameters(), sd)
	}
	if err != nil {
		return err
	}

	if full {
		orec, err := src.Fetch(ctx, checkpoint.OptimizerFile)
		if err != nil {
			return err
		}
		var st optim.State
		if err := orec.DecodeState(&st); err != nil {
			return err
		}
		if isSharded {
			for slot, values := range st.Slots {
				local, err := sharded.ScatterFull(values)
				if err != nil {
					return err
				}
				st.Slots[slot] = local
			}
		}
		if err := t.optimizer.LoadStateDict(&st); err != nil {
			return err
		}

		srec, err := src.Fetch(ctx, checkpoint.SchedulerFile)
		if err != nil {
			return err
		}
		var ss optim.SchedulerState
		if err := srec.DecodeState(&ss); err != nil {
			return err
		}
		t.scheduler.LoadStateDict(&ss)
	}

	t.exampleCounter = rec.StepIdx
	if bs := t.cfg.Model.BatchSize; bs > 0 {
		t.batchCounter = t.exampleCounter / bs
	}
	t.progress.SetCounters(t.exampleCounter, t.batchCounter)
	return nil
}

//Personal.AI order the ending
