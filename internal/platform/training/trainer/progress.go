// internal/platform/training/trainer/progress.go
package trainer

import (
	"sync"
	"time"

	"github.com/openeeap/haloalign/pkg/types"
)

// Progress 训练进度快照
type Progress struct {
	State     types.RunState     `json:"state"`
	Examples  int                `json:"examples"`
	Updates   int                `json:"updates"`
	LastTrain map[string]float64 `json:"last_train,omitempty"`
	LastEval  map[string]float64 `json:"last_eval,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// ProgressReporter 对外暴露进度
type ProgressReporter interface {
	Progress() Progress
}

// ProgressTracker 并发安全的进度记录，训练循环写，状态服务读
type ProgressTracker struct {
	mu  sync.RWMutex
	p   Progress
	now func() time.Time
}

// NewProgressTracker 创建处于 INIT 状态的进度记录
func NewProgressTracker() *ProgressTracker {
	t := &ProgressTracker{now: time.Now}
	t.p = Progress{State: types.RunStateInit, UpdatedAt: t.now()}
	return t
}

// SetState 更新状态
func (t *ProgressTracker) SetState(state types.RunState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.State = state
	t.p.UpdatedAt = t.now()
}

// SetCounters 更新样本数与批次数
func (t *ProgressTracker) SetCounters(examples, updates int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Examples = examples
	t.p.Updates = updates
	t.p.UpdatedAt = t.now()
}

// SetTrain 记录最近一次训练刷新
func (t *ProgressTracker) SetTrain(values map[string]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.LastTrain = copyValues(values)
	t.p.UpdatedAt = t.now()
}

// SetEval 记录最近一次评估
func (t *ProgressTracker) SetEval(values map[string]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.LastEval = copyValues(values)
	t.p.UpdatedAt = t.now()
}

// Progress 返回副本
func (t *ProgressTracker) Progress() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.p
	out.LastTrain = copyValues(t.p.LastTrain)
	out.LastEval = copyValues(t.p.LastEval)
	return out
}

func copyValues(values map[string]float64) map[string]float64 {
	if values == nil {
		return nil
	}
	out := make(map[string]float64, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

//Personal.AI order the ending
