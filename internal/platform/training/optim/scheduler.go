// internal/platform/training/optim/scheduler.go
package optim

import "math"

// Scheduler 线性预热学习率：lr = base × min(1, (step+1)/(warmup+1))
type Scheduler struct {
	opt    Optimizer
	baseLR float64
	warmup int
	step   int
}

// SchedulerState 调度器状态
type SchedulerState struct {
	BaseLR      float64 `cbor:"base_lr" json:"base_lr"`
	WarmupSteps int     `cbor:"warmup_steps" json:"warmup_steps"`
	Step        int     `cbor:"last_epoch" json:"last_epoch"`
}

// NewWarmupScheduler 以优化器当前学习率为基准，构造时即应用第 0 步的系数
func NewWarmupScheduler(opt Optimizer, warmupSteps int) *Scheduler {
	s := &Scheduler{opt: opt, baseLR: opt.LR(), warmup: warmupSteps}
	s.apply()
	return s
}

// Factor 第 step 步的系数
func (s *Scheduler) Factor(step int) float64 {
	return math.Min(1, float64(step+1)/float64(s.warmup+1))
}

// Step 推进一步
func (s *Scheduler) Step() {
	s.step++
	s.apply()
}

// LastLR 当前学习率
func (s *Scheduler) LastLR() float64 {
	return s.opt.LR()
}

// Steps 已推进步数
func (s *Scheduler) Steps() int {
	return s.step
}

func (s *Scheduler) apply() {
	s.opt.SetLR(s.baseLR * s.Factor(s.step))
}

// StateDict 导出状态
func (s *Scheduler) StateDict() *SchedulerState {
	return &SchedulerState{BaseLR: s.baseLR, WarmupSteps: s.warmup, Step: s.step}
}

// LoadStateDict 恢复状态并重新应用学习率
func (s *Scheduler) LoadStateDict(st *SchedulerState) {
	s.baseLR = st.BaseLR
	s.warmup = st.WarmupSteps
	s.step = st.Step
	s.apply()
}

//Personal.AI order the ending
