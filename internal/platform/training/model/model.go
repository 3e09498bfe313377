// internal/platform/training/model/model.go
package model

import (
	"context"
	"math/rand"
)

// LanguageModel 语言模型契约：(input_ids, attention_mask) -> logits，外加采样生成
// 训练核心只把模型当作不透明能力使用，除按名称识别重复块类型外不感知结构
type LanguageModel interface {
	// Forward 前向计算；训练模式下保留反向所需的中间结果
	Forward(ctx context.Context, inputIDs, attentionMask [][]int) (*Logits, error)

	// Backward 基于最近一次 Forward，将 dLoss/dLogits 的梯度累加到参数
	Backward(ctx context.Context, dLogits *Logits) error

	// Generate 从 prompt 采样续写，返回 prompt 与续写拼接后的序列
	Generate(ctx context.Context, inputIDs, attentionMask [][]int, opts GenerateOptions) ([][]int, error)

	// Modules 按前向顺序列出子模块
	Modules() []Module

	// Parameters 优化器绑定的参数
	Parameters() []*Parameter

	// SetTraining 切换训练/评估模式
	SetTraining(training bool)
}

// Module 命名子模块
type Module interface {
	// Name 模块路径，如 blocks.0
	Name() string

	// TypeName 模块类型名，如 TinyBlock
	TypeName() string

	// Parameters 模块直接持有的参数
	Parameters() []*Parameter
}

// GenerateOptions 采样参数
type GenerateOptions struct {
	MaxLength  int
	TopP       float64
	PadTokenID int
	EOSTokenID int
	Rand       *rand.Rand
}

// Hooks 在每个模块的前向与反向计算前后调用
type Hooks struct {
	PreForward   func(ctx context.Context, m Module) error
	PostForward  func(ctx context.Context, m Module) error
	PreBackward  func(ctx context.Context, m Module) error
	PostBackward func(ctx context.Context, m Module) error
}

// Hookable 支持模块级钩子的模型
type Hookable interface {
	SetHooks(h *Hooks)
}

// Checkpointable 支持激活重计算的模型
type Checkpointable interface {
	// EnableActivationCheckpointing 对 typeName 类型的模块丢弃中间激活并在反向时重算
	EnableActivationCheckpointing(typeName string) error
}

// ============================================================================
// 模块实现
// ============================================================================

type module struct {
	name     string
	typeName string
	params   []*Parameter
}

// NewModule 创建命名子模块
func NewModule(name, typeName string, params ...*Parameter) Module {
	return &module{name: name, typeName: typeName, params: params}
}

func (m *module) Name() string             { return m.name }
func (m *module) TypeName() string         { return m.typeName }
func (m *module) Parameters() []*Parameter { return m.params }

// FindModules 按类型名查找模块
func FindModules(m LanguageModel, typeName string) []Module {
	var out []Module
	for _, mod := range m.Modules() {
		if mod.TypeName() == typeName {
			out = append(out, mod)
		}
	}
	return out
}

func callHook(ctx context.Context, fn func(context.Context, Module) error, m Module) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, m)
}

//Personal.AI order the ending
