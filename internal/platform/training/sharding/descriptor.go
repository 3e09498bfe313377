// internal/platform/training/sharding/descriptor.go
package sharding

import (
	"github.com/openeeap/haloalign/internal/platform/training/precision"
	"github.com/openeeap/haloalign/pkg/config"
	"github.com/openeeap/haloalign/pkg/errors"
)

// StrategyFullShard 全参数分片
const StrategyFullShard = "full_shard"

// Descriptor 分片描述，构造后不可变
type Descriptor struct {
	Strategy                string
	BlockName               string
	Precision               precision.Policy
	ActivationCheckpointing bool
	// MinNumParams 非块模块按参数量独立包装的下限
	MinNumParams int
}

// DefaultMinNumParams 辅助头的默认包装下限
const DefaultMinNumParams = 100

// NewDescriptor 从模型配置构建分片描述
func NewDescriptor(cfg config.ModelConfig) (Descriptor, error) {
	if cfg.BlockName == "" {
		return Descriptor{}, errors.NewFromCode(errors.ErrCfgMissingBlockName)
	}
	mp, err := precision.Parse(cfg.FSDPPolicyMP)
	if err != nil {
		return Descriptor{}, err
	}
	minParams := cfg.MinNumParams
	if minParams <= 0 {
		minParams = DefaultMinNumParams
	}
	return Descriptor{
		Strategy:                StrategyFullShard,
		BlockName:               cfg.BlockName,
		Precision:               precision.UniformPolicy(mp),
		ActivationCheckpointing: cfg.ActivationCheckpointing,
		MinNumParams:            minParams,
	}, nil
}

//Personal.AI order the ending
