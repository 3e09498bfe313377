// internal/platform/training/checkpoint/record.go
package checkpoint

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/openeeap/haloalign/pkg/errors"
)

// Record 一个检查点产物的内容
// State 保持原始编码，由调用方按自己的类型解码
type Record struct {
	StepIdx int                `cbor:"step_idx" json:"step_idx"`
	State   cbor.RawMessage    `cbor:"state" json:"-"`
	Metrics map[string]float64 `cbor:"metrics" json:"metrics"`
}

// 同样的状态总是产生同样的字节
var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Encode 编码 {step_idx, state, metrics}
func Encode(step int, state interface{}, metrics map[string]float64) ([]byte, error) {
	if metrics == nil {
		metrics = map[string]float64{}
	}
	raw, err := encMode.Marshal(state)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(Record{StepIdx: step, State: raw, Metrics: metrics})
}

// Decode 解码检查点字节
func Decode(data []byte) (*Record, error) {
	var rec Record
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.Metrics == nil {
		rec.Metrics = map[string]float64{}
	}
	return &rec, nil
}

// DecodeState 将状态解码到 v
func (r *Record) DecodeState(v interface{}) error {
	if len(r.State) == 0 {
		return errors.ContractError("checkpoint record at step %d carries no state", r.StepIdx)
	}
	return cbor.Unmarshal(r.State, v)
}

//Personal.AI order the ending
