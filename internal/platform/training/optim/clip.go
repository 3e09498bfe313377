// internal/platform/training/optim/clip.go
package optim

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/openeeap/haloalign/internal/platform/training/dist"
	"github.com/openeeap/haloalign/internal/platform/training/model"
)

// ClipGradNorm 按全局 L2 范数裁剪梯度并返回裁剪前的范数
// 分片参数互不重叠，各进程的平方和经 all-reduce 求和后即为全局值
func ClipGradNorm(ctx context.Context, comm dist.Communicator, params []*model.Parameter, maxNorm float64) (float64, error) {
	sq := 0.0
	for _, p := range params {
		sq += floats.Dot(p.Grad, p.Grad)
	}
	if comm != nil && comm.WorldSize() > 1 {
		summed, err := comm.AllReduceSum(ctx, []float64{sq})
		if err != nil {
			return 0, err
		}
		sq = summed[0]
	}

	total := math.Sqrt(sq)
	coef := maxNorm / (total + 1e-6)
	if coef < 1 {
		for _, p := range params {
			floats.Scale(coef, p.Grad)
		}
	}
	return total, nil
}

//Personal.AI order the ending
