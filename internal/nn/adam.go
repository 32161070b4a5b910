package nn

import "math"

const (
	DefaultLearningRate = 1e-3
	adamBeta1           = 0.9
	adamBeta2           = 0.999
	adamEpsilon         = 1e-7
)

// Adam 优化器状态。M、V与模型参数一一对应
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	Steps        int
	M            [][]float64
	V            [][]float64
}

func NewAdam(params []*Param) *Adam {
	a := &Adam{
		LearningRate: DefaultLearningRate,
		Beta1:        adamBeta1,
		Beta2:        adamBeta2,
		Epsilon:      adamEpsilon,
		M:            make([][]float64, len(params)),
		V:            make([][]float64, len(params)),
	}
	for i, p := range params {
		a.M[i] = make([]float64, len(p.Value))
		a.V[i] = make([]float64, len(p.Value))
	}
	return a
}

func (a *Adam) Step(params []*Param, grads [][]float64) {
	a.Steps++
	t := float64(a.Steps)
	lr := a.LearningRate * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))
	for i, p := range params {
		m, v, g := a.M[i], a.V[i], grads[i]
		for j := range p.Value {
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g[j]
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g[j]*g[j]
			p.Value[j] -= lr * m[j] / (math.Sqrt(v[j]) + a.Epsilon)
		}
	}
}
