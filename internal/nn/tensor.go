package nn

import "fmt"

// Shape 单个样本的形状，按HWC排列
type Shape struct {
	H int
	W int
	C int
}

func (s Shape) Size() int {
	return s.H * s.W * s.C
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s.H, s.W, s.C)
}

type Tensor struct {
	Shape
	Data []float64
}

func NewTensor(h, w, c int) *Tensor {
	return &Tensor{
		Shape: Shape{H: h, W: w, C: c},
		Data:  make([]float64, h*w*c),
	}
}

func NewVector(data []float64) *Tensor {
	return &Tensor{
		Shape: Shape{H: 1, W: 1, C: len(data)},
		Data:  data,
	}
}

func (t *Tensor) index(y, x, c int) int {
	return (y*t.W+x)*t.C + c
}

func (t *Tensor) At(y, x, c int) float64 {
	return t.Data[t.index(y, x, c)]
}

func (t *Tensor) Set(y, x, c int, v float64) {
	t.Data[t.index(y, x, c)] = v
}

func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Shape: t.Shape, Data: data}
}

// Param 一个可训练参数
type Param struct {
	Name  string
	Value []float64
}

// Dataset 已经标准化的样本与对应的标签
type Dataset struct {
	X []*Tensor
	Y []float64
}

func (d *Dataset) Len() int {
	return len(d.X)
}

// Subset 按下标取出子集，不复制张量数据
func (d *Dataset) Subset(indices []int) *Dataset {
	result := &Dataset{
		X: make([]*Tensor, len(indices)),
		Y: make([]float64, len(indices)),
	}
	for i, idx := range indices {
		result.X[i] = d.X[idx]
		result.Y[i] = d.Y[idx]
	}
	return result
}
