package nn

import (
	"fmt"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"math"
	"math/rand"
)

const (
	KindConv2D    = "conv2d"
	KindMaxPool2D = "max_pooling2d"
	KindDropout   = "dropout"
	KindFlatten   = "flatten"
	KindDense     = "dense"
)

const (
	ActivationReLU    = "relu"
	ActivationSigmoid = "sigmoid"
)

// 前向传播时保存的中间数据，供反向传播使用
type cache interface{}

type Layer interface {
	Name() string
	Kind() string
	// 根据输入形状初始化参数，返回输出形状
	Build(in Shape, rng *rand.Rand) (Shape, error)
	Params() []*Param
	Forward(x *Tensor, training bool, rng *rand.Rand) (*Tensor, cache)
	// grads与Params()一一对应，梯度累加到其中。grads为nil时只计算输入梯度
	Backward(c cache, dy *Tensor, grads [][]float64) *Tensor
}

func glorotUniform(rng *rand.Rand, fanIn, fanOut, n int) []float64 {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	w := make([]float64, n)
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
	return w
}

/*
	Conv2D：valid填充，步长为1，带ReLU激活
*/

type conv2D struct {
	name    string
	filters int
	kernel  int
	in      Shape
	out     Shape
	weights *Param // [kernel][kernel][in.C][filters]
	bias    *Param
}

type convCache struct {
	x *Tensor
	y *Tensor
}

func (l *conv2D) Name() string { return l.name }

func (l *conv2D) Kind() string { return KindConv2D }

func (l *conv2D) Params() []*Param { return []*Param{l.weights, l.bias} }

func (l *conv2D) Build(in Shape, rng *rand.Rand) (Shape, error) {
	if in.H < l.kernel || in.W < l.kernel {
		return Shape{}, fmt.Errorf("%s的输入%v小于卷积核%d", l.name, in, l.kernel)
	}
	l.in = in
	l.out = Shape{H: in.H - l.kernel + 1, W: in.W - l.kernel + 1, C: l.filters}
	fanIn := l.kernel * l.kernel * in.C
	fanOut := l.kernel * l.kernel * l.filters
	l.weights = &Param{Name: l.name + "/kernel", Value: glorotUniform(rng, fanIn, fanOut, fanIn*l.filters)}
	l.bias = &Param{Name: l.name + "/bias", Value: make([]float64, l.filters)}
	return l.out, nil
}

func (l *conv2D) Forward(x *Tensor, _ bool, _ *rand.Rand) (*Tensor, cache) {
	in, out, k, f := l.in, l.out, l.kernel, l.filters
	w := l.weights.Value
	y := NewTensor(out.H, out.W, out.C)
	for oy := 0; oy < out.H; oy++ {
		for ox := 0; ox < out.W; ox++ {
			off := (oy*out.W + ox) * f
			acc := y.Data[off : off+f]
			copy(acc, l.bias.Value)
			for ky := 0; ky < k; ky++ {
				for kx := 0; kx < k; kx++ {
					inOff := ((oy+ky)*in.W + ox + kx) * in.C
					wOff := (ky*k + kx) * in.C * f
					for c := 0; c < in.C; c++ {
						xv := x.Data[inOff+c]
						if xv == 0 {
							continue
						}
						floats.AddScaled(acc, xv, w[wOff+c*f:wOff+(c+1)*f])
					}
				}
			}
		}
	}
	for i, v := range y.Data {
		if v < 0 {
			y.Data[i] = 0
		}
	}
	return y, &convCache{x: x, y: y}
}

func (l *conv2D) Backward(c cache, dy *Tensor, grads [][]float64) *Tensor {
	cc := c.(*convCache)
	in, out, k, f := l.in, l.out, l.kernel, l.filters
	w := l.weights.Value

	dz := make([]float64, len(dy.Data))
	for i, v := range cc.y.Data {
		if v > 0 {
			dz[i] = dy.Data[i]
		}
	}

	var gw, gb []float64
	if grads != nil {
		gw, gb = grads[0], grads[1]
	}

	dx := NewTensor(in.H, in.W, in.C)
	for oy := 0; oy < out.H; oy++ {
		for ox := 0; ox < out.W; ox++ {
			off := (oy*out.W + ox) * f
			dzRow := dz[off : off+f]
			if gb != nil {
				floats.Add(gb, dzRow)
			}
			for ky := 0; ky < k; ky++ {
				for kx := 0; kx < k; kx++ {
					inOff := ((oy+ky)*in.W + ox + kx) * in.C
					wOff := (ky*k + kx) * in.C * f
					for ch := 0; ch < in.C; ch++ {
						row := wOff + ch*f
						dx.Data[inOff+ch] += floats.Dot(w[row:row+f], dzRow)
						if gw != nil {
							floats.AddScaled(gw[row:row+f], cc.x.Data[inOff+ch], dzRow)
						}
					}
				}
			}
		}
	}
	return dx
}

/*
	MaxPooling2D：窗口与步长相同，不足一个窗口的边缘舍弃
*/

type maxPool2D struct {
	name string
	size int
	in   Shape
	out  Shape
}

func (l *maxPool2D) Name() string { return l.name }

func (l *maxPool2D) Kind() string { return KindMaxPool2D }

func (l *maxPool2D) Params() []*Param { return nil }

func (l *maxPool2D) Build(in Shape, _ *rand.Rand) (Shape, error) {
	if in.H < l.size || in.W < l.size {
		return Shape{}, fmt.Errorf("%s的输入%v小于池化窗口%d", l.name, in, l.size)
	}
	l.in = in
	l.out = Shape{H: in.H / l.size, W: in.W / l.size, C: in.C}
	return l.out, nil
}

func (l *maxPool2D) Forward(x *Tensor, _ bool, _ *rand.Rand) (*Tensor, cache) {
	in, out, p := l.in, l.out, l.size
	y := NewTensor(out.H, out.W, out.C)
	argmax := make([]int, len(y.Data))
	for oy := 0; oy < out.H; oy++ {
		for ox := 0; ox < out.W; ox++ {
			for c := 0; c < out.C; c++ {
				best := math.Inf(-1)
				bestIdx := 0
				for py := 0; py < p; py++ {
					for px := 0; px < p; px++ {
						idx := ((oy*p+py)*in.W+ox*p+px)*in.C + c
						if x.Data[idx] > best {
							best = x.Data[idx]
							bestIdx = idx
						}
					}
				}
				o := (oy*out.W+ox)*out.C + c
				y.Data[o] = best
				argmax[o] = bestIdx
			}
		}
	}
	return y, argmax
}

func (l *maxPool2D) Backward(c cache, dy *Tensor, _ [][]float64) *Tensor {
	argmax := c.([]int)
	dx := NewTensor(l.in.H, l.in.W, l.in.C)
	for i, idx := range argmax {
		dx.Data[idx] += dy.Data[i]
	}
	return dx
}

/*
	Dropout：训练时按比例置零并放大剩余值，推理时不做处理
*/

type dropout struct {
	name string
	rate float64
}

func (l *dropout) Name() string { return l.name }

func (l *dropout) Kind() string { return KindDropout }

func (l *dropout) Params() []*Param { return nil }

func (l *dropout) Build(in Shape, _ *rand.Rand) (Shape, error) {
	return in, nil
}

func (l *dropout) Forward(x *Tensor, training bool, rng *rand.Rand) (*Tensor, cache) {
	if !training || l.rate == 0 {
		return x, nil
	}
	scale := 1 / (1 - l.rate)
	mask := make([]float64, len(x.Data))
	y := &Tensor{Shape: x.Shape, Data: make([]float64, len(x.Data))}
	for i, v := range x.Data {
		if rng.Float64() >= l.rate {
			mask[i] = scale
			y.Data[i] = v * scale
		}
	}
	return y, mask
}

func (l *dropout) Backward(c cache, dy *Tensor, _ [][]float64) *Tensor {
	if c == nil {
		return dy
	}
	mask := c.([]float64)
	dx := &Tensor{Shape: dy.Shape, Data: make([]float64, len(dy.Data))}
	for i, m := range mask {
		dx.Data[i] = dy.Data[i] * m
	}
	return dx
}

type flatten struct {
	name string
	in   Shape
}

func (l *flatten) Name() string { return l.name }

func (l *flatten) Kind() string { return KindFlatten }

func (l *flatten) Params() []*Param { return nil }

func (l *flatten) Build(in Shape, _ *rand.Rand) (Shape, error) {
	l.in = in
	return Shape{H: 1, W: 1, C: in.Size()}, nil
}

func (l *flatten) Forward(x *Tensor, _ bool, _ *rand.Rand) (*Tensor, cache) {
	return NewVector(x.Data), nil
}

func (l *flatten) Backward(_ cache, dy *Tensor, _ [][]float64) *Tensor {
	return &Tensor{Shape: l.in, Data: dy.Data}
}

/*
	Dense：全连接层，输入必须是一维的
*/

type dense struct {
	name       string
	units      int
	activation string
	inputs     int
	weights    *Param // [inputs][units]
	bias       *Param
}

type denseCache struct {
	x *Tensor
	y *Tensor
}

func (l *dense) Name() string { return l.name }

func (l *dense) Kind() string { return KindDense }

func (l *dense) Params() []*Param { return []*Param{l.weights, l.bias} }

func (l *dense) Build(in Shape, rng *rand.Rand) (Shape, error) {
	if in.H != 1 || in.W != 1 {
		return Shape{}, fmt.Errorf("%s的输入必须是一维的，现在为%v", l.name, in)
	}
	l.inputs = in.C
	l.weights = &Param{Name: l.name + "/kernel", Value: glorotUniform(rng, l.inputs, l.units, l.inputs*l.units)}
	l.bias = &Param{Name: l.name + "/bias", Value: make([]float64, l.units)}
	return Shape{H: 1, W: 1, C: l.units}, nil
}

func (l *dense) Forward(x *Tensor, _ bool, _ *rand.Rand) (*Tensor, cache) {
	w := mat.NewDense(l.inputs, l.units, l.weights.Value)
	var z mat.VecDense
	z.MulVec(w.T(), mat.NewVecDense(l.inputs, x.Data))

	y := NewTensor(1, 1, l.units)
	for j := 0; j < l.units; j++ {
		v := z.AtVec(j) + l.bias.Value[j]
		switch l.activation {
		case ActivationReLU:
			if v < 0 {
				v = 0
			}
		case ActivationSigmoid:
			v = 1 / (1 + math.Exp(-v))
		}
		y.Data[j] = v
	}
	return y, &denseCache{x: x, y: y}
}

func (l *dense) Backward(c cache, dy *Tensor, grads [][]float64) *Tensor {
	dc := c.(*denseCache)
	dz := make([]float64, l.units)
	for j, out := range dc.y.Data {
		switch l.activation {
		case ActivationReLU:
			if out > 0 {
				dz[j] = dy.Data[j]
			}
		case ActivationSigmoid:
			dz[j] = dy.Data[j] * out * (1 - out)
		default:
			dz[j] = dy.Data[j]
		}
	}

	dzVec := mat.NewVecDense(l.units, dz)
	if grads != nil {
		gw := mat.NewDense(l.inputs, l.units, grads[0])
		gw.RankOne(gw, 1, mat.NewVecDense(l.inputs, dc.x.Data), dzVec)
		floats.Add(grads[1], dz)
	}

	var dx mat.VecDense
	dx.MulVec(mat.NewDense(l.inputs, l.units, l.weights.Value), dzVec)
	return NewVector(dx.RawVector().Data)
}
