package nn

import (
	"fmt"
	"github.com/packagewjx/xray-classifier/internal"
	"github.com/pkg/errors"
	"math"
	"math/rand"
	"runtime"
	"strings"
	"sync"
)

// ErrLayerNotFound 指定名称的层不存在
var ErrLayerNotFound = errors.New("layer not found")

const (
	DefaultKernelSize  = 3
	DefaultPoolSize    = 2
	DefaultDenseUnits  = 128
	DefaultLastConv    = "conv2d_1"
	bceEpsilon         = 1e-7
	defaultConvFilter1 = 32
	defaultConvFilter2 = 64
)

// Architecture 网络结构参数。层的拓扑固定，仅尺寸与dropout比例可配置
type Architecture struct {
	InputHeight  int
	InputWidth   int
	Channels     int
	ConvFilters  []int
	KernelSize   int
	PoolSize     int
	DenseUnits   int
	DropoutConv  float64
	DropoutDense float64
}

func DefaultArchitecture(height, width int, dropoutConv, dropoutDense float64) Architecture {
	return Architecture{
		InputHeight:  height,
		InputWidth:   width,
		Channels:     internal.NumChannels,
		ConvFilters:  []int{defaultConvFilter1, defaultConvFilter2},
		KernelSize:   DefaultKernelSize,
		PoolSize:     DefaultPoolSize,
		DenseUnits:   DefaultDenseUnits,
		DropoutConv:  dropoutConv,
		DropoutDense: dropoutDense,
	}
}

func (a Architecture) InputShape() Shape {
	return Shape{H: a.InputHeight, W: a.InputWidth, C: a.Channels}
}

type Model struct {
	arch    Architecture
	layers  []Layer
	params  []*Param
	offsets []int // 每一层第一个参数在params中的位置
	opt     *Adam
	workers int
}

// New 按结构构建模型并用seed初始化权重
func New(arch Architecture, seed int64) (*Model, error) {
	if arch.Channels == 0 {
		arch.Channels = internal.NumChannels
	}
	if len(arch.ConvFilters) == 0 {
		return nil, fmt.Errorf("至少需要一个卷积层")
	}

	counter := map[string]int{}
	nameOf := func(kind string) string {
		n := counter[kind]
		counter[kind]++
		if n == 0 {
			return kind
		}
		return fmt.Sprintf("%s_%d", kind, n)
	}

	layers := make([]Layer, 0, 3*len(arch.ConvFilters)+4)
	for _, filters := range arch.ConvFilters {
		layers = append(layers,
			&conv2D{name: nameOf(KindConv2D), filters: filters, kernel: arch.KernelSize},
			&maxPool2D{name: nameOf(KindMaxPool2D), size: arch.PoolSize},
			&dropout{name: nameOf(KindDropout), rate: arch.DropoutConv})
	}
	layers = append(layers,
		&flatten{name: nameOf(KindFlatten)},
		&dense{name: nameOf(KindDense), units: arch.DenseUnits, activation: ActivationReLU},
		&dropout{name: nameOf(KindDropout), rate: arch.DropoutDense},
		&dense{name: nameOf(KindDense), units: 1, activation: ActivationSigmoid})

	rng := rand.New(rand.NewSource(seed))
	shape := arch.InputShape()
	m := &Model{
		arch:    arch,
		layers:  layers,
		offsets: make([]int, len(layers)),
		workers: runtime.NumCPU(),
	}
	for i, layer := range layers {
		var err error
		shape, err = layer.Build(shape, rng)
		if err != nil {
			return nil, errors.Wrap(err, "构建模型出错")
		}
		m.offsets[i] = len(m.params)
		m.params = append(m.params, layer.Params()...)
	}
	m.opt = NewAdam(m.params)
	return m, nil
}

func (m *Model) Architecture() Architecture {
	return m.arch
}

func (m *Model) SetWorkers(n int) {
	if n > 0 {
		m.workers = n
	}
}

func (m *Model) LayerNames() []string {
	names := make([]string, len(m.layers))
	for i, l := range m.layers {
		names[i] = l.Name()
	}
	return names
}

// Summary 每层名称、类型、参数数量
func (m *Model) Summary() string {
	builder := &strings.Builder{}
	total := 0
	for _, l := range m.layers {
		n := 0
		for _, p := range l.Params() {
			n += len(p.Value)
		}
		total += n
		_, _ = fmt.Fprintf(builder, "%-18s %-14s %d\n", l.Name(), l.Kind(), n)
	}
	_, _ = fmt.Fprintf(builder, "Total params: %d\n", total)
	return builder.String()
}

func (m *Model) layerIndex(name string) int {
	for i, l := range m.layers {
		if l.Name() == name {
			return i
		}
	}
	return -1
}

func (m *Model) checkInput(x *Tensor) error {
	if x == nil {
		return fmt.Errorf("输入为空")
	}
	if x.Shape != m.arch.InputShape() || len(x.Data) != x.Size() {
		return fmt.Errorf("输入形状应为%v，实际为%v", m.arch.InputShape(), x.Shape)
	}
	return nil
}

func (m *Model) forward(x *Tensor, training bool, rng *rand.Rand) ([]*Tensor, []cache) {
	outputs := make([]*Tensor, len(m.layers))
	caches := make([]cache, len(m.layers))
	cur := x
	for i, l := range m.layers {
		cur, caches[i] = l.Forward(cur, training, rng)
		outputs[i] = cur
	}
	return outputs, caches
}

// Predict 返回Pneumonia的概率
func (m *Model) Predict(x *Tensor) (float64, error) {
	if err := m.checkInput(x); err != nil {
		return 0, err
	}
	outputs, _ := m.forward(x, false, nil)
	return outputs[len(outputs)-1].Data[0], nil
}

func (m *Model) PredictBatch(xs []*Tensor) ([]float64, error) {
	for _, x := range xs {
		if err := m.checkInput(x); err != nil {
			return nil, err
		}
	}
	result := make([]float64, len(xs))
	m.parallel(len(xs), func(_ int, idx int) {
		outputs, _ := m.forward(xs[idx], false, nil)
		result[idx] = outputs[len(outputs)-1].Data[0]
	})
	return result, nil
}

// parallel 将n个任务分配给多个goroutine执行。fn的第一个参数为worker编号
func (m *Model) parallel(n int, fn func(worker, idx int)) {
	workers := m.workers
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(0, i)
		}
		return
	}
	wg := sync.WaitGroup{}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := worker; i < n; i += workers {
				fn(worker, i)
			}
		}(w)
	}
	wg.Wait()
}

func BinaryCrossEntropy(p, y float64) float64 {
	p = math.Min(math.Max(p, bceEpsilon), 1-bceEpsilon)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

func (m *Model) newGrads() [][]float64 {
	grads := make([][]float64, len(m.params))
	for i, p := range m.params {
		grads[i] = make([]float64, len(p.Value))
	}
	return grads
}

// backward 从最后一层反向传播到stop层（不含），返回stop层输出的梯度
func (m *Model) backward(caches []cache, dy *Tensor, grads [][]float64, stop int) *Tensor {
	for i := len(m.layers) - 1; i > stop; i-- {
		var layerGrads [][]float64
		if grads != nil {
			n := len(m.layers[i].Params())
			layerGrads = grads[m.offsets[i] : m.offsets[i]+n]
		}
		dy = m.layers[i].Backward(caches[i], dy, layerGrads)
	}
	return dy
}

// TrainBatch 在一个batch上计算梯度并更新权重，返回batch的平均损失与准确率
func (m *Model) TrainBatch(xs []*Tensor, ys []float64, rng *rand.Rand) (loss, accuracy float64, err error) {
	if len(xs) == 0 || len(xs) != len(ys) {
		return 0, 0, fmt.Errorf("batch数据错误，样本%d个，标签%d个", len(xs), len(ys))
	}
	for _, x := range xs {
		if err := m.checkInput(x); err != nil {
			return 0, 0, err
		}
	}

	// 先按顺序生成每个样本的随机种子，保证结果与并发调度无关
	seeds := make([]int64, len(xs))
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	workers := m.workers
	if workers > len(xs) {
		workers = len(xs)
	}
	if workers < 1 {
		workers = 1
	}
	workerGrads := make([][][]float64, workers)
	for w := range workerGrads {
		workerGrads[w] = m.newGrads()
	}
	losses := make([]float64, len(xs))
	correct := make([]bool, len(xs))

	m.parallel(len(xs), func(worker, idx int) {
		sampleRng := rand.New(rand.NewSource(seeds[idx]))
		outputs, caches := m.forward(xs[idx], true, sampleRng)
		p := outputs[len(outputs)-1].Data[0]
		y := ys[idx]
		losses[idx] = BinaryCrossEntropy(p, y)
		correct[idx] = float64(internal.LabelOf(p)) == y

		pc := math.Min(math.Max(p, bceEpsilon), 1-bceEpsilon)
		dp := -y/pc + (1-y)/(1-pc)
		m.backward(caches, NewVector([]float64{dp}), workerGrads[worker%workers], -1)
	})

	grads := workerGrads[0]
	for w := 1; w < workers; w++ {
		for i := range grads {
			for j, g := range workerGrads[w][i] {
				grads[i][j] += g
			}
		}
	}
	scale := 1 / float64(len(xs))
	for i := range grads {
		for j := range grads[i] {
			grads[i][j] *= scale
		}
	}
	m.opt.Step(m.params, grads)

	for i := range losses {
		loss += losses[i]
		if correct[i] {
			accuracy++
		}
	}
	return loss * scale, accuracy * scale, nil
}

// Evaluate 计算数据集上的平均损失与准确率，不更新权重
func (m *Model) Evaluate(data *Dataset) (loss, accuracy float64, err error) {
	if data.Len() == 0 {
		return 0, 0, fmt.Errorf("数据集为空")
	}
	probs, err := m.PredictBatch(data.X)
	if err != nil {
		return 0, 0, err
	}
	for i, p := range probs {
		loss += BinaryCrossEntropy(p, data.Y[i])
		if float64(internal.LabelOf(p)) == data.Y[i] {
			accuracy++
		}
	}
	n := float64(data.Len())
	return loss / n, accuracy / n, nil
}

// LayerGradients 计算指定层的输出，以及预测类别的得分对该输出的梯度。
// 预测为Pneumonia时得分为p，否则为1-p
func (m *Model) LayerGradients(x *Tensor, layerName string) (activations, gradients *Tensor, probability float64, err error) {
	idx := m.layerIndex(layerName)
	if idx < 0 {
		return nil, nil, 0, errors.Wrap(ErrLayerNotFound, layerName)
	}
	if err := m.checkInput(x); err != nil {
		return nil, nil, 0, err
	}

	outputs, caches := m.forward(x, false, nil)
	probability = outputs[len(outputs)-1].Data[0]
	sign := 1.0
	if internal.LabelOf(probability) == internal.LabelNormal {
		sign = -1
	}
	gradients = m.backward(caches, NewVector([]float64{sign}), nil, idx)
	return outputs[idx], gradients, probability, nil
}

// Weights 返回当前权重的拷贝
func (m *Model) Weights() [][]float64 {
	result := make([][]float64, len(m.params))
	for i, p := range m.params {
		result[i] = make([]float64, len(p.Value))
		copy(result[i], p.Value)
	}
	return result
}

func (m *Model) SetWeights(weights [][]float64) error {
	if len(weights) != len(m.params) {
		return fmt.Errorf("权重数量不一致，应为%d，实际为%d", len(m.params), len(weights))
	}
	for i, p := range m.params {
		if len(weights[i]) != len(p.Value) {
			return fmt.Errorf("参数%s长度不一致，应为%d，实际为%d", p.Name, len(p.Value), len(weights[i]))
		}
	}
	for i, p := range m.params {
		copy(p.Value, weights[i])
	}
	return nil
}
