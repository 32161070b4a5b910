package nn

import (
	"github.com/packagewjx/xray-classifier/internal"
	"github.com/packagewjx/xray-classifier/internal/testutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"image/color"
	"math"
	"math/rand"
	"path/filepath"
	"testing"
)

func smallArch() Architecture {
	return Architecture{
		InputHeight: 12,
		InputWidth:  12,
		Channels:    3,
		ConvFilters: []int{4, 6},
		KernelSize:  3,
		PoolSize:    2,
		DenseUnits:  8,
	}
}

func makeDataset(n, size int, seed int64) *Dataset {
	rng := rand.New(rand.NewSource(seed))
	data := &Dataset{}
	for i := 0; i < n; i++ {
		bright := i%2 == 1
		img := testutil.MakeImage(size, bright, rng)
		x := NewTensor(size, size, 3)
		for y := 0; y < size; y++ {
			for xx := 0; xx < size; xx++ {
				g := color.GrayModel.Convert(img.At(xx, y)).(color.Gray).Y
				for c := 0; c < 3; c++ {
					x.Set(y, xx, c, float64(g)/internal.MaxPixelValue)
				}
			}
		}
		data.X = append(data.X, x)
		if bright {
			data.Y = append(data.Y, 1)
		} else {
			data.Y = append(data.Y, 0)
		}
	}
	return data
}

func TestNew_LayerNames(t *testing.T) {
	m, err := New(DefaultArchitecture(64, 64, 0.2, 0.4), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"conv2d", "max_pooling2d", "dropout", "conv2d_1", "max_pooling2d_1", "dropout_1",
		"flatten", "dense", "dropout_2", "dense_1"}, m.LayerNames())
	assert.Contains(t, m.Summary(), "conv2d_1")

	/* 测试输入过小 */
	_, err = New(DefaultArchitecture(4, 4, 0, 0), 1)
	assert.Error(t, err)
}

func TestModel_Predict(t *testing.T) {
	m, err := New(smallArch(), 1)
	require.NoError(t, err)
	data := makeDataset(4, 12, 1)

	p, err := m.Predict(data.X[0])
	require.NoError(t, err)
	assert.True(t, p > 0 && p < 1)

	batch, err := m.PredictBatch(data.X)
	require.NoError(t, err)
	assert.Equal(t, p, batch[0])

	_, err = m.Predict(NewTensor(10, 12, 3))
	assert.Error(t, err)
	_, err = m.Predict(nil)
	assert.Error(t, err)

	/* 相同种子得到相同的模型 */
	m2, _ := New(smallArch(), 1)
	p2, _ := m2.Predict(data.X[0])
	assert.Equal(t, p, p2)
}

// 数值梯度与反向传播结果一致
func TestModel_GradientCheck(t *testing.T) {
	m, err := New(smallArch(), 7)
	require.NoError(t, err)
	data := makeDataset(1, 12, 3)
	x, y := data.X[0], 1.0

	lossOf := func() float64 {
		outputs, _ := m.forward(x, false, nil)
		return BinaryCrossEntropy(outputs[len(outputs)-1].Data[0], y)
	}

	outputs, caches := m.forward(x, false, nil)
	p := outputs[len(outputs)-1].Data[0]
	grads := m.newGrads()
	m.backward(caches, NewVector([]float64{-y/p + (1-y)/(1-p)}), grads, -1)

	rng := rand.New(rand.NewSource(5))
	const eps = 1e-6
	for pi, param := range m.params {
		for k := 0; k < 5; k++ {
			j := rng.Intn(len(param.Value))
			orig := param.Value[j]
			param.Value[j] = orig + eps
			plus := lossOf()
			param.Value[j] = orig - eps
			minus := lossOf()
			param.Value[j] = orig
			numeric := (plus - minus) / (2 * eps)
			assert.InDelta(t, numeric, grads[pi][j], 1e-5+1e-3*math.Abs(numeric), "参数%s[%d]", param.Name, j)
		}
	}
}

func TestModel_TrainBatch(t *testing.T) {
	m, err := New(smallArch(), 3)
	require.NoError(t, err)
	m.SetWorkers(3)
	data := makeDataset(16, 12, 4)

	before, _, err := m.Evaluate(data)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 60; i++ {
		_, _, err = m.TrainBatch(data.X, data.Y, rng)
		require.NoError(t, err)
	}
	after, acc, err := m.Evaluate(data)
	require.NoError(t, err)
	assert.Less(t, after, before)
	assert.True(t, acc >= 0.5)

	_, _, err = m.TrainBatch(data.X, data.Y[:2], rng)
	assert.Error(t, err)
}

// 同样的种子与并发数，训练结果一致
func TestModel_TrainBatchDeterministic(t *testing.T) {
	arch := smallArch()
	arch.DropoutConv = 0.2
	arch.DropoutDense = 0.4
	data := makeDataset(8, 12, 4)

	run := func(workers int) [][]float64 {
		m, err := New(arch, 3)
		require.NoError(t, err)
		m.SetWorkers(workers)
		rng := rand.New(rand.NewSource(9))
		for i := 0; i < 3; i++ {
			_, _, err = m.TrainBatch(data.X, data.Y, rng)
			require.NoError(t, err)
		}
		return m.Weights()
	}
	assert.Equal(t, run(3), run(3))
	assert.Equal(t, run(1), run(1))
}

func TestModel_SetWeights(t *testing.T) {
	m, _ := New(smallArch(), 3)
	data := makeDataset(4, 12, 4)
	snapshot := m.Weights()
	before, _ := m.Predict(data.X[0])

	_, _, err := m.TrainBatch(data.X, data.Y, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	changed, _ := m.Predict(data.X[0])
	assert.NotEqual(t, before, changed)

	require.NoError(t, m.SetWeights(snapshot))
	restored, _ := m.Predict(data.X[0])
	assert.Equal(t, before, restored)

	assert.Error(t, m.SetWeights(snapshot[1:]))
}

func TestModel_LayerGradients(t *testing.T) {
	m, _ := New(smallArch(), 3)
	data := makeDataset(2, 12, 4)

	act, grad, p, err := m.LayerGradients(data.X[1], "conv2d_1")
	require.NoError(t, err)
	assert.Equal(t, Shape{H: 3, W: 3, C: 6}, act.Shape)
	assert.Equal(t, act.Shape, grad.Shape)
	expected, _ := m.Predict(data.X[1])
	assert.Equal(t, expected, p)

	_, _, _, err = m.LayerGradients(data.X[1], "conv2d_9")
	assert.Equal(t, ErrLayerNotFound, errors.Cause(err))
}

func TestModel_SaveLoad(t *testing.T) {
	m, _ := New(smallArch(), 3)
	data := makeDataset(4, 12, 4)
	_, _, err := m.TrainBatch(data.X, data.Y, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "model.gob")
	require.NoError(t, m.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m.Architecture(), loaded.Architecture())
	assert.Equal(t, 1, loaded.opt.Steps)
	for _, x := range data.X {
		p1, _ := m.Predict(x)
		p2, _ := loaded.Predict(x)
		assert.Equal(t, p1, p2)
	}

	_, err = Load(filepath.Join(t.TempDir(), "absent.gob"))
	assert.Error(t, err)
}
