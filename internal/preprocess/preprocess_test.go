package preprocess

import (
	"github.com/packagewjx/xray-classifier/internal"
	"github.com/packagewjx/xray-classifier/internal/dataset"
	"github.com/packagewjx/xray-classifier/internal/nn"
	"github.com/packagewjx/xray-classifier/internal/testutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sort"
	"testing"
)

func TestDefault(t *testing.T) {
	sample := &dataset.ImageSample{Pixels: []uint8{0, 51, 255}, Height: 1, Width: 1}
	x, err := ToTensor(sample)
	require.NoError(t, err)
	Default().Preprocess(x)
	assert.Equal(t, []float64{0, 0.2, 1}, x.Data)

	/* 外部张量超出范围 */
	y := nn.NewVector([]float64{-3, 0.5, 510})
	Default().Preprocess(y)
	assert.Equal(t, []float64{0, 0.5, 1}, y.Data)

	_, err = ToTensor(&dataset.ImageSample{Pixels: []uint8{1}, Height: 1, Width: 1})
	assert.Error(t, err)
}

func labelsOf(counts ...int) []int {
	var labels []int
	for c, n := range counts {
		for i := 0; i < n; i++ {
			labels = append(labels, c)
		}
	}
	return labels
}

func TestStratifiedSplit(t *testing.T) {
	labels := labelsOf(30, 70)
	trainIdx, heldIdx, err := StratifiedSplit(labels, 0.2, 42)
	require.NoError(t, err)
	assert.Equal(t, 80, len(trainIdx))
	assert.Equal(t, 20, len(heldIdx))

	heldCounts := map[int]int{}
	for _, i := range heldIdx {
		heldCounts[labels[i]]++
	}
	assert.Equal(t, 6, heldCounts[0])
	assert.Equal(t, 14, heldCounts[1])

	/* 两边不重不漏 */
	all := append(append([]int{}, trainIdx...), heldIdx...)
	sort.Ints(all)
	for i, idx := range all {
		assert.Equal(t, i, idx)
	}

	/* 同一个种子结果相同 */
	trainIdx2, heldIdx2, err := StratifiedSplit(labels, 0.2, 42)
	require.NoError(t, err)
	assert.Equal(t, trainIdx, trainIdx2)
	assert.Equal(t, heldIdx, heldIdx2)
	_, heldIdx3, _ := StratifiedSplit(labels, 0.2, 7)
	assert.NotEqual(t, heldIdx, heldIdx3)
}

func TestStratifiedSplit_TooFew(t *testing.T) {
	/* 类别1只有2个样本，round(2*0.2)=0 */
	_, _, err := StratifiedSplit(labelsOf(20, 2), 0.2, 1)
	assert.Equal(t, ErrTooFewSamples, errors.Cause(err))

	/* 全部被划到held */
	_, _, err = StratifiedSplit(labelsOf(1, 1), 0.9, 1)
	assert.Equal(t, ErrTooFewSamples, errors.Cause(err))

	for _, ratio := range []float64{0, 1, -0.5, 1.5} {
		_, _, err = StratifiedSplit(labelsOf(10, 10), ratio, 1)
		assert.Equal(t, ErrTooFewSamples, errors.Cause(err))
	}
}

func TestPrepare(t *testing.T) {
	root := t.TempDir()
	testutil.WriteCorpus(t, root, 10, 0, 16)
	corpus, err := dataset.NewLoader(dataset.Options{Height: 8, Width: 8, Classes: internal.CorpusDirs}).Load(root)
	require.NoError(t, err)

	split, err := Prepare(corpus, 0.2, 42)
	require.NoError(t, err)
	assert.Equal(t, 16, split.Train.Len())
	assert.Equal(t, 4, split.Held.Len())
	for _, x := range append(split.Train.X, split.Held.X...) {
		assert.Equal(t, nn.Shape{H: 8, W: 8, C: 3}, x.Shape)
		for _, v := range x.Data {
			assert.True(t, v >= 0 && v <= 1)
		}
	}
	positives := 0.0
	for _, y := range split.Held.Y {
		positives += y
	}
	assert.Equal(t, 2.0, positives)
}
