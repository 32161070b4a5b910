package preprocess

import (
	"fmt"
	"github.com/packagewjx/xray-classifier/internal/dataset"
	"github.com/packagewjx/xray-classifier/internal/nn"
	"github.com/pkg/errors"
	"math"
	"math/rand"
	"sort"
)

// ErrTooFewSamples 某个类别的样本不足以按比例划分到两边
var ErrTooFewSamples = errors.New("too few samples to stratify")

// StratifiedSplit 按类别分层划分。每个类别取round(n*ratio)个样本作为held，其余作为train。
// 相同的seed得到相同的划分
func StratifiedSplit(labels []int, ratio float64, seed int64) (trainIdx, heldIdx []int, err error) {
	if !(ratio > 0 && ratio < 1) {
		return nil, nil, errors.Wrap(ErrTooFewSamples, fmt.Sprintf("比例%v不在(0,1)之间", ratio))
	}

	byClass := map[int][]int{}
	for i, l := range labels {
		byClass[l] = append(byClass[l], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	for _, c := range classes {
		members := byClass[c]
		n := len(members)
		held := int(math.Round(float64(n) * ratio))
		if held < 1 || n-held < 1 {
			return nil, nil, errors.Wrap(ErrTooFewSamples, fmt.Sprintf("类别%d有%d个样本，按比例%v无法划分", c, n, ratio))
		}
		rng.Shuffle(n, func(i, j int) {
			members[i], members[j] = members[j], members[i]
		})
		heldIdx = append(heldIdx, members[:held]...)
		trainIdx = append(trainIdx, members[held:]...)
	}

	for _, side := range [][]int{trainIdx, heldIdx} {
		sort.Ints(side)
		rng.Shuffle(len(side), func(i, j int) {
			side[i], side[j] = side[j], side[i]
		})
	}
	return trainIdx, heldIdx, nil
}

type Split struct {
	Train *nn.Dataset
	Held  *nn.Dataset
}

// ToDataset 按processor转换整个数据集
func ToDataset(corpus *dataset.Corpus, processor Preprocessor) (*nn.Dataset, error) {
	if len(corpus.Images) != len(corpus.Labels) {
		return nil, fmt.Errorf("图片数量%d与标签数量%d不一致", len(corpus.Images), len(corpus.Labels))
	}
	xs, err := Transform(corpus.Images, processor)
	if err != nil {
		return nil, errors.Wrap(err, "转换图片出错")
	}
	ys := make([]float64, len(corpus.Labels))
	for i, l := range corpus.Labels {
		ys[i] = float64(l)
	}
	return &nn.Dataset{X: xs, Y: ys}, nil
}

// Prepare 对数据集执行默认的处理流程，再分层划分出held部分
func Prepare(corpus *dataset.Corpus, ratio float64, seed int64) (*Split, error) {
	data, err := ToDataset(corpus, Default())
	if err != nil {
		return nil, err
	}
	trainIdx, heldIdx, err := StratifiedSplit(corpus.Labels, ratio, seed)
	if err != nil {
		return nil, err
	}
	return &Split{Train: data.Subset(trainIdx), Held: data.Subset(heldIdx)}, nil
}
