package evaluate

import (
	"fmt"
	"github.com/packagewjx/xray-classifier/internal"
	"github.com/packagewjx/xray-classifier/internal/dataset"
	"github.com/packagewjx/xray-classifier/internal/nn"
	"github.com/packagewjx/xray-classifier/internal/preprocess"
	"github.com/pkg/errors"
	"math/rand"
	"strings"
)

type SpotCheckItem struct {
	Path        string
	Truth       string
	Predicted   string
	Probability float64
}

func (i SpotCheckItem) Correct() bool {
	return i.Truth == i.Predicted
}

type SpotCheckResult struct {
	Items   []SpotCheckItem
	Correct int
}

func (r *SpotCheckResult) String() string {
	builder := &strings.Builder{}
	for _, item := range r.Items {
		mark := "wrong"
		if item.Correct() {
			mark = "correct"
		}
		_, _ = fmt.Fprintf(builder, "%s\ttruth=%s\tpredicted=%s\tp=%.4f\t%s\n", item.Path, item.Truth,
			item.Predicted, item.Probability, mark)
	}
	_, _ = fmt.Fprintf(builder, "%d/%d correct\n", r.Correct, len(r.Items))
	return builder.String()
}

// SpotCheck 从dir的每个类别中随机抽取最多n/2张图片进行预测
func SpotCheck(model *nn.Model, dir string, n int, seed int64) (*SpotCheckResult, error) {
	if n < 2 {
		return nil, fmt.Errorf("抽样数量至少为2，现在为%d", n)
	}
	arch := model.Architecture()
	corpus, err := dataset.NewLoader(dataset.Options{
		Height:  arch.InputHeight,
		Width:   arch.InputWidth,
		Classes: internal.CorpusDirs,
	}).Load(dir)
	if err != nil {
		return nil, errors.Wrap(err, "读取抽样目录出错")
	}

	byClass := make([][]int, len(internal.ClassNames))
	for i, l := range corpus.Labels {
		byClass[l] = append(byClass[l], i)
	}
	rng := rand.New(rand.NewSource(seed))
	var picked []*dataset.ImageSample
	for _, members := range byClass {
		rng.Shuffle(len(members), func(i, j int) {
			members[i], members[j] = members[j], members[i]
		})
		if len(members) > n/2 {
			members = members[:n/2]
		}
		for _, idx := range members {
			picked = append(picked, corpus.Images[idx])
		}
	}

	xs, err := preprocess.Transform(picked, preprocess.Default())
	if err != nil {
		return nil, err
	}
	probs, err := model.PredictBatch(xs)
	if err != nil {
		return nil, errors.Wrap(err, "预测出错")
	}

	result := &SpotCheckResult{Items: make([]SpotCheckItem, len(picked))}
	for i, sample := range picked {
		item := SpotCheckItem{
			Path:        sample.Path,
			Truth:       internal.ClassName(sample.Label),
			Predicted:   internal.ClassOf(probs[i]),
			Probability: probs[i],
		}
		if item.Correct() {
			result.Correct++
		}
		result.Items[i] = item
	}
	return result, nil
}
