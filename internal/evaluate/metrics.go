package evaluate

import (
	"encoding/json"
	"fmt"
	"github.com/packagewjx/xray-classifier/internal"
	"github.com/packagewjx/xray-classifier/internal/nn"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
	"math"
	"os"
)

const MetricsFile = "metrics.json"

type ROCPoint struct {
	FPR       float64 `json:"fpr"`
	TPR       float64 `json:"tpr"`
	Threshold float64 `json:"threshold"`
}

// ConfusionMatrix 行为真实类别，列为预测类别
type ConfusionMatrix [2][2]int

func (c ConfusionMatrix) Total() int {
	return c[0][0] + c[0][1] + c[1][0] + c[1][1]
}

type Metrics struct {
	Samples   int                  `json:"samples"`
	Loss      float64              `json:"loss"`
	Accuracy  float64              `json:"accuracy"`
	AUC       float64              `json:"auc"` // 只有一个类别时无法计算，为-1
	Confusion ConfusionMatrix      `json:"confusion"`
	ROC       []ROCPoint           `json:"roc,omitempty"`
	Report    ClassificationReport `json:"report"`
}

// Evaluate 在数据集上计算各项指标
func Evaluate(model *nn.Model, data *nn.Dataset) (*Metrics, error) {
	if data == nil || data.Len() == 0 {
		return nil, fmt.Errorf("数据集为空")
	}
	for i, y := range data.Y {
		if y != float64(internal.LabelNormal) && y != float64(internal.LabelPneumonia) {
			return nil, fmt.Errorf("第%d个样本的标签%v不是二分类标签", i, y)
		}
	}
	probs, err := model.PredictBatch(data.X)
	if err != nil {
		return nil, errors.Wrap(err, "预测出错")
	}
	return Compute(probs, data.Y), nil
}

// Compute 根据预测概率与真实标签计算指标
func Compute(probs, labels []float64) *Metrics {
	m := &Metrics{Samples: len(probs)}
	truth := make([]int, len(probs))
	predicted := make([]int, len(probs))
	correct := 0
	for i, p := range probs {
		m.Loss += nn.BinaryCrossEntropy(p, labels[i])
		truth[i] = int(labels[i])
		predicted[i] = internal.LabelOf(p)
		m.Confusion[truth[i]][predicted[i]]++
		if truth[i] == predicted[i] {
			correct++
		}
	}
	n := float64(len(probs))
	m.Loss /= n
	m.Accuracy = float64(correct) / n
	m.Report = NewClassificationReport(m.Confusion, internal.ClassNames)
	m.ROC, m.AUC = roc(probs, truth)
	return m
}

func roc(probs []float64, truth []int) ([]ROCPoint, float64) {
	positives := 0
	for _, t := range truth {
		positives += t
	}
	if positives == 0 || positives == len(truth) {
		return nil, -1
	}

	y := make([]float64, len(probs))
	copy(y, probs)
	classes := make([]bool, len(truth))
	for i, t := range truth {
		classes[i] = t == internal.LabelPneumonia
	}
	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, thresh := stat.ROC(nil, y, classes, nil)

	points := make([]ROCPoint, len(tpr))
	for i := range tpr {
		points[i] = ROCPoint{FPR: fpr[i], TPR: tpr[i], Threshold: thresh[i]}
		if math.IsInf(thresh[i], 0) {
			// json无法表示无穷
			points[i].Threshold = 1
		}
	}
	return points, integrate.Trapezoidal(fpr, tpr)
}

func (m *Metrics) String() string {
	auc := "n/a"
	if m.AUC >= 0 {
		auc = fmt.Sprintf("%.4f", m.AUC)
	}
	return fmt.Sprintf("samples: %d\nloss: %.4f\naccuracy: %.4f\nauc: %s\nconfusion matrix (rows truth, cols predicted):\n%v\n%v\n\n%s",
		m.Samples, m.Loss, m.Accuracy, auc, m.Confusion[0], m.Confusion[1], m.Report.String())
}

// SaveMetrics 写入json文件，供前端展示
func SaveMetrics(path string, m *Metrics) error {
	marshal, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "序列化指标出错")
	}
	return errors.Wrap(os.WriteFile(path, marshal, 0644), "写入指标文件出错")
}

func LoadMetrics(path string) (*Metrics, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "读取指标文件出错")
	}
	m := &Metrics{}
	if err = json.Unmarshal(content, m); err != nil {
		return nil, errors.Wrap(err, "解析指标文件出错")
	}
	return m, nil
}
