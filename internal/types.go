package internal

import "strings"

// 类别标签。顺序固定，不随目录扫描结果变化
const (
	LabelNormal    = 0
	LabelPneumonia = 1
)

const (
	ClassNormal    = "Normal"
	ClassPneumonia = "Pneumonia"
)

// 判定阈值。模型输出大于等于此值即为Pneumonia，训练评估、解释器与前端均使用此值
const Threshold = 0.5

// 数据集目录名，按标签顺序排列
var CorpusDirs = []string{"NORMAL", "PNEUMONIA"}

var ClassNames = []string{ClassNormal, ClassPneumonia}

const NumChannels = 3

const MaxPixelValue = 255.0

func LabelOf(probability float64) int {
	if probability >= Threshold {
		return LabelPneumonia
	}
	return LabelNormal
}

func ClassOf(probability float64) string {
	return ClassNames[LabelOf(probability)]
}

func ClassName(label int) string {
	if label < 0 || label >= len(ClassNames) {
		return "Unknown"
	}
	return ClassNames[label]
}

// 将类别名称转换为标签，忽略大小写。不存在时返回-1
func LabelOfClass(name string) int {
	for i, n := range ClassNames {
		if strings.EqualFold(n, name) {
			return i
		}
	}
	return -1
}
