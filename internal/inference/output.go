package inference

import (
	"encoding/csv"
	"github.com/pkg/errors"
	"io"
	"strconv"
)

// Result 一张图片的预测结果
type Result struct {
	Path       string
	Prediction *Prediction
}

var csvHeader = []string{"path", "label", "probability"}

// OutputResult 以csv格式输出预测结果，probability保留precision位小数
func OutputResult(results []*Result, output io.Writer, precision int) error {
	writer := csv.NewWriter(output)
	if err := writer.Write(csvHeader); err != nil {
		return errors.Wrap(err, "写入表头错误")
	}
	for _, r := range results {
		record := []string{r.Path, r.Prediction.Label, strconv.FormatFloat(r.Prediction.Probability, 'f', precision, 64)}
		if err := writer.Write(record); err != nil {
			return errors.Wrap(err, "写入数据错误")
		}
	}

	writer.Flush()
	return errors.Wrap(writer.Error(), "写入数据错误")
}
