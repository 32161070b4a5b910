package evaluate

import (
	"fmt"
	"strings"
)

type ClassScore struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ClassificationReport 每个类别的精确率、召回率与F1
type ClassificationReport struct {
	Classes     []string     `json:"classes"`
	Scores      []ClassScore `json:"scores"`
	Accuracy    float64      `json:"accuracy"`
	MacroAvg    ClassScore   `json:"macro_avg"`
	WeightedAvg ClassScore   `json:"weighted_avg"`
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func NewClassificationReport(cm ConfusionMatrix, classes []string) ClassificationReport {
	report := ClassificationReport{Classes: classes, Scores: make([]ClassScore, len(cm))}
	total := cm.Total()
	correct := 0
	for c := range cm {
		tp := float64(cm[c][c])
		predicted, support := 0, 0
		for other := range cm {
			predicted += cm[other][c]
			support += cm[c][other]
		}
		score := ClassScore{
			Precision: safeDiv(tp, float64(predicted)),
			Recall:    safeDiv(tp, float64(support)),
			Support:   support,
		}
		score.F1 = safeDiv(2*score.Precision*score.Recall, score.Precision+score.Recall)
		report.Scores[c] = score
		correct += cm[c][c]

		k := float64(len(cm))
		report.MacroAvg.Precision += score.Precision / k
		report.MacroAvg.Recall += score.Recall / k
		report.MacroAvg.F1 += score.F1 / k
		w := safeDiv(float64(support), float64(total))
		report.WeightedAvg.Precision += score.Precision * w
		report.WeightedAvg.Recall += score.Recall * w
		report.WeightedAvg.F1 += score.F1 * w
	}
	report.MacroAvg.Support = total
	report.WeightedAvg.Support = total
	report.Accuracy = safeDiv(float64(correct), float64(total))
	return report
}

func (r ClassificationReport) String() string {
	builder := &strings.Builder{}
	_, _ = fmt.Fprintf(builder, "%14s %10s %10s %10s %10s\n\n", "", "precision", "recall", "f1-score", "support")
	for i, s := range r.Scores {
		name := fmt.Sprintf("%d", i)
		if i < len(r.Classes) {
			name = r.Classes[i]
		}
		_, _ = fmt.Fprintf(builder, "%14s %10.2f %10.2f %10.2f %10d\n", name, s.Precision, s.Recall, s.F1, s.Support)
	}
	_, _ = fmt.Fprintf(builder, "\n%14s %10s %10s %10.2f %10d\n", "accuracy", "", "", r.Accuracy, r.MacroAvg.Support)
	for _, row := range []struct {
		name  string
		score ClassScore
	}{{"macro avg", r.MacroAvg}, {"weighted avg", r.WeightedAvg}} {
		_, _ = fmt.Fprintf(builder, "%14s %10.2f %10.2f %10.2f %10d\n", row.name, row.score.Precision,
			row.score.Recall, row.score.F1, row.score.Support)
	}
	return builder.String()
}
