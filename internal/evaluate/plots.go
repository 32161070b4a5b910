package evaluate

import (
	"fmt"
	"github.com/packagewjx/xray-classifier/internal"
	"github.com/packagewjx/xray-classifier/internal/train"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"image/color"
	"math"
	"os"
	"path/filepath"
)

const (
	LossPlotFile      = "train_val_loss.png"
	AccuracyPlotFile  = "train_val_accuracy.png"
	ConfusionPlotFile = "confusion_matrix.png"
	ROCPlotFile       = "roc_curve.png"
)

var (
	plotWidth  = 6 * vg.Inch
	plotHeight = 4 * vg.Inch
)

// RenderAll 将训练曲线、混淆矩阵、ROC曲线与指标写入dir，已有文件会被覆盖。history为nil时不画训练曲线
func RenderAll(dir string, history *train.History, m *Metrics) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "创建输出目录出错")
	}
	if history != nil && len(history.Epochs) > 0 {
		if err := PlotCurves(filepath.Join(dir, LossPlotFile), "Training and Validation Loss", "Loss",
			history.Loss(), history.ValLoss()); err != nil {
			return err
		}
		if err := PlotCurves(filepath.Join(dir, AccuracyPlotFile), "Training and Validation Accuracy", "Accuracy",
			history.Accuracy(), history.ValAccuracy()); err != nil {
			return err
		}
	}
	if m == nil {
		return nil
	}
	if err := PlotConfusion(filepath.Join(dir, ConfusionPlotFile), m.Confusion); err != nil {
		return err
	}
	if len(m.ROC) > 0 {
		if err := PlotROC(filepath.Join(dir, ROCPlotFile), m.ROC, m.AUC); err != nil {
			return err
		}
	}
	return SaveMetrics(filepath.Join(dir, MetricsFile), m)
}

func epochPoints(values []float64) plotter.XYs {
	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i].X = float64(i + 1)
		pts[i].Y = v
	}
	return pts
}

func PlotCurves(path, title, yLabel string, trainValues, valValues []float64) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = yLabel
	if err := plotutil.AddLinePoints(p, "Train", epochPoints(trainValues), "Validation", epochPoints(valValues)); err != nil {
		return errors.Wrap(err, "绘制曲线出错")
	}
	return errors.Wrap(p.Save(plotWidth, plotHeight, path), fmt.Sprintf("保存%s出错", path))
}

// confusionGrid 将混淆矩阵转换为热力图数据。x为预测类别，y为真实类别，Normal在上方
type confusionGrid ConfusionMatrix

func (g confusionGrid) Dims() (c, r int) { return 2, 2 }

func (g confusionGrid) Z(c, r int) float64 { return float64(g[1-r][c]) }

func (g confusionGrid) X(c int) float64 { return float64(c) }

func (g confusionGrid) Y(r int) float64 { return float64(r) }

func PlotConfusion(path string, cm ConfusionMatrix) error {
	p := plot.New()
	p.Title.Text = "Confusion Matrix"
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "Actual"

	grid := confusionGrid(cm)
	heatMap := plotter.NewHeatMap(grid, palette.Heat(12, 1))
	heatMap.Min = 0
	heatMap.Max = 1
	for _, row := range cm {
		for _, v := range row {
			heatMap.Max = math.Max(heatMap.Max, float64(v))
		}
	}
	p.Add(heatMap)

	labels := plotter.XYLabels{}
	for c := 0; c < 2; c++ {
		for r := 0; r < 2; r++ {
			labels.XYs = append(labels.XYs, plotter.XY{X: float64(c), Y: float64(r)})
			labels.Labels = append(labels.Labels, fmt.Sprintf("%d", int(grid.Z(c, r))))
		}
	}
	text, err := plotter.NewLabels(labels)
	if err != nil {
		return errors.Wrap(err, "绘制混淆矩阵出错")
	}
	p.Add(text)

	p.X.Tick.Marker = plot.ConstantTicks([]plot.Tick{
		{Value: 0, Label: internal.ClassNormal},
		{Value: 1, Label: internal.ClassPneumonia},
	})
	p.Y.Tick.Marker = plot.ConstantTicks([]plot.Tick{
		{Value: 0, Label: internal.ClassPneumonia},
		{Value: 1, Label: internal.ClassNormal},
	})
	return errors.Wrap(p.Save(plotHeight, plotHeight, path), fmt.Sprintf("保存%s出错", path))
}

func PlotROC(path string, points []ROCPoint, auc float64) error {
	p := plot.New()
	p.Title.Text = "Receiver Operating Characteristic"
	p.X.Label.Text = "False Positive Rate"
	p.Y.Label.Text = "True Positive Rate"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1

	pts := make(plotter.XYs, len(points))
	for i, pt := range points {
		pts[i].X = pt.FPR
		pts[i].Y = pt.TPR
	}
	curve, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrap(err, "绘制ROC曲线出错")
	}
	curve.Color = color.RGBA{R: 230, G: 120, B: 20, A: 255}
	curve.Width = vg.Points(2)

	diagonal, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return errors.Wrap(err, "绘制ROC曲线出错")
	}
	diagonal.Color = color.RGBA{B: 160, A: 255}
	diagonal.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}

	p.Add(curve, diagonal)
	p.Legend.Add(fmt.Sprintf("ROC curve (AUC = %.2f)", auc), curve)
	p.Legend.Top = false
	p.Legend.Left = false
	return errors.Wrap(p.Save(plotWidth, plotHeight, path), fmt.Sprintf("保存%s出错", path))
}
