package report

import (
	"github.com/packagewjx/xray-classifier/pkg/server"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"image/color"
	"io"
	"sort"
)

const monthLayout = "2006-01"

type MonthCount struct {
	Month string // 2006-01
	Count int
}

// MonthlyCounts 按创建月份统计报告数量，按月份升序排列
func MonthlyCounts(reports []*server.PatientReport) []MonthCount {
	counts := map[string]int{}
	for _, r := range reports {
		counts[r.CreatedAt.Format(monthLayout)]++
	}
	result := make([]MonthCount, 0, len(counts))
	for month, count := range counts {
		result = append(result, MonthCount{Month: month, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Month < result[j].Month
	})
	return result
}

// PlotMonthly 将每月报告数量画成柱状图，以png格式写入w
func PlotMonthly(w io.Writer, counts []MonthCount) error {
	p := plot.New()
	p.Title.Text = "Reports per Month"
	p.Y.Label.Text = "Reports"

	if len(counts) > 0 {
		values := make(plotter.Values, len(counts))
		names := make([]string, len(counts))
		for i, c := range counts {
			values[i] = float64(c.Count)
			names[i] = c.Month
		}
		bars, err := plotter.NewBarChart(values, vg.Points(20))
		if err != nil {
			return errors.Wrap(err, "绘制柱状图出错")
		}
		bars.Color = color.RGBA{R: 70, G: 110, B: 190, A: 255}
		bars.LineStyle.Width = vg.Length(0)
		p.Add(bars)
		p.NominalX(names...)
	}
	p.Y.Min = 0

	writer, err := p.WriterTo(6*vg.Inch, 3*vg.Inch, "png")
	if err != nil {
		return errors.Wrap(err, "生成图片出错")
	}
	_, err = writer.WriteTo(w)
	return errors.Wrap(err, "写出图片出错")
}
