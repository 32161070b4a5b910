package report

import (
	"fmt"
	"github.com/go-pdf/fpdf"
	"github.com/packagewjx/xray-classifier/pkg/server"
	"github.com/pkg/errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const Disclaimer = "This report is generated by an automated model for academic and portfolio purposes only. " +
	"It is not a medical diagnosis and must not be used for clinical decisions."

const (
	pdfMargin     = 15.0
	pdfImageWidth = 85.0
	pdfLineHeight = 7.0
)

// 内置字体只支持cp1252，下标数字替换为普通数字
var subscripts = strings.NewReplacer("₀", "0", "₁", "1", "₂", "2", "₃", "3", "₄", "4",
	"₅", "5", "₆", "6", "₇", "7", "₈", "8", "₉", "9")

func pdfTranslator(pdf *fpdf.Fpdf) func(string) string {
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	return func(s string) string {
		return tr(subscripts.Replace(s))
	}
}

var pdfImageTypes = map[string]string{
	".png":  "PNG",
	".jpg":  "JPG",
	".jpeg": "JPG",
	".gif":  "GIF",
}

// RenderPDF 生成可下载的报告，包含病人信息、诊断结果、原图与热力图、建议以及免责声明
func RenderPDF(w io.Writer, r *server.PatientReport) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	pdf.SetTitle("Chest X-ray Report "+r.PatientCode, true)
	tr := pdfTranslator(pdf)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, tr("Chest X-ray Diagnostic Report"), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Report code: %s    Created: %s", r.PatientCode,
		r.CreatedAt.Format("2006-01-02 15:04"))), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	section := func(title string) {
		pdf.SetFont("Helvetica", "B", 13)
		pdf.SetFillColor(230, 236, 245)
		pdf.CellFormat(0, 8, tr(title), "", 1, "L", true, 0, "")
		pdf.SetFont("Helvetica", "", 11)
	}
	row := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(50, pdfLineHeight, tr(label), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, pdfLineHeight, tr(value), "", "L", false)
	}

	section("Patient Information")
	row("Name", r.PatientName)
	row("Gender / Age", fmt.Sprintf("%s / %d", r.Gender, r.Age))
	row("Doctor", r.Doctor)
	row("Hospital", r.Hospital)
	row("Exam date", r.Date)
	row("Temperature", fmt.Sprintf("%.1f °F", r.Temperature))
	row("SpO2", fmt.Sprintf("%.0f %%", r.SpO2))
	row("Spirometer", fmt.Sprintf("%.1f L", r.Spirometer))
	row("Blood pressure", r.BloodPressure)
	row("Heart rate", fmt.Sprintf("%d bpm", r.HeartRate))
	row("Symptoms", r.Symptoms)
	row("Chronic conditions", r.ChronicConditions)
	pdf.Ln(3)

	section("Diagnosis")
	pdf.SetFont("Helvetica", "B", 14)
	if strings.EqualFold(r.Prediction, "Normal") {
		pdf.SetTextColor(30, 130, 60)
	} else {
		pdf.SetTextColor(190, 40, 40)
	}
	pdf.CellFormat(0, 9, tr(fmt.Sprintf("%s (%.2f%% confidence in this class)", r.Prediction, r.Confidence*100)), "", 1, "L",
		false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(2)

	section("Images")
	top := pdf.GetY() + 2
	height := 0.0
	for i, item := range []struct {
		caption string
		path    string
	}{{"Original X-ray", r.ImagePath}, {"Grad-CAM overlay", r.GradcamPath}} {
		x := pdfMargin + float64(i)*(pdfImageWidth+10)
		pdf.SetXY(x, top)
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(pdfImageWidth, 6, tr(item.caption), "", 0, "C", false, 0, "")
		h := drawImage(pdf, item.path, x, top+7)
		if h > height {
			height = h
		}
	}
	pdf.SetXY(pdfMargin, top+7+height+4)

	section("Recommendation")
	pdf.MultiCell(0, pdfLineHeight, tr(r.Recommendation), "", "L", false)
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "I", 9)
	pdf.SetTextColor(110, 110, 110)
	pdf.MultiCell(0, 5, tr("Disclaimer: "+Disclaimer), "T", "L", false)

	if err := pdf.Output(w); err != nil {
		return errors.Wrap(err, "生成PDF出错")
	}
	return nil
}

// drawImage 在(x, y)处画出图片并返回高度。图片不可用时输出提示文字
func drawImage(pdf *fpdf.Fpdf, path string, x, y float64) float64 {
	pdf.SetFont("Helvetica", "", 9)
	imageType, ok := pdfImageTypes[strings.ToLower(filepath.Ext(path))]
	if path == "" || !ok || !decodable(path) {
		pdf.SetXY(x, y)
		pdf.CellFormat(pdfImageWidth, 20, "Image not available", "1", 0, "C", false, 0, "")
		return 20
	}
	opts := fpdf.ImageOptions{ImageType: imageType, ReadDpi: false}
	info := pdf.RegisterImageOptions(path, opts)
	if info == nil || info.Width() == 0 {
		return 0
	}
	h := pdfImageWidth * info.Height() / info.Width()
	pdf.ImageOptions(path, x, y, pdfImageWidth, h, false, opts, 0, "")
	return h
}

func decodable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() {
		_ = f.Close()
	}()
	_, _, err = image.DecodeConfig(f)
	return err == nil
}
