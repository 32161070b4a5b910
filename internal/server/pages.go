package server

import (
	"bytes"
	"embed"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/packagewjx/xray-classifier/internal/evaluate"
	"github.com/packagewjx/xray-classifier/internal/report"
	"github.com/packagewjx/xray-classifier/pkg/server"
	"github.com/pkg/errors"
	"html/template"
	"net/http"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	pageIndex    = "index.html"
	pageAnalysis = "analysis.html"
	pageReport   = "report.html"
)

type sidebar struct {
	Metrics *evaluate.Metrics // 没有评估结果时为nil
	Recent  []*server.PatientReport
}

type pageData struct {
	Sidebar  sidebar
	Form     patientForm
	Genders  []string
	Analysis *analysis
	Report   *reportView
	Error    string
}

func parsePages() (*template.Template, error) {
	funcs := template.FuncMap{
		"percent": func(v float64) string {
			return fmt.Sprintf("%.1f%%", v*100)
		},
		"fixed": func(v float64) string {
			return fmt.Sprintf("%.2f", v)
		},
		"join": strings.Join,
	}
	pages, err := template.New("pages").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	return pages, errors.Wrap(err, "解析页面模板出错")
}

func (s *serverImpl) sidebar() sidebar {
	result := sidebar{}
	metrics, err := evaluate.LoadMetrics(s.config.MetricsPath)
	if err == nil {
		result.Metrics = metrics
	}
	recent, err := s.store.ListRecent(DefaultRecentReports)
	if err != nil {
		s.logger.Printf("查询最近的报告失败，原因为：%v\n", err)
	}
	result.Recent = recent
	return result
}

func (s *serverImpl) render(c *gin.Context, status int, page string, data *pageData) {
	data.Sidebar = s.sidebar()
	data.Genders = genders
	c.HTML(status, page, data)
}

func (s *serverImpl) renderIndex(c *gin.Context, status int, form patientForm, message string) {
	s.render(c, status, pageIndex, &pageData{Form: form, Error: message})
}

func (s *serverImpl) handleIndex(c *gin.Context) {
	s.renderIndex(c, http.StatusOK, defaultForm(), "")
}

type reportView struct {
	*server.PatientReport
	ImageURL   string
	OverlayURL string
}

func (s *serverImpl) lookup(c *gin.Context) *server.PatientReport {
	r, err := s.GetReport(c.Param("code"))
	if err == server.ErrReportNotFound {
		c.String(http.StatusNotFound, "报告%s不存在", c.Param("code"))
		return nil
	} else if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return nil
	}
	return r
}

func (s *serverImpl) handleReport(c *gin.Context) {
	r := s.lookup(c)
	if r == nil {
		return
	}
	s.render(c, http.StatusOK, pageReport, &pageData{Report: &reportView{
		PatientReport: r,
		ImageURL:      uploadURL(r.ImagePath, s.config.UploadDir),
		OverlayURL:    uploadURL(r.GradcamPath, s.config.UploadDir),
	}})
}

func (s *serverImpl) handlePDF(c *gin.Context) {
	r := s.lookup(c)
	if r == nil {
		return
	}
	buf := &bytes.Buffer{}
	if err := report.RenderPDF(buf, r); err != nil {
		s.logger.Printf("生成报告%s的PDF失败，原因为：%v\n", r.PatientCode, err)
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", r.PatientCode+".pdf"))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

func (s *serverImpl) handleMonthly(c *gin.Context) {
	reports, err := s.ListReports()
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	buf := &bytes.Buffer{}
	if err = report.PlotMonthly(buf, report.MonthlyCounts(reports)); err != nil {
		s.logger.Printf("绘制每月报告数量失败，原因为：%v\n", err)
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}
