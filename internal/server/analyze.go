package server

import (
	"bytes"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/packagewjx/xray-classifier/internal/dataset"
	"github.com/packagewjx/xray-classifier/internal/inference"
	"github.com/packagewjx/xray-classifier/internal/report"
	"github.com/packagewjx/xray-classifier/pkg/server"
	"github.com/pkg/errors"
	"image"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var errBadImage = errors.New("invalid image")

const (
	imageSuffix   = ".png"
	gradcamSuffix = "_gradcam.png"
)

type inferenceResult struct {
	Prediction *inference.Prediction
	Source     image.Image
	Overlay    image.Image // 后端不支持热力图时为nil
}

// infer 解码图片并预测。explain为true且后端支持时同时计算热力图
func (s *serverImpl) infer(content []byte, explain bool) (*inferenceResult, error) {
	img, err := dataset.DecodeImage(bytes.NewReader(content))
	if err != nil {
		return nil, errors.Wrap(errBadImage, err.Error())
	}
	h, w, err := s.predictor.InputSize()
	if err != nil {
		return nil, err
	}
	in, err := inference.FromImage(img, h, w)
	if err != nil {
		return nil, err
	}

	if explainer, ok := s.predictor.(inference.Explainer); ok && explain {
		explanation, err := explainer.Explain(in, s.config.Layer, s.config.Alpha)
		if err != nil {
			return nil, err
		}
		return &inferenceResult{Prediction: explanation.Prediction, Source: img, Overlay: explanation.Overlay}, nil
	}

	prediction, err := s.predictor.Predict(in)
	if err != nil {
		return nil, err
	}
	return &inferenceResult{Prediction: prediction, Source: img}, nil
}

func (s *serverImpl) stagingPath(id, suffix string) string {
	return filepath.Join(s.config.UploadDir, stagingDir, id+suffix)
}

func (s *serverImpl) savedPath(code, suffix string) string {
	return filepath.Join(s.config.UploadDir, code+suffix)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "创建图片文件出错")
	}
	if err = png.Encode(f, img); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "写入图片出错")
	}
	return errors.Wrap(f.Close(), "写入图片出错")
}

// stage 将原图与热力图暂存，等待用户确认保存
func (s *serverImpl) stage(result *inferenceResult) (string, error) {
	id := uuid.New().String()
	if err := writePNG(s.stagingPath(id, imageSuffix), result.Source); err != nil {
		return "", err
	}
	if result.Overlay != nil {
		if err := writePNG(s.stagingPath(id, gradcamSuffix), result.Overlay); err != nil {
			return "", err
		}
	}
	return id, nil
}

type analysis struct {
	StagingID      string
	Label          string
	Probability    float64
	Confidence     float64
	Flags          []string
	Recommendation string
	ImageURL       string
	OverlayURL     string
}

func (s *serverImpl) handleAnalyze(c *gin.Context) {
	form, err := parsePatientForm(c)
	if err != nil {
		s.renderIndex(c, http.StatusBadRequest, form, err.Error())
		return
	}
	content, err := readUpload(c)
	if err != nil {
		s.renderIndex(c, http.StatusBadRequest, form, err.Error())
		return
	}

	result, err := s.infer(content, true)
	if errors.Cause(err) == errBadImage {
		s.renderIndex(c, http.StatusBadRequest, form, err.Error())
		return
	} else if err != nil {
		s.logger.Printf("分析图片失败，原因为：%v\n", err)
		s.renderIndex(c, http.StatusInternalServerError, form, err.Error())
		return
	}

	id, err := s.stage(result)
	if err != nil {
		s.logger.Printf("暂存图片失败，原因为：%v\n", err)
		s.renderIndex(c, http.StatusInternalServerError, form, err.Error())
		return
	}

	prediction := result.Prediction
	a := &analysis{
		StagingID:   id,
		Label:       prediction.Label,
		Probability: prediction.Probability,
		Confidence:  prediction.Confidence(),
		ImageURL:    uploadURL(s.stagingPath(id, imageSuffix), s.config.UploadDir),
	}
	if result.Overlay != nil {
		a.OverlayURL = uploadURL(s.stagingPath(id, gradcamSuffix), s.config.UploadDir)
	}
	a.Flags, a.Recommendation = Recommend(form.Vitals(), prediction.Label)
	s.logger.Printf("分析完成，暂存编号%s，结果为%s(%.4f)\n", id, a.Label, a.Probability)

	s.render(c, http.StatusOK, pageAnalysis, &pageData{Form: form, Analysis: a})
}

// handleSave 保存暂存的分析结果。重新对暂存的原图进行预测，不信任表单中的预测结果
func (s *serverImpl) handleSave(c *gin.Context) {
	form, err := parsePatientForm(c)
	if err != nil {
		s.renderIndex(c, http.StatusBadRequest, form, err.Error())
		return
	}
	id := postForm(c, formStagingID)
	if _, err = uuid.Parse(id); err != nil {
		s.renderIndex(c, http.StatusBadRequest, form, "暂存编号无效")
		return
	}
	stagedImage := s.stagingPath(id, imageSuffix)
	content, err := os.ReadFile(stagedImage)
	if os.IsNotExist(err) {
		s.renderIndex(c, http.StatusNotFound, form, "暂存的图片不存在，请重新分析")
		return
	} else if err != nil {
		s.renderIndex(c, http.StatusInternalServerError, form, err.Error())
		return
	}

	result, err := s.infer(content, false)
	if err != nil {
		s.logger.Printf("重新预测暂存图片%s失败，原因为：%v\n", id, err)
		s.renderIndex(c, http.StatusInternalServerError, form, err.Error())
		return
	}

	saved, err := s.saveReport(form, id, result.Prediction)
	if err != nil {
		s.logger.Printf("保存报告失败，原因为：%v\n", err)
		s.renderIndex(c, http.StatusInternalServerError, form, err.Error())
		return
	}
	c.Redirect(http.StatusSeeOther, "/reports/"+saved.PatientCode)
}

func (s *serverImpl) saveReport(form patientForm, id string, prediction *inference.Prediction) (*server.PatientReport, error) {
	stagedOverlay := s.stagingPath(id, gradcamSuffix)
	_, statErr := os.Stat(stagedOverlay)
	hasOverlay := statErr == nil

	r := form.toReport()
	r.Prediction = prediction.Label
	r.Confidence = prediction.Confidence()
	_, r.Recommendation = Recommend(form.Vitals(), prediction.Label)

	initials := report.Initials(form.Name)
	date := report.CodeDate(form.Date)
	regenerate := func() (string, error) {
		code, err := report.GenerateCode(prediction.Label, initials, date)
		if err != nil {
			return "", err
		}
		r.ImagePath = s.savedPath(code, imageSuffix)
		r.GradcamPath = ""
		if hasOverlay {
			r.GradcamPath = s.savedPath(code, gradcamSuffix)
		}
		return code, nil
	}

	saved, err := report.AddWithRetry(s.store, r, regenerate, report.DefaultCodeRetries)
	if err != nil {
		return nil, err
	}
	s.logger.Printf("报告%s已保存\n", saved.PatientCode)

	// 报告已经保存，移动图片失败时报告中的图片显示为不可用
	if err = os.Rename(s.stagingPath(id, imageSuffix), saved.ImagePath); err != nil {
		s.logger.Printf("移动图片到%s失败，原因为：%v\n", saved.ImagePath, err)
	}
	if hasOverlay {
		if err = os.Rename(stagedOverlay, saved.GradcamPath); err != nil {
			s.logger.Printf("移动热力图到%s失败，原因为：%v\n", saved.GradcamPath, err)
		}
	}
	return saved, nil
}

// uploadURL 上传目录下文件的访问地址，不在上传目录下时返回空字符串
func uploadURL(path, uploadDir string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(uploadDir, path)
	if err != nil || rel == ".." || filepath.IsAbs(rel) || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return "/uploads/" + filepath.ToSlash(rel)
}
