package server

import (
	"bytes"
	"github.com/gin-gonic/gin"
	"github.com/packagewjx/xray-classifier/pkg/server"
	"github.com/pkg/errors"
	"io"
	"net/http"
)

func (s *serverImpl) ListReports() ([]*server.PatientReport, error) {
	reports, err := s.store.ListAll()
	if err != nil {
		s.logger.Printf("查询报告列表失败，原因为：%v\n", err)
		return nil, err
	}
	return reports, nil
}

func (s *serverImpl) GetReport(code string) (*server.PatientReport, error) {
	s.logger.Printf("接收到查询编号为%s的报告的请求\n", code)
	r, err := s.store.GetByCode(code)
	if err != nil {
		s.logger.Printf("查询报告%s失败，原因为：%v\n", code, err)
		return nil, err
	}
	if r == nil {
		return nil, server.ErrReportNotFound
	}
	return r, nil
}

func (s *serverImpl) Predict(filename string, image io.Reader, vitals *server.Vitals) (*server.PredictResult, error) {
	content, err := io.ReadAll(io.LimitReader(image, maxUploadSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "读取图片出错")
	}
	if len(content) > maxUploadSize {
		return nil, errors.Wrap(errBadImage, "图片过大")
	}
	s.logger.Printf("接收到图片%s的预测请求，大小为%d字节\n", filename, len(content))

	result, err := s.infer(content, false)
	if err != nil {
		return nil, err
	}
	prediction := result.Prediction
	dest := &server.PredictResult{
		Label:       prediction.Label,
		Probability: prediction.Probability,
		Confidence:  prediction.Confidence(),
	}
	if vitals != nil {
		dest.Flags, dest.Recommendation = Recommend(*vitals, prediction.Label)
	}
	return dest, nil
}

func (s *serverImpl) handleListReports(c *gin.Context) {
	reports, err := s.ListReports()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if reports == nil {
		reports = []*server.PatientReport{}
	}
	c.JSON(http.StatusOK, reports)
}

func (s *serverImpl) handleGetReport(c *gin.Context) {
	r, err := s.GetReport(c.Param("code"))
	if err == server.ErrReportNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r)
}

// handlePredict 接收multipart表单，image为图片，temperature、spo2、spirometer可选，三者都提供时给出建议
func (s *serverImpl) handlePredict(c *gin.Context) {
	file, header, err := c.Request.FormFile(formImage)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少图片文件"})
		return
	}
	defer func() {
		_ = file.Close()
	}()

	var vitals *server.Vitals
	if c.PostForm(formTemperature) != "" || c.PostForm(formSpO2) != "" || c.PostForm(formSpirometer) != "" {
		vitals, err = parseVitals(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := s.Predict(header.Filename, file, vitals)
	if errors.Cause(err) == errBadImage {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func readUpload(c *gin.Context) ([]byte, error) {
	file, _, err := c.Request.FormFile(formImage)
	if err != nil {
		return nil, errors.Wrap(errBadImage, "缺少图片文件")
	}
	defer func() {
		_ = file.Close()
	}()
	buf := &bytes.Buffer{}
	if _, err = io.Copy(buf, io.LimitReader(file, maxUploadSize+1)); err != nil {
		return nil, errors.Wrap(err, "读取图片出错")
	}
	if buf.Len() > maxUploadSize {
		return nil, errors.Wrap(errBadImage, "图片过大")
	}
	return buf.Bytes(), nil
}
