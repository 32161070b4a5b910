package server

import (
	"fmt"
	"io"
	"time"
)

// PatientReport 一次诊断的完整记录，保存后不可修改
type PatientReport struct {
	ID                uint      `json:"-"`
	PatientCode       string    `json:"patientCode"`
	PatientName       string    `json:"patientName"`
	Gender            string    `json:"gender"`
	Age               int       `json:"age"`
	Doctor            string    `json:"doctor"`
	Hospital          string    `json:"hospital"`
	Date              string    `json:"date"`        // 检查日期，格式为2006-01-02
	Temperature       float64   `json:"temperature"` // 华氏度
	SpO2              float64   `json:"spo2"`        // 百分比
	Spirometer        float64   `json:"spirometer"`  // 升
	BloodPressure     string    `json:"bloodPressure"`
	HeartRate         int       `json:"heartRate"`
	Symptoms          string    `json:"symptoms"`
	ChronicConditions string    `json:"chronicConditions"`
	ImagePath         string    `json:"imagePath"`
	GradcamPath       string    `json:"gradcamPath"`
	Prediction        string    `json:"prediction"`
	Confidence        float64   `json:"confidence"` // 预测类别的置信度，Normal时为1-Pneumonia的概率
	Recommendation    string    `json:"recommendation"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Vitals 表单中填写的生命体征
type Vitals struct {
	Temperature float64 `json:"temperature"`
	SpO2        float64 `json:"spo2"`
	Spirometer  float64 `json:"spirometer"`
}

type PredictResult struct {
	Label          string   `json:"label"`
	Probability    float64  `json:"probability"` // Pneumonia的概率
	Confidence     float64  `json:"confidence"`  // 预测类别的置信度，总在0.5到1之间
	Flags          []string `json:"flags,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
}

var ErrReportNotFound = fmt.Errorf("不存在该报告")

type API interface {
	ListReports() ([]*PatientReport, error)

	GetReport(code string) (*PatientReport, error)

	// 上传图片并预测，vitals可以为nil
	Predict(filename string, image io.Reader, vitals *Vitals) (*PredictResult, error)
}
