package server

import (
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/packagewjx/xray-classifier/internal/report"
	"github.com/packagewjx/xray-classifier/pkg/server"
	"github.com/spf13/cast"
	"math"
	"strings"
	"time"
)

// 表单字段名
const (
	formImage             = "image"
	formStagingID         = "staging_id"
	formName              = "name"
	formGender            = "gender"
	formAge               = "age"
	formDoctor            = "doctor"
	formHospital          = "hospital"
	formDate              = "date"
	formTemperature       = "temperature"
	formSpO2              = "spo2"
	formSpirometer        = "spirometer"
	formBloodPressure     = "blood_pressure"
	formHeartRate         = "heart_rate"
	formSymptoms          = "symptoms"
	formChronicConditions = "chronic_conditions"
)

const (
	defaultAge         = 30
	defaultTemperature = 98.6
	defaultSpO2        = 97.0
	defaultSpirometer  = 3.0
	dateLayout         = "2006-01-02"
)

var genders = []string{"Male", "Female", "Other"}

// patientForm 病人信息与生命体征，分析与保存两个步骤之间通过隐藏字段传递
type patientForm struct {
	Name              string
	Gender            string
	Age               int
	Doctor            string
	Hospital          string
	Date              string
	Temperature       float64
	SpO2              float64
	Spirometer        float64
	BloodPressure     string
	HeartRate         int
	Symptoms          string
	ChronicConditions string
}

func defaultForm() patientForm {
	return patientForm{
		Gender:      genders[0],
		Age:         defaultAge,
		Date:        time.Now().Format(dateLayout),
		Temperature: defaultTemperature,
		SpO2:        defaultSpO2,
		Spirometer:  defaultSpirometer,
	}
}

func (f patientForm) Vitals() server.Vitals {
	return server.Vitals{Temperature: f.Temperature, SpO2: f.SpO2, Spirometer: f.Spirometer}
}

// toReport 除编号、图片路径与预测结果外的字段
func (f patientForm) toReport() *server.PatientReport {
	return &server.PatientReport{
		PatientName:       f.Name,
		Gender:            f.Gender,
		Age:               f.Age,
		Doctor:            f.Doctor,
		Hospital:          f.Hospital,
		Date:              f.Date,
		Temperature:       f.Temperature,
		SpO2:              f.SpO2,
		Spirometer:        f.Spirometer,
		BloodPressure:     f.BloodPressure,
		HeartRate:         f.HeartRate,
		Symptoms:          f.Symptoms,
		ChronicConditions: f.ChronicConditions,
	}
}

func postForm(c *gin.Context, key string) string {
	return strings.TrimSpace(c.PostForm(key))
}

func floatField(c *gin.Context, key, label string, def, lo, hi float64) (float64, error) {
	raw := postForm(c, key)
	if raw == "" {
		return def, nil
	}
	v, err := cast.ToFloat64E(raw)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s不是合法的数字：%s", label, raw)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s应在%g到%g之间，现在为%g", label, lo, hi, v)
	}
	return v, nil
}

func intField(c *gin.Context, key, label string, def, lo, hi int) (int, error) {
	raw := postForm(c, key)
	if raw == "" {
		return def, nil
	}
	// 只按十进制解析，cast会把以0开头的数字当作八进制
	f, err := cast.ToFloat64E(raw)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s不是合法的整数：%s", label, raw)
	}
	if f < float64(lo) || f > float64(hi) {
		return 0, fmt.Errorf("%s应在%d到%d之间，现在为%s", label, lo, hi, raw)
	}
	return int(f), nil
}

func parseVitals(c *gin.Context) (*server.Vitals, error) {
	var err error
	vitals := &server.Vitals{}
	if vitals.Temperature, err = floatField(c, formTemperature, "体温", defaultTemperature, 90, 115); err != nil {
		return nil, err
	}
	if vitals.SpO2, err = floatField(c, formSpO2, "血氧饱和度", defaultSpO2, 0, 100); err != nil {
		return nil, err
	}
	if vitals.Spirometer, err = floatField(c, formSpirometer, "肺活量", defaultSpirometer, 0, 10); err != nil {
		return nil, err
	}
	return vitals, nil
}

// parsePatientForm 解析并校验表单，未填写的数值使用默认值
func parsePatientForm(c *gin.Context) (patientForm, error) {
	f := defaultForm()
	f.Name = postForm(c, formName)
	f.Doctor = postForm(c, formDoctor)
	f.Hospital = postForm(c, formHospital)
	f.BloodPressure = postForm(c, formBloodPressure)
	f.Symptoms = postForm(c, formSymptoms)
	f.ChronicConditions = postForm(c, formChronicConditions)

	if gender := postForm(c, formGender); gender != "" {
		f.Gender = ""
		for _, g := range genders {
			if strings.EqualFold(g, gender) {
				f.Gender = g
			}
		}
		if f.Gender == "" {
			return f, fmt.Errorf("不支持的性别：%s", gender)
		}
	}
	if date := postForm(c, formDate); date != "" {
		if report.CodeDate(date) == "" {
			return f, fmt.Errorf("无法解析检查日期：%s", date)
		}
		f.Date = date
	}

	var err error
	if f.Age, err = intField(c, formAge, "年龄", defaultAge, 1, 120); err != nil {
		return f, err
	}
	if f.HeartRate, err = intField(c, formHeartRate, "心率", 0, 0, 300); err != nil {
		return f, err
	}
	vitals, err := parseVitals(c)
	if err != nil {
		return f, err
	}
	f.Temperature, f.SpO2, f.Spirometer = vitals.Temperature, vitals.SpO2, vitals.Spirometer
	return f, nil
}
