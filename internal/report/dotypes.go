package report

import (
	"github.com/packagewjx/xray-classifier/pkg/server"
	"time"
)

const TableName = "patient_reports"

type PatientReportDO struct {
	ID                uint   `gorm:"primarykey"`
	PatientCode       string `gorm:"uniqueIndex;type:VARCHAR(64);not null"`
	PatientName       string `gorm:"type:VARCHAR(256)"`
	Gender            string `gorm:"type:VARCHAR(32)"`
	Age               int
	Doctor            string `gorm:"type:VARCHAR(256)"`
	Hospital          string `gorm:"type:VARCHAR(256)"`
	Date              string `gorm:"type:VARCHAR(32)"`
	Temperature       float64
	SpO2              float64 `gorm:"column:spo2"`
	Spirometer        float64
	BloodPressure     string `gorm:"type:VARCHAR(32)"`
	HeartRate         int
	Symptoms          string `gorm:"type:TEXT"`
	ChronicConditions string `gorm:"type:TEXT"`
	ImagePath         string `gorm:"type:VARCHAR(512)"`
	GradcamPath       string `gorm:"type:VARCHAR(512)"`
	Prediction        string `gorm:"type:VARCHAR(32)"`
	Confidence        float64
	Recommendation    string    `gorm:"type:TEXT"`
	CreatedAt         time.Time `gorm:"index"`
}

func (PatientReportDO) TableName() string {
	return TableName
}

func toDO(r *server.PatientReport) *PatientReportDO {
	return &PatientReportDO{
		ID:                r.ID,
		PatientCode:       r.PatientCode,
		PatientName:       r.PatientName,
		Gender:            r.Gender,
		Age:               r.Age,
		Doctor:            r.Doctor,
		Hospital:          r.Hospital,
		Date:              r.Date,
		Temperature:       r.Temperature,
		SpO2:              r.SpO2,
		Spirometer:        r.Spirometer,
		BloodPressure:     r.BloodPressure,
		HeartRate:         r.HeartRate,
		Symptoms:          r.Symptoms,
		ChronicConditions: r.ChronicConditions,
		ImagePath:         r.ImagePath,
		GradcamPath:       r.GradcamPath,
		Prediction:        r.Prediction,
		Confidence:        r.Confidence,
		Recommendation:    r.Recommendation,
		CreatedAt:         r.CreatedAt,
	}
}

func (do *PatientReportDO) toReport() *server.PatientReport {
	return &server.PatientReport{
		ID:                do.ID,
		PatientCode:       do.PatientCode,
		PatientName:       do.PatientName,
		Gender:            do.Gender,
		Age:               do.Age,
		Doctor:            do.Doctor,
		Hospital:          do.Hospital,
		Date:              do.Date,
		Temperature:       do.Temperature,
		SpO2:              do.SpO2,
		Spirometer:        do.Spirometer,
		BloodPressure:     do.BloodPressure,
		HeartRate:         do.HeartRate,
		Symptoms:          do.Symptoms,
		ChronicConditions: do.ChronicConditions,
		ImagePath:         do.ImagePath,
		GradcamPath:       do.GradcamPath,
		Prediction:        do.Prediction,
		Confidence:        do.Confidence,
		Recommendation:    do.Recommendation,
		CreatedAt:         do.CreatedAt,
	}
}
