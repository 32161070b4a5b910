package server

import (
	"github.com/packagewjx/xray-classifier/internal"
	"github.com/packagewjx/xray-classifier/pkg/server"
	"strings"
)

const (
	FeverTemperature = 100.5 // 华氏度，高于此值为发热
	LowSpO2          = 94.0
	ReducedLung      = 2.0 // 升

	FlagFever       = "Fever"
	FlagLowSpO2     = "Low SpO₂"
	FlagReducedLung = "Reduced lung"
	FlagAbnormalRay = "Abnormal X-ray"

	reviewSuffix   = ". Clinical review recommended."
	allNormalText  = "All findings normal. Routine care only."
	flagsSeparator = " | "
)

// Recommend 根据生命体征与预测类别给出提示与建议，flags按固定顺序排列
func Recommend(vitals server.Vitals, label string) (flags []string, recommendation string) {
	if vitals.Temperature > FeverTemperature {
		flags = append(flags, FlagFever)
	}
	if vitals.SpO2 < LowSpO2 {
		flags = append(flags, FlagLowSpO2)
	}
	if vitals.Spirometer < ReducedLung {
		flags = append(flags, FlagReducedLung)
	}
	if label == internal.ClassPneumonia {
		flags = append(flags, FlagAbnormalRay)
	}
	if len(flags) == 0 {
		return nil, allNormalText
	}
	return flags, strings.Join(flags, flagsSeparator) + reviewSuffix
}
