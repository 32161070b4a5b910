// Package saliency 基于最后一个卷积层的梯度计算类激活热力图（Grad-CAM）
package saliency

import (
	"fmt"
	"github.com/packagewjx/xray-classifier/internal"
	"github.com/packagewjx/xray-classifier/internal/nn"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

const (
	DefaultLayer = nn.DefaultLastConv
	DefaultAlpha = 0.4
)

// Map 低分辨率的热力图，数值范围为[0,1]，按行存放
type Map struct {
	Height      int
	Width       int
	Values      []float64
	Probability float64 // 模型输出的Pneumonia概率
	Label       int
}

func (m *Map) At(y, x int) float64 {
	return m.Values[y*m.Width+x]
}

func (m *Map) Max() float64 {
	if len(m.Values) == 0 {
		return 0
	}
	return floats.Max(m.Values)
}

// Heatmap 计算x在layer层上对预测类别的热力图。layer不存在时返回nn.ErrLayerNotFound
func Heatmap(model *nn.Model, x *nn.Tensor, layer string) (*Map, error) {
	act, grad, p, err := model.LayerGradients(x, layer)
	if err != nil {
		return nil, err
	}
	if act.Shape != grad.Shape {
		return nil, fmt.Errorf("层%s的输出与梯度形状不一致", layer)
	}
	if act.H == 1 && act.W == 1 {
		return nil, errors.Wrap(fmt.Errorf("层%s的输出没有空间维度", layer), "无法计算热力图")
	}

	// 每个通道的权重为梯度的空间平均
	weights := make([]float64, act.C)
	for i, g := range grad.Data {
		weights[i%act.C] += g
	}
	floats.Scale(1/float64(act.H*act.W), weights)

	m := &Map{
		Height:      act.H,
		Width:       act.W,
		Values:      make([]float64, act.H*act.W),
		Probability: p,
		Label:       internal.LabelOf(p),
	}
	for i := range m.Values {
		v := floats.Dot(weights, act.Data[i*act.C:(i+1)*act.C])
		if v > 0 {
			m.Values[i] = v
		}
	}
	if peak := m.Max(); peak > 0 {
		for i, v := range m.Values {
			m.Values[i] = v / peak
		}
	}
	return m, nil
}
