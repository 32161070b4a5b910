package saliency

import (
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"gonum.org/v1/plot/palette/moreland"
	"image"
	"image/color"
)

// Colorize 使用蓝-红发散色表将热力图转换为图片，尺寸与热力图相同
func (m *Map) Colorize() (*image.RGBA, error) {
	cm := moreland.SmoothBlueRed()
	cm.SetMin(0)
	cm.SetMax(1)

	img := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			c, err := cm.At(m.At(y, x))
			if err != nil {
				return nil, errors.Wrap(err, "热力图取色出错")
			}
			img.Set(x, y, c)
		}
	}
	return img, nil
}

// Overlay 将热力图双线性放大到src的尺寸，并以alpha的透明度叠加在src上
func Overlay(src image.Image, m *Map, alpha float64) (*image.RGBA, error) {
	if alpha < 0 || alpha > 1 {
		return nil, errors.Errorf("透明度%v不在[0,1]之间", alpha)
	}
	heat, err := m.Colorize()
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	rect := image.Rect(0, 0, bounds.Dx(), bounds.Dy())
	scaled := image.NewRGBA(rect)
	draw.BiLinear.Scale(scaled, rect, heat, heat.Bounds(), draw.Src, nil)

	out := image.NewRGBA(rect)
	draw.Draw(out, rect, src, bounds.Min, draw.Src)
	mask := image.NewUniform(color.Alpha{A: uint8(alpha*255 + 0.5)})
	draw.DrawMask(out, rect, scaled, image.Point{}, mask, image.Point{}, draw.Over)
	return out, nil
}
