package inference

import (
	"bytes"
	"fmt"
	"github.com/packagewjx/xray-classifier/internal"
	"github.com/packagewjx/xray-classifier/internal/dataset"
	"github.com/packagewjx/xray-classifier/internal/nn"
	"github.com/packagewjx/xray-classifier/internal/preprocess"
	"image"
	"image/color"
)

type InputKind int

const (
	// 未解码的图片文件内容
	RawBytes InputKind = iota
	// 已经解码为张量
	DecodedTensor
)

func (k InputKind) String() string {
	switch k {
	case RawBytes:
		return "RawBytes"
	case DecodedTensor:
		return "DecodedTensor"
	}
	return fmt.Sprintf("InputKind(%d)", int(k))
}

// Input 推理的输入，只能通过FromBytes、FromImage或FromTensor构造
type Input struct {
	Kind   InputKind
	bytes  []byte
	tensor *nn.Tensor
	source image.Image
}

func FromBytes(content []byte) Input {
	return Input{Kind: RawBytes, bytes: content}
}

// FromTensor 数值应已在[0,1]之间，超出部分会被截断
func FromTensor(x *nn.Tensor) Input {
	return Input{Kind: DecodedTensor, tensor: x}
}

// FromImage 将已解码的图片缩放并标准化为h*w的张量，原图保留用于叠加热力图
func FromImage(img image.Image, h, w int) (Input, error) {
	sample := &dataset.ImageSample{Pixels: dataset.ToRGB(img, h, w), Height: h, Width: w}
	x, err := preprocess.ToTensor(sample)
	if err != nil {
		return Input{}, err
	}
	preprocess.Rescale().Preprocess(x)
	return Input{Kind: DecodedTensor, tensor: x, source: img}, nil
}

// Normalize 转换为模型输入，同时返回用于展示的原图
func (in Input) Normalize(h, w int) (*nn.Tensor, image.Image, error) {
	switch in.Kind {
	case RawBytes:
		img, err := dataset.DecodeImage(bytes.NewReader(in.bytes))
		if err != nil {
			return nil, nil, err
		}
		sample := &dataset.ImageSample{Pixels: dataset.ToRGB(img, h, w), Height: h, Width: w}
		x, err := preprocess.ToTensor(sample)
		if err != nil {
			return nil, nil, err
		}
		preprocess.Default().Preprocess(x)
		return x, img, nil
	case DecodedTensor:
		if in.tensor == nil {
			return nil, nil, fmt.Errorf("输入张量为空")
		}
		expected := nn.Shape{H: h, W: w, C: internal.NumChannels}
		if in.tensor.Shape != expected || len(in.tensor.Data) != expected.Size() {
			return nil, nil, fmt.Errorf("输入张量形状应为%v，实际为%v", expected, in.tensor.Shape)
		}
		x := in.tensor.Clone()
		preprocess.Clip().Preprocess(x)
		source := in.source
		if source == nil {
			source = TensorImage(x)
		}
		return x, source, nil
	}
	return nil, nil, fmt.Errorf("未知的输入类型%v", in.Kind)
}

// TensorImage 将[0,1]的张量还原为图片
func TensorImage(x *nn.Tensor) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, x.W, x.H))
	for y := 0; y < x.H; y++ {
		for xx := 0; xx < x.W; xx++ {
			c := color.RGBA{A: 255}
			c.R = uint8(x.At(y, xx, 0)*internal.MaxPixelValue + 0.5)
			c.G = uint8(x.At(y, xx, 1)*internal.MaxPixelValue + 0.5)
			c.B = uint8(x.At(y, xx, 2)*internal.MaxPixelValue + 0.5)
			img.SetRGBA(xx, y, c)
		}
	}
	return img
}
