package preprocess

import (
	"github.com/packagewjx/xray-classifier/internal/nn"
)

// Preprocessor 原地修改一个样本张量
type Preprocessor interface {
	Preprocess(x *nn.Tensor)
}

type defaultPreprocess struct {
	chain []Preprocessor
}

func (d *defaultPreprocess) Preprocess(x *nn.Tensor) {
	for _, processor := range d.chain {
		processor.Preprocess(x)
	}
}

func Chain(processors ...Preprocessor) Preprocessor {
	return &defaultPreprocess{chain: processors}
}

// Default 训练与推理共用的处理流程
func Default() Preprocessor {
	return Chain(Rescale(), Clip())
}
