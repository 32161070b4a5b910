package preprocess

import (
	"fmt"
	"github.com/packagewjx/xray-classifier/internal"
	"github.com/packagewjx/xray-classifier/internal/dataset"
	"github.com/packagewjx/xray-classifier/internal/nn"
	"runtime"
	"sync"
)

func Rescale() Preprocessor {
	return &rescale{divisor: internal.MaxPixelValue}
}

type rescale struct {
	divisor float64
}

func (r rescale) Preprocess(x *nn.Tensor) {
	for i := range x.Data {
		x.Data[i] /= r.divisor
	}
}

// Clip 将数值限制在[0,1]。对8位图片不起作用，用于处理外部传入的张量
func Clip() Preprocessor {
	return &clip{}
}

type clip struct {
}

func (c clip) Preprocess(x *nn.Tensor) {
	for i, v := range x.Data {
		if v < 0 {
			x.Data[i] = 0
		} else if v > 1 {
			x.Data[i] = 1
		}
	}
}

// ToTensor 将像素原样转换为浮点张量，数值范围为0到255
func ToTensor(sample *dataset.ImageSample) (*nn.Tensor, error) {
	if len(sample.Pixels) != sample.Height*sample.Width*internal.NumChannels {
		return nil, fmt.Errorf("图片%s的像素数量%d与尺寸%dx%d不符", sample.Path, len(sample.Pixels),
			sample.Height, sample.Width)
	}
	x := nn.NewTensor(sample.Height, sample.Width, internal.NumChannels)
	for i, p := range sample.Pixels {
		x.Data[i] = float64(p)
	}
	return x, nil
}

// Transform 将所有样本转换为张量并执行processor，结果顺序与输入一致
func Transform(samples []*dataset.ImageSample, processor Preprocessor) ([]*nn.Tensor, error) {
	result := make([]*nn.Tensor, len(samples))
	errs := make([]error, len(samples))
	workers := runtime.NumCPU()
	if workers > len(samples) {
		workers = len(samples)
	}

	wg := sync.WaitGroup{}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := worker; i < len(samples); i += workers {
				x, err := ToTensor(samples[i])
				if err != nil {
					errs[i] = err
					continue
				}
				processor.Preprocess(x)
				result[i] = x
			}
		}(w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}
