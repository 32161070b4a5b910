package inference

import (
	"github.com/packagewjx/xray-classifier/internal"
	"github.com/packagewjx/xray-classifier/internal/nn"
	"github.com/packagewjx/xray-classifier/internal/saliency"
	"github.com/pkg/errors"
	"image"
	"log"
	"os"
	"sync"
)

type Prediction struct {
	Label       string
	Probability float64 // Pneumonia的概率
}

// Confidence 预测类别的置信度
func (p *Prediction) Confidence() float64 {
	if p.Label == internal.ClassPneumonia {
		return p.Probability
	}
	return 1 - p.Probability
}

func newPrediction(probability float64) *Prediction {
	return &Prediction{Label: internal.ClassOf(probability), Probability: probability}
}

type Predictor interface {
	Predict(in Input) (*Prediction, error)
	// 模型输入的尺寸
	InputSize() (h, w int, err error)
	Close() error
}

type Explanation struct {
	Prediction *Prediction
	Heatmap    *saliency.Map
	Source     image.Image
	Overlay    *image.RGBA
}

// Explainer 能够给出热力图的Predictor
type Explainer interface {
	Predictor
	Explain(in Input, layer string, alpha float64) (*Explanation, error)
}

// nativePredictor 使用本项目训练得到的模型，第一次使用时才加载
type nativePredictor struct {
	path   string
	once   sync.Once
	model  *nn.Model
	err    error
	mu     sync.Mutex
	logger *log.Logger
}

var _ Explainer = &nativePredictor{}

func NewNativePredictor(modelPath string) Explainer {
	return &nativePredictor{
		path:   modelPath,
		logger: log.New(os.Stdout, "Predictor: ", log.LstdFlags|log.Lshortfile|log.Lmsgprefix),
	}
}

// NewNativePredictorFromModel 使用已经加载的模型
func NewNativePredictorFromModel(model *nn.Model) Explainer {
	p := &nativePredictor{
		model:  model,
		logger: log.New(os.Stdout, "Predictor: ", log.LstdFlags|log.Lshortfile|log.Lmsgprefix),
	}
	p.once.Do(func() {})
	return p
}

func (p *nativePredictor) load() (*nn.Model, error) {
	p.once.Do(func() {
		p.logger.Printf("正在加载模型%s\n", p.path)
		p.model, p.err = nn.Load(p.path)
		if p.err != nil {
			p.err = errors.Wrap(p.err, "加载模型出错")
		}
	})
	return p.model, p.err
}

func (p *nativePredictor) InputSize() (int, int, error) {
	model, err := p.load()
	if err != nil {
		return 0, 0, err
	}
	arch := model.Architecture()
	return arch.InputHeight, arch.InputWidth, nil
}

func (p *nativePredictor) prepare(in Input) (*nn.Model, *nn.Tensor, image.Image, error) {
	model, err := p.load()
	if err != nil {
		return nil, nil, nil, err
	}
	arch := model.Architecture()
	x, source, err := in.Normalize(arch.InputHeight, arch.InputWidth)
	if err != nil {
		return nil, nil, nil, err
	}
	return model, x, source, nil
}

func (p *nativePredictor) Predict(in Input) (*Prediction, error) {
	model, x, _, err := p.prepare(in)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	probability, err := model.Predict(x)
	if err != nil {
		return nil, err
	}
	return newPrediction(probability), nil
}

func (p *nativePredictor) Explain(in Input, layer string, alpha float64) (*Explanation, error) {
	model, x, source, err := p.prepare(in)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	heatmap, err := saliency.Heatmap(model, x, layer)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	overlay, err := saliency.Overlay(source, heatmap, alpha)
	if err != nil {
		return nil, err
	}
	return &Explanation{
		Prediction: newPrediction(heatmap.Probability),
		Heatmap:    heatmap,
		Source:     source,
		Overlay:    overlay,
	}, nil
}

func (p *nativePredictor) Close() error {
	return nil
}
