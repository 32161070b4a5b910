package inference

import (
	"fmt"
	"github.com/packagewjx/xray-classifier/internal"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"log"
	"os"
	"sync"
)

const (
	DefaultONNXInputName  = "input"
	DefaultONNXOutputName = "output"
)

// ONNXConfig 同一网络结构导出的ONNX模型，输入为[1,H,W,3]，输出为[1,1]的sigmoid概率
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string // onnxruntime动态库路径，为空时使用默认搜索路径
	InputName   string
	OutputName  string
	Height      int
	Width       int
}

func (c *ONNXConfig) Complete() error {
	if c.ModelPath == "" {
		return fmt.Errorf("未指定ONNX模型路径")
	}
	if _, err := os.Stat(c.ModelPath); err != nil {
		return errors.Wrap(err, "读取ONNX模型出错")
	}
	if c.Height <= 0 || c.Width <= 0 {
		return fmt.Errorf("输入尺寸错误：%dx%d", c.Height, c.Width)
	}
	if c.InputName == "" {
		c.InputName = DefaultONNXInputName
	}
	if c.OutputName == "" {
		c.OutputName = DefaultONNXOutputName
	}
	return nil
}

type onnxPredictor struct {
	config       ONNXConfig
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
	logger       *log.Logger
}

var _ Predictor = &onnxPredictor{}

func NewONNXPredictor(config ONNXConfig) (Predictor, error) {
	if err := config.Complete(); err != nil {
		return nil, err
	}
	if config.LibraryPath != "" {
		ort.SetSharedLibraryPath(config.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errors.Wrap(err, "初始化ONNX环境出错")
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(config.Height), int64(config.Width),
		internal.NumChannels))
	if err != nil {
		_ = ort.DestroyEnvironment()
		return nil, errors.Wrap(err, "创建输入张量出错")
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		_ = inputTensor.Destroy()
		_ = ort.DestroyEnvironment()
		return nil, errors.Wrap(err, "创建输出张量出错")
	}
	session, err := ort.NewAdvancedSession(config.ModelPath,
		[]string{config.InputName}, []string{config.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		_ = inputTensor.Destroy()
		_ = outputTensor.Destroy()
		_ = ort.DestroyEnvironment()
		return nil, errors.Wrap(err, "创建ONNX会话出错")
	}

	return &onnxPredictor{
		config:       config,
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		logger:       log.New(os.Stdout, "ONNXPredictor: ", log.LstdFlags|log.Lshortfile|log.Lmsgprefix),
	}, nil
}

func (o *onnxPredictor) InputSize() (int, int, error) {
	return o.config.Height, o.config.Width, nil
}

func (o *onnxPredictor) Predict(in Input) (*Prediction, error) {
	x, _, err := in.Normalize(o.config.Height, o.config.Width)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	data := o.inputTensor.GetData()
	for i, v := range x.Data {
		data[i] = float32(v)
	}
	if err = o.session.Run(); err != nil {
		return nil, errors.Wrap(err, "ONNX推理出错")
	}
	return newPrediction(float64(o.outputTensor.GetData()[0])), nil
}

func (o *onnxPredictor) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		_ = o.session.Destroy()
	}
	if o.inputTensor != nil {
		_ = o.inputTensor.Destroy()
	}
	if o.outputTensor != nil {
		_ = o.outputTensor.Destroy()
	}
	o.logger.Println("已释放ONNX会话")
	return errors.Wrap(ort.DestroyEnvironment(), "释放ONNX环境出错")
}
