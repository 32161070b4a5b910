package train

import (
	"github.com/packagewjx/xray-classifier/internal/nn"
	"github.com/pkg/errors"
	"log"
	"math"
	"os"
)

// Callback 在每个epoch结束时按顺序调用
type Callback interface {
	OnTrainBegin(model *nn.Model)
	// 返回true时停止训练
	OnEpochEnd(model *nn.Model, logs EpochLog) (stop bool, err error)
}

var _ Callback = &EarlyStopping{}
var _ Callback = &ModelCheckpoint{}

// EarlyStopping 验证集损失连续Patience个epoch没有下降时停止训练
type EarlyStopping struct {
	Patience           int
	RestoreBestWeights bool

	best        float64
	bestWeights [][]float64
	wait        int
	StoppedAt   int
	logger      *log.Logger
}

func NewEarlyStopping(patience int, restoreBestWeights bool) *EarlyStopping {
	return &EarlyStopping{
		Patience:           patience,
		RestoreBestWeights: restoreBestWeights,
		logger:             log.New(os.Stdout, "EarlyStopping: ", log.LstdFlags|log.Lshortfile|log.Lmsgprefix),
	}
}

func (e *EarlyStopping) OnTrainBegin(_ *nn.Model) {
	e.best = math.Inf(1)
	e.bestWeights = nil
	e.wait = 0
	e.StoppedAt = -1
}

func (e *EarlyStopping) OnEpochEnd(model *nn.Model, logs EpochLog) (bool, error) {
	if logs.ValLoss < e.best {
		e.best = logs.ValLoss
		e.wait = 0
		if e.RestoreBestWeights {
			e.bestWeights = model.Weights()
		}
		return false, nil
	}

	e.wait++
	if e.wait < e.Patience {
		return false, nil
	}
	e.StoppedAt = logs.Epoch
	e.logger.Printf("%s已经%d个epoch没有下降，在第%d个epoch停止训练\n", MonitorValLoss, e.wait, logs.Epoch+1)
	if e.RestoreBestWeights && e.bestWeights != nil {
		e.logger.Printf("恢复最佳权重，%s为%.4f\n", MonitorValLoss, e.best)
		if err := model.SetWeights(e.bestWeights); err != nil {
			return true, errors.Wrap(err, "恢复最佳权重出错")
		}
	}
	return true, nil
}

// ModelCheckpoint 验证集损失比之前所有epoch都低时保存模型
type ModelCheckpoint struct {
	Path         string
	SaveBestOnly bool

	best   float64
	Saved  int // 保存的次数
	logger *log.Logger
}

func NewModelCheckpoint(path string, saveBestOnly bool) *ModelCheckpoint {
	return &ModelCheckpoint{
		Path:         path,
		SaveBestOnly: saveBestOnly,
		logger:       log.New(os.Stdout, "ModelCheckpoint: ", log.LstdFlags|log.Lshortfile|log.Lmsgprefix),
	}
}

func (c *ModelCheckpoint) OnTrainBegin(_ *nn.Model) {
	c.best = math.Inf(1)
	c.Saved = 0
}

func (c *ModelCheckpoint) OnEpochEnd(model *nn.Model, logs EpochLog) (bool, error) {
	if c.SaveBestOnly && !(logs.ValLoss < c.best) {
		return false, nil
	}
	if logs.ValLoss < c.best {
		c.logger.Printf("%s从%.4f下降到%.4f，保存模型到%s\n", MonitorValLoss, c.best, logs.ValLoss, c.Path)
		c.best = logs.ValLoss
	}
	if err := model.Save(c.Path); err != nil {
		return false, errors.Wrap(err, "保存检查点出错")
	}
	c.Saved++
	return false, nil
}
