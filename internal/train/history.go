package train

import (
	"encoding/json"
	"fmt"
	"math"
)

const (
	MonitorValLoss = "val_loss"
)

// EpochLog 一个epoch结束时的指标
type EpochLog struct {
	Epoch       int     `json:"epoch"`
	Loss        float64 `json:"loss"`
	Accuracy    float64 `json:"accuracy"`
	ValLoss     float64 `json:"val_loss"`
	ValAccuracy float64 `json:"val_accuracy"`
}

func (l EpochLog) String() string {
	return fmt.Sprintf("epoch %d - loss: %.4f - accuracy: %.4f - val_loss: %.4f - val_accuracy: %.4f",
		l.Epoch+1, l.Loss, l.Accuracy, l.ValLoss, l.ValAccuracy)
}

// History 训练过程中每个epoch的指标，只存在于内存中
type History struct {
	Epochs      []EpochLog `json:"epochs"`
	StoppedAt   int        `json:"stopped_at"` // 提前停止时的epoch，未提前停止为-1
	BestEpoch   int        `json:"best_epoch"`
	BestValLoss float64    `json:"best_val_loss"`
}

func newHistory() *History {
	return &History{StoppedAt: -1, BestEpoch: -1, BestValLoss: math.Inf(1)}
}

func (h *History) append(l EpochLog) {
	h.Epochs = append(h.Epochs, l)
	if l.ValLoss < h.BestValLoss {
		h.BestValLoss = l.ValLoss
		h.BestEpoch = l.Epoch
	}
}

func (h *History) series(f func(l EpochLog) float64) []float64 {
	result := make([]float64, len(h.Epochs))
	for i, l := range h.Epochs {
		result[i] = f(l)
	}
	return result
}

func (h *History) Loss() []float64 {
	return h.series(func(l EpochLog) float64 { return l.Loss })
}

func (h *History) Accuracy() []float64 {
	return h.series(func(l EpochLog) float64 { return l.Accuracy })
}

func (h *History) ValLoss() []float64 {
	return h.series(func(l EpochLog) float64 { return l.ValLoss })
}

func (h *History) ValAccuracy() []float64 {
	return h.series(func(l EpochLog) float64 { return l.ValAccuracy })
}

func (h *History) String() string {
	marshal, _ := json.Marshal(h)
	return string(marshal)
}
