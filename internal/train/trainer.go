package train

import (
	"fmt"
	"github.com/packagewjx/xray-classifier/internal/nn"
	"log"
	"math/rand"
	"os"
)

const (
	DefaultEpochs    = 25
	DefaultBatchSize = 32
)

type Trainer struct {
	Epochs    int
	BatchSize int
	Seed      int64
	Callbacks []Callback
	logger    *log.Logger
}

func NewTrainer(epochs, batchSize int, seed int64, callbacks ...Callback) *Trainer {
	return &Trainer{
		Epochs:    epochs,
		BatchSize: batchSize,
		Seed:      seed,
		Callbacks: callbacks,
		logger:    log.New(os.Stdout, "Trainer: ", log.LstdFlags|log.Lshortfile|log.Lmsgprefix),
	}
}

// Fit 训练模型。每个epoch结束时在val上评估，并按顺序执行回调
func (t *Trainer) Fit(model *nn.Model, train, val *nn.Dataset) (*History, error) {
	if t.Epochs <= 0 || t.BatchSize <= 0 {
		return nil, fmt.Errorf("epochs与batch size必须大于0，现在为%d与%d", t.Epochs, t.BatchSize)
	}
	if train == nil || train.Len() == 0 {
		return nil, fmt.Errorf("训练集为空")
	}
	if val == nil || val.Len() == 0 {
		return nil, fmt.Errorf("验证集为空")
	}

	for _, cb := range t.Callbacks {
		cb.OnTrainBegin(model)
	}

	rng := rand.New(rand.NewSource(t.Seed))
	history := newHistory()
	n := train.Len()
	t.logger.Printf("开始训练，训练集%d个样本，验证集%d个样本\n", n, val.Len())
	for epoch := 0; epoch < t.Epochs; epoch++ {
		perm := rng.Perm(n)
		var lossSum, accSum float64
		for start := 0; start < n; start += t.BatchSize {
			end := start + t.BatchSize
			if end > n {
				end = n
			}
			batch := train.Subset(perm[start:end])
			loss, acc, err := model.TrainBatch(batch.X, batch.Y, rng)
			if err != nil {
				return history, err
			}
			size := float64(end - start)
			lossSum += loss * size
			accSum += acc * size
		}

		valLoss, valAcc, err := model.Evaluate(val)
		if err != nil {
			return history, err
		}
		logs := EpochLog{
			Epoch:       epoch,
			Loss:        lossSum / float64(n),
			Accuracy:    accSum / float64(n),
			ValLoss:     valLoss,
			ValAccuracy: valAcc,
		}
		history.append(logs)
		t.logger.Println(logs)

		stop := false
		for _, cb := range t.Callbacks {
			s, err := cb.OnEpochEnd(model, logs)
			if err != nil {
				return history, err
			}
			stop = stop || s
		}
		if stop {
			history.StoppedAt = epoch
			break
		}
	}
	return history, nil
}
