/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"github.com/packagewjx/xray-classifier/internal"
	"github.com/packagewjx/xray-classifier/internal/config"
	"github.com/packagewjx/xray-classifier/internal/dataset"
	"github.com/packagewjx/xray-classifier/internal/evaluate"
	"github.com/packagewjx/xray-classifier/internal/nn"
	"github.com/packagewjx/xray-classifier/internal/preprocess"
	"github.com/packagewjx/xray-classifier/internal/train"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"log"
)

const (
	FlagTrainDir        = "train-dir"
	FlagValDir          = "val-dir"
	FlagEpochs          = "epochs"
	FlagBatchSize       = "batch-size"
	FlagPatience        = "patience"
	FlagValidationSplit = "validation-split"
	FlagSeed            = "seed"
	FlagDropoutConv     = "dropout-conv"
	FlagDropoutDense    = "dropout-dense"
	FlagUseValDir       = "use-val-dir"
)

var useValDir bool

// trainCmd represents the train command
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "训练模型，保存验证集损失最低的模型，并输出训练曲线与评估图表",
	Long: "读取训练目录下NORMAL与PNEUMONIA两个子目录中的图片，默认按validation-split分层划分出验证集。\n" +
		"验证集损失连续patience个epoch没有下降时提前停止，并恢复最佳权重。\n" +
		"训练结束后在验证集上评估，图表与metrics.json写入plots-dir。",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p := cfg.Pipeline

		trainSet, valSet, err := loadTrainingData(&p)
		if err != nil {
			return err
		}

		model, err := nn.New(nn.DefaultArchitecture(p.ImageHeight, p.ImageWidth, p.DropoutConv, p.DropoutDense), p.Seed)
		if err != nil {
			return err
		}
		model.SetWorkers(p.Workers)
		fmt.Print(model.Summary())

		trainer := train.NewTrainer(p.Epochs, p.BatchSize, p.Seed,
			train.NewEarlyStopping(p.Patience, true),
			train.NewModelCheckpoint(p.ModelPath, true))
		history, model, err := fitBest(trainer, model, trainSet, valSet, p.ModelPath)
		if err != nil {
			return err
		}
		model.SetWorkers(p.Workers)
		fmt.Print(history)

		metrics, err := evaluate.Evaluate(model, valSet)
		if err != nil {
			return err
		}
		fmt.Println(metrics)
		if err = evaluate.RenderAll(p.PlotsDir, history, metrics); err != nil {
			return err
		}
		log.Printf("模型已保存到%s，图表已写入%s\n", p.ModelPath, p.PlotsDir)
		return nil
	},
}

// fitBest 训练后重新读取检查点，使评估结果对应实际保存的模型
func fitBest(trainer *train.Trainer, model *nn.Model, trainSet, valSet *nn.Dataset,
	modelPath string) (*train.History, *nn.Model, error) {
	history, err := trainer.Fit(model, trainSet, valSet)
	if err != nil {
		return nil, nil, errors.Wrap(err, "训练出错")
	}
	best, err := nn.Load(modelPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "读取最佳模型出错")
	}
	return history, best, nil
}

func loadCorpus(p *config.Pipeline, dir string) (*dataset.Corpus, error) {
	log.Printf("读取%s中的图片\n", dir)
	corpus, err := dataset.NewLoader(dataset.Options{
		Height:  p.ImageHeight,
		Width:   p.ImageWidth,
		Classes: internal.CorpusDirs,
		Workers: p.Workers,
	}).Load(dir)
	if err != nil {
		return nil, err
	}
	log.Printf("读取完成，各类别数量%v，跳过%d个无法解码的文件\n", corpus.Counts(), corpus.Skipped)
	return corpus, nil
}

func loadTrainingData(p *config.Pipeline) (*nn.Dataset, *nn.Dataset, error) {
	corpus, err := loadCorpus(p, p.TrainDir)
	if err != nil {
		return nil, nil, err
	}
	if !useValDir {
		split, err := preprocess.Prepare(corpus, p.ValidationSplit, p.Seed)
		if err != nil {
			return nil, nil, errors.Wrap(err, "划分验证集出错")
		}
		return split.Train, split.Held, nil
	}

	trainSet, err := preprocess.ToDataset(corpus, preprocess.Default())
	if err != nil {
		return nil, nil, err
	}
	valCorpus, err := loadCorpus(p, p.ValDir)
	if err != nil {
		return nil, nil, err
	}
	valSet, err := preprocess.ToDataset(valCorpus, preprocess.Default())
	if err != nil {
		return nil, nil, err
	}
	return trainSet, valSet, nil
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().String(FlagTrainDir, config.DefaultTrainDir, "训练集目录")
	trainCmd.Flags().String(FlagValDir, config.DefaultValDir, "验证集目录，仅在use-val-dir时使用")
	trainCmd.Flags().BoolVar(&useValDir, FlagUseValDir, false, "使用val-dir作为验证集，而不是从训练集中划分")
	trainCmd.Flags().Int(FlagEpochs, config.DefaultEpochs, "最大训练轮次")
	trainCmd.Flags().Int(FlagBatchSize, config.DefaultBatchSize, "batch大小")
	trainCmd.Flags().Int(FlagPatience, config.DefaultPatience, "验证集损失不下降多少个epoch后停止")
	trainCmd.Flags().Float64(FlagValidationSplit, config.DefaultValidationSplit, "从训练集划分出的验证集比例")
	trainCmd.Flags().Int64(FlagSeed, config.DefaultSeed, "随机种子")
	trainCmd.Flags().Float64(FlagDropoutConv, config.DefaultDropoutConv, "卷积层后的dropout比例")
	trainCmd.Flags().Float64(FlagDropoutDense, config.DefaultDropoutDense, "全连接层后的dropout比例")

	bindFlag("pipeline.train_dir", trainCmd.Flags().Lookup(FlagTrainDir))
	bindFlag("pipeline.val_dir", trainCmd.Flags().Lookup(FlagValDir))
	bindFlag("pipeline.epochs", trainCmd.Flags().Lookup(FlagEpochs))
	bindFlag("pipeline.batch_size", trainCmd.Flags().Lookup(FlagBatchSize))
	bindFlag("pipeline.patience", trainCmd.Flags().Lookup(FlagPatience))
	bindFlag("pipeline.validation_split", trainCmd.Flags().Lookup(FlagValidationSplit))
	bindFlag("pipeline.seed", trainCmd.Flags().Lookup(FlagSeed))
	bindFlag("pipeline.dropout_conv", trainCmd.Flags().Lookup(FlagDropoutConv))
	bindFlag("pipeline.dropout_dense", trainCmd.Flags().Lookup(FlagDropoutDense))
}
