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
	"github.com/packagewjx/xray-classifier/internal/config"
	"github.com/packagewjx/xray-classifier/internal/evaluate"
	"github.com/packagewjx/xray-classifier/internal/nn"
	"github.com/packagewjx/xray-classifier/internal/preprocess"
	"github.com/spf13/cobra"
	"log"
)

const FlagTestDir = "test-dir"

// evaluateCmd represents the evaluate command
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "在测试集上评估模型，输出分类报告、混淆矩阵与ROC曲线",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p := cfg.Pipeline

		model, err := nn.Load(p.ModelPath)
		if err != nil {
			return err
		}
		model.SetWorkers(p.Workers)
		arch := model.Architecture()
		p.ImageHeight, p.ImageWidth = arch.InputHeight, arch.InputWidth

		corpus, err := loadCorpus(&p, p.TestDir)
		if err != nil {
			return err
		}
		data, err := preprocess.ToDataset(corpus, preprocess.Default())
		if err != nil {
			return err
		}

		metrics, err := evaluate.Evaluate(model, data)
		if err != nil {
			return err
		}
		fmt.Println(metrics)
		if err = evaluate.RenderAll(p.PlotsDir, nil, metrics); err != nil {
			return err
		}
		log.Printf("图表与指标已写入%s\n", p.PlotsDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().String(FlagTestDir, config.DefaultTestDir, "测试集目录")
	bindFlag("pipeline.test_dir", evaluateCmd.Flags().Lookup(FlagTestDir))
}
