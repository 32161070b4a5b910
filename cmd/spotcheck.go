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
	"github.com/spf13/cobra"
)

const (
	FlagSpotCheckDir  = "dir"
	FlagSpotCheckSize = "num"
)

const DefaultSpotCheckSize = 10

var (
	spotCheckDir  string
	spotCheckSize int
	spotCheckSeed int64
)

// spotcheckCmd represents the spotcheck command
var spotcheckCmd = &cobra.Command{
	Use:   "spotcheck",
	Short: "从目录中每个类别随机抽取图片预测，快速检查模型是否正常",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		model, err := nn.Load(cfg.Pipeline.ModelPath)
		if err != nil {
			return err
		}
		model.SetWorkers(cfg.Pipeline.Workers)

		result, err := evaluate.SpotCheck(model, spotCheckDir, spotCheckSize, spotCheckSeed)
		if err != nil {
			return err
		}
		fmt.Print(result)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(spotcheckCmd)

	spotcheckCmd.Flags().StringVarP(&spotCheckDir, FlagSpotCheckDir, "d", config.DefaultValDir, "抽样的目录")
	spotcheckCmd.Flags().IntVarP(&spotCheckSize, FlagSpotCheckSize, "n", DefaultSpotCheckSize,
		"抽样数量，每个类别最多抽取一半")
	spotcheckCmd.Flags().Int64Var(&spotCheckSeed, FlagSeed, config.DefaultSeed, "随机种子")
}
