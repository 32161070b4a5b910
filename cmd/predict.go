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
	"github.com/packagewjx/xray-classifier/internal/inference"
	"github.com/packagewjx/xray-classifier/internal/saliency"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"
)

const (
	FlagOutput          = "output"
	FlagOutputPrecision = "outputPrecision"
	FlagOverlayDir      = "overlay-dir"
	FlagLayer           = "layer"
	FlagAlpha           = "alpha"
	FlagONNXModel       = "onnx-model"
	FlagONNXLibrary     = "onnx-lib"
)

const DefaultOutputPrecision = 4

var (
	outputFile      string
	outputPrecision int
	overlayDir      string
	layer           string
	alpha           float64
	onnxModel       string
	onnxLibrary     string
)

// predictCmd represents the predict command
var predictCmd = &cobra.Command{
	Use:   "predict image...",
	Short: "预测图片是否为肺炎，以csv格式输出，并可输出热力图",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var predictor inference.Predictor
		if onnxModel != "" {
			predictor, err = inference.NewONNXPredictor(inference.ONNXConfig{
				ModelPath:   onnxModel,
				LibraryPath: onnxLibrary,
				Height:      cfg.Pipeline.ImageHeight,
				Width:       cfg.Pipeline.ImageWidth,
			})
			if err != nil {
				return err
			}
		} else {
			predictor = inference.NewNativePredictor(cfg.Pipeline.ModelPath)
		}
		defer func() {
			_ = predictor.Close()
		}()

		explainer, canExplain := predictor.(inference.Explainer)
		if overlayDir != "" {
			if !canExplain {
				return errors.New("ONNX后端不支持热力图")
			}
			if err = os.MkdirAll(overlayDir, 0755); err != nil {
				return errors.Wrap(err, "创建热力图目录出错")
			}
		}

		results := make([]*inference.Result, 0, len(args))
		for _, path := range args {
			content, err := os.ReadFile(path)
			if err != nil {
				log.Printf("读取%s出错，已跳过：%v\n", path, err)
				continue
			}
			in := inference.FromBytes(content)

			if overlayDir == "" {
				prediction, err := predictor.Predict(in)
				if err != nil {
					log.Printf("预测%s出错，已跳过：%v\n", path, err)
					continue
				}
				results = append(results, &inference.Result{Path: path, Prediction: prediction})
				continue
			}

			explanation, err := explainer.Explain(in, layer, alpha)
			if err != nil {
				log.Printf("预测%s出错，已跳过：%v\n", path, err)
				continue
			}
			results = append(results, &inference.Result{Path: path, Prediction: explanation.Prediction})
			if err = writeOverlay(path, explanation); err != nil {
				return err
			}
		}

		out := os.Stdout
		if outputFile != "" {
			out, err = os.Create(outputFile)
			if err != nil {
				return errors.Wrap(err, "创建输出文件错误")
			}
			defer func() {
				_ = out.Close()
			}()
		}
		return errors.Wrap(inference.OutputResult(results, out, outputPrecision), "输出文件错误")
	},
}

func writeOverlay(path string, explanation *inference.Explanation) error {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + "_gradcam.png"
	f, err := os.Create(filepath.Join(overlayDir, name))
	if err != nil {
		return errors.Wrap(err, "创建热力图文件出错")
	}
	if err = png.Encode(f, explanation.Overlay); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "写入热力图出错")
	}
	return errors.Wrap(f.Close(), "写入热力图出错")
}

func init() {
	rootCmd.AddCommand(predictCmd)

	predictCmd.Flags().StringVarP(&outputFile, FlagOutput, "o", "", "输出的csv文件，默认输出到标准输出")
	predictCmd.Flags().IntVarP(&outputPrecision, FlagOutputPrecision, "p", DefaultOutputPrecision,
		"输出概率的精度，默认为4")
	predictCmd.Flags().StringVar(&overlayDir, FlagOverlayDir, "", "热力图输出目录，为空时不生成热力图")
	predictCmd.Flags().StringVar(&layer, FlagLayer, saliency.DefaultLayer, "计算热力图的卷积层")
	predictCmd.Flags().Float64Var(&alpha, FlagAlpha, saliency.DefaultAlpha, "热力图叠加的透明度")
	predictCmd.Flags().StringVar(&onnxModel, FlagONNXModel, "", "使用ONNX模型预测，此时不支持热力图")
	predictCmd.Flags().StringVar(&onnxLibrary, FlagONNXLibrary, "", "onnxruntime动态库路径")
}
