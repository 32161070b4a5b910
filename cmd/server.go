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
	"github.com/packagewjx/xray-classifier/internal/evaluate"
	"github.com/packagewjx/xray-classifier/internal/inference"
	"github.com/packagewjx/xray-classifier/internal/saliency"
	"github.com/packagewjx/xray-classifier/internal/server"
	"github.com/spf13/cobra"
	"path/filepath"
)

const (
	FlagPort      = "port"
	FlagUploadDir = "upload-dir"
	FlagBackend   = "backend"
)

var (
	port          uint16
	uploadDir     string
	backend       string
	serverLayer   string
	serverAlpha   float64
	serverONNX    string
	serverONNXLib string
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "X光片诊断网页前端",
	Long: "启动网页前端。用户填写病人信息与生命体征并上传X光片后，服务器给出预测结果、热力图与建议，\n" +
		"确认后保存报告，报告可以在页面查看并导出PDF。/api下提供JSON接口。",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		s, err := server.NewServer(&server.ServerConfig{
			Port:        port,
			UploadDir:   uploadDir,
			MetricsPath: filepath.Join(cfg.Pipeline.PlotsDir, evaluate.MetricsFile),
			Backend:     backend,
			ModelPath:   cfg.Pipeline.ModelPath,
			ONNX: inference.ONNXConfig{
				ModelPath:   serverONNX,
				LibraryPath: serverONNXLib,
				Height:      cfg.Pipeline.ImageHeight,
				Width:       cfg.Pipeline.ImageWidth,
			},
			Layer: serverLayer,
			Alpha: serverAlpha,
			Store: cfg.Store,
		})
		if err != nil {
			return err
		}

		return s.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().Uint16VarP(&port, FlagPort, "p", server.DefaultPort, "服务端口号")
	serverCmd.Flags().StringVar(&uploadDir, FlagUploadDir, server.DefaultUploadDir, "上传图片与热力图的保存目录")
	serverCmd.Flags().StringVar(&backend, FlagBackend, server.DefaultBackend, "推理后端，可选值：native, onnx")
	serverCmd.Flags().StringVar(&serverLayer, FlagLayer, saliency.DefaultLayer, "计算热力图的卷积层")
	serverCmd.Flags().Float64Var(&serverAlpha, FlagAlpha, saliency.DefaultAlpha, "热力图叠加的透明度")
	serverCmd.Flags().StringVar(&serverONNX, FlagONNXModel, "", "onnx后端使用的模型文件")
	serverCmd.Flags().StringVar(&serverONNXLib, FlagONNXLibrary, "", "onnxruntime动态库路径")
}
