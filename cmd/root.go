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
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/packagewjx/xray-classifier/internal/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"os"
	"strings"
)

const (
	envPrefix      = "XRAY"
	configFileName = ".xray-classifier"
)

// Global Flags
const (
	FlagConfig    = "config"
	FlagModel     = "model"
	FlagPlotsDir  = "plots-dir"
	FlagDBDriver  = "db-driver"
	FlagDBDSN     = "db-dsn"
	FlagWorkers   = "workers"
	FlagImageSize = "image-size"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "xray-classifier",
	Short: "胸部X光片肺炎分类工具",
	Long: "读取按类别存放的胸部X光片训练卷积神经网络，评估模型并生成图表，\n" +
		"并提供网页前端，对上传的X光片进行预测、生成热力图，保存病人报告并导出PDF。",
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, FlagConfig, "",
		"配置文件路径，默认为$HOME/.xray-classifier.yaml")
	rootCmd.PersistentFlags().String(FlagModel, config.DefaultModelPath, "模型文件路径")
	rootCmd.PersistentFlags().String(FlagPlotsDir, config.DefaultPlotsDir, "图表与metrics.json的输出目录")
	rootCmd.PersistentFlags().String(FlagDBDriver, config.DefaultStoreDriver,
		"报告数据库驱动，可选值：sqlite, mysql, postgres")
	rootCmd.PersistentFlags().String(FlagDBDSN, config.DefaultStoreDSN, "报告数据库连接字符串")
	rootCmd.PersistentFlags().Int(FlagWorkers, 0, "并发数量，默认为CPU核数")
	rootCmd.PersistentFlags().Int(FlagImageSize, config.DefaultImageSize, "模型输入图片的边长")

	bindFlag("pipeline.model_path", rootCmd.PersistentFlags().Lookup(FlagModel))
	bindFlag("pipeline.plots_dir", rootCmd.PersistentFlags().Lookup(FlagPlotsDir))
	bindFlag("store.driver", rootCmd.PersistentFlags().Lookup(FlagDBDriver))
	bindFlag("store.dsn", rootCmd.PersistentFlags().Lookup(FlagDBDSN))
	bindFlag("pipeline.workers", rootCmd.PersistentFlags().Lookup(FlagWorkers))
	bindFlag("pipeline.image_height", rootCmd.PersistentFlags().Lookup(FlagImageSize))
	bindFlag("pipeline.image_width", rootCmd.PersistentFlags().Lookup(FlagImageSize))

	setDefaults(config.Default())
}

func bindFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("绑定参数%s出错：%v", key, err))
	}
}

// setDefaults 让所有配置项都能通过环境变量覆盖
func setDefaults(c *config.Config) {
	p := c.Pipeline
	defaults := map[string]interface{}{
		"pipeline.image_height":     p.ImageHeight,
		"pipeline.image_width":      p.ImageWidth,
		"pipeline.batch_size":       p.BatchSize,
		"pipeline.epochs":           p.Epochs,
		"pipeline.dropout_conv":     p.DropoutConv,
		"pipeline.dropout_dense":    p.DropoutDense,
		"pipeline.patience":         p.Patience,
		"pipeline.validation_split": p.ValidationSplit,
		"pipeline.seed":             p.Seed,
		"pipeline.workers":          p.Workers,
		"pipeline.train_dir":        p.TrainDir,
		"pipeline.val_dir":          p.ValDir,
		"pipeline.test_dir":         p.TestDir,
		"pipeline.model_path":       p.ModelPath,
		"pipeline.plots_dir":        p.PlotsDir,
		"store.driver":              c.Store.Driver,
		"store.dsn":                 c.Store.DSN,
		"store.log_level":           c.Store.LogLevel,
	}
	for k, v := range defaults {
		viper.SetDefault(k, v)
	}
}

// initConfig reads in .env, config file and ENV variables if set.
func initConfig() {
	// .env不存在时忽略
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(configFileName)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Printf("读取配置文件%s出错：%v\n", cfgFile, err)
		os.Exit(1)
	}
}

// loadConfig 合并默认值、配置文件、环境变量与命令行参数
func loadConfig() (*config.Config, error) {
	c := config.Default()
	if err := viper.Unmarshal(c); err != nil {
		return nil, errors.Wrap(err, "解析配置出错")
	}
	if err := c.Complete(); err != nil {
		return nil, errors.Wrap(err, "配置错误")
	}
	return c, nil
}
