package config

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
)

const (
	DefaultImageSize       = 64
	DefaultBatchSize       = 32
	DefaultEpochs          = 25
	DefaultDropoutConv     = 0.2
	DefaultDropoutDense    = 0.4
	DefaultPatience        = 5
	DefaultValidationSplit = 0.2
	DefaultSeed            = 42

	DefaultTrainDir  = "data/train"
	DefaultValDir    = "data/val"
	DefaultTestDir   = "data/test"
	DefaultPlotsDir  = "plots"
	DefaultModelPath = "saved_models/chest_xray_model.gob"

	DefaultStoreDriver = "sqlite"
	DefaultStoreDSN    = "medical_reports.db"
)

// Pipeline 训练、评估与推理共用的配置
type Pipeline struct {
	ImageHeight     int     `mapstructure:"image_height" json:"imageHeight"`
	ImageWidth      int     `mapstructure:"image_width" json:"imageWidth"`
	BatchSize       int     `mapstructure:"batch_size" json:"batchSize"`
	Epochs          int     `mapstructure:"epochs" json:"epochs"`
	DropoutConv     float64 `mapstructure:"dropout_conv" json:"dropoutConv"`
	DropoutDense    float64 `mapstructure:"dropout_dense" json:"dropoutDense"`
	Patience        int     `mapstructure:"patience" json:"patience"`
	ValidationSplit float64 `mapstructure:"validation_split" json:"validationSplit"`
	Seed            int64   `mapstructure:"seed" json:"seed"`
	Workers         int     `mapstructure:"workers" json:"workers"`

	TrainDir  string `mapstructure:"train_dir" json:"trainDir"`
	ValDir    string `mapstructure:"val_dir" json:"valDir"`
	TestDir   string `mapstructure:"test_dir" json:"testDir"`
	ModelPath string `mapstructure:"model_path" json:"modelPath"`
	PlotsDir  string `mapstructure:"plots_dir" json:"plotsDir"`
}

// Store 报告数据库配置
type Store struct {
	Driver   string `mapstructure:"driver" json:"driver"` // sqlite, mysql, postgres
	DSN      string `mapstructure:"dsn" json:"dsn"`
	LogLevel string `mapstructure:"log_level" json:"logLevel"`
}

type Config struct {
	Pipeline Pipeline `mapstructure:"pipeline" json:"pipeline"`
	Store    Store    `mapstructure:"store" json:"store"`
}

func Default() *Config {
	return &Config{
		Pipeline: Pipeline{
			ImageHeight:     DefaultImageSize,
			ImageWidth:      DefaultImageSize,
			BatchSize:       DefaultBatchSize,
			Epochs:          DefaultEpochs,
			DropoutConv:     DefaultDropoutConv,
			DropoutDense:    DefaultDropoutDense,
			Patience:        DefaultPatience,
			ValidationSplit: DefaultValidationSplit,
			Seed:            DefaultSeed,
			Workers:         runtime.NumCPU(),
			TrainDir:        DefaultTrainDir,
			ValDir:          DefaultValDir,
			TestDir:         DefaultTestDir,
			ModelPath:       DefaultModelPath,
			PlotsDir:        DefaultPlotsDir,
		},
		Store: Store{
			Driver:   DefaultStoreDriver,
			DSN:      DefaultStoreDSN,
			LogLevel: "warn",
		},
	}
}

func (c Config) String() string {
	marshal, _ := json.Marshal(c)
	return string(marshal)
}

func (c *Config) Complete() error {
	if err := c.Pipeline.Complete(); err != nil {
		return err
	}
	return c.Store.Complete()
}

func (p *Pipeline) Complete() error {
	if p.ImageHeight < 8 || p.ImageWidth < 8 {
		return fmt.Errorf("图像尺寸至少为8x8，现在为%dx%d", p.ImageHeight, p.ImageWidth)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("batch大小必须为正数，现在为%d", p.BatchSize)
	}
	if p.Epochs <= 0 {
		return fmt.Errorf("训练轮次必须为正数，现在为%d", p.Epochs)
	}
	if p.DropoutConv < 0 || p.DropoutConv >= 1 || p.DropoutDense < 0 || p.DropoutDense >= 1 {
		return fmt.Errorf("dropout比例应在[0,1)之间，现在为%f与%f", p.DropoutConv, p.DropoutDense)
	}
	if p.Patience <= 0 {
		return fmt.Errorf("patience必须为正数，现在为%d", p.Patience)
	}
	if p.ValidationSplit <= 0 || p.ValidationSplit >= 1 {
		return fmt.Errorf("验证集比例应在(0,1)之间，现在为%f", p.ValidationSplit)
	}
	if p.Workers <= 0 {
		p.Workers = runtime.NumCPU()
	}
	if p.ModelPath == "" {
		p.ModelPath = DefaultModelPath
	}
	if p.PlotsDir == "" {
		p.PlotsDir = DefaultPlotsDir
	}
	return nil
}

func (s *Store) Complete() error {
	s.Driver = strings.ToLower(s.Driver)
	if s.Driver == "" {
		s.Driver = DefaultStoreDriver
	}
	switch s.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("不支持的数据库驱动%s，可选值：sqlite, mysql, postgres", s.Driver)
	}
	if s.DSN == "" {
		if s.Driver != DefaultStoreDriver {
			return fmt.Errorf("使用%s驱动时必须指定dsn", s.Driver)
		}
		s.DSN = DefaultStoreDSN
	}
	return nil
}
