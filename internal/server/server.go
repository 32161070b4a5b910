package server

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/packagewjx/xray-classifier/internal/config"
	"github.com/packagewjx/xray-classifier/internal/evaluate"
	"github.com/packagewjx/xray-classifier/internal/inference"
	"github.com/packagewjx/xray-classifier/internal/report"
	"github.com/packagewjx/xray-classifier/internal/saliency"
	"github.com/packagewjx/xray-classifier/pkg/server"
	"github.com/pkg/errors"
	"html/template"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	DefaultPort          = 8501
	DefaultUploadDir     = "uploads"
	DefaultBackend       = BackendNative
	DefaultRecentReports = 20

	BackendNative = "native"
	BackendONNX   = "onnx"
)

const (
	stagingDir      = "staging"
	maxUploadSize   = 32 << 20
	shutdownTimeout = 10 * time.Second
)

type ServerConfig struct {
	Port        uint16               // 本服务器监听端口
	UploadDir   string               // 保存上传图片与热力图的目录
	MetricsPath string               // 评估时生成的metrics.json，用于侧边栏展示
	Backend     string               // native或onnx。onnx不支持热力图
	ModelPath   string               // native后端使用的模型文件
	ONNX        inference.ONNXConfig // onnx后端的配置
	Layer       string               // 计算热力图的卷积层
	Alpha       float64              // 热力图叠加的透明度
	Store       config.Store
}

func (s ServerConfig) String() string {
	marshal, _ := json.Marshal(s)
	return string(marshal)
}

type Server interface {
	server.API
	Start() error
	Handler() http.Handler
}

func (cfg *ServerConfig) Complete() error {
	if cfg.Port < 1024 {
		return fmt.Errorf("端口号应该在1024到65535之间，现在为%d", cfg.Port)
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = DefaultUploadDir
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = filepath.Join(config.DefaultPlotsDir, evaluate.MetricsFile)
	}
	if cfg.Layer == "" {
		cfg.Layer = saliency.DefaultLayer
	}
	if cfg.Alpha == 0 {
		cfg.Alpha = saliency.DefaultAlpha
	}
	if cfg.Alpha < 0 || cfg.Alpha > 1 {
		return fmt.Errorf("透明度应在[0,1]之间，现在为%f", cfg.Alpha)
	}

	cfg.Backend = strings.ToLower(cfg.Backend)
	switch cfg.Backend {
	case "":
		cfg.Backend = DefaultBackend
		fallthrough
	case BackendNative:
		if cfg.ModelPath == "" {
			cfg.ModelPath = config.DefaultModelPath
		}
	case BackendONNX:
		if err := cfg.ONNX.Complete(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("不支持的推理后端%s，可选值：%s, %s", cfg.Backend, BackendNative, BackendONNX)
	}

	return cfg.Store.Complete()
}

func NewServer(config *ServerConfig) (Server, error) {
	if err := config.Complete(); err != nil {
		return nil, err
	}

	var predictor inference.Predictor
	if config.Backend == BackendONNX {
		p, err := inference.NewONNXPredictor(config.ONNX)
		if err != nil {
			return nil, err
		}
		predictor = p
	} else {
		predictor = inference.NewNativePredictor(config.ModelPath)
	}

	store, err := report.Open(config.Store)
	if err != nil {
		_ = predictor.Close()
		return nil, err
	}

	return newServer(config, store, predictor)
}

// newServer 使用已经创建好的存储与模型，config应已经Complete
func newServer(config *ServerConfig, store report.Store, predictor inference.Predictor) (*serverImpl, error) {
	if err := os.MkdirAll(filepath.Join(config.UploadDir, stagingDir), 0755); err != nil {
		return nil, errors.Wrap(err, "创建上传目录出错")
	}
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}

	s := &serverImpl{
		config:    config,
		store:     store,
		predictor: predictor,
		pages:     pages,
		logger:    log.New(os.Stdout, "xray server: ", log.LstdFlags|log.Lshortfile|log.Lmsgprefix),
	}
	s.router = s.buildRouter()
	return s, nil
}

type serverImpl struct {
	config    *ServerConfig
	store     report.Store
	predictor inference.Predictor
	pages     *template.Template
	router    *gin.Engine
	logger    *log.Logger
}

var _ Server = &serverImpl{}

func (s *serverImpl) Handler() http.Handler {
	return s.router
}

func (s *serverImpl) Start() error {
	s.logger.Printf("服务器启动。配置：%v\n", s.config)
	defer s.close()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}
	errCh := make(chan error, 1)
	go s.serve(httpServer, errCh)

	// 注册信号接收器
	termSigChan := make(chan os.Signal, 1)
	signal.Notify(termSigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(termSigChan)

	select {
	case <-termSigChan:
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			return errors.Wrap(err, "关闭HTTP服务器失败")
		}
	case err := <-errCh:
		return errors.Wrap(err, "HTTP服务器异常退出")
	}

	// 等待HTTP服务器结束
	if err := <-errCh; err != nil {
		return errors.Wrap(err, "HTTP关闭出现错误")
	}
	return nil
}

func (s *serverImpl) close() {
	if err := s.predictor.Close(); err != nil {
		s.logger.Printf("关闭模型出错：%v\n", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Printf("关闭数据库出错：%v\n", err)
	}
}

func (s *serverImpl) serve(httpServer *http.Server, errCh chan<- error) {
	s.logger.Printf("HTTP服务器监听%s\n", httpServer.Addr)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		errCh <- err
		return
	}

	s.logger.Printf("HTTP服务器结束")
	errCh <- nil
}

func (s *serverImpl) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.LoggerWithWriter(s.logger.Writer()), gin.Recovery())
	router.MaxMultipartMemory = maxUploadSize
	router.SetHTMLTemplate(s.pages)

	router.GET("/", s.handleIndex)
	router.POST("/analyze", s.handleAnalyze)
	router.POST("/reports", s.handleSave)
	router.GET("/reports/:code", s.handleReport)
	router.GET("/reports/:code/pdf", s.handlePDF)
	router.GET("/stats/monthly.png", s.handleMonthly)
	router.Static("/uploads", s.config.UploadDir)

	api := router.Group("/api")
	api.Use(cors.Default())
	api.GET("/reports", s.handleListReports)
	api.GET("/reports/:code", s.handleGetReport)
	api.POST("/predict", s.handlePredict)

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	return router
}
