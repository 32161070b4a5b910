package report

import (
	"fmt"
	"github.com/packagewjx/xray-classifier/internal/config"
	"github.com/packagewjx/xray-classifier/pkg/server"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrDuplicateCode     = errors.New("patient code already exists")
	ErrInvalidConfidence = errors.New("confidence must be within [0, 1]")
	ErrInvalidVitals     = errors.New("vital signs must be finite numbers")
)

// Store 报告只能新增与查询，不提供修改与删除
type Store interface {
	// 保存一份新的报告，返回带有ID与创建时间的报告
	Add(report *server.PatientReport) (*server.PatientReport, error)
	// 按创建时间从新到旧返回所有报告
	ListAll() ([]*server.PatientReport, error)
	// 返回最新的limit份报告
	ListRecent(limit int) ([]*server.PatientReport, error)
	// 不存在时返回nil, nil
	GetByCode(code string) (*server.PatientReport, error)
	Close() error
}

type storeImpl struct {
	db     *gorm.DB
	logger *log.Logger
	now    func() time.Time
}

var _ Store = &storeImpl{}

var logLevels = map[string]logger.LogLevel{
	"":       logger.Silent,
	"silent": logger.Silent,
	"error":  logger.Error,
	"warn":   logger.Warn,
	"info":   logger.Info,
}

func dialector(cfg *config.Store) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.DSN); dir != "." && !strings.Contains(cfg.DSN, ":memory:") {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, errors.Wrap(err, "创建数据库目录出错")
			}
		}
		return sqlite.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	}
	return nil, fmt.Errorf("不支持的数据库驱动%s", cfg.Driver)
}

// Open 连接数据库并创建报告表
func Open(cfg config.Store) (Store, error) {
	if err := cfg.Complete(); err != nil {
		return nil, err
	}
	level, ok := logLevels[strings.ToLower(cfg.LogLevel)]
	if !ok {
		return nil, fmt.Errorf("不支持的日志级别%s", cfg.LogLevel)
	}
	d, err := dialector(&cfg)
	if err != nil {
		return nil, err
	}

	storeLogger := log.New(os.Stdout, "Store: ", log.LstdFlags|log.Lshortfile|log.Lmsgprefix)
	db, err := gorm.Open(d, &gorm.Config{
		Logger: logger.New(storeLogger, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "连接数据库错误")
	}

	// 创建表格等
	if err = db.AutoMigrate(&PatientReportDO{}); err != nil {
		return nil, errors.Wrap(err, "创建表格时出现异常")
	}
	storeLogger.Printf("已连接%s数据库\n", cfg.Driver)

	return &storeImpl{
		db:     db,
		logger: storeLogger,
		now:    time.Now,
	}, nil
}

func (s *storeImpl) session() *gorm.DB {
	return s.db.Session(&gorm.Session{})
}

func (s *storeImpl) Add(report *server.PatientReport) (*server.PatientReport, error) {
	if report.PatientCode == "" {
		return nil, fmt.Errorf("报告编号不能为空")
	}
	if !(report.Confidence >= 0 && report.Confidence <= 1) {
		return nil, errors.Wrap(ErrInvalidConfidence, fmt.Sprintf("%v", report.Confidence))
	}
	for _, v := range []float64{report.Temperature, report.SpO2, report.Spirometer} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Wrap(ErrInvalidVitals, fmt.Sprintf("%v", v))
		}
	}

	do := toDO(report)
	do.ID = 0
	err := s.session().Transaction(func(tx *gorm.DB) error {
		existing := make([]*PatientReportDO, 0, 1)
		if err := tx.Where("patient_code = ?", do.PatientCode).Limit(1).Find(&existing).Error; err != nil {
			return err
		}
		if len(existing) > 0 {
			return ErrDuplicateCode
		}

		// 创建时间不早于已有的任何记录
		latest := make([]*PatientReportDO, 0, 1)
		if err := tx.Order("created_at desc").Limit(1).Find(&latest).Error; err != nil {
			return err
		}
		do.CreatedAt = s.now().Truncate(time.Microsecond)
		if len(latest) > 0 && latest[0].CreatedAt.After(do.CreatedAt) {
			do.CreatedAt = latest[0].CreatedAt
		}

		return tx.Create(do).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrDuplicateCode) {
			return nil, errors.Wrap(ErrDuplicateCode, do.PatientCode)
		}
		return nil, errors.Wrap(err, "保存报告出错")
	}

	s.logger.Printf("已保存报告%s\n", do.PatientCode)
	return do.toReport(), nil
}

func (s *storeImpl) list(limit int) ([]*server.PatientReport, error) {
	dos := make([]*PatientReportDO, 0)
	query := s.session().Order("created_at desc").Order("id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&dos).Error; err != nil {
		return nil, errors.Wrap(err, "查询报告出错")
	}
	result := make([]*server.PatientReport, len(dos))
	for i, do := range dos {
		result[i] = do.toReport()
	}
	return result, nil
}

func (s *storeImpl) ListAll() ([]*server.PatientReport, error) {
	return s.list(0)
}

func (s *storeImpl) ListRecent(limit int) ([]*server.PatientReport, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit必须大于0")
	}
	return s.list(limit)
}

func (s *storeImpl) GetByCode(code string) (*server.PatientReport, error) {
	dos := make([]*PatientReportDO, 0, 1)
	if err := s.session().Where("patient_code = ?", code).Limit(1).Find(&dos).Error; err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询报告%s出错", code))
	}
	if len(dos) == 0 {
		return nil, nil
	}
	return dos[0].toReport(), nil
}

func (s *storeImpl) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "获取数据库连接出错")
	}
	return db.Close()
}
