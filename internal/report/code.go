package report

import (
	"crypto/rand"
	"fmt"
	"github.com/packagewjx/xray-classifier/pkg/server"
	"github.com/pkg/errors"
	"math/big"
	"strings"
	"time"
	"unicode"
)

// 去掉了容易混淆的0/O与1/I
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	codeSuffixLength   = 4
	codeDateLayout     = "20060102"
	DefaultCodeRetries = 5
)

// GenerateCode 生成形如PNEUMONIA_JD_20240131_X7KQ的编号。date为空时使用当天日期
func GenerateCode(prediction, initials, date string) (string, error) {
	if date == "" {
		date = time.Now().Format(codeDateLayout)
	}
	suffix := make([]byte, codeSuffixLength)
	alphabetSize := big.NewInt(int64(len(codeAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", errors.Wrap(err, "生成随机编号出错")
		}
		suffix[i] = codeAlphabet[n.Int64()]
	}
	return fmt.Sprintf("%s_%s_%s_%s", strings.ToUpper(prediction), strings.ToUpper(initials), date,
		string(suffix)), nil
}

// CodeDate 将表单中的检查日期转换为编号中使用的格式，无法解析时返回空字符串
func CodeDate(date string) string {
	for _, layout := range []string{"2006-01-02", codeDateLayout, "2006/01/02"} {
		if t, err := time.Parse(layout, strings.TrimSpace(date)); err == nil {
			return t.Format(codeDateLayout)
		}
	}
	return ""
}

// Initials 取姓名中每个单词的首字母。没有字母时返回X
func Initials(name string) string {
	builder := &strings.Builder{}
	for _, word := range strings.Fields(name) {
		for _, r := range word {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				builder.WriteRune(unicode.ToUpper(r))
				break
			}
		}
	}
	if builder.Len() == 0 {
		return "X"
	}
	return builder.String()
}

// AddWithRetry 编号冲突时使用regenerate生成新编号重试，最多attempts次
func AddWithRetry(store Store, report *server.PatientReport, regenerate func() (string, error),
	attempts int) (*server.PatientReport, error) {
	if attempts <= 0 {
		attempts = DefaultCodeRetries
	}
	var err error
	for i := 0; i < attempts; i++ {
		if report.PatientCode == "" || i > 0 {
			code, genErr := regenerate()
			if genErr != nil {
				return nil, genErr
			}
			report.PatientCode = code
		}
		var saved *server.PatientReport
		saved, err = store.Add(report)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrDuplicateCode) {
			return nil, err
		}
	}
	return nil, errors.Wrap(err, fmt.Sprintf("重试%d次后仍然冲突", attempts))
}
