package nn

import (
	"encoding/gob"
	"fmt"
	"github.com/pkg/errors"
	"io"
	"os"
	"path/filepath"
)

const artifactVersion = 1

// 保存到文件中的模型
type artifact struct {
	Version    int
	Arch       Architecture
	ParamNames []string
	Weights    [][]float64
	Optimizer  *Adam
}

func (m *Model) Encode(w io.Writer) error {
	a := &artifact{
		Version:    artifactVersion,
		Arch:       m.arch,
		ParamNames: make([]string, len(m.params)),
		Weights:    m.Weights(),
		Optimizer:  m.opt,
	}
	for i, p := range m.params {
		a.ParamNames[i] = p.Name
	}
	return errors.Wrap(gob.NewEncoder(w).Encode(a), "编码模型出错")
}

func Decode(r io.Reader) (*Model, error) {
	a := &artifact{}
	if err := gob.NewDecoder(r).Decode(a); err != nil {
		return nil, errors.Wrap(err, "解码模型出错")
	}
	if a.Version != artifactVersion {
		return nil, fmt.Errorf("不支持的模型版本%d", a.Version)
	}
	m, err := New(a.Arch, 0)
	if err != nil {
		return nil, err
	}
	for i, p := range m.params {
		if i >= len(a.ParamNames) || a.ParamNames[i] != p.Name {
			return nil, fmt.Errorf("模型参数%s与结构不匹配", p.Name)
		}
	}
	if err = m.SetWeights(a.Weights); err != nil {
		return nil, err
	}
	if a.Optimizer != nil && len(a.Optimizer.M) == len(m.params) {
		m.opt = a.Optimizer
	}
	return m, nil
}

// Save 写入临时文件后重命名，避免中断时留下不完整的模型文件
func (m *Model) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "创建模型目录出错")
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "创建临时文件出错")
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if err = m.Encode(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "写入模型出错")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "保存模型出错")
}

func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "打开模型文件出错")
	}
	defer func() {
		_ = f.Close()
	}()
	return Decode(f)
}
