package config

import (
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.NoError(t, c.Complete())
	assert.Equal(t, 64, c.Pipeline.ImageHeight)
	assert.Equal(t, 64, c.Pipeline.ImageWidth)
	assert.Equal(t, 32, c.Pipeline.BatchSize)
	assert.Equal(t, 25, c.Pipeline.Epochs)
	assert.Equal(t, 5, c.Pipeline.Patience)
	assert.Equal(t, 0.2, c.Pipeline.DropoutConv)
	assert.Equal(t, 0.4, c.Pipeline.DropoutDense)
	assert.Equal(t, "sqlite", c.Store.Driver)
	assert.Contains(t, c.String(), "\"epochs\":25")
}

func TestPipelineComplete(t *testing.T) {
	base := Default().Pipeline

	p := base
	p.ImageHeight = 4
	assert.Error(t, p.Complete())

	p = base
	p.BatchSize = 0
	assert.Error(t, p.Complete())

	p = base
	p.DropoutDense = 1
	assert.Error(t, p.Complete())

	p = base
	p.ValidationSplit = 0
	assert.Error(t, p.Complete())

	p = base
	p.Workers = 0
	p.ModelPath = ""
	assert.NoError(t, p.Complete())
	assert.NotEqual(t, 0, p.Workers)
	assert.Equal(t, DefaultModelPath, p.ModelPath)
}

func TestStoreComplete(t *testing.T) {
	s := Store{Driver: "SQLite"}
	assert.NoError(t, s.Complete())
	assert.Equal(t, "sqlite", s.Driver)
	assert.Equal(t, DefaultStoreDSN, s.DSN)

	/*
		其他驱动必须指定dsn
	*/
	s = Store{Driver: "mysql"}
	assert.Error(t, s.Complete())

	s = Store{Driver: "oracle", DSN: "x"}
	assert.Error(t, s.Complete())
}
