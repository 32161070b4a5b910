package dataset

import (
	"bytes"
	"github.com/packagewjx/xray-classifier/internal"
	"github.com/packagewjx/xray-classifier/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDirLoader_Load(t *testing.T) {
	root := t.TempDir()
	testutil.WriteCorpus(t, root, 10, 1, 20)
	// 非图片文件与多余目录不应被读取
	require.NoError(t, os.WriteFile(filepath.Join(root, "NORMAL", "notes.txt"), []byte("x"), 0644))

	loader := NewLoader(Options{Height: 16, Width: 12, Classes: internal.CorpusDirs, Workers: 3})
	corpus, err := loader.Load(root)
	require.NoError(t, err)

	assert.Equal(t, 20, len(corpus.Images))
	assert.Equal(t, len(corpus.Images), len(corpus.Labels))
	assert.Equal(t, 2, corpus.Skipped)
	assert.Equal(t, []int{10, 10}, corpus.Counts())
	for i, label := range corpus.Labels {
		_, ok := corpus.Classes.Name(label)
		assert.True(t, ok)
		assert.Equal(t, label, corpus.Images[i].Label)
		assert.Equal(t, 16*12*3, len(corpus.Images[i].Pixels))
	}

	/*
		顺序与目录遍历顺序一致
	*/
	for i := 0; i < 10; i++ {
		assert.Equal(t, internal.LabelNormal, corpus.Labels[i])
		assert.True(t, strings.HasSuffix(corpus.Images[i].Path, filepath.Join("NORMAL", "img_00"+string(rune('0'+i))+".png")))
	}
	for i := 10; i < 20; i++ {
		assert.Equal(t, internal.LabelPneumonia, corpus.Labels[i])
	}
}

func TestDirLoader_DerivedClasses(t *testing.T) {
	root := t.TempDir()
	rng := rand.New(rand.NewSource(2))
	testutil.WritePNG(t, filepath.Join(root, "b_class", "1.png"), testutil.MakeImage(8, false, rng))
	testutil.WritePNG(t, filepath.Join(root, "a_class", "1.png"), testutil.MakeImage(8, true, rng))
	testutil.WritePNG(t, filepath.Join(root, "a_class", "2.png"), testutil.MakeImage(8, true, rng))

	corpus, err := NewLoader(Options{Height: 8, Width: 8}).Load(root)
	require.NoError(t, err)
	assert.Equal(t, ClassMap{"a_class", "b_class"}, corpus.Classes)
	assert.Equal(t, []int{0, 0, 1}, corpus.Labels)
}

func TestDirLoader_PinnedClassesIgnoreUnknownDirs(t *testing.T) {
	root := t.TempDir()
	rng := rand.New(rand.NewSource(3))
	testutil.WritePNG(t, filepath.Join(root, "normal", "1.png"), testutil.MakeImage(8, false, rng))
	testutil.WritePNG(t, filepath.Join(root, "COVID", "1.png"), testutil.MakeImage(8, true, rng))

	corpus, err := NewLoader(Options{Height: 8, Width: 8, Classes: internal.CorpusDirs}).Load(root)
	require.NoError(t, err)
	assert.Equal(t, 1, len(corpus.Images))
	assert.Equal(t, internal.LabelNormal, corpus.Labels[0])
	assert.Equal(t, ClassMap(internal.CorpusDirs), corpus.Classes)
	assert.Equal(t, []int{1, 0}, corpus.Counts())
}

func TestDirLoader_MissingRoot(t *testing.T) {
	_, err := NewLoader(Options{Height: 8, Width: 8}).Load(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)

	_, err = NewLoader(Options{}).Load(t.TempDir())
	assert.Error(t, err)
}

func TestToRGB(t *testing.T) {
	img := testutil.MakeImage(10, true, rand.New(rand.NewSource(4)))
	pixels := ToRGB(img, 5, 5)
	assert.Equal(t, 75, len(pixels))
	// 灰度图转换后三个通道相等
	for i := 0; i < 25; i++ {
		assert.Equal(t, pixels[i*3], pixels[i*3+1])
		assert.Equal(t, pixels[i*3], pixels[i*3+2])
	}

	decoded, err := DecodeImage(bytes.NewReader(testutil.EncodePNG(t, img)))
	require.NoError(t, err)
	assert.Equal(t, 10, decoded.Bounds().Dx())

	_, err = DecodeImage(strings.NewReader("garbage"))
	assert.Error(t, err)

	assert.True(t, IsImageFile("a.JPEG"))
	assert.False(t, IsImageFile("a.txt"))
}

func TestImageSample_ToImage(t *testing.T) {
	s := &ImageSample{Pixels: []uint8{1, 2, 3, 4, 5, 6}, Height: 1, Width: 2}
	img := s.ToImage()
	assert.Equal(t, []uint8{1, 2, 3, 255, 4, 5, 6, 255}, img.Pix)
}
