// Package testutil 为各个包的测试生成合成的胸片数据集
package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

// MakeImage 生成一张灰度图。bright为true时中央有一块高亮区域，用来模拟肺部浸润
func MakeImage(size int, bright bool, rng *rand.Rand) image.Image {
	img := image.NewGray(image.Rect(0, 0, size, size))
	c := size / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := 30 + rng.Intn(40)
			if bright && abs(x-c) < size/4 && abs(y-c) < size/4 {
				v = 180 + rng.Intn(60)
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return img
}

func EncodePNG(t testing.TB, img image.Image) []byte {
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("编码PNG出错：%v", err)
	}
	return buf.Bytes()
}

func WritePNG(t testing.TB, path string, img image.Image) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("创建目录出错：%v", err)
	}
	if err := os.WriteFile(path, EncodePNG(t, img), 0644); err != nil {
		t.Fatalf("写入图片出错：%v", err)
	}
}

// WriteCorpus 在root下生成NORMAL与PNEUMONIA两个目录，每个目录n张有效图片与corrupt个损坏文件
func WriteCorpus(t testing.TB, root string, n, corrupt, size int) {
	rng := rand.New(rand.NewSource(1))
	for _, class := range []string{"NORMAL", "PNEUMONIA"} {
		dir := filepath.Join(root, class)
		for i := 0; i < n; i++ {
			WritePNG(t, filepath.Join(dir, fmt.Sprintf("img_%03d.png", i)), MakeImage(size, class == "PNEUMONIA", rng))
		}
		for i := 0; i < corrupt; i++ {
			path := filepath.Join(dir, fmt.Sprintf("broken_%d.jpeg", i))
			if err := os.WriteFile(path, []byte("definitely not a jpeg"), 0644); err != nil {
				t.Fatalf("写入损坏文件出错：%v", err)
			}
		}
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
