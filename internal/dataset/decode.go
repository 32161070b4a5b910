package dataset

import (
	"github.com/nfnt/resize"
	"github.com/packagewjx/xray-classifier/internal"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".bmp":  {},
	".gif":  {},
	".tif":  {},
	".tiff": {},
	".webp": {},
}

func IsImageFile(name string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func DecodeImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "解码图片出错")
	}
	return img, nil
}

func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "打开图片文件出错")
	}
	defer func() {
		_ = f.Close()
	}()
	return DecodeImage(f)
}

// ToRGB 缩放到指定尺寸并转换为RGB三通道像素
func ToRGB(img image.Image, height, width int) []uint8 {
	resized := resize.Resize(uint(width), uint(height), img, resize.Bilinear)
	bounds := resized.Bounds()
	pixels := make([]uint8, 0, height*width*internal.NumChannels)
	for y := bounds.Min.Y; y < bounds.Min.Y+height; y++ {
		for x := bounds.Min.X; x < bounds.Min.X+width; x++ {
			c := color.NRGBAModel.Convert(resized.At(x, y)).(color.NRGBA)
			pixels = append(pixels, c.R, c.G, c.B)
		}
	}
	return pixels
}

func LoadImage(path string, height, width int) (*ImageSample, error) {
	img, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return &ImageSample{
		Pixels: ToRGB(img, height, width),
		Height: height,
		Width:  width,
		Label:  -1,
		Path:   path,
	}, nil
}

// ToImage 将样本转换回图片，用于叠加热力图等展示
func (s *ImageSample) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	for i := 0; i < s.Height*s.Width; i++ {
		img.Pix[i*4] = s.Pixels[i*3]
		img.Pix[i*4+1] = s.Pixels[i*3+1]
		img.Pix[i*4+2] = s.Pixels[i*3+2]
		img.Pix[i*4+3] = 0xff
	}
	return img
}
