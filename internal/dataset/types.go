package dataset

// ImageSample 解码并缩放后的一张图片。Pixels为RGB排列，长度为Height*Width*3
type ImageSample struct {
	Pixels []uint8
	Height int
	Width  int
	Label  int
	Path   string
}

// ClassMap 标签到类别名称的映射，下标即为标签
type ClassMap []string

func (c ClassMap) Name(label int) (string, bool) {
	if label < 0 || label >= len(c) {
		return "", false
	}
	return c[label], true
}

type Corpus struct {
	Images  []*ImageSample
	Labels  []int
	Classes ClassMap
	Skipped int // 解码失败被跳过的文件数量
}

// 每个类别的样本数量
func (c *Corpus) Counts() []int {
	counts := make([]int, len(c.Classes))
	for _, l := range c.Labels {
		if l >= 0 && l < len(counts) {
			counts[l]++
		}
	}
	return counts
}

type CorpusLoader interface {
	Load(root string) (*Corpus, error)
}

type Options struct {
	Height  int
	Width   int
	Classes []string // 固定的类别顺序。为空时按目录名排序得到
	Workers int
}
