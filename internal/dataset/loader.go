package dataset

import (
	"fmt"
	"github.com/pkg/errors"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

func NewLoader(opts Options) CorpusLoader {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &dirLoader{
		opts:   opts,
		logger: log.New(os.Stdout, "Loader: ", log.LstdFlags|log.Lshortfile|log.Lmsgprefix),
	}
}

// dirLoader 读取按类别分子目录存放的图片
type dirLoader struct {
	opts   Options
	logger *log.Logger
}

type loadJob struct {
	path  string
	label int
}

func (d *dirLoader) Load(root string) (*Corpus, error) {
	if d.opts.Height <= 0 || d.opts.Width <= 0 {
		return nil, fmt.Errorf("目标尺寸错误：%dx%d", d.opts.Height, d.opts.Width)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("读取数据目录%s出错", root))
	}

	dirs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	sort.Strings(dirs)

	classes, dirLabels := d.resolveClasses(dirs)

	jobs := make([]loadJob, 0, 64)
	for i, dir := range dirs {
		label := dirLabels[i]
		if label < 0 {
			d.logger.Printf("目录%s不属于任何类别，已跳过\n", dir)
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, dir))
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("读取类别目录%s出错", dir))
		}
		for _, f := range files {
			if !f.Type().IsRegular() || !IsImageFile(f.Name()) {
				continue
			}
			jobs = append(jobs, loadJob{path: filepath.Join(root, dir, f.Name()), label: label})
		}
	}

	d.logger.Printf("共找到%d个图片文件，正在解码\n", len(jobs))
	samples := d.decodeAll(jobs)

	corpus := &Corpus{
		Images:  make([]*ImageSample, 0, len(samples)),
		Labels:  make([]int, 0, len(samples)),
		Classes: classes,
	}
	for i, sample := range samples {
		if sample == nil {
			corpus.Skipped++
			continue
		}
		sample.Label = jobs[i].label
		corpus.Images = append(corpus.Images, sample)
		corpus.Labels = append(corpus.Labels, sample.Label)
	}

	d.logger.Printf("读取完成，共%d张，跳过%d个无法解码的文件\n", len(corpus.Images), corpus.Skipped)
	return corpus, nil
}

// 按下标写入结果，保持与遍历顺序一致。解码失败的位置为nil
func (d *dirLoader) decodeAll(jobs []loadJob) []*ImageSample {
	result := make([]*ImageSample, len(jobs))
	idxCh := make(chan int)
	wg := sync.WaitGroup{}
	for w := 0; w < d.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range idxCh {
				sample, err := LoadImage(jobs[idx].path, d.opts.Height, d.opts.Width)
				if err != nil {
					d.logger.Printf("跳过文件%s：%v\n", jobs[idx].path, err)
					continue
				}
				result[idx] = sample
			}
		}()
	}
	for i := range jobs {
		idxCh <- i
	}
	close(idxCh)
	wg.Wait()
	return result
}

// 确定类别映射以及每个目录对应的标签。标签为-1的目录将被忽略
func (d *dirLoader) resolveClasses(dirs []string) (ClassMap, []int) {
	labels := make([]int, len(dirs))
	if len(d.opts.Classes) == 0 {
		classes := make(ClassMap, len(dirs))
		for i, dir := range dirs {
			classes[i] = dir
			labels[i] = i
		}
		return classes, labels
	}

	classes := make(ClassMap, len(d.opts.Classes))
	copy(classes, d.opts.Classes)
	for i, dir := range dirs {
		labels[i] = -1
		for label, name := range classes {
			if strings.EqualFold(name, dir) {
				labels[i] = label
				break
			}
		}
	}
	return classes, labels
}
