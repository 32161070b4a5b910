package inference

import (
	"github.com/packagewjx/xray-classifier/internal"
	"github.com/packagewjx/xray-classifier/internal/nn"
	"github.com/packagewjx/xray-classifier/internal/saliency"
	"github.com/packagewjx/xray-classifier/internal/testutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
)

func saveTestModel(t *testing.T) (string, *nn.Model) {
	model, err := nn.New(nn.Architecture{InputHeight: 16, InputWidth: 16, Channels: 3, ConvFilters: []int{4, 4},
		KernelSize: 3, PoolSize: 2, DenseUnits: 4}, 2)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "model.gob")
	require.NoError(t, model.Save(path))
	return path, model
}

func TestInput_Normalize(t *testing.T) {
	img := testutil.MakeImage(40, true, rand.New(rand.NewSource(1)))

	/* 原始字节与已解码图片得到相同的张量 */
	fromBytes, src, err := FromBytes(testutil.EncodePNG(t, img)).Normalize(16, 16)
	require.NoError(t, err)
	assert.Equal(t, 40, src.Bounds().Dx())
	in, err := FromImage(img, 16, 16)
	require.NoError(t, err)
	assert.Equal(t, DecodedTensor, in.Kind)
	fromImage, src2, err := in.Normalize(16, 16)
	require.NoError(t, err)
	assert.Equal(t, img, src2)
	assert.InDeltaSlice(t, fromBytes.Data, fromImage.Data, 1e-12)
	for _, v := range fromBytes.Data {
		assert.True(t, v >= 0 && v <= 1)
	}

	/* 张量输入 */
	x := nn.NewTensor(16, 16, 3)
	x.Data[0] = 2
	normalized, src3, err := FromTensor(x).Normalize(16, 16)
	require.NoError(t, err)
	assert.Equal(t, 1.0, normalized.Data[0])
	assert.Equal(t, 2.0, x.Data[0])
	assert.Equal(t, 16, src3.Bounds().Dx())

	_, _, err = FromTensor(x).Normalize(8, 8)
	assert.Error(t, err)
	_, _, err = FromBytes([]byte("garbage")).Normalize(16, 16)
	assert.Error(t, err)
	_, _, err = Input{Kind: InputKind(9)}.Normalize(16, 16)
	assert.Error(t, err)
	assert.Equal(t, "RawBytes", RawBytes.String())
}

func TestNativePredictor(t *testing.T) {
	path, model := saveTestModel(t)
	predictor := NewNativePredictor(path)
	defer func() {
		_ = predictor.Close()
	}()

	h, w, err := predictor.InputSize()
	require.NoError(t, err)
	assert.Equal(t, 16, h)
	assert.Equal(t, 16, w)

	img := testutil.MakeImage(32, false, rand.New(rand.NewSource(3)))
	in := FromBytes(testutil.EncodePNG(t, img))
	prediction, err := predictor.Predict(in)
	require.NoError(t, err)

	x, _, _ := in.Normalize(16, 16)
	expected, _ := model.Predict(x)
	assert.InDelta(t, expected, prediction.Probability, 1e-12)
	assert.Equal(t, internal.ClassOf(expected), prediction.Label)
	assert.True(t, prediction.Confidence() >= 0.5)

	explanation, err := predictor.Explain(in, saliency.DefaultLayer, saliency.DefaultAlpha)
	require.NoError(t, err)
	assert.Equal(t, prediction.Probability, explanation.Prediction.Probability)
	assert.Equal(t, img.Bounds().Size(), explanation.Overlay.Bounds().Size())

	_, err = predictor.Explain(in, "conv2d_5", saliency.DefaultAlpha)
	assert.Equal(t, nn.ErrLayerNotFound, errors.Cause(err))
}

func TestNativePredictor_MissingModel(t *testing.T) {
	predictor := NewNativePredictor(filepath.Join(t.TempDir(), "absent.gob"))
	_, err := predictor.Predict(FromTensor(nn.NewTensor(16, 16, 3)))
	assert.Error(t, err)
	// 加载只进行一次，错误会被保留
	_, _, err = predictor.InputSize()
	assert.Error(t, err)
}

func TestONNXConfig_Complete(t *testing.T) {
	c := &ONNXConfig{}
	assert.Error(t, c.Complete())
	c.ModelPath = filepath.Join(t.TempDir(), "absent.onnx")
	assert.Error(t, c.Complete())

	path, _ := saveTestModel(t)
	c = &ONNXConfig{ModelPath: path, Height: 16, Width: 16}
	require.NoError(t, c.Complete())
	assert.Equal(t, DefaultONNXInputName, c.InputName)
	assert.Equal(t, DefaultONNXOutputName, c.OutputName)
}

func TestOutputResult(t *testing.T) {
	results := []*Result{
		{Path: "a.png", Prediction: newPrediction(0.91234)},
		{Path: "dir,with,comma/b.png", Prediction: newPrediction(0.1)},
	}
	buf := &strings.Builder{}
	require.NoError(t, OutputResult(results, buf, 2))
	assert.Equal(t, "path,label,probability\n"+
		"a.png,Pneumonia,0.91\n"+
		"\"dir,with,comma/b.png\",Normal,0.10\n", buf.String())
}
