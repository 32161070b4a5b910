package server

import (
	"bytes"
	"encoding/json"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/packagewjx/xray-classifier/internal/config"
	"github.com/packagewjx/xray-classifier/internal/evaluate"
	"github.com/packagewjx/xray-classifier/internal/inference"
	"github.com/packagewjx/xray-classifier/internal/nn"
	"github.com/packagewjx/xray-classifier/internal/report"
	"github.com/packagewjx/xray-classifier/internal/testutil"
	"github.com/packagewjx/xray-classifier/pkg/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func newTestServer(t *testing.T) *serverImpl {
	dir := t.TempDir()
	model, err := nn.New(nn.Architecture{InputHeight: 16, InputWidth: 16, Channels: 3, ConvFilters: []int{4, 8},
		KernelSize: 3, PoolSize: 2, DenseUnits: 8}, 1)
	require.NoError(t, err)

	cfg := &ServerConfig{
		Port:        DefaultPort,
		UploadDir:   filepath.Join(dir, "uploads"),
		MetricsPath: filepath.Join(dir, evaluate.MetricsFile),
		Store:       config.Store{Driver: "sqlite", DSN: filepath.Join(dir, "reports.db")},
	}
	require.NoError(t, cfg.Complete())
	store, err := report.Open(cfg.Store)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	s, err := newServer(cfg, store, inference.NewNativePredictorFromModel(model))
	require.NoError(t, err)
	return s
}

func testImage(t *testing.T, bright bool) []byte {
	return testutil.EncodePNG(t, testutil.MakeImage(40, bright, rand.New(rand.NewSource(3))))
}

func multipartBody(t *testing.T, fields map[string]string, image []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if image != nil {
		part, err := writer.CreateFormFile(formImage, "cxr.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func do(s *serverImpl, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, body)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	recorder := httptest.NewRecorder()
	s.Handler().ServeHTTP(recorder, req)
	return recorder
}

var patientFields = map[string]string{
	formName:        "John Doe",
	formGender:      "male",
	formAge:         "54",
	formDate:        "2024-01-31",
	formTemperature: "101.2",
	formSpO2:        "92",
	formSpirometer:  "3",
	formSymptoms:    "cough",
}

func TestServerConfig_Complete(t *testing.T) {
	cfg := ServerConfig{Port: DefaultPort}
	assert.NoError(t, cfg.Complete())
	assert.Equal(t, BackendNative, cfg.Backend)
	assert.Equal(t, config.DefaultModelPath, cfg.ModelPath)
	assert.Equal(t, DefaultUploadDir, cfg.UploadDir)
	assert.Equal(t, filepath.Join(config.DefaultPlotsDir, evaluate.MetricsFile), cfg.MetricsPath)
	assert.Equal(t, config.DefaultStoreDriver, cfg.Store.Driver)

	cfgCopy := ServerConfig{Port: 80}
	assert.Error(t, cfgCopy.Complete())

	cfgCopy = ServerConfig{Port: DefaultPort, Backend: "tensorflow"}
	assert.Error(t, cfgCopy.Complete())

	cfgCopy = ServerConfig{Port: DefaultPort, Alpha: 1.5}
	assert.Error(t, cfgCopy.Complete())

	/* onnx后端必须提供存在的模型 */
	cfgCopy = ServerConfig{Port: DefaultPort, Backend: "ONNX"}
	assert.Error(t, cfgCopy.Complete())
}

func TestRecommend(t *testing.T) {
	flags, text := Recommend(server.Vitals{Temperature: 98.6, SpO2: 97, Spirometer: 3}, "Normal")
	assert.Empty(t, flags)
	assert.Equal(t, "All findings normal. Routine care only.", text)

	flags, text = Recommend(server.Vitals{Temperature: 101, SpO2: 90, Spirometer: 1.5}, "Pneumonia")
	assert.Equal(t, []string{FlagFever, FlagLowSpO2, FlagReducedLung, FlagAbnormalRay}, flags)
	assert.Equal(t, "Fever | Low SpO₂ | Reduced lung | Abnormal X-ray. Clinical review recommended.", text)

	/* 阈值本身不触发 */
	flags, _ = Recommend(server.Vitals{Temperature: 100.5, SpO2: 94, Spirometer: 2}, "Normal")
	assert.Empty(t, flags)

	flags, text = Recommend(server.Vitals{Temperature: 98.6, SpO2: 97, Spirometer: 3}, "Pneumonia")
	assert.Equal(t, []string{FlagAbnormalRay}, flags)
	assert.Equal(t, "Abnormal X-ray. Clinical review recommended.", text)
}

func TestUploadURL(t *testing.T) {
	assert.Equal(t, "/uploads/A.png", uploadURL(filepath.Join("data", "uploads", "A.png"), filepath.Join("data", "uploads")))
	assert.Equal(t, "/uploads/staging/B.png",
		uploadURL(filepath.Join("uploads", "staging", "B.png"), "uploads"))
	assert.Equal(t, "", uploadURL(filepath.Join("other", "A.png"), "uploads"))
	assert.Equal(t, "", uploadURL("", "uploads"))
}

func TestServer_Healthz(t *testing.T) {
	s := newTestServer(t)
	recorder := do(s, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "OK", recorder.Body.String())
}

func TestServer_Index(t *testing.T) {
	s := newTestServer(t)
	recorder := do(s, http.MethodGet, "/", nil, "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "No evaluation results yet.")
	assert.Contains(t, recorder.Body.String(), "No reports yet.")

	/* 侧边栏展示评估结果 */
	require.NoError(t, evaluate.SaveMetrics(s.config.MetricsPath, &evaluate.Metrics{Samples: 10, Accuracy: 0.9, AUC: 0.96}))
	recorder = do(s, http.MethodGet, "/", nil, "")
	assert.Contains(t, recorder.Body.String(), "90.0%")
	assert.Contains(t, recorder.Body.String(), "0.96")
}

func stagedIDs(t *testing.T, s *serverImpl) []string {
	entries, err := os.ReadDir(filepath.Join(s.config.UploadDir, stagingDir))
	require.NoError(t, err)
	var ids []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), gradcamSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), imageSuffix))
	}
	return ids
}

func TestServer_AnalyzeAndSave(t *testing.T) {
	s := newTestServer(t)

	body, contentType := multipartBody(t, patientFields, testImage(t, true))
	recorder := do(s, http.MethodPost, "/analyze", body, contentType)
	if !assert.Equal(t, http.StatusOK, recorder.Code) {
		assert.FailNow(t, "分析失败", recorder.Body.String())
	}
	assert.Contains(t, recorder.Body.String(), "Analysis Results")
	assert.Contains(t, recorder.Body.String(), FlagFever)
	assert.Contains(t, recorder.Body.String(), FlagLowSpO2)

	ids := stagedIDs(t, s)
	require.Len(t, ids, 1)
	id := ids[0]
	assert.FileExists(t, s.stagingPath(id, imageSuffix))
	assert.FileExists(t, s.stagingPath(id, gradcamSuffix))

	/* 保存报告 */
	fields := map[string]string{formStagingID: id}
	for k, v := range patientFields {
		fields[k] = v
	}
	body, contentType = multipartBody(t, fields, nil)
	recorder = do(s, http.MethodPost, "/reports", body, contentType)
	if !assert.Equal(t, http.StatusSeeOther, recorder.Code) {
		assert.FailNow(t, "保存失败", recorder.Body.String())
	}
	location := recorder.Header().Get("Location")
	code := strings.TrimPrefix(location, "/reports/")
	assert.Regexp(t, regexp.MustCompile(`^(PNEUMONIA|NORMAL)_JD_20240131_[A-HJ-NP-Z2-9]{4}$`), code)

	assert.FileExists(t, s.savedPath(code, imageSuffix))
	assert.FileExists(t, s.savedPath(code, gradcamSuffix))
	assert.NoFileExists(t, s.stagingPath(id, imageSuffix))
	assert.NoFileExists(t, s.stagingPath(id, gradcamSuffix))

	saved, err := s.store.GetByCode(code)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "John Doe", saved.PatientName)
	assert.Equal(t, "Male", saved.Gender)
	assert.Equal(t, 54, saved.Age)
	assert.Equal(t, 101.2, saved.Temperature)
	assert.True(t, saved.Confidence >= 0.5 && saved.Confidence <= 1)
	assert.True(t, strings.HasPrefix(saved.Recommendation, "Fever | Low SpO₂"))
	assert.Equal(t, s.savedPath(code, gradcamSuffix), saved.GradcamPath)

	/* 同一暂存结果不能保存两次 */
	body, contentType = multipartBody(t, fields, nil)
	recorder = do(s, http.MethodPost, "/reports", body, contentType)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	/* 详情页、PDF与统计图 */
	recorder = do(s, http.MethodGet, location, nil, "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), code)
	assert.Contains(t, recorder.Body.String(), "/uploads/"+code+imageSuffix)

	recorder = do(s, http.MethodGet, location+"/pdf", nil, "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/pdf", recorder.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(recorder.Body.String(), "%PDF"))

	recorder = do(s, http.MethodGet, "/stats/monthly.png", nil, "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.True(t, strings.HasPrefix(recorder.Body.String(), "\x89PNG"))

	recorder = do(s, http.MethodGet, "/uploads/"+code+imageSuffix, nil, "")
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder = do(s, http.MethodGet, "/", nil, "")
	assert.Contains(t, recorder.Body.String(), code)

	/* JSON API */
	recorder = do(s, http.MethodGet, "/api/reports", nil, "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	var reports []*server.PatientReport
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, code, reports[0].PatientCode)

	recorder = do(s, http.MethodGet, "/api/reports/"+code, nil, "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	one := &server.PatientReport{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), one))
	assert.Equal(t, saved.Prediction, one.Prediction)
}

func TestServer_NotFound(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/reports/NORMAL_X_20240101_AAAA", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/reports/NORMAL_X_20240101_AAAA/pdf", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/api/reports/NORMAL_X_20240101_AAAA", nil, "").Code)

	recorder := do(s, http.MethodGet, "/api/reports", nil, "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, "[]", recorder.Body.String())
}

func TestServer_AnalyzeBadInput(t *testing.T) {
	s := newTestServer(t)

	/* 没有图片 */
	body, contentType := multipartBody(t, patientFields, nil)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/analyze", body, contentType).Code)

	/* 图片损坏 */
	body, contentType = multipartBody(t, patientFields, []byte("not an image"))
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/analyze", body, contentType).Code)

	/* 表单数值非法 */
	fields := map[string]string{formAge: "abc"}
	body, contentType = multipartBody(t, fields, testImage(t, false))
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/analyze", body, contentType).Code)

	fields = map[string]string{formSpO2: "120"}
	body, contentType = multipartBody(t, fields, testImage(t, false))
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/analyze", body, contentType).Code)

	fields = map[string]string{formTemperature: "NaN", formSpO2: "NaN"}
	body, contentType = multipartBody(t, fields, testImage(t, false))
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/analyze", body, contentType).Code)

	fields = map[string]string{formDate: "yesterday"}
	body, contentType = multipartBody(t, fields, testImage(t, false))
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/analyze", body, contentType).Code)

	assert.Empty(t, stagedIDs(t, s))
}

func formContext(values url.Values) *gin.Context {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(values.Encode()))
	c.Request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c
}

func TestParsePatientForm(t *testing.T) {
	/* 未填写的数值使用默认值 */
	f, err := parsePatientForm(formContext(url.Values{formName: {"John Doe"}}))
	require.NoError(t, err)
	assert.Equal(t, defaultAge, f.Age)
	assert.Equal(t, defaultTemperature, f.Temperature)

	/* 以0开头的整数按十进制解析 */
	f, err = parsePatientForm(formContext(url.Values{formAge: {"030"}, formHeartRate: {"070"}}))
	require.NoError(t, err)
	assert.Equal(t, 30, f.Age)
	assert.Equal(t, 70, f.HeartRate)

	for _, bad := range []url.Values{
		{formAge: {"30.5"}},
		{formAge: {"0x1e"}},
		{formAge: {"1e300"}},
		{formHeartRate: {"NaN"}},
		{formTemperature: {"NaN"}},
		{formSpO2: {"nan"}},
		{formSpirometer: {"+Inf"}},
		{formTemperature: {"-Inf"}},
	} {
		_, err = parsePatientForm(formContext(bad))
		assert.Error(t, err, "%v", bad)
	}

	/* API的生命体征同样拒绝非有限值 */
	_, err = parseVitals(formContext(url.Values{formTemperature: {"NaN"}, formSpO2: {"NaN"}}))
	assert.Error(t, err)
}

func TestServer_SaveBadStaging(t *testing.T) {
	s := newTestServer(t)

	body, contentType := multipartBody(t, map[string]string{formStagingID: "../../reports"}, nil)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/reports", body, contentType).Code)

	body, contentType = multipartBody(t, map[string]string{formStagingID: uuid.New().String()}, nil)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodPost, "/reports", body, contentType).Code)

	reports, err := s.store.ListAll()
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestServer_PredictAPI(t *testing.T) {
	s := newTestServer(t)

	body, contentType := multipartBody(t, map[string]string{formTemperature: "102", formSpO2: "97",
		formSpirometer: "3"}, testImage(t, true))
	recorder := do(s, http.MethodPost, "/api/predict", body, contentType)
	if !assert.Equal(t, http.StatusOK, recorder.Code) {
		assert.FailNow(t, "预测失败", recorder.Body.String())
	}
	result := &server.PredictResult{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), result))
	assert.Contains(t, []string{"Normal", "Pneumonia"}, result.Label)
	assert.True(t, result.Confidence >= 0.5 && result.Confidence <= 1)
	assert.Equal(t, FlagFever, result.Flags[0])
	assert.NotEmpty(t, result.Recommendation)

	/* 不提供生命体征时不给出建议 */
	body, contentType = multipartBody(t, nil, testImage(t, true))
	recorder = do(s, http.MethodPost, "/api/predict", body, contentType)
	assert.Equal(t, http.StatusOK, recorder.Code)
	result = &server.PredictResult{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), result))
	assert.Empty(t, result.Recommendation)

	body, contentType = multipartBody(t, nil, []byte("broken"))
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/predict", body, contentType).Code)

	body, contentType = multipartBody(t, map[string]string{formTemperature: "NaN", formSpO2: "NaN"},
		testImage(t, true))
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/predict", body, contentType).Code)

	body, contentType = multipartBody(t, nil, nil)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/predict", body, contentType).Code)

	/* API不保存任何报告 */
	reports, err := s.ListReports()
	require.NoError(t, err)
	assert.Empty(t, reports)
}
