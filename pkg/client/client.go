package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"github.com/packagewjx/xray-classifier/pkg/server"
	"github.com/pkg/errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultBaseUrl = "http://localhost:8501"

const defaultTimeout = time.Minute

func NewApiClient(baseUrl string) server.API {
	if baseUrl == "" {
		baseUrl = DefaultBaseUrl
	}
	return &apiClient{
		baseUrl: strings.TrimSuffix(baseUrl, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

var _ server.API = &apiClient{}

type apiClient struct {
	baseUrl string
	client  *http.Client
}

// decode 读取响应并解析json。非200时返回服务器给出的错误信息
func decode(response *http.Response, dest interface{}) error {
	defer func() {
		_ = response.Body.Close()
	}()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return errors.Wrap(err, "读取时出现异常")
	}

	if response.StatusCode != http.StatusOK {
		message := struct {
			Error string `json:"error"`
		}{}
		if json.Unmarshal(body, &message) != nil || message.Error == "" {
			message.Error = string(body)
		}
		return fmt.Errorf("请求失败，状态码%d：%s", response.StatusCode, message.Error)
	}

	err = json.Unmarshal(body, dest)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("解析json异常，json为\n%s", string(body)))
	}
	return nil
}

func (a *apiClient) ListReports() ([]*server.PatientReport, error) {
	response, err := a.client.Get(a.baseUrl + "/api/reports")
	if err != nil {
		return nil, errors.Wrap(err, "请求时出现异常")
	}
	var dest []*server.PatientReport
	if err = decode(response, &dest); err != nil {
		return nil, err
	}
	return dest, nil
}

func (a *apiClient) GetReport(code string) (*server.PatientReport, error) {
	response, err := a.client.Get(a.baseUrl + "/api/reports/" + url.PathEscape(code))
	if err != nil {
		return nil, errors.Wrap(err, "请求时出现异常")
	}
	if response.StatusCode == http.StatusNotFound {
		_ = response.Body.Close()
		return nil, server.ErrReportNotFound
	}
	dest := &server.PatientReport{}
	if err = decode(response, dest); err != nil {
		return nil, err
	}
	return dest, nil
}

func (a *apiClient) Predict(filename string, image io.Reader, vitals *server.Vitals) (*server.PredictResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return nil, errors.Wrap(err, "创建表单出错")
	}
	if _, err = io.Copy(part, image); err != nil {
		return nil, errors.Wrap(err, "读取图片出错")
	}
	if vitals != nil {
		fields := map[string]float64{
			"temperature": vitals.Temperature,
			"spo2":        vitals.SpO2,
			"spirometer":  vitals.Spirometer,
		}
		for k, v := range fields {
			if err = writer.WriteField(k, strconv.FormatFloat(v, 'f', -1, 64)); err != nil {
				return nil, errors.Wrap(err, "创建表单出错")
			}
		}
	}
	if err = writer.Close(); err != nil {
		return nil, errors.Wrap(err, "创建表单出错")
	}

	response, err := a.client.Post(a.baseUrl+"/api/predict", writer.FormDataContentType(), body)
	if err != nil {
		return nil, errors.Wrap(err, "请求时出现异常")
	}
	dest := &server.PredictResult{}
	if err = decode(response, dest); err != nil {
		return nil, err
	}
	return dest, nil
}
