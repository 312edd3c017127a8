// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/poiesic/embedvector/ai"
	"github.com/poiesic/embedvector/core"
	"golang.org/x/time/rate"
)

// BatchClient implements ai.BatchClient against the OpenAI files and
// batches REST endpoints.
type BatchClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

type fileObject struct {
	ID string `json:"id"`
}

type batchRequest struct {
	InputFileID      string `json:"input_file_id"`
	Endpoint         string `json:"endpoint"`
	CompletionWindow string `json:"completion_window"`
}

type batchObject struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	InputFileID  string `json:"input_file_id"`
	OutputFileID string `json:"output_file_id"`
	ErrorFileID  string `json:"error_file_id"`
	Errors       *struct {
		Data []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"data"`
	} `json:"errors"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func newBatchClient(config *ai.Config, httpClient *http.Client, logger *slog.Logger) (*BatchClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	return &BatchClient{
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "openai-batches"),
	}, nil
}

// NewBatchClient creates a batch API client using the provided configuration.
func NewBatchClient(config *ai.Config) (ai.BatchClient, error) {
	return newBatchClient(config, nil, nil)
}

// UploadFile streams r as a multipart upload to /files.
func (c *BatchClient) UploadFile(ctx context.Context, name string, r io.Reader, purpose string) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := mw.WriteField("purpose", purpose)
		if err == nil {
			var part io.Writer
			part, err = mw.CreateFormFile("file", name)
			if err == nil {
				_, err = io.Copy(part, r)
			}
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	var file fileObject
	if err := c.do(ctx, http.MethodPost, "/files", mw.FormDataContentType(), pr, &file); err != nil {
		// Unblock the writer goroutine if the request never drained the pipe.
		pr.CloseWithError(err)
		return "", core.ProviderRequestFailed("upload file", err)
	}
	if file.ID == "" {
		return "", core.ProviderRequestFailed("upload file", fmt.Errorf("response without file id"))
	}
	c.logger.Info("uploaded batch input", "name", name, "file_id", file.ID)
	return file.ID, nil
}

// CreateBatchJob starts a batch over an uploaded input file.
func (c *BatchClient) CreateBatchJob(ctx context.Context, inputFileID, endpoint, completionWindow string) (*ai.BatchJob, error) {
	body, err := json.Marshal(batchRequest{
		InputFileID:      inputFileID,
		Endpoint:         endpoint,
		CompletionWindow: completionWindow,
	})
	if err != nil {
		return nil, core.ProviderRequestFailed("create batch", err)
	}
	var obj batchObject
	if err := c.do(ctx, http.MethodPost, "/batches", "application/json", bytes.NewReader(body), &obj); err != nil {
		return nil, core.ProviderRequestFailed("create batch", err)
	}
	if obj.ID == "" {
		return nil, core.ProviderRequestFailed("create batch", fmt.Errorf("response without batch id"))
	}
	c.logger.Info("created batch", "batch_id", obj.ID, "input_file_id", inputFileID)
	return obj.job(), nil
}

// GetJobStatus retrieves a batch.
func (c *BatchClient) GetJobStatus(ctx context.Context, jobID string) (*ai.BatchJob, error) {
	var obj batchObject
	if err := c.do(ctx, http.MethodGet, "/batches/"+url.PathEscape(jobID), "", nil, &obj); err != nil {
		return nil, core.ProviderRequestFailed("get batch "+jobID, err)
	}
	return obj.job(), nil
}

// DownloadFile streams the content of a file.
func (c *BatchClient) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := c.send(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID)+"/content", "", nil)
	if err != nil {
		return nil, core.ProviderRequestFailed("download file "+fileID, err)
	}
	return resp.Body, nil
}

func (b *batchObject) job() *ai.BatchJob {
	job := &ai.BatchJob{
		ID:           b.ID,
		InputFileID:  b.InputFileID,
		Status:       b.Status,
		OutputFileID: b.OutputFileID,
	}
	if b.Errors != nil && len(b.Errors.Data) > 0 {
		msgs := make([]string, 0, len(b.Errors.Data))
		for _, d := range b.Errors.Data {
			msgs = append(msgs, d.Message)
		}
		job.ErrorMessage = strings.Join(msgs, "; ")
	}
	return job
}

func (c *BatchClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	resp, err := c.send(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// send performs the request and returns the response when the status is 2xx.
// The caller closes the body.
func (c *BatchClient) send(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	var apiErr errorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Error.Message)
	}
	return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
}
