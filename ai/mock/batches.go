package mock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/poiesic/embedvector/ai"
	"github.com/poiesic/embedvector/jsonl"
)

// ErrUnknownID is returned for files or jobs the mock has never seen.
var ErrUnknownID = errors.New("mock: unknown id")

// MockBatchClient is an in-memory ai.BatchClient.
// Function fields override the default behavior of each method.
type MockBatchClient struct {
	UploadFileFunc     func(ctx context.Context, name string, r io.Reader, purpose string) (string, error)
	CreateBatchJobFunc func(ctx context.Context, inputFileID, endpoint, completionWindow string) (*ai.BatchJob, error)
	GetJobStatusFunc   func(ctx context.Context, jobID string) (*ai.BatchJob, error)
	DownloadFileFunc   func(ctx context.Context, fileID string) (io.ReadCloser, error)

	mu    sync.Mutex
	files map[string][]byte
	jobs  map[string]*ai.BatchJob
	calls map[string]int
}

// NewMockBatchClient creates an empty in-memory batch API.
func NewMockBatchClient() *MockBatchClient {
	return &MockBatchClient{
		files: make(map[string][]byte),
		jobs:  make(map[string]*ai.BatchJob),
		calls: make(map[string]int),
	}
}

func (m *MockBatchClient) count(method string) {
	m.mu.Lock()
	m.calls[method]++
	m.mu.Unlock()
}

// UploadFile stores the content and returns a new file id.
func (m *MockBatchClient) UploadFile(ctx context.Context, name string, r io.Reader, purpose string) (string, error) {
	m.count("UploadFile")
	if m.UploadFileFunc != nil {
		return m.UploadFileFunc(ctx, name, r, purpose)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	id := "file-" + uuid.NewString()
	m.mu.Lock()
	m.files[id] = data
	m.mu.Unlock()
	return id, nil
}

// CreateBatchJob creates a job in the "validating" state.
func (m *MockBatchClient) CreateBatchJob(ctx context.Context, inputFileID, endpoint, completionWindow string) (*ai.BatchJob, error) {
	m.count("CreateBatchJob")
	if m.CreateBatchJobFunc != nil {
		return m.CreateBatchJobFunc(ctx, inputFileID, endpoint, completionWindow)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[inputFileID]; !ok {
		return nil, fmt.Errorf("%w: file %s", ErrUnknownID, inputFileID)
	}
	job := &ai.BatchJob{ID: "batch_" + uuid.NewString(), InputFileID: inputFileID, Status: "validating"}
	m.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

// GetJobStatus returns a copy of the job.
func (m *MockBatchClient) GetJobStatus(ctx context.Context, jobID string) (*ai.BatchJob, error) {
	m.count("GetJobStatus")
	if m.GetJobStatusFunc != nil {
		return m.GetJobStatusFunc(ctx, jobID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", ErrUnknownID, jobID)
	}
	cp := *job
	return &cp, nil
}

// DownloadFile returns the stored content of a file.
func (m *MockBatchClient) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	m.count("DownloadFile")
	if m.DownloadFileFunc != nil {
		return m.DownloadFileFunc(ctx, fileID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[fileID]
	if !ok {
		return nil, fmt.Errorf("%w: file %s", ErrUnknownID, fileID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// SetStatus changes the provider status of a job.
func (m *MockBatchClient) SetStatus(jobID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s", ErrUnknownID, jobID)
	}
	job.Status = status
	return nil
}

// CompleteWithOutput stores output as the job's result file and marks the
// job completed.
func (m *MockBatchClient) CompleteWithOutput(jobID string, output []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return "", fmt.Errorf("%w: job %s", ErrUnknownID, jobID)
	}
	fileID := "file-" + uuid.NewString()
	m.files[fileID] = output
	job.Status = "completed"
	job.OutputFileID = fileID
	return fileID, nil
}

// CompleteJob embeds every request line of the job's input file with
// embedder and completes the job with the resulting output file.
func (m *MockBatchClient) CompleteJob(ctx context.Context, jobID string, embedder ai.Embedder) error {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	var input []byte
	if ok {
		input = m.files[job.InputFileID]
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: job %s", ErrUnknownID, jobID)
	}

	var out bytes.Buffer
	w := jsonl.NewWriter(&out)
	r := jsonl.NewReader[jsonl.Request](bytes.NewReader(input))
	for {
		var req jsonl.Request
		err := r.Next(&req)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		vector, err := embedder.EmbedText(ctx, req.Body.Input)
		if err != nil {
			return err
		}
		if err := w.Write(jsonl.NewResult(req.CustomID, vector)); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := m.CompleteWithOutput(jobID, out.Bytes())
	return err
}

// JobIDs returns the ids of every job created so far.
func (m *MockBatchClient) JobIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	return ids
}

// FileContent returns the stored content of a file.
func (m *MockBatchClient) FileContent(fileID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[fileID]
	return data, ok
}

// CallCount returns how many times the named method was called.
func (m *MockBatchClient) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}
