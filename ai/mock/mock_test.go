package mock

import (
	"context"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/poiesic/embedvector/ai"
	"github.com/poiesic/embedvector/jsonl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVectorIsDeterministicUnit(t *testing.T) {
	a := GenerateVector("hello", 16)
	b := GenerateVector("hello", 16)
	c := GenerateVector("world", 16)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestMockEmbedder(t *testing.T) {
	ctx := context.Background()
	m := NewMockEmbedder()
	m.Dimensions = 8

	v, err := m.EmbedText(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, v, 8)

	vs, err := m.EmbedTexts(ctx, []string{"b", "c"})
	require.NoError(t, err)
	assert.Len(t, vs, 2)
	assert.Equal(t, 2, m.CallCount())
	assert.Equal(t, []string{"a", "b", "c"}, m.Texts())

	m.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1}, nil
	}
	v, err = m.EmbedText(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, v)

	m.Reset()
	assert.Zero(t, m.CallCount())
	assert.Empty(t, m.Texts())
}

func TestMockBatchClientLifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewMockProvider()
	p.GetMockEmbedder().Dimensions = 4
	client := p.GetMockBatchClient()

	input := `{"custom_id":"1","method":"POST","url":"/v1/embeddings","body":{"model":"m","input":"one"}}` + "\n" +
		`{"custom_id":"2","method":"POST","url":"/v1/embeddings","body":{"model":"m","input":"two"}}` + "\n"
	fileID, err := p.BatchClient().UploadFile(ctx, "embeddings_1.jsonl", strings.NewReader(input), ai.PurposeBatch)
	require.NoError(t, err)

	job, err := p.BatchClient().CreateBatchJob(ctx, fileID, "/v1/embeddings", "24h")
	require.NoError(t, err)
	assert.Equal(t, "validating", job.Status)
	assert.Equal(t, fileID, job.InputFileID)

	_, err = p.BatchClient().CreateBatchJob(ctx, "file-missing", "/v1/embeddings", "24h")
	assert.ErrorIs(t, err, ErrUnknownID)

	require.NoError(t, client.SetStatus(job.ID, "in_progress"))
	got, err := p.BatchClient().GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "in_progress", got.Status)

	require.NoError(t, client.CompleteJob(ctx, job.ID, p.Embedder()))
	got, err = p.BatchClient().GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	require.NotEmpty(t, got.OutputFileID)

	rc, err := p.BatchClient().DownloadFile(ctx, got.OutputFileID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)

	r := jsonl.NewReader[jsonl.Result](strings.NewReader(string(data)))
	var res jsonl.Result
	require.NoError(t, r.Next(&res))
	assert.Equal(t, "1", res.CustomID)
	v, ok := res.Vector()
	require.True(t, ok)
	assert.Equal(t, GenerateVector("one", 4), v)

	assert.Equal(t, 1, client.CallCount("UploadFile"))
	assert.Equal(t, 2, client.CallCount("CreateBatchJob"))
	assert.Equal(t, []string{job.ID}, client.JobIDs())
}
