package jsonl

// DefaultURL is the relative endpoint each request line targets.
const DefaultURL = "/v1/embeddings"

// Request is one line of a batch input file.
type Request struct {
	CustomID string      `json:"custom_id"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Body     RequestBody `json:"body"`
}

// RequestBody is the embeddings call carried by a Request.
type RequestBody struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// NewRequest builds the request line for one record.
func NewRequest(customID, model, input string) Request {
	return Request{
		CustomID: customID,
		Method:   "POST",
		URL:      DefaultURL,
		Body:     RequestBody{Model: model, Input: input},
	}
}

// Result is one line of a batch output file. Response is nil or carries no
// vector when the provider failed the individual request.
type Result struct {
	ID       string       `json:"id,omitempty"`
	CustomID string       `json:"custom_id"`
	Response *Response    `json:"response"`
	Error    *ResultError `json:"error,omitempty"`
}

type Response struct {
	StatusCode int           `json:"status_code,omitempty"`
	RequestID  string        `json:"request_id,omitempty"`
	Body       *ResponseBody `json:"body"`
}

type ResponseBody struct {
	Data []EmbeddingData `json:"data"`
}

type EmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewResult builds a successful result line.
func NewResult(customID string, vector []float32) Result {
	return Result{
		CustomID: customID,
		Response: &Response{
			StatusCode: 200,
			Body:       &ResponseBody{Data: []EmbeddingData{{Embedding: vector}}},
		},
	}
}

// Vector returns response.body.data[0].embedding, or false when it is absent.
func (r *Result) Vector() ([]float32, bool) {
	if r.Response == nil || r.Response.Body == nil || len(r.Response.Body.Data) == 0 {
		return nil, false
	}
	v := r.Response.Body.Data[0].Embedding
	if len(v) == 0 {
		return nil, false
	}
	return v, true
}
