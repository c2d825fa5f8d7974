package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Lllllllleong/ecommpipeline/internal/schema"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 10 << 20

// ClientConfig holds the endpoints of the schema-inference and pipeline services.
type ClientConfig struct {
	SchemaServiceURL   string
	PipelineServiceURL string
	// Timeout of the underlying HTTP client. Zero means no timeout.
	Timeout time.Duration
}

// Client talks to the schema-inference and pipeline-creation services over HTTP.
type Client struct {
	httpClient  *http.Client
	schemaURL   string
	pipelineURL string
}

// NewClient validates the configured endpoints and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	schemaURL, err := endpoint(cfg.SchemaServiceURL, "schema")
	if err != nil {
		return nil, fmt.Errorf("invalid schema service URL: %w", err)
	}
	pipelineURL, err := endpoint(cfg.PipelineServiceURL, "pipeline")
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline service URL: %w", err)
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		schemaURL:   schemaURL,
		pipelineURL: pipelineURL,
	}, nil
}

func endpoint(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q is not an absolute URL", base)
	}
	return u.JoinPath(path).String(), nil
}

// InferSchema uploads a spreadsheet as the multipart field "file" and decodes
// the inferred mapping document from the response.
func (c *Client) InferSchema(ctx context.Context, filename string, spreadsheet io.Reader) (schema.MappingDocument, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return schema.MappingDocument{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, spreadsheet); err != nil {
		return schema.MappingDocument{}, fmt.Errorf("failed to read spreadsheet %s: %w", filename, err)
	}
	if err := form.Close(); err != nil {
		return schema.MappingDocument{}, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.schemaURL, &body)
	if err != nil {
		return schema.MappingDocument{}, fmt.Errorf("failed to build schema request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	data, err := c.do(req, "infer schema")
	if err != nil {
		return schema.MappingDocument{}, err
	}

	var doc schema.MappingDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return schema.MappingDocument{}, fmt.Errorf("infer schema: %w: %v", ErrMalformedResponse, err)
	}
	return doc, nil
}

// CreatePipeline posts the mapping document as the JSON request body. The
// integration name travels as the "name" query parameter. The returned
// reference is the response's Location header, which may be empty.
func (c *Client) CreatePipeline(ctx context.Context, name string, doc schema.MappingDocument) (string, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode mapping document: %w", err)
	}

	target := c.pipelineURL
	if name != "" {
		target += "?" + url.Values{"name": {name}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build pipeline request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create pipeline: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "create pipeline"); err != nil {
		return "", err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return resp.Header.Get("Location"), nil
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, op); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", op, err)
	}
	return data, nil
}

func checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return &StatusError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
