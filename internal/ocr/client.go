package ocr

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

	"go.uber.org/zap"

	"facture-fec/internal/apperr"
)

// ClientOptions configures a DocumentClient.
type ClientOptions struct {
	APIKey    string
	BaseURL   string
	OCRModel  string
	ChatModel string
	Timeout   time.Duration
	// RetryBackoff is multiplied by the attempt number between retries.
	RetryBackoff time.Duration
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// DocumentClient talks to the provider's document endpoints: file upload,
// signed URLs, OCR and chat completions with an attached document.
type DocumentClient struct {
	apiKey     string
	baseURL    string
	ocrModel   string
	chatModel  string
	backoff    time.Duration
	maxRetries int
	httpClient *http.Client
	logger     *zap.Logger
}

func NewDocumentClient(opts ClientOptions) *DocumentClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.mistral.ai/v1/"
	}
	// Ensure baseURL ends with /
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if opts.OCRModel == "" {
		opts.OCRModel = "mistral-ocr-latest"
	}
	if opts.ChatModel == "" {
		opts.ChatModel = "mistral-large-latest"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DocumentClient{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		ocrModel:   opts.OCRModel,
		chatModel:  opts.ChatModel,
		backoff:    opts.RetryBackoff,
		maxRetries: 2,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Configured reports whether an API key is set.
func (c *DocumentClient) Configured() bool {
	return c != nil && c.apiKey != ""
}

type uploadResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Bytes    int64  `json:"bytes"`
}

// Upload sends a PDF to the files API for OCR use and returns its file id.
func (c *DocumentClient) Upload(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("purpose", "ocr"); err != nil {
		return "", fmt.Errorf("write purpose field: %w", err)
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	var resp uploadResponse
	if err := c.do(ctx, http.MethodPost, "files", body.Bytes(), w.FormDataContentType(), &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", apperr.New(apperr.CodeLLM, "upload returned no file id")
	}
	return resp.ID, nil
}

type signedURLResponse struct {
	URL string `json:"url"`
}

// SignedURL returns a temporary URL for an uploaded file.
func (c *DocumentClient) SignedURL(ctx context.Context, fileID string) (string, error) {
	var resp signedURLResponse
	path := "files/" + url.PathEscape(fileID) + "/url?expiry=24"
	if err := c.do(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", apperr.New(apperr.CodeLLM, "signed url response is empty")
	}
	return resp.URL, nil
}

// UploadDocument uploads data and returns a signed URL for it.
func (c *DocumentClient) UploadDocument(ctx context.Context, name string, data []byte) (string, error) {
	id, err := c.Upload(ctx, name, data)
	if err != nil {
		return "", err
	}
	return c.SignedURL(ctx, id)
}

// DocumentRef points the provider at an uploaded document.
type DocumentRef struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type ocrRequest struct {
	Model    string      `json:"model"`
	Document DocumentRef `json:"document"`
}

// OCRPage is one page returned by the OCR endpoint.
type OCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

// OCRResponse is the OCR endpoint's reply.
type OCRResponse struct {
	Model     string    `json:"model"`
	Pages     []OCRPage `json:"pages"`
	UsageInfo struct {
		PagesProcessed int `json:"pages_processed"`
	} `json:"usage_info"`
}

// OCR runs the provider's OCR model on a document URL.
func (c *DocumentClient) OCR(ctx context.Context, documentURL string) (OCRResponse, error) {
	req := ocrRequest{
		Model:    c.ocrModel,
		Document: DocumentRef{Type: "document_url", DocumentURL: documentURL},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return OCRResponse{}, fmt.Errorf("marshal ocr request: %w", err)
	}

	var resp OCRResponse
	if err := c.do(ctx, http.MethodPost, "ocr", payload, "application/json", &resp); err != nil {
		return OCRResponse{}, err
	}
	return resp, nil
}

// ContentPart is a part of a multimodal chat message.
type ContentPart struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	DocumentURL string `json:"document_url,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatWithDocument sends prompt together with a document reference and
// returns the completion text.
func (c *DocumentClient) ChatWithDocument(ctx context.Context, documentURL, prompt string) (string, error) {
	req := chatRequest{
		Model: c.chatModel,
		Messages: []chatMessage{{
			Role: "user",
			Content: []ContentPart{
				{Type: "text", Text: prompt},
				{Type: "document_url", DocumentURL: documentURL},
			},
		}},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	var resp chatResponse
	if err := c.do(ctx, http.MethodPost, "chat/completions", payload, "application/json", &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.CodeLLM, "chat returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", apperr.New(apperr.CodeLLM, "chat returned empty content")
	}
	return content, nil
}

// do sends a request, retrying transport errors and 5xx responses. 4xx
// responses fail immediately.
func (c *DocumentClient) do(ctx context.Context, method, path string, body []byte, contentType string, out any) error {
	if !c.Configured() {
		return apperr.ErrLLMUnavailable
	}

	endpoint := c.baseURL + path
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying provider call",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return fmt.Errorf("create http request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("execute request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response body: %w", err)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("status=%d, body=%s", resp.StatusCode, truncate(string(respBody), 1024))
			// Don't retry 4xx errors (client errors)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return apperr.New(apperr.CodeLLM, fmt.Sprintf("%s %s rejected", method, path), lastErr)
			}
			continue
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}
		return nil
	}

	return apperr.New(apperr.CodeLLM, fmt.Sprintf("%s %s failed after %d attempts", method, path, c.maxRetries+1), lastErr)
}
