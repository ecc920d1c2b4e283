package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/ctxreg/internal/model"
)

// operatorHeader matches server.OperatorHeader.
const operatorHeader = "X-Operator-Id"

// HTTPClient implements RegistryClient using the ctxreg HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	operatorID int64
	httpClient *http.Client
}

// Compile-time check that HTTPClient implements RegistryClient.
var _ RegistryClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request. operatorID is sent on every mutation.
func NewHTTPClient(baseURL, token string, operatorID int64) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		operatorID: operatorID,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func kindPath(kind model.Kind) string {
	return "/v1/" + url.PathEscape(string(kind)) + "s"
}

func codePath(kind model.Kind, code int64) string {
	return kindPath(kind) + "/" + strconv.FormatInt(code, 10)
}

func (c *HTTPClient) Create(ctx context.Context, kind model.Kind, req *RecordRequest) (*model.Record, error) {
	var r model.Record
	if err := c.doJSON(ctx, http.MethodPost, kindPath(kind), req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *HTTPClient) Update(ctx context.Context, kind model.Kind, code int64, req *RecordRequest) (*model.Record, error) {
	var r model.Record
	if err := c.doJSON(ctx, http.MethodPut, codePath(kind, code), req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *HTTPClient) Get(ctx context.Context, kind model.Kind, code int64) (*model.Record, error) {
	var r model.Record
	if err := c.doJSON(ctx, http.MethodGet, codePath(kind, code), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *HTTPClient) List(ctx context.Context, kind model.Kind, req *ListRequest) (*model.Page, error) {
	q := url.Values{}
	if req.SearchVal != "" {
		q.Set("searchVal", req.SearchVal)
	}
	if req.PageNo > 0 {
		q.Set("pageNo", strconv.Itoa(req.PageNo))
	}
	if req.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(req.PageSize))
	}

	path := kindPath(kind)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page model.Page
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *HTTPClient) ListAll(ctx context.Context, kind model.Kind) ([]*model.Record, error) {
	var resp struct {
		Records []*model.Record `json:"records"`
	}
	if err := c.doJSON(ctx, http.MethodGet, kindPath(kind)+"/all", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *HTTPClient) Delete(ctx context.Context, kind model.Kind, code int64) error {
	return c.doJSON(ctx, http.MethodDelete, codePath(kind, code), nil, nil)
}

func (c *HTTPClient) VerifyName(ctx context.Context, kind model.Kind, name string) (bool, error) {
	var resp struct {
		Available bool `json:"available"`
	}
	body := map[string]string{"name": name}
	if err := c.doJSON(ctx, http.MethodPost, kindPath(kind)+"/verify-name", body, &resp); err != nil {
		return false, err
	}
	return resp.Available, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded (for DELETE/204 responses).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set(operatorHeader, strconv.FormatInt(c.operatorID, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	// 204 No Content: success with no body.
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Code    int    `json:"code"`
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && (errResp.Message != "" || errResp.Error != "") {
			msg := errResp.Message
			if msg == "" {
				msg = errResp.Error
			}
			return &APIError{StatusCode: resp.StatusCode, Code: errResp.Code, Message: msg}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
