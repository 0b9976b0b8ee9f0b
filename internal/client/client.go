// Package client talks to a lockbox server over HTTP.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for the server at baseURL. A nil httpClient means
// http.DefaultClient.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server URL must be http or https, got %q", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}, nil
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorCode returns the server error code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

type UploadOptions struct {
	Encrypt         bool
	ExpiryHours     *int32
	ExpiryDownloads *int32
}

type UploadResult struct {
	ID            string  `json:"id"`
	DecryptionKey *string `json:"decryptionKey,omitempty"`
	DeleteKey     string  `json:"deleteKey"`
}

type Info struct {
	FileName  string `json:"fileName"`
	Bytes     int64  `json:"bytes"`
	Downloads int32  `json:"downloads"`
}

type Stats struct {
	Uploads        int64 `json:"uploads"`
	Bytes          int64 `json:"bytes"`
	TotalUploads   int64 `json:"totalUploads"`
	TotalBytes     int64 `json:"totalBytes"`
	TotalDownloads int64 `json:"totalDownloads"`
}

// Download is an open download stream. The caller must close Body.
type Download struct {
	FileName string
	Size     int64
	Body     io.ReadCloser
}

// Upload streams body to the server as a multipart form without buffering
// it in memory.
func (c *Client) Upload(ctx context.Context, fileName string, body io.Reader, opts UploadOptions) (*UploadResult, error) {
	q := url.Values{}
	if opts.Encrypt {
		q.Set("encrypt", "true")
	}
	if opts.ExpiryHours != nil {
		q.Set("expiry_hours", strconv.FormatInt(int64(*opts.ExpiryHours), 10))
	}
	if opts.ExpiryDownloads != nil {
		q.Set("expiry_downloads", strconv.FormatInt(int64(*opts.ExpiryDownloads), 10))
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, fileName, body))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload", q), pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result UploadResult
	if err := c.doJSON(req, http.StatusCreated, &result); err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return &result, nil
}

func writeForm(mw *multipart.Writer, fileName string, body io.Reader) error {
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return fmt.Errorf("failed to stream upload: %w", err)
	}
	return mw.Close()
}

// Download opens the upload's plaintext stream. key is required for
// encrypted uploads and ignored otherwise.
func (c *Client) Download(ctx context.Context, id, key string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/download/"+url.PathEscape(id), keyQuery(key)), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	name := id
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return &Download{FileName: name, Size: resp.ContentLength, Body: resp.Body}, nil
}

func (c *Client) Info(ctx context.Context, id, key string) (*Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/info/"+url.PathEscape(id), keyQuery(key)), nil)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := c.doJSON(req, http.StatusOK, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) Delete(ctx context.Context, id, deleteKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint("/delete/"+url.PathEscape(id), keyQuery(deleteKey)), nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, http.StatusNoContent, nil)
}

func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/stats", nil), nil)
	if err != nil {
		return nil, err
	}
	var stats Stats
	if err := c.doJSON(req, http.StatusOK, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	if len(q) == 0 {
		return c.baseURL + path
	}
	return c.baseURL + path + "?" + q.Encode()
}

func keyQuery(key string) url.Values {
	if key == "" {
		return nil
	}
	return url.Values{"key": {key}}
}

// doJSON sends req and decodes a JSON body into out when the status
// matches want. out may be nil.
func (c *Client) doJSON(req *http.Request, want int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var payload struct {
		ErrorCode string `json:"errorCode"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{StatusCode: resp.StatusCode, Code: payload.ErrorCode, Message: payload.Error}
}
