package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseBytes caps how much of a provider response is read into memory
const maxResponseBytes = 16 << 20

// NewHTTPClient builds the process-wide HTTP client shared by every adapter.
// It is created once by the entry point and injected through Deps.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// Request describes one call made through HTTP.Do
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header

	// JSON is marshalled as the request body when set
	JSON any
	// Form is sent url-encoded when set and JSON is nil
	Form url.Values

	// Basic auth credentials, used when Username is not empty
	Username string
	Password string
}

// HTTP performs JSON requests for one provider and classifies failures into
// the error taxonomy
type HTTP struct {
	Provider string
	Client   *http.Client

	// Header is added to every request before Request.Header
	Header http.Header

	// Classify overrides the status classification for non-2xx responses
	Classify func(status int, body []byte) error
}

// NewHTTP returns a helper bound to provider using the shared client
func NewHTTP(provider string, client *http.Client) *HTTP {
	return &HTTP{
		Provider: provider,
		Client:   client,
		Header:   http.Header{},
	}
}

// Do executes req and decodes a 2xx JSON body into out (when out is not nil)
func (h *HTTP) Do(ctx context.Context, req Request, out any) error {
	body, err := h.Raw(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return Unknown(h.Provider, "malformed response body", err)
	}
	return nil
}

// Raw executes req and returns the 2xx body unparsed
func (h *HTTP) Raw(ctx context.Context, req Request) ([]byte, error) {
	httpReq, err := h.build(ctx, req)
	if err != nil {
		return nil, Unknown(h.Provider, "could not build request", err)
	}

	resp, err := h.Client.Do(httpReq)
	if err != nil {
		return nil, Unknown(h.Provider, fmt.Sprintf("%s %s failed", httpReq.Method, httpReq.URL.Path), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, Unknown(h.Provider, "could not read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if h.Classify != nil {
			return nil, h.Classify(resp.StatusCode, body)
		}
		return nil, FromStatus(h.Provider, resp.StatusCode, body)
	}
	return body, nil
}

func (h *HTTP) build(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.JSON != nil:
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, vs := range h.Header {
		httpReq.Header[k] = vs
	}
	for k, vs := range req.Header {
		httpReq.Header[k] = vs
	}
	if req.Username != "" {
		httpReq.SetBasicAuth(req.Username, req.Password)
	}
	return httpReq, nil
}

// JoinURL joins base and path with exactly one slash between them
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
