// Package httpreq implements the `http_request` action. It resolves the
// action's auth/body/header fields into a single outbound call performed
// through the action.HTTPClient capability interface, defaulting to a
// net/http.Client-backed implementation since no HTTP client library (e.g.
// resty) appears anywhere in the example pack's dependency surface for this
// concern — net/http is the idiomatic default every example repo making
// outbound calls reaches for.
package httpreq

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/actflow/actflow/model/errs"
	"github.com/actflow/actflow/service/action"
)

// Handler implements the `http_request` action.
type Handler struct {
	client action.HTTPClient
}

// New returns a Handler that issues requests through client. Pass nil to
// use the default net/http-backed implementation.
func New(client action.HTTPClient) *Handler {
	if client == nil {
		client = NewDefaultClient()
	}
	return &Handler{client: client}
}

// Execute builds an HTTPRequest from action's fields and returns
// {status, headers, body}. Per §4.3, a non-2xx status is a normal output,
// not a handler error; only transport failures and timeouts fail the node.
//
// An optional "retry": {attempts, backoff_ms} field re-issues a transport
// failure until attempts tries in total have been made (attempts-1
// re-issues), with a linear backoff, reporting every
// re-attempt through ctx.Retry before giving up and failing the node —
// this is a handler-local policy, never a process-level retry: the process
// still fails outright if every attempt is exhausted.
func (h *Handler) Execute(ctx *action.Context, act map[string]interface{}) (interface{}, error) {
	req, err := buildRequest(act)
	if err != nil {
		return nil, errs.HandlerFailed("transport", err.Error(), err)
	}

	attempts, backoff := retryPolicy(act)

	var resp *action.HTTPResponse
	for attempt := 1; ; attempt++ {
		resp, err = h.client.Do(ctx, req)
		if err == nil {
			break
		}
		if attempt >= attempts {
			return nil, errs.HandlerFailed("transport", "http request failed", err)
		}
		ctx.Retry(attempt, err)
		select {
		case <-ctx.Done():
			return nil, errs.HandlerFailed("transport", "http request failed", ctx.Err())
		case <-time.After(time.Duration(attempt) * backoff):
		}
	}

	out := map[string]interface{}{
		"status":  resp.Status,
		"headers": resp.Headers,
		"body":    resp.Body,
	}
	return out, nil
}

// retryPolicy reads the optional "retry" field, defaulting to a single
// attempt (no retry) when absent or malformed.
func retryPolicy(act map[string]interface{}) (attempts int, backoff time.Duration) {
	attempts = 1
	backoff = 200 * time.Millisecond

	retry, ok := act["retry"].(map[string]interface{})
	if !ok {
		return attempts, backoff
	}
	if a, ok := retry["attempts"].(float64); ok && a > 1 {
		attempts = int(a)
	}
	if b, ok := retry["backoff_ms"].(float64); ok && b >= 0 {
		backoff = time.Duration(b) * time.Millisecond
	}
	return attempts, backoff
}

func buildRequest(act map[string]interface{}) (*action.HTTPRequest, error) {
	rawURL, _ := act["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("http_request: missing url")
	}
	method, _ := act["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	headers := map[string]string{}
	if h, ok := act["headers"].(map[string]interface{}); ok {
		for k, v := range h {
			headers[k] = fmt.Sprintf("%v", v)
		}
	}

	if params, ok := act["params"].(map[string]interface{}); ok && len(params) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("http_request: invalid url: %w", err)
		}
		q := u.Query()
		for k, v := range params {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		u.RawQuery = q.Encode()
		rawURL = u.String()
	}

	var bodyBytes []byte
	if body, ok := act["body"].(map[string]interface{}); ok {
		contentType, _ := body["content_type"].(string)
		switch contentType {
		case "", "none":
			// no body
		case "json":
			b, err := json.Marshal(body["value"])
			if err != nil {
				return nil, fmt.Errorf("http_request: encoding json body: %w", err)
			}
			bodyBytes = b
			if _, set := headers["Content-Type"]; !set {
				headers["Content-Type"] = "application/json"
			}
		case "form":
			values := url.Values{}
			if form, ok := body["value"].(map[string]interface{}); ok {
				for k, v := range form {
					values.Set(k, fmt.Sprintf("%v", v))
				}
			}
			bodyBytes = []byte(values.Encode())
			if _, set := headers["Content-Type"]; !set {
				headers["Content-Type"] = "application/x-www-form-urlencoded"
			}
		case "text":
			if s, ok := body["value"].(string); ok {
				bodyBytes = []byte(s)
			}
		default:
			return nil, fmt.Errorf("http_request: unknown body.content_type %q", contentType)
		}
	}

	if auth, ok := act["auth"].(map[string]interface{}); ok {
		authType, _ := auth["auth_type"].(string)
		switch authType {
		case "", "no_auth":
		case "bearer":
			token, _ := auth["token"].(string)
			headers["Authorization"] = "Bearer " + token
		case "basic":
			user, _ := auth["username"].(string)
			pass, _ := auth["password"].(string)
			headers["Authorization"] = "Basic " + basicAuthValue(user, pass)
		case "custom":
			if name, ok := auth["header_name"].(string); ok {
				if value, ok := auth["header_value"].(string); ok {
					headers[name] = value
				}
			}
		default:
			return nil, fmt.Errorf("http_request: unknown auth.auth_type %q", authType)
		}
	}

	timeout := 0
	if t, ok := act["timeout"].(float64); ok {
		timeout = int(t)
	}

	return &action.HTTPRequest{
		Method:  strings.ToUpper(method),
		URL:     rawURL,
		Headers: headers,
		Body:    bodyBytes,
		Timeout: timeout,
	}, nil
}

func basicAuthValue(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

// DefaultClient is the net/http-backed action.HTTPClient implementation
// used unless an embedder supplies its own.
type DefaultClient struct {
	httpClient *http.Client
}

// NewDefaultClient returns a DefaultClient with a reasonable base timeout;
// per-request timeouts further bound an individual call via context.
func NewDefaultClient() *DefaultClient {
	return &DefaultClient{httpClient: &http.Client{Timeout: 60 * time.Second}}
}

// Do issues req and maps the net/http response into an action.HTTPResponse.
func (c *DefaultClient) Do(ctx context.Context, req *action.HTTPRequest) (*action.HTTPResponse, error) {
	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(req.Timeout)*time.Millisecond)
		defer cancel()
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	var decoded interface{}
	if json.Valid(respBody) && len(respBody) > 0 {
		_ = json.Unmarshal(respBody, &decoded)
	} else {
		decoded = string(respBody)
	}

	return &action.HTTPResponse{
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    decoded,
	}, nil
}
