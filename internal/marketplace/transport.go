package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const maxResponseBody = 10 << 20

var userAgents = []string{
	"TGTG/21.12.1 Dalvik/2.1.0 (Linux; U; Android 6.0.1; Nexus 5 Build/M4B30Z)",
	"TGTG/21.12.1 Dalvik/2.1.0 (Linux; U; Android 7.0; SM-G935F Build/NRD90M)",
	"TGTG/21.12.1 Dalvik/2.1.0 (Linux; Android 6.0.1; SM-G920V Build/MMB29K)",
}

func randomUserAgent() string {
	return userAgents[rand.IntN(len(userAgents))]
}

// response is a fully read API response.
type response struct {
	StatusCode int
	Body       []byte
}

func (r response) decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (r response) apiError() *APIError {
	return &APIError{StatusCode: r.StatusCode, Body: r.Body}
}

// transport posts JSON bodies to the marketplace with the fixed header set.
type transport struct {
	baseURL    *url.URL
	httpClient *http.Client
	userAgent  string
	language   string
}

func newTransport(baseURL string, httpClient *http.Client, userAgent, language string) (*transport, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if userAgent == "" {
		userAgent = randomUserAgent()
	}
	return &transport{
		baseURL:    u,
		httpClient: httpClient,
		userAgent:  userAgent,
		language:   language,
	}, nil
}

func (t *transport) post(ctx context.Context, path, accessToken string, payload any) (response, error) {
	endpoint, err := t.baseURL.Parse(path)
	if err != nil {
		return response{}, fmt.Errorf("build url for %s: %w", path, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return response{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept-Language", t.language)
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("post %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return response{}, fmt.Errorf("open gzip body: %w", err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxResponseBody))
	if err != nil {
		return response{}, fmt.Errorf("read response: %w", err)
	}

	return response{StatusCode: resp.StatusCode, Body: data}, nil
}

func (t *transport) close() {
	t.httpClient.CloseIdleConnections()
}
