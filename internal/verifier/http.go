package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
)

const maxResponseBody = 1 << 20

// restClient does JSON round trips and classifies failures: transport
// errors, 429 and 5xx are transient, other non-2xx permanent.
type restClient struct {
	provider string
	http     *http.Client
}

func newRESTClient(provider string, hc *http.Client) restClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return restClient{provider: provider, http: hc}
}

func (c restClient) postJSON(ctx context.Context, url string, headers map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return apperr.Provider(false, c.provider+": encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperr.Provider(false, c.provider+": build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req, out)
}

func (c restClient) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.Timeout(c.provider+": deadline exceeded", err)
		}
		return apperr.Provider(true, c.provider+": "+err.Error(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return apperr.Provider(true, c.provider+": read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := fmt.Sprintf("%s: status %d", c.provider, resp.StatusCode)
		if len(raw) > 0 && len(raw) < 512 {
			detail += ": " + string(bytes.TrimSpace(raw))
		}
		return apperr.Provider(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500, detail, nil)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Provider(false, c.provider+": decode response", err)
	}
	return nil
}
