package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/evalbot/internal/version"
)

// maxResponseBytes caps how much of an upstream body is read.
const maxResponseBytes = 4 << 20

// httpClient is the JSON-over-HTTP plumbing shared by the collaborators.
type httpClient struct {
	name string
	http *http.Client
}

func newHTTPClient(name string, hc *http.Client) httpClient {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return httpClient{name: name, http: hc}
}

func (c httpClient) getJSON(ctx context.Context, url string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &CollaboratorError{Collaborator: c.name, Kind: FailureUnreachable, Err: err}
	}
	return c.do(ctx, req, out)
}

func (c httpClient) postJSON(ctx context.Context, url string, body, out any) (int, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("%s: encode request: %w", c.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return 0, &CollaboratorError{Collaborator: c.name, Kind: FailureUnreachable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, req, out)
}

// do sends req and decodes a 2xx JSON body into out. Non-2xx statuses are
// returned as FailureUpstream along with the status code, so callers can
// treat specific statuses (404) as content.
func (c httpClient) do(ctx context.Context, req *http.Request, out any) (int, error) {
	req.Header.Set("User-Agent", version.Name+"/"+version.Version)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		kind := FailureUnreachable
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = FailureTimeout
		}
		return 0, &CollaboratorError{Collaborator: c.name, Kind: kind, Err: err}
	}
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &CollaboratorError{
			Collaborator: c.name,
			Kind:         FailureUpstream,
			Status:       resp.StatusCode,
			Err:          fmt.Errorf("http %d: %s", resp.StatusCode, truncateForLog(string(raw))),
		}
	}
	if readErr != nil {
		return resp.StatusCode, &CollaboratorError{Collaborator: c.name, Kind: FailureUnreachable, Err: readErr}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, &CollaboratorError{Collaborator: c.name, Kind: FailureDecode, Err: err}
	}
	return resp.StatusCode, nil
}

func truncateForLog(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
