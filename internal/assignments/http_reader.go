package assignments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultCallTimeout = 10 * time.Second

// HTTPReader resolves assignments against the staffing system's API.
// Responses are decoded from the staffing JSON contract; a 404 maps to
// ErrAssignmentNotFound so callers never special-case transport.
type HTTPReader struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPReader(baseURL, token string) *HTTPReader {
	return &HTTPReader{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: defaultCallTimeout},
	}
}

func (r *HTTPReader) Get(ctx context.Context, id string) (*ShiftAssignment, error) {
	var a ShiftAssignment
	if err := r.getJSON(ctx, "/assignments/"+url.PathEscape(id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *HTTPReader) CompletedSince(ctx context.Context, cutoff time.Time, limit int) ([]*ShiftAssignment, error) {
	q := url.Values{}
	q.Set("status", string(StatusCompleted))
	q.Set("completedAfter", cutoff.UTC().Format(time.RFC3339))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out struct {
		Assignments []*ShiftAssignment `json:"assignments"`
	}
	if err := r.getJSON(ctx, "/assignments?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Assignments, nil
}

func (r *HTTPReader) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrAssignmentNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("staffing API status %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
