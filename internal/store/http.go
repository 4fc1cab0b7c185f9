package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// HTTPStore talks to a backend exposing the /api/assets contract.
type HTTPStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// HTTPBulkStore is an HTTPStore whose backend also accepts
// POST /api/assets/bulk-delete.
type HTTPBulkStore struct {
	*HTTPStore
}

func NewHTTP(baseURL, apiKey string, timeout time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func NewHTTPBulk(baseURL, apiKey string, timeout time.Duration) *HTTPBulkStore {
	return &HTTPBulkStore{HTTPStore: NewHTTP(baseURL, apiKey, timeout)}
}

// listKeys are the envelope fields a list response may wrap its array in.
var listKeys = []string{"assets", "data", "items", "files", "results"}

func (s *HTTPStore) List(ctx context.Context) ([]Record, error) {
	resp, err := s.do(ctx, "list assets", http.MethodGet, "/api/assets", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("list assets: decode: %w", err)
	}
	return decodeRecords(raw)
}

func decodeRecords(raw json.RawMessage) ([]Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var records []Record
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("list assets: decode array: %w", err)
		}
		return records, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("list assets: decode envelope: %w", err)
	}
	for _, key := range listKeys {
		inner, ok := envelope[key]
		if !ok {
			continue
		}
		if bytes.Equal(bytes.TrimSpace(inner), []byte("null")) {
			return []Record{}, nil
		}
		return decodeRecords(inner)
	}
	return nil, errors.New("list assets: response has no asset array")
}

func (s *HTTPStore) Delete(ctx context.Context, id string) error {
	op := "delete " + id
	resp, err := s.do(ctx, op, http.MethodDelete, "/api/assets/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkSuccessBody(op, resp)
}

func (s *HTTPStore) Download(ctx context.Context, id string) (*Payload, error) {
	resp, err := s.do(ctx, "download "+id, http.MethodGet,
		"/api/assets/"+url.PathEscape(id)+"/download", nil)
	if err != nil {
		return nil, err
	}

	p := &Payload{
		Body:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			p.Filename = params["filename"]
		}
	}
	return p, nil
}

func (s *HTTPBulkStore) BulkDelete(ctx context.Context, ids []string) (*BulkDeleteResponse, error) {
	body, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return nil, err
	}
	resp, err := s.do(ctx, "bulk delete", http.MethodPost, "/api/assets/bulk-delete", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("bulk delete: decode: %w", err)
	}
	if ok, present := rec["success"]; present && !cast.ToBool(ok) {
		return nil, &StatusError{Op: "bulk delete", Code: resp.StatusCode, Message: cast.ToString(rec["message"])}
	}

	out := &BulkDeleteResponse{}
	for _, key := range []string{"deleted_count", "deletedCount", "deleted"} {
		if v, ok := rec[key]; ok {
			out.DeletedCount = cast.ToInt(v)
			break
		}
	}
	for _, key := range []string{"failed_ids", "failedIds", "failed"} {
		if v, ok := rec[key]; ok && v != nil {
			out.FailedIDs = cast.ToStringSlice(v)
			out.HasFailedIDs = true
			break
		}
	}
	return out, nil
}

// do sends the request and maps transport failures and error statuses.
// On success the caller owns resp.Body.
func (s *HTTPStore) do(ctx context.Context, op, method, path string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: fmt.Errorf("%s: %w", op, err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
	serr := &StatusError{Op: op, Code: resp.StatusCode, Message: errorMessage(preview)}
	if resp.StatusCode >= 500 {
		return nil, &TransientError{Err: serr}
	}
	return nil, serr
}

// checkSuccessBody treats {"success": false} in a 2xx reply as failure.
func checkSuccessBody(op string, resp *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var rec Record
	if json.Unmarshal(data, &rec) != nil {
		return nil
	}
	if ok, present := rec["success"]; present && !cast.ToBool(ok) {
		return &StatusError{Op: op, Code: resp.StatusCode, Message: errorMessage(data)}
	}
	return nil
}

func errorMessage(body []byte) string {
	var rec Record
	if json.Unmarshal(body, &rec) == nil {
		for _, key := range []string{"message", "error", "detail"} {
			if v, ok := rec[key]; ok {
				if s, err := cast.ToStringE(v); err == nil && s != "" {
					return s
				}
				if m, ok := v.(map[string]any); ok {
					return cast.ToString(m["message"])
				}
			}
		}
	}
	return strings.TrimSpace(string(body))
}
