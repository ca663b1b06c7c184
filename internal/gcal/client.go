// Package gcal はGoogle Calendar APIを使ったカレンダープロバイダー実装を提供する。
package gcal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/calprov/internal/model"
)

const defaultCalendarAPIURL = "https://www.googleapis.com/calendar/v3"

// calendarResource はGoogle Calendar APIのカレンダーリソース。
type calendarResource struct {
	ID          string `json:"id,omitempty"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	TimeZone    string `json:"timeZone,omitempty"`
}

// aclRule はGoogle Calendar APIのACLルール。
type aclRule struct {
	Role  string   `json:"role"`
	Scope aclScope `json:"scope"`
}

type aclScope struct {
	Type string `json:"type"`
}

// Client はGoogle Calendar APIのRESTクライアント。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient はClientを生成する。
// baseURLが空の場合は本番のエンドポイントを使用する。
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultCalendarAPIURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// InsertCalendar はカレンダーを作成する。
func (c *Client) InsertCalendar(ctx context.Context, token string, res *calendarResource) (*calendarResource, error) {
	var out calendarResource
	if err := c.do(ctx, token, http.MethodPost, "/calendars", res, &out); err != nil {
		return nil, fmt.Errorf("failed to insert calendar: %w", err)
	}
	return &out, nil
}

// GetCalendar はカレンダーを取得する。
func (c *Client) GetCalendar(ctx context.Context, token, calendarID string) (*calendarResource, error) {
	var out calendarResource
	if err := c.do(ctx, token, http.MethodGet, calendarPath(calendarID), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get calendar: %w", err)
	}
	return &out, nil
}

// PatchCalendar はカレンダーの名前、説明、タイムゾーンを更新する。
func (c *Client) PatchCalendar(ctx context.Context, token, calendarID string, res *calendarResource) (*calendarResource, error) {
	var out calendarResource
	if err := c.do(ctx, token, http.MethodPatch, calendarPath(calendarID), res, &out); err != nil {
		return nil, fmt.Errorf("failed to patch calendar: %w", err)
	}
	return &out, nil
}

// DeleteCalendar はカレンダーを削除する。
func (c *Client) DeleteCalendar(ctx context.Context, token, calendarID string) error {
	if err := c.do(ctx, token, http.MethodDelete, calendarPath(calendarID), nil, nil); err != nil {
		return fmt.Errorf("failed to delete calendar: %w", err)
	}
	return nil
}

// PublishCalendar はカレンダーを誰でも閲覧可能にするACLを追加する。
func (c *Client) PublishCalendar(ctx context.Context, token, calendarID string) error {
	rule := &aclRule{Role: "reader", Scope: aclScope{Type: "default"}}
	if err := c.do(ctx, token, http.MethodPost, calendarPath(calendarID)+"/acl", rule, nil); err != nil {
		return fmt.Errorf("failed to publish calendar: %w", err)
	}
	return nil
}

func calendarPath(calendarID string) string {
	return "/calendars/" + url.PathEscape(calendarID)
}

// do はJSONリクエストを送信し、2xxのレスポンスをoutにデコードする。
// 404はmodel.ErrCalendarNotFound、その他の非2xxはmodel.ErrProvider、
// 通信失敗はmodel.ErrNetworkでラップする。
func (c *Client) do(ctx context.Context, token, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", model.ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.ErrCalendarNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &StatusError{StatusCode: resp.StatusCode, Body: truncate(respBody, 512)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%w: failed to parse response: %v", model.ErrProvider, err)
		}
	}
	return nil
}

// StatusError はGoogle Calendar APIの非2xxレスポンス。
// errors.Is(err, model.ErrProvider) が常に真になる。
type StatusError struct {
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("calendar api returned status %d: %s", e.StatusCode, e.Body)
}

// Is はmodel.ErrProviderとの一致を判定する。
func (e *StatusError) Is(target error) bool {
	return target == model.ErrProvider
}

// Unauthorized はアクセストークンが拒否されたかを返す。
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// EmbedLink はカレンダーの公開埋め込みURLを返す。
func EmbedLink(calendarID string) string {
	return "https://calendar.google.com/calendar/embed?src=" + url.QueryEscape(calendarID)
}
