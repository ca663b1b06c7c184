// Package deviceauth はOAuthデバイス認可フローのコード発行とトークンポーリングを提供する。
package deviceauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/calprov/internal/model"
)

const (
	defaultDeviceCodeURL = "https://oauth2.googleapis.com/device/code"
	defaultTokenURL      = "https://oauth2.googleapis.com/token"
	calendarScope        = "https://www.googleapis.com/auth/calendar"

	deviceGrantType  = "urn:ietf:params:oauth:grant-type:device_code"
	refreshGrantType = "refresh_token"

	// ログに残すレスポンスボディの最大長
	maxBodyExcerpt = 512
)

// DeviceCode はデバイスコードエンドポイントのレスポンス。
type DeviceCode struct {
	DeviceCode      string
	UserCode        string
	VerificationURL string
	ExpiresIn       time.Duration
	Interval        time.Duration
}

// Token はトークンエンドポイントが返すトークン。
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// PollResponse はトークンエンドポイントへのポーリング1回分の結果。
// ステータスコードとOAuthエラーコードをそのまま保持し、判定はClassifyで行う。
type PollResponse struct {
	StatusCode int
	ErrorCode  string
	Token      *Token
	Body       string // 失敗時の診断用ボディ抜粋。成功時は空
}

// DeviceProvider はデバイス認可エンドポイントのインターフェース。
type DeviceProvider interface {
	// RequestDeviceCode はデバイスコードとユーザーコードを発行する。
	RequestDeviceCode(ctx context.Context) (*DeviceCode, error)

	// PollToken はデバイスコードでトークンエンドポイントを1回ポーリングする。
	// 通信自体が失敗した場合のみエラーを返す。
	PollToken(ctx context.Context, deviceCode string) (*PollResponse, error)
}

// TokenRefresher はリフレッシュトークンによるアクセストークン更新のインターフェース。
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
}

// GoogleDeviceConfig はGoogleデバイス認可クライアントの設定。
type GoogleDeviceConfig struct {
	ClientID     string
	ClientSecret string
	Scope        string

	// テスト用にオーバーライド可能なURL
	DeviceCodeURL string
	TokenURL      string
}

// GoogleDeviceClient はGoogleのデバイス認可エンドポイントクライアント。
type GoogleDeviceClient struct {
	config     GoogleDeviceConfig
	httpClient *http.Client
}

// NewGoogleDeviceClient はGoogleDeviceClientを生成する。
// httpClientがnilの場合はhttp.DefaultClientを使用する。
func NewGoogleDeviceClient(config GoogleDeviceConfig, httpClient *http.Client) *GoogleDeviceClient {
	if config.DeviceCodeURL == "" {
		config.DeviceCodeURL = defaultDeviceCodeURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultTokenURL
	}
	if config.Scope == "" {
		config.Scope = calendarScope
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GoogleDeviceClient{config: config, httpClient: httpClient}
}

// deviceCodeResponse はデバイスコードエンドポイントのJSON。
// Googleはverification_url、RFC 8628はverification_uriを使う。
type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// tokenResponse はトークンエンドポイントのJSON。
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Error        string `json:"error"`
}

// RequestDeviceCode はデバイスコードを発行する。
// 200以外のレスポンスはmodel.ErrProvider、通信失敗はmodel.ErrNetworkでラップして返す。
func (c *GoogleDeviceClient) RequestDeviceCode(ctx context.Context) (*DeviceCode, error) {
	data := url.Values{
		"client_id": {c.config.ClientID},
		"scope":     {c.config.Scope},
	}

	status, body, err := c.postForm(ctx, c.config.DeviceCodeURL, data)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: device code request failed with status %d: %s", model.ErrProvider, status, excerpt(body))
	}

	var dc deviceCodeResponse
	if err := json.Unmarshal(body, &dc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse device code response: %v", model.ErrProvider, err)
	}
	if dc.DeviceCode == "" || dc.UserCode == "" {
		return nil, fmt.Errorf("%w: device code response is missing codes", model.ErrProvider)
	}
	verificationURL := dc.VerificationURL
	if verificationURL == "" {
		verificationURL = dc.VerificationURI
	}
	if dc.Interval <= 0 {
		// RFC 8628 3.2: intervalが省略された場合は5秒
		dc.Interval = 5
	}

	return &DeviceCode{
		DeviceCode:      dc.DeviceCode,
		UserCode:        dc.UserCode,
		VerificationURL: verificationURL,
		ExpiresIn:       time.Duration(dc.ExpiresIn) * time.Second,
		Interval:        time.Duration(dc.Interval) * time.Second,
	}, nil
}

// PollToken はデバイスコードでトークンエンドポイントを1回ポーリングする。
// 200でトークンが読み取れない場合はTokenをnilのまま返す。
func (c *GoogleDeviceClient) PollToken(ctx context.Context, deviceCode string) (*PollResponse, error) {
	data := url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"device_code":   {deviceCode},
		"grant_type":    {deviceGrantType},
	}

	status, body, err := c.postForm(ctx, c.config.TokenURL, data)
	if err != nil {
		return nil, err
	}

	resp := &PollResponse{StatusCode: status}
	if status != http.StatusOK {
		// 成功レスポンスにはトークンが含まれるためボディを保持しない
		resp.Body = excerpt(body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return resp, nil
	}
	resp.ErrorCode = strings.ToLower(tr.Error)
	if status == http.StatusOK && tr.AccessToken != "" {
		resp.Token = &Token{
			AccessToken:  tr.AccessToken,
			RefreshToken: tr.RefreshToken,
			ExpiresIn:    time.Duration(tr.ExpiresIn) * time.Second,
		}
	}
	return resp, nil
}

// Refresh はリフレッシュトークンでアクセストークンを更新する。
// レスポンスにリフレッシュトークンが含まれない場合は渡されたものを引き継ぐ。
func (c *GoogleDeviceClient) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	data := url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {refreshGrantType},
	}

	status, body, err := c.postForm(ctx, c.config.TokenURL, data)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: token refresh failed with status %d: %s", model.ErrProvider, status, excerpt(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: failed to parse refresh response: %v", model.ErrProvider, err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token in refresh response", model.ErrProvider)
	}
	if tr.RefreshToken == "" {
		tr.RefreshToken = refreshToken
	}

	return &Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    time.Duration(tr.ExpiresIn) * time.Second,
	}, nil
}

// postForm はフォームをPOSTし、ステータスコードとボディを返す。
func (c *GoogleDeviceClient) postForm(ctx context.Context, endpoint string, data url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", model.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: failed to read response: %v", model.ErrNetwork, err)
	}
	return resp.StatusCode, body, nil
}

func excerpt(body []byte) string {
	if len(body) > maxBodyExcerpt {
		return string(body[:maxBodyExcerpt]) + "..."
	}
	return string(body)
}

// compile-time interface check
var (
	_ DeviceProvider = (*GoogleDeviceClient)(nil)
	_ TokenRefresher = (*GoogleDeviceClient)(nil)
)
