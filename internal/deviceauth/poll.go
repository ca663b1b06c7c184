package deviceauth

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// State はデバイス認可ポーリングの状態。
type State int

const (
	StateInitiated State = iota
	StatePolling
	StateGranted
	StateDenied
	StateExpired
	StateError
)

// String は状態名を返す。メトリクスのラベルにも使う。
func (s State) String() string {
	switch s {
	case StateInitiated:
		return "initiated"
	case StatePolling:
		return "polling"
	case StateGranted:
		return "granted"
	case StateDenied:
		return "denied"
	case StateExpired:
		return "expired"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal は終了状態かどうかを返す。
func (s State) Terminal() bool {
	return s >= StateGranted
}

// Verdict はポーリング1回分のレスポンス判定。
type Verdict int

const (
	// VerdictPending は認可待ち。現在の間隔で次回をスケジュールする。
	VerdictPending Verdict = iota
	// VerdictSlowDown はレート制限。間隔を倍にして次回をスケジュールする。
	VerdictSlowDown
	// VerdictGranted は認可成功。
	VerdictGranted
	// VerdictDenied はユーザーによる拒否。
	VerdictDenied
	// VerdictExpired はデバイスコードの期限切れ。
	VerdictExpired
	// VerdictError は想定外のレスポンスまたは通信失敗。
	VerdictError
)

// String は判定名を返す。
func (v Verdict) String() string {
	switch v {
	case VerdictPending:
		return "pending"
	case VerdictSlowDown:
		return "slow_down"
	case VerdictGranted:
		return "granted"
	case VerdictDenied:
		return "denied"
	case VerdictExpired:
		return "expired"
	default:
		return "error"
	}
}

// State は判定が終了状態を意味する場合にその状態を返す。継続の場合はStatePolling。
func (v Verdict) State() State {
	switch v {
	case VerdictGranted:
		return StateGranted
	case VerdictDenied:
		return StateDenied
	case VerdictExpired:
		return StateExpired
	case VerdictError:
		return StateError
	default:
		return StatePolling
	}
}

// OAuthエラーコード（RFC 8628 3.5）
const (
	errorAuthorizationPending = "authorization_pending"
	errorSlowDown             = "slow_down"
	errorAccessDenied         = "access_denied"
	errorExpiredToken         = "expired_token"
)

// Classify はトークンエンドポイントのレスポンスを判定する。
// errは通信自体の失敗を表す。
//
//	200                              -> Granted（トークンが読み取れない場合はError）
//	429 または slow_down             -> SlowDown
//	403 または access_denied         -> Denied
//	400/428 かつ authorization_pending -> Pending
//	expired_token                    -> Expired
//	それ以外                          -> Error
func Classify(resp *PollResponse, err error) Verdict {
	if err != nil || resp == nil {
		return VerdictError
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if resp.Token == nil {
			return VerdictError
		}
		return VerdictGranted
	case resp.StatusCode == http.StatusTooManyRequests, resp.ErrorCode == errorSlowDown:
		return VerdictSlowDown
	case resp.StatusCode == http.StatusForbidden, resp.ErrorCode == errorAccessDenied:
		return VerdictDenied
	case resp.ErrorCode == errorExpiredToken:
		return VerdictExpired
	case resp.ErrorCode == errorAuthorizationPending &&
		(resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusPreconditionRequired):
		return VerdictPending
	default:
		return VerdictError
	}
}

// PollState は1スロット分のポーリング状態。
// スケジューラのドライバーgoroutineだけが変更する。
type PollState struct {
	ID              string
	Slot            int
	DeviceCode      string
	UserCode        string
	VerificationURL string
	ExpiresIn       time.Duration
	Interval        time.Duration
	Remaining       time.Duration
	StartedAt       time.Time

	lastTick time.Time
}

// NewPollState はデバイスコードからPollStateを生成する。
// Remainingは有効期限で初期化される。
func NewPollState(slot int, dc *DeviceCode, now time.Time) *PollState {
	return &PollState{
		ID:              uuid.New().String(),
		Slot:            slot,
		DeviceCode:      dc.DeviceCode,
		UserCode:        dc.UserCode,
		VerificationURL: dc.VerificationURL,
		ExpiresIn:       dc.ExpiresIn,
		Interval:        dc.Interval,
		Remaining:       dc.ExpiresIn,
		StartedAt:       now,
		lastTick:        now,
	}
}

// Elapse は前回からの経過時間だけRemainingを減らし、残り時間を返す。
// 時計が巻き戻った場合は減算しない。
func (p *PollState) Elapse(now time.Time) time.Duration {
	if elapsed := now.Sub(p.lastTick); elapsed > 0 {
		p.Remaining -= elapsed
	}
	p.lastTick = now
	if p.Remaining < 0 {
		p.Remaining = 0
	}
	return p.Remaining
}

// SlowDown はポーリング間隔を倍にする。
func (p *PollState) SlowDown() {
	p.Interval *= 2
}

// NextDelay は次のティックまでの待ち時間を返す。
// 間隔は残り時間を超えないよう切り詰める。
func (p *PollState) NextDelay() time.Duration {
	if p.Remaining < p.Interval {
		return p.Remaining
	}
	return p.Interval
}

// Expired は残り時間がなくなったかを返す。
func (p *PollState) Expired() bool {
	return p.Remaining <= 0
}
