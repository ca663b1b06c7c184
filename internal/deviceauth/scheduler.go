package deviceauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/hitoshi/calprov/internal/metrics"
	"github.com/hitoshi/calprov/internal/model"
)

// Clock はスケジューラが使う時計。テストでは仮想時計に差し替える。
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer はキャンセル可能なタイマー。
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) Timer { return realTimer{t: time.NewTimer(d)} }

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }

func (r realTimer) Stop() bool { return r.t.Stop() }

// CredentialSaver は認可成功時にトークンを保存する先。
type CredentialSaver interface {
	Save(ctx context.Context, slot int, refreshToken, accessToken string, expiresIn time.Duration) error
}

// Result はポーリングの終了結果。
type Result struct {
	PollID   string
	Slot     int
	State    State
	Err      error
	Duration time.Duration
}

// Handle は進行中または終了済みのデバイス認可への参照。
type Handle struct {
	done chan struct{}

	mu              sync.RWMutex
	pollID          string
	slot            int
	userCode        string
	verificationURL string
	expiresAt       time.Time
	state           State
	result          Result
}

func newHandle(slot int) *Handle {
	return &Handle{
		done:  make(chan struct{}),
		slot:  slot,
		state: StateInitiated,
	}
}

// Done は終了状態に達したときにクローズされるチャネルを返す。
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result は終了結果を返す。終了前はfalseを返す。
func (h *Handle) Result() (Result, bool) {
	select {
	case <-h.done:
	default:
		return Result{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.result, true
}

// Wait は終了状態になるかctxがキャンセルされるまで待つ。
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		res, _ := h.Result()
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Slot はクレデンシャルスロット番号を返す。
func (h *Handle) Slot() int { return h.slot }

// PollID はログ相関用のポーリングIDを返す。
func (h *Handle) PollID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pollID
}

// UserCode は利用者が入力するコードを返す。
func (h *Handle) UserCode() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.userCode
}

// VerificationURL は利用者がコードを入力するURLを返す。
func (h *Handle) VerificationURL() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.verificationURL
}

// ExpiresAt はデバイスコードの有効期限を返す。
func (h *Handle) ExpiresAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.expiresAt
}

// State は現在の状態を返す。
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Handle) start(st *PollState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pollID = st.ID
	h.userCode = st.UserCode
	h.verificationURL = st.VerificationURL
	h.expiresAt = st.StartedAt.Add(st.ExpiresIn)
	h.state = StatePolling
}

func (h *Handle) complete(res Result) {
	h.mu.Lock()
	h.state = res.State
	h.result = res
	h.mu.Unlock()
	close(h.done)
}

// Scheduler はクレデンシャルスロットごとのデバイス認可ポーリングを管理する。
// 1スロットにつき同時に1つのポーリングのみ実行する。
type Scheduler struct {
	provider DeviceProvider
	saver    CredentialSaver
	clock    Clock
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	hook     func(Result)

	polls *xsync.MapOf[int, *Handle]

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// saveTimeout は認可成功後のクレデンシャル保存に許す時間。
const saveTimeout = 10 * time.Second

// Option はSchedulerのオプション設定関数。
type Option func(*Scheduler)

// WithClock は時計を差し替える。
func WithClock(clock Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// WithMetrics はメトリクスコレクターを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithTerminalHook は終了状態ごとに1回呼ばれる関数を設定する。
// 呼び出しはドライバーgoroutine上で行われる。
func WithTerminalHook(fn func(Result)) Option {
	return func(s *Scheduler) {
		s.hook = fn
	}
}

// NewScheduler はSchedulerを生成する。
func NewScheduler(provider DeviceProvider, saver CredentialSaver, logger *slog.Logger, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		provider: provider,
		saver:    saver,
		clock:    realClock{},
		logger:   logger,
		polls:    xsync.NewMapOf[int, *Handle](),
		baseCtx:  ctx,
		stop:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestCode はスロットのデバイスコードを発行し、バックグラウンドでポーリングを開始する。
// ポーリングの完了は待たずに返る。
// 同じスロットでポーリングが進行中の場合はmodel.ErrAuthInProgressを返す。
// デバイスコードの発行に失敗した場合は何もスケジュールせずエラーを返す。
func (s *Scheduler) RequestCode(ctx context.Context, slot int) (*Handle, error) {
	if slot < 1 {
		return nil, model.NewValidationError("slot", "credential slot must be >= 1", nil)
	}
	if err := s.baseCtx.Err(); err != nil {
		return nil, fmt.Errorf("scheduler is closed: %w", err)
	}

	h := newHandle(slot)
	if _, loaded := s.polls.LoadOrStore(slot, h); loaded {
		return nil, model.ErrAuthInProgress
	}

	dc, err := s.provider.RequestDeviceCode(ctx)
	if err != nil {
		s.polls.Delete(slot)
		s.logger.Error("デバイスコードの発行に失敗しました",
			slog.Int("slot", slot),
			slog.String("error", err.Error()),
		)
		res := Result{Slot: slot, State: StateError, Err: err}
		h.complete(res)
		s.report(res)
		return nil, fmt.Errorf("failed to request device code: %w", err)
	}

	st := NewPollState(slot, dc, s.clock.Now())
	h.start(st)

	s.logger.Info("デバイス認可を開始しました",
		slog.Int("slot", slot),
		slog.String("poll_id", st.ID),
		slog.String("verification_url", st.VerificationURL),
		slog.String("user_code", st.UserCode),
		slog.Duration("interval", st.Interval),
		slog.Duration("expires_in", st.ExpiresIn),
	)

	s.wg.Add(1)
	go s.drive(h, st)

	return h, nil
}

// Get はスロットの進行中ポーリングを返す。
func (s *Scheduler) Get(slot int) (*Handle, bool) {
	return s.polls.Load(slot)
}

// Active は進行中のポーリング数を返す。
func (s *Scheduler) Active() int {
	return s.polls.Size()
}

// Close はすべてのポーリングを停止し、ドライバーgoroutineの終了を待つ。
// 停止されたポーリングはStateErrorで終了する。
func (s *Scheduler) Close() {
	s.stop()
	s.wg.Wait()
}

// drive は1つのポーリングのティックを終了状態まで繰り返す。
func (s *Scheduler) drive(h *Handle, st *PollState) {
	defer s.wg.Done()

	ctx := s.baseCtx
	delay := st.NextDelay()

	for {
		timer := s.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.finish(h, st, StateError, fmt.Errorf("polling stopped: %w", ctx.Err()))
			return
		case <-timer.C():
		}

		if st.Elapse(s.clock.Now()) <= 0 {
			s.finish(h, st, StateExpired, model.ErrAuthExpired)
			return
		}

		resp, err := s.provider.PollToken(ctx, st.DeviceCode)
		verdict := Classify(resp, err)
		if s.metrics != nil {
			s.metrics.RecordPollTick(verdict.String())
		}

		switch verdict {
		case VerdictPending:
		case VerdictSlowDown:
			st.SlowDown()
			s.logger.Warn("デバイス認可のポーリング間隔を延長します",
				slog.Int("slot", st.Slot),
				slog.String("poll_id", st.ID),
				slog.Duration("interval", st.Interval),
			)
		case VerdictGranted:
			s.grant(ctx, h, st, resp.Token)
			return
		case VerdictDenied:
			s.finish(h, st, StateDenied, model.ErrAuthDenied)
			return
		case VerdictExpired:
			s.finish(h, st, StateExpired, model.ErrAuthExpired)
			return
		default:
			s.finish(h, st, StateError, s.pollFailure(st, resp, err))
			return
		}

		delay = st.NextDelay()
	}
}

// grant はトークンを1回だけ保存して終了する。保存に失敗した場合はStateError。
// 認可済みのトークンは再取得できないため、保存はCloseによる停止の影響を受けない。
func (s *Scheduler) grant(ctx context.Context, h *Handle, st *PollState, tok *Token) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	err := s.saver.Save(saveCtx, st.Slot, tok.RefreshToken, tok.AccessToken, tok.ExpiresIn)
	if s.metrics != nil {
		s.metrics.RecordCredentialSave(err == nil)
	}
	if err != nil {
		s.logger.Error("クレデンシャルの保存に失敗しました",
			slog.Int("slot", st.Slot),
			slog.String("poll_id", st.ID),
			slog.String("error", err.Error()),
		)
		s.finish(h, st, StateError, err)
		return
	}
	s.finish(h, st, StateGranted, nil)
}

// pollFailure は想定外のレスポンスの診断情報をログに残し、エラーに変換する。
func (s *Scheduler) pollFailure(st *PollState, resp *PollResponse, err error) error {
	if err != nil {
		s.logger.Error("デバイス認可のポーリングで通信に失敗しました",
			slog.Int("slot", st.Slot),
			slog.String("poll_id", st.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	s.logger.Error("デバイス認可のポーリングで想定外のレスポンスを受信しました",
		slog.Int("slot", st.Slot),
		slog.String("poll_id", st.ID),
		slog.Int("status", resp.StatusCode),
		slog.String("oauth_error", resp.ErrorCode),
		slog.String("body", resp.Body),
	)
	return fmt.Errorf("%w: unexpected poll response status %d (%s)", model.ErrProvider, resp.StatusCode, resp.ErrorCode)
}

// finish はスロットを解放し、終了結果を1回だけ通知する。
func (s *Scheduler) finish(h *Handle, st *PollState, state State, err error) {
	res := Result{
		PollID:   st.ID,
		Slot:     st.Slot,
		State:    state,
		Err:      err,
		Duration: s.clock.Now().Sub(st.StartedAt),
	}

	// 同じスロットで新しいポーリングが登録済みの場合は削除しない
	s.polls.Compute(st.Slot, func(old *Handle, loaded bool) (*Handle, bool) {
		return old, !loaded || old == h
	})
	h.complete(res)

	attrs := []any{
		slog.Int("slot", res.Slot),
		slog.String("poll_id", res.PollID),
		slog.String("state", state.String()),
		slog.Duration("duration", res.Duration),
	}
	if state == StateGranted {
		s.logger.Info("デバイス認可が完了しました", attrs...)
	} else {
		if err != nil && !errors.Is(err, context.Canceled) {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		s.logger.Warn("デバイス認可が完了せずに終了しました", attrs...)
	}

	if s.metrics != nil {
		s.metrics.RecordPollDuration(res.Duration)
	}
	s.report(res)
}

func (s *Scheduler) report(res Result) {
	if s.metrics != nil {
		s.metrics.RecordPollOutcome(res.State.String())
	}
	if s.hook != nil {
		s.hook(res)
	}
}
