package deviceauth

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tok := &Token{AccessToken: "a", RefreshToken: "r", ExpiresIn: time.Hour}

	tests := []struct {
		name string
		resp *PollResponse
		err  error
		want Verdict
	}{
		{"200 with token", &PollResponse{StatusCode: http.StatusOK, Token: tok}, nil, VerdictGranted},
		{"200 without token", &PollResponse{StatusCode: http.StatusOK}, nil, VerdictError},
		{"428 pending", &PollResponse{StatusCode: http.StatusPreconditionRequired, ErrorCode: "authorization_pending"}, nil, VerdictPending},
		{"400 pending", &PollResponse{StatusCode: http.StatusBadRequest, ErrorCode: "authorization_pending"}, nil, VerdictPending},
		{"401 pending is unexpected", &PollResponse{StatusCode: http.StatusUnauthorized, ErrorCode: "authorization_pending"}, nil, VerdictError},
		{"429", &PollResponse{StatusCode: http.StatusTooManyRequests}, nil, VerdictSlowDown},
		{"403 slow_down", &PollResponse{StatusCode: http.StatusForbidden, ErrorCode: "slow_down"}, nil, VerdictSlowDown},
		{"400 slow_down", &PollResponse{StatusCode: http.StatusBadRequest, ErrorCode: "slow_down"}, nil, VerdictSlowDown},
		{"403 denied", &PollResponse{StatusCode: http.StatusForbidden, ErrorCode: "access_denied"}, nil, VerdictDenied},
		{"403 no body", &PollResponse{StatusCode: http.StatusForbidden}, nil, VerdictDenied},
		{"400 access_denied", &PollResponse{StatusCode: http.StatusBadRequest, ErrorCode: "access_denied"}, nil, VerdictDenied},
		{"400 expired_token", &PollResponse{StatusCode: http.StatusBadRequest, ErrorCode: "expired_token"}, nil, VerdictExpired},
		{"428 expired_token", &PollResponse{StatusCode: http.StatusPreconditionRequired, ErrorCode: "expired_token"}, nil, VerdictExpired},
		{"400 invalid_grant", &PollResponse{StatusCode: http.StatusBadRequest, ErrorCode: "invalid_grant"}, nil, VerdictError},
		{"500", &PollResponse{StatusCode: http.StatusInternalServerError}, nil, VerdictError},
		{"network error", nil, errors.New("connection reset"), VerdictError},
		{"nil response", nil, nil, VerdictError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.resp, tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerdict_State(t *testing.T) {
	tests := []struct {
		v    Verdict
		want State
	}{
		{VerdictPending, StatePolling},
		{VerdictSlowDown, StatePolling},
		{VerdictGranted, StateGranted},
		{VerdictDenied, StateDenied},
		{VerdictExpired, StateExpired},
		{VerdictError, StateError},
	}
	for _, tt := range tests {
		if got := tt.v.State(); got != tt.want {
			t.Errorf("%v.State() = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateInitiated, StatePolling} {
		if s.Terminal() {
			t.Errorf("%v should not be terminal", s)
		}
	}
	for _, s := range []State{StateGranted, StateDenied, StateExpired, StateError} {
		if !s.Terminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
}

func TestPollState_ElapseAndDelay(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := NewPollState(1, &DeviceCode{
		DeviceCode: "dc",
		UserCode:   "ABCD-EFGH",
		ExpiresIn:  20 * time.Second,
		Interval:   5 * time.Second,
	}, t0)

	if st.Remaining != 20*time.Second {
		t.Fatalf("Remaining = %v, want 20s", st.Remaining)
	}
	if st.ID == "" {
		t.Error("poll id should be assigned")
	}

	if got := st.Elapse(t0.Add(7 * time.Second)); got != 13*time.Second {
		t.Errorf("Elapse = %v, want 13s", got)
	}
	st.SlowDown()
	if st.Interval != 10*time.Second {
		t.Errorf("Interval = %v, want 10s", st.Interval)
	}
	if d := st.NextDelay(); d != 10*time.Second {
		t.Errorf("NextDelay = %v, want 10s", d)
	}

	st.SlowDown()
	if d := st.NextDelay(); d != 13*time.Second {
		t.Errorf("NextDelay = %v, want clamp to remaining 13s", d)
	}

	// 時計の巻き戻りでは増えない
	if got := st.Elapse(t0); got != 13*time.Second {
		t.Errorf("Elapse after clock skew = %v, want 13s", got)
	}

	if got := st.Elapse(t0.Add(time.Minute)); got != 0 || !st.Expired() {
		t.Errorf("Elapse = %v, Expired = %v; want 0, true", got, st.Expired())
	}
}
