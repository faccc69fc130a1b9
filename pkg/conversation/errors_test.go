package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/invoke"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 200},
		{"invalid input", fmt.Errorf("%w: userId is required", ErrInvalidInput), 400},
		{"invalid encoding", ErrInvalidAudioEncoding, 400},
		{"timeout", &UpstreamError{Kind: UpstreamTimeout, Cause: context.DeadlineExceeded}, 504},
		{"unavailable", &UpstreamError{Kind: UpstreamUnavailable, Cause: invoke.ErrUnreachable}, 503},
		{"reported 4xx", &UpstreamError{Kind: UpstreamReported, StatusCode: 422}, 422},
		{"reported 5xx", &UpstreamError{Kind: UpstreamReported, StatusCode: 500}, 500},
		{"reported without status", &UpstreamError{Kind: UpstreamReported}, 502},
		{"wrapped", fmt.Errorf("submit: %w", &UpstreamError{Kind: UpstreamTimeout}), 504},
		{"other", errors.New("boom"), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.want {
				t.Errorf("StatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUpstreamErrorUnwrap(t *testing.T) {
	unavailable := &UpstreamError{Kind: UpstreamUnavailable, Message: "down", Cause: invoke.ErrUnreachable}
	if !IsUpstreamUnavailable(unavailable) {
		t.Error("unavailable should match ErrUpstreamUnavailable")
	}
	if !errors.Is(unavailable, invoke.ErrUnreachable) {
		t.Error("cause should be reachable")
	}

	timeout := &UpstreamError{Kind: UpstreamTimeout, Cause: context.DeadlineExceeded}
	if !IsUpstreamUnavailable(timeout) {
		t.Error("timeout should match ErrUpstreamUnavailable")
	}

	fe := &invoke.FunctionError{Function: "f", Message: "bad"}
	reported := &UpstreamError{Kind: UpstreamReported, Message: "bad", Cause: fe}
	if IsUpstreamUnavailable(reported) {
		t.Error("reported errors are not unavailability")
	}
	if !invoke.IsFunctionError(reported) {
		t.Error("function error should be reachable")
	}
}

func TestInvalidAudioEncodingIsInvalidInput(t *testing.T) {
	if !IsInvalidInput(ErrInvalidAudioEncoding) {
		t.Error("ErrInvalidAudioEncoding should wrap ErrInvalidInput")
	}
}

func TestUpstreamErrorMessage(t *testing.T) {
	err := &UpstreamError{Kind: UpstreamReported, StatusCode: 429, Message: "slow down"}
	want := "conversation: upstream reported (HTTP 429): slow down"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
