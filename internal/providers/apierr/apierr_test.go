package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestUserMessageByStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		locale string
		want   string
	}{
		{
			name:   "rate limited",
			err:    &UpstreamError{Service: "ideogram", StatusCode: http.StatusTooManyRequests},
			locale: "en",
			want:   catalog[supported[0]][msgRateLimited],
		},
		{
			name:   "wrapped safety rejection",
			err:    fmt.Errorf("generate: %w", &UpstreamError{Service: "ideogram", StatusCode: http.StatusUnprocessableEntity}),
			locale: "en-US",
			want:   catalog[supported[0]][msgRejected],
		},
		{
			name:   "server error in indonesian",
			err:    &UpstreamError{Service: "ideogram", StatusCode: http.StatusBadGateway},
			locale: "id-ID",
			want:   catalog[supported[1]][msgUnavailable],
		},
		{
			name:   "plain error is generic",
			err:    errors.New("dial tcp: connection refused"),
			locale: "id",
			want:   catalog[supported[1]][msgGeneric],
		},
		{
			name:   "unknown locale falls back to english",
			err:    &UpstreamError{Service: "ideogram", StatusCode: http.StatusBadRequest},
			locale: "not a locale",
			want:   catalog[supported[0]][msgBadRequest],
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := UserMessage(tc.err, tc.locale); got != tc.want {
				t.Fatalf("message mismatch: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestUpstreamErrorText(t *testing.T) {
	err := &UpstreamError{Service: "ideogram", StatusCode: http.StatusServiceUnavailable}
	if got, want := err.Error(), "ideogram: status 503: Service Unavailable"; got != want {
		t.Fatalf("error mismatch: got %q want %q", got, want)
	}
	if !err.Temporary() {
		t.Fatalf("503 should be temporary")
	}
	if (&UpstreamError{StatusCode: http.StatusBadRequest}).Temporary() {
		t.Fatalf("400 should not be temporary")
	}
}
