package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"rate limited", ErrRateLimited, true},
		{"wrapped rate limited", fmt.Errorf("call: %w", ErrRateLimited), true},
		{"http 500", &HTTPError{StatusCode: 500, Backend: "local"}, true},
		{"http 503", &HTTPError{StatusCode: 503, Backend: "local"}, true},
		{"http 429", &HTTPError{StatusCode: 429, Backend: "cloud_a"}, true},
		{"http 400", &HTTPError{StatusCode: 400, Backend: "cloud_a"}, false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:11434: connection refused"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"timeout text", errors.New("Client.Timeout exceeded"), true},
		{"eof", errors.New("unexpected EOF"), true},
		{"content refused", ErrContentRefused, false},
		{"plain failure", errors.New("model exploded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", &ValidationError{Message: "missing field"}, true},
		{"http 400", &HTTPError{StatusCode: 400}, true},
		{"http 404", &HTTPError{StatusCode: 404}, true},
		{"http 429 not fatal", &HTTPError{StatusCode: 429}, false},
		{"http 500 not fatal", &HTTPError{StatusCode: 500}, false},
		{"bad request text", errors.New("bad request: no model"), true},
		{"malformed text", errors.New("malformed payload"), true},
		{"other", errors.New("hiccup"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsTimeout(errors.New("request timeout")))
	assert.True(t, IsTimeout(errors.New("context deadline exceeded")))
	assert.False(t, IsTimeout(errors.New("connection refused")))
	assert.False(t, IsTimeout(nil))
}
