package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewRscopeError(t *testing.T) {
	cause := errors.New("disk gone")
	err := NewRscopeError(ContentUnavailable, "cannot read file:///a.R", cause)

	if err.Code != ContentUnavailable {
		t.Errorf("Code = %v, want %v", err.Code, ContentUnavailable)
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
}

func TestRscopeError_Error(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		message   string
		cause     error
		wantParts []string
	}{
		{
			name:      "with cause",
			code:      StoreFailed,
			message:   "put file record",
			cause:     errors.New("database is locked"),
			wantParts: []string{"STORE_FAILED", "put file record", "database is locked"},
		},
		{
			name:      "without cause",
			code:      QueueFull,
			message:   "index queue at capacity (50)",
			wantParts: []string{"QUEUE_FULL", "capacity (50)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewRscopeError(tt.code, tt.message, tt.cause).Error()
			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, want to contain %q", got, part)
				}
			}
		})
	}
}

func TestSentinelAndCodeOf(t *testing.T) {
	err := fmt.Errorf("submit: %w", NewRscopeError(QueueFull, "full", nil))

	if !errors.Is(err, Sentinel(QueueFull)) {
		t.Errorf("errors.Is(wrapped, Sentinel(QueueFull)) = false")
	}
	if errors.Is(err, Sentinel(IndexerStopped)) {
		t.Errorf("errors.Is matched the wrong code")
	}
	if got := CodeOf(err); got != QueueFull {
		t.Errorf("CodeOf = %v, want %v", got, QueueFull)
	}
	if got := CodeOf(errors.New("plain")); got != InternalError {
		t.Errorf("CodeOf(plain) = %v, want %v", got, InternalError)
	}
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %q, want empty", got)
	}
}

func TestWithDetails(t *testing.T) {
	err := NewRscopeError(FileNotFound, "missing", nil).WithDetails(map[string]string{"uri": "file:///x.R"})
	if err.Details == nil {
		t.Errorf("Details = nil, want map")
	}
}
