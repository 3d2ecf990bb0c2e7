// Package resilience wraps calls to external dependencies with retries,
// per-dependency circuit breakers and typed fallbacks.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

var (
	// ErrCircuitOpen is returned by a breaker that refuses calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrCancelled is returned when the workflow was cancelled between attempts.
	ErrCancelled = errors.New("workflow cancelled")
)

// Error carries a classified failure.
type Error struct {
	Kind types.ErrorKind
	Op   string
	Err  error

	// Response is the failed tool response, when the error came from one.
	Response *types.ToolResponse
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error.
func Errorf(kind types.ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// ResponseError turns a failed tool response into an error an agent can return.
func ResponseError(resp *types.ToolResponse) error {
	if resp == nil {
		return &Error{Kind: types.ErrorKindUnknown, Err: errors.New("no response")}
	}
	kind := resp.ErrorKind
	if kind == "" {
		kind = types.ErrorKindUnknown
	}
	msg := resp.ErrorMessage
	if msg == "" {
		msg = "tool call failed"
	}
	return &Error{Kind: kind, Op: resp.ToolName, Err: errors.New(msg), Response: resp}
}

// FallbackOf returns the fallback response attached to err, if any.
func FallbackOf(err error) *types.AgentResponse {
	var re *Error
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.Fallback
	}
	return nil
}

// kinder is implemented by collaborator errors that know their own class.
type kinder interface {
	ErrorKind() types.ErrorKind
}

// KindOf classifies err.
func KindOf(err error) types.ErrorKind {
	if err == nil {
		return ""
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.ErrorKindTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCancelled):
		return types.ErrorKindCancelled
	case errors.Is(err, ErrCircuitOpen):
		return types.ErrorKindCircuitOpen
	}
	var k kinder
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return types.ErrorKindTimeout
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return types.ErrorKindNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return types.ErrorKindTimeout
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"):
		return types.ErrorKindNetwork
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return types.ErrorKindRateLimit
	case strings.Contains(msg, "validation"), strings.Contains(msg, "invalid"):
		return types.ErrorKindValidation
	}
	return types.ErrorKindUnknown
}
