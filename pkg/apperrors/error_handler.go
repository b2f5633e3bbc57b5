package apperrors

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type ErrorSeverity uint8

const (
	Warning ErrorSeverity = iota
	Critical
)

func (s ErrorSeverity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("ErrorSeverity(%d)", uint8(s))
	}
}

type Error struct {
	Err         error
	Message     string
	Severity    ErrorSeverity
	Time        time.Time
	ComponentId string
}

func (e Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v", e.ComponentId, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.ComponentId, e.Message, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

// ErrorHandler logs reported errors. A Critical error cancels the process
// context and ends Run.
type ErrorHandler struct {
	logger            *zap.Logger
	RecvCh            <-chan Error
	ContextCancelFunc context.CancelFunc
}

func NewErrorHandler(ctxCancelFunc context.CancelFunc, logger *zap.Logger) (*ErrorHandler, chan<- Error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	errCh := make(chan Error, 256)

	return &ErrorHandler{
		logger:            logger.Named("errors"),
		RecvCh:            errCh,
		ContextCancelFunc: ctxCancelFunc,
	}, errCh
}

// Run returns the first Critical error, or nil once ctx is done.
func (h *ErrorHandler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-h.RecvCh:
			fields := []zap.Field{
				zap.Stringer("severity", msg.Severity),
				zap.String("component", msg.ComponentId),
				zap.Time("at", msg.Time),
				zap.Error(msg.Err),
			}
			if msg.Severity != Critical {
				h.logger.Warn(msg.Message, fields...)
				continue
			}
			h.logger.Error(msg.Message, fields...)
			if h.ContextCancelFunc != nil {
				h.ContextCancelFunc()
			}
			return msg
		}
	}
}

// Report hands err to the handler without blocking. It reports false when
// the channel is full.
func Report(ch chan<- Error, err Error) bool {
	if err.Time.IsZero() {
		err.Time = time.Now()
	}
	select {
	case ch <- err:
		return true
	default:
		return false
	}
}
