package agent

import (
	"context"

	"github.com/haasonsaas/belay/pkg/models"
)

type sessionKey struct{}

// MaxResponseTextSize is the maximum size of accumulated response text (1MB).
// This prevents memory exhaustion from malicious or buggy model responses.
const MaxResponseTextSize = 1 << 20

// MaxToolCallsPerStep is the maximum number of tool calls allowed in a
// single step. This prevents runs where the model returns excessive calls.
const MaxToolCallsPerStep = 100

// WithSession stores a session in the context. Tool handlers retrieve it to
// scope state and task operations to the owning session; there is no ambient
// process-global current session.
func WithSession(ctx context.Context, session *models.Session) context.Context {
	if session == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFromContext retrieves the session from context.
func SessionFromContext(ctx context.Context) *models.Session {
	session, ok := ctx.Value(sessionKey{}).(*models.Session)
	if !ok {
		return nil
	}
	return session
}
