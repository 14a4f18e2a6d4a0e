package sessions

import (
	"context"
	"errors"

	"github.com/haasonsaas/belay/pkg/models"
)

// ErrNotFound indicates the requested session does not exist.
var ErrNotFound = errors.New("session not found")

// Store is the interface for session persistence: session records, the
// message transcript, and the per-session state mapping. Implementations
// must provide read-your-writes consistency within a session.
type Store interface {
	// Session CRUD
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error

	// Session lookup
	GetByKey(ctx context.Context, key string) (*models.Session, error)
	GetOrCreate(ctx context.Context, key string, agentID string) (*models.Session, error)
	List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error)

	// Message history
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)

	// Session state. MergeState is a shallow merge: each key in partial
	// replaces the stored value for that key; keys absent from partial are
	// untouched.
	GetState(ctx context.Context, sessionID string) (map[string]any, error)
	MergeState(ctx context.Context, sessionID string, partial map[string]any) error
}

// ListOptions configures session listing.
type ListOptions struct {
	Limit  int
	Offset int
}

// SessionKey builds a unique session key.
func SessionKey(agentID, conversationID string) string {
	return agentID + ":" + conversationID
}
