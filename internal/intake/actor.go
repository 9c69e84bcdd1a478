package intake

import "context"

// RoleAdmin may modify any template
const RoleAdmin = "admin"

// Actor is the authenticated caller
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

// IsAdmin reports whether the actor bypasses ownership checks
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

type actorKey struct{}

// WithActor stores the caller on ctx
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the caller stored on ctx
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok && a.ID != ""
}
