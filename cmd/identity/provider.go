package identity

import (
	"context"

	"roomchat/cmd/chat"
)

// Static always reports the same identity. It suits single-user embeddings
// such as a device-local client.
type Static struct {
	ID chat.Identity
}

// Identity implements chat.IdentityProvider.
func (s Static) Identity(_ context.Context) (chat.Identity, error) {
	if NormalizeUserID(s.ID.UserID) == "" {
		return chat.Identity{}, OpError{Op: "identity.Static", Kind: ErrNoIdentity}
	}
	return chat.Identity{
		UserID:      NormalizeUserID(s.ID.UserID),
		DisplayName: NormalizeDisplayName(s.ID.DisplayName),
	}, nil
}

type ctxKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id chat.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (chat.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(chat.Identity)
	if !ok || NormalizeUserID(id.UserID) == "" {
		return chat.Identity{}, false
	}
	return id, true
}

// ContextProvider reads the sender from the call context. This lets one room
// session serve several connected users: each send carries its own sender.
type ContextProvider struct {
	// Fallback is consulted when the context carries no identity (optional).
	Fallback chat.IdentityProvider
}

// Identity implements chat.IdentityProvider.
func (p ContextProvider) Identity(ctx context.Context) (chat.Identity, error) {
	if id, ok := FromContext(ctx); ok {
		return chat.Identity{
			UserID:      NormalizeUserID(id.UserID),
			DisplayName: NormalizeDisplayName(id.DisplayName),
		}, nil
	}
	if p.Fallback != nil {
		return p.Fallback.Identity(ctx)
	}
	return chat.Identity{}, OpError{Op: "identity.ContextProvider", Kind: ErrNoIdentity}
}
