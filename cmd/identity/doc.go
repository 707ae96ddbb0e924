// Package identity is the identity collaborator of roomchat.
//
// It resolves the local sender (user id + display name) for outgoing
// messages: from a fixed identity, from the request context, or from a
// verified PASETO v4.public access token. It also canonicalizes private
// room identifiers so both participants derive the same room.
package identity
