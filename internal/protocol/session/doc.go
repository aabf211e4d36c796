// Package session owns NETCONF session-level primitives shared by the
// communicator, the client and the SSH transport.
//
// Ownership boundary:
// - communicator/client/transport configuration and defaults
// - pending reply table keyed by message-id
// - retry/backoff primitives
package session
