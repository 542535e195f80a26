// Package session owns the request/response wait policy shared by RPC clients.
//
// Ownership boundary:
// - connect and reply timeouts
// - poll backoff while a caller waits on a reply or a connection
// - the pending-request table keyed by correlation id
package session
