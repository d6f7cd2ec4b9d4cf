// Package session manages per-connection hall sessions. It handles session
// creation, lookup, expiration, and storage of the connection's declared
// identity and current hall/booth scope, backed by Redis.
package session
