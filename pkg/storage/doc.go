// Package storage defines the replay cache contract and the errors shared by
// its implementations.
//
// The replay cache remembers the final response produced for an exact
// message list, so a client retrying a request it already got an answer for
// receives the identical answer instead of starting a new engine session.
// It is a cache, not persistence: entries are bounded, expire, and are lost
// on restart.
package storage
