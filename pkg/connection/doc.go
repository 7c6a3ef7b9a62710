// Package connection implements the request/response and live
// notification plumbing of the SurrealDB RPC protocol: request
// correlation by random id, typed result decoding, query statement
// results, and reconnect backoff strategies.
//
// The transport itself lives in subpackages; see gorillaws.
package connection
