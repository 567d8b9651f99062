// Package client provides the `strata` command-line client.
//
// The CLI talks to the Strata HTTP endpoint to perform key-value and
// admin operations from a terminal. It is primarily intended for
// developers and operators.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it reads
// STRATA_HTTP and defaults to http://127.0.0.1:8460.
//
// Usage
//
//	strata kv put --key user:1 --value '{"name":"ada"}'
//	strata kv get --key user:1
//	strata kv del --key user:1
//
//	strata admin state
//	strata admin clear-cache
//	strata admin gc --enabled --auto=false
//
//	# interactive session with history
//	strata repl
package client
