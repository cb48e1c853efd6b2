/*
Package server provides an OAuth 2.0 (RFC 6749) authorization and token
verification service as an http.Handler.

This package supports the authorization code grant and the implicit grant,
and verifies bearer tokens for resource servers. Tokens are opaque random
strings backed by a TokenStore; an authorization code may be exchanged at
most once, which the store enforces with an atomic conditional update so
that concurrent exchanges of the same code cannot both succeed.

To use server, create a handler and run an HTTP server:

	package main

	import (
		"log"
		"net/http"

		"github.com/nvdnkpr/oauth2/server"
	)

	func main() {
		handler, _ := server.Handler("http://localhost:8080/")
		log.Fatal(http.ListenAndServe(":8080", handler))
	}

When you serve the handler bare, as in the above example, it won't be very
useful:

	$ go build
	$ ./oauth2
	2017/09/26 16:05:59 WARN: using in-memory token storage
	2017/09/26 16:05:59 WARN: Using in-memory state storage
	2017/09/26 16:05:59 WARN: using empty client map
	2017/09/26 16:05:59 WARN: no authenticator registered

A minimally useful service provides implementations of:

- server.ClientMap: a registry of clients that are known by the service;
- server.Authenticator: the external login service, so users can authenticate;
- server.TokenStore: durable token storage shared by all instances.

If you run the service on more than a single node you must use external token
and state storage such as Redis; the in-memory defaults exist for development
and tests only.
*/
package server
