// Package proxy implements the single-target reverse proxy engine.
//
// An Engine answers each inbound request either from the response cache
// or through an Exchange with the backend. The Exchange validates the
// request, streams its body to the backend through a Pump and returns an
// ExchangeResponse once the backend headers arrived. Sending the response
// applies the filter selected for its content type and streams the body
// back to the client.
//
// Backends are reached through a Transport. NetworkTransport talks HTTP
// or HTTPS to the configured target, optionally through a forward proxy
// and a circuit breaker. ReplayTransport answers from a cached resource,
// so cached responses travel the same response path as live ones.
//
// # Errors
//
//   - ProtocolError: bad request version (501), inbound Transfer-Encoding
//     other than chunked (400), backend Transfer-Encoding other than
//     chunked (501).
//   - UpstreamError: backend failures, answered with 502 or by aborting
//     the client connection once headers were sent.
//   - ClientError: client disconnects; nothing is written.
//   - ErrAlreadyFinalized: Send or Cancel on a finished response.
//
// # Usage
//
//	transport, err := proxy.NewNetworkTransport(cfg)
//	if err != nil {
//	    return err
//	}
//	engine := proxy.NewEngine(transport,
//	    proxy.WithCache(responseCache),
//	    proxy.WithFilterSelector(selector),
//	    proxy.WithLogger(logger),
//	)
//	http.Handle("/", engine)
package proxy
