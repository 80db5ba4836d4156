// Package proxy forwards client requests to the active backend.
//
// Router is the http.Handler behind the relay listener. For each request it
// resolves the active backend from the runtime state, detects the client's
// wire format and converts the request when the backend speaks a different
// one. Responses are converted back, with event streams relayed frame by
// frame.
//
// # Failures
//
// Transport errors and failure statuses (401, 402, 403, 429 and 5xx) are
// classified by the failure package. The backend's failure counter is
// incremented and the same backend is retried while the group's retry policy
// allows it. Once retries are exhausted, or the failure cannot be retried,
// the failover service is asked to switch the group to its next backend and
// the client receives a gateway error:
//
//	HTTP/1.1 502 Bad Gateway
//	Content-Type: text/plain; charset=utf-8
//	X-Relay-Error-Type: server_error
//
//	backend: primary
//	type: ServerError
//	message: The backend returned a server error.
//	detail: upstream returned 503 Service Unavailable: ...
//
// When the group has no other backend to switch to, the backend's own status
// and body are returned instead. Other 4xx responses are client errors and
// are passed through untouched without retry.
//
// A success resets the backend's failure counter and records its latency.
// Every request that reached a backend is written to the request log.
package proxy
