// Package api serves the playground over HTTP as a JSON API.
//
// Routes are mounted on a chi router behind request id, real ip, panic
// recovery and zap request logging middleware. The execution routes are
// additionally rate limited globally, per client and by concurrency.
//
//	POST   /api/execute          run a snippet through the session
//	POST   /api/components       run a component and extract its options
//	POST   /api/validate         static checks
//	POST   /api/format           naive re-indentation
//	GET    /api/examples         list examples (category, language, q)
//	GET    /api/examples/{id}    one example
//	POST   /api/examples         add or replace an example
//	DELETE /api/examples/{id}    remove an example
//	GET    /api/session          session state
//	DELETE /api/session          reset the session
//	GET    /metrics              Prometheus metrics
//	GET    /healthz              liveness
//
// A finished execution is always 200, failed or not; only a busy executor
// answers 409.
package api
