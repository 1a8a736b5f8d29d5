// Package handler implements the HTTP front end of routerctl.
//
// Endpoints:
//
//	GET  /api/tools           tool catalog with parameter schemas
//	POST /api/tools/{name}    run a tool; the body is the JSON argument bag
//	GET  /api/connections     live router sessions
//	GET  /api/events          server-sent stream of finished tool calls
//	GET  /healthz             liveness
//	GET  /metrics             Prometheus exposition
//
// A tool call that reaches the dispatcher answers 200 with a
// {success, text} body, whether the operation succeeded or not. Errors
// before dispatch (unknown tool, malformed body) use the {error, details}
// structure with a 4xx status.
package handler
