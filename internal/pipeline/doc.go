// Package pipeline executes a resolved route as a staged run.
//
// Stages run in dependency order on the request goroutine:
//
//	post        parse the body (JSON, urlencoded, multipart)
//	middleware  global then route steps under one deadline
//	prerun      optional route step, skipped after a middleware failure
//	module      the route handler, or the pool protocol
//	json        canonicalize JSON responses
//
// Middleware, prerun and handlers run on their own goroutines behind a
// timeout guard, so a handler that never reports still yields a TIMEOUT
// response and a handler that panics yields an error response.
//
// A request carrying poolingId is answered from the pool registry without
// calling the handler. A request carrying withPooling is answered with
// {"poolingId": id} at once while the handler's eventual result is stored
// under that id.
package pipeline
