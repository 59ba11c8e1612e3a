// Package server exposes the follow request manager over HTTP.
//
// # Router Infrastructure
//
// [BasicRouter] wraps [http.ServeMux] and applies [Middleware] in reverse
// order of registration, so the first middleware added is the outermost.
// Routes use method-qualified ServeMux patterns; per-route middleware such
// as [RequireSession] is passed to [BasicRouter.Handle].
//
// # Sessions
//
// POST /login validates the three Instagram cookies against the upstream
// and stores them in an [auth.Store] under a random id carried in the
// session cookie. API routes require that cookie. When the upstream
// rejects the stored cookies the session is destroyed and the response
// carries auth_expired so the browser returns to the login screen.
//
// # Batch Tasks
//
// Submission endpoints create a task in the [task.Registry], hand it to an
// [executor.Runner] and return {task_id, total} immediately. Progress is
// read from GET /api/progress/{id} as Server-Sent Events written by a
// [stream.Reporter].
package server
