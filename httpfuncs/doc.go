// Package httpfuncs provides host functions for HTTP requests and JSON
// response handling.
//
// Register them under their conventional names with Funcs, or pick single
// functions (Get, GetJSON, DecodeJSON, Expect) and name them yourself:
//
//	env := &pipeline.Env{Funcs: httpfuncs.Funcs(nil), Types: types}
//	httpfuncs.RegisterTypes(types)
//
//	try while attempt < 3 { http.get_json(url) }
//	catch HTTPStatus(e) when e.status == 404 { null }
//	catch Timeout { "slow" }
//
// A non-2xx response fails with a *StatusError, a failure of type HTTPStatus
// whose status, url and body are available to guards. Transport errors and
// 429/5xx responses are marked pipeline.RetryableErr so a RetryPolicy with
// ShouldRetry: pipeline.IsRetryable only retries those.
package httpfuncs
