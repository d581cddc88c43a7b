package httpfuncs

import (
	"context"
	"errors"
	"net/http"

	"github.com/dcshock/trypipe/failure"
	"github.com/dcshock/trypipe/pipeline"
)

// Funcs returns the HTTP and JSON functions under their conventional names:
// http.get, http.get_json and json.decode.
func Funcs(client *http.Client) pipeline.Funcs {
	return pipeline.Funcs{
		"http.get":      Get(client),
		"http.get_json": GetJSON(client),
		"json.decode":   DecodeJSON(),
	}
}

// RegisterTypes adds the failure types these functions produce to t so they
// classify even when wrapped (e.g. by pipeline.RetryableErr): HTTPStatus,
// DecodeJSON and Timeout for a request that hit its deadline.
func RegisterTypes(t *failure.Types) {
	t.Register("HTTPStatus", func(err error) bool {
		var se *StatusError
		return errors.As(err, &se)
	})
	t.Register("DecodeJSON", func(err error) bool {
		var de *DecodeError
		return errors.As(err, &de)
	})
	t.RegisterSentinel("Timeout", context.DeadlineExceeded)
}
