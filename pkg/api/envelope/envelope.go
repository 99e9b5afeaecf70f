// Package envelope defines the Control API's response shape, shared
// by the handler package and the error-handling middleware so neither
// has to import the other. Grounded on
// AMD-AGI-Primus-SaFE/Lens/modules/core's pkg/model/rest/resp.go; the
// Trace field that package carries (sourced from pkg/trace) is
// dropped, consistent with DESIGN.md's decision to drop the tracing
// stack entirely.
package envelope

import apperrors "github.com/nrhinela/zoltag-sub001/pkg/errors"

const CodeSuccess int = 2000

// Meta carries the stable error_kind contract spec §7 requires every
// API response to expose: a numeric code plus a human message.
type Meta struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type Envelope struct {
	Meta Meta        `json:"meta"`
	Data interface{} `json:"data"`
}

type ListData struct {
	Rows       interface{} `json:"rows"`
	TotalCount int64       `json:"total_count"`
}

func Success(data interface{}) Envelope {
	return Envelope{Meta: Meta{Code: CodeSuccess, Message: "OK"}, Data: data}
}

func Fail(code int, message string) Envelope {
	return Envelope{Meta: Meta{Code: code, Message: message}}
}

// FromError renders err as an Envelope: a *apperrors.Error carries its
// own code/message, any other error surfaces as CodeInternal with
// err.Error() as its message.
func FromError(err error) Envelope {
	if cErr, ok := err.(*apperrors.Error); ok {
		return Fail(cErr.Code, cErr.Message)
	}
	return Fail(apperrors.CodeInternal, err.Error())
}
