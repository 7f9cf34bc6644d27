package service

import (
	"encoding/json"
	"errors"

	goerrors "github.com/go-errors/errors"
)

// Failure is the protocol representation of an error reported to the
// orchestration service. Causes are chained like wrapped errors.
type Failure struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`

	Stacktrace string   `json:"stacktrace,omitempty"`
	Cause      *Failure `json:"cause,omitempty"`
}

// ConvertError turns an error chain into a Failure payload. A stack trace is
// captured at the conversion site when the error does not already carry one.
func ConvertError(err error) *Failure {
	if err == nil {
		return nil
	}

	f := &Failure{
		Type:    errorType(err),
		Message: err.Error(),
	}

	if stackTracer, ok := err.(interface{ Stack() string }); ok {
		f.Stacktrace = stackTracer.Stack()
	} else {
		f.Stacktrace = goerrors.Wrap(err, 1).ErrorStack()
	}

	if cause := errors.Unwrap(err); cause != nil {
		f.Cause = ConvertError(cause)
	}

	return f
}

// Marshal serializes the failure into an opaque payload.
func (f *Failure) Marshal() (Payload, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}

	return Payload(b), nil
}

func errorType(err error) string {
	var ge *goerrors.Error
	if errors.As(err, &ge) {
		return ge.TypeName()
	}

	return goerrors.Wrap(err, 0).TypeName()
}
