package durable

import (
	"encoding/json"
	"errors"
)

// RecordedError is a journaled error. Code and Detail are owned by the
// ErrorCodec that produced it.
type RecordedError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

func (e *RecordedError) Error() string {
	return e.Message
}

// ErrorCodec converts errors to and from their journaled form. Decode must
// return an error that callers classify the same way as the original.
type ErrorCodec interface {
	Encode(err error) *RecordedError
	Decode(rec *RecordedError) error
}

// MessageCodec records only the message. Decoded errors are *RecordedError.
type MessageCodec struct{}

func (MessageCodec) Encode(err error) *RecordedError {
	var rec *RecordedError
	if errors.As(err, &rec) {
		return rec
	}
	return &RecordedError{Code: "error", Message: err.Error()}
}

func (MessageCodec) Decode(rec *RecordedError) error {
	return rec
}
