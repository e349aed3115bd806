package saga

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/imamik/appinit/internal/durable"
	"github.com/imamik/appinit/internal/provider"
)

// Codes used in journaled errors.
const (
	codeStep     = "step"
	codeProvider = "provider"
	codeError    = "error"
)

// ErrorCodec journals step and provider errors so that a replayed saga takes
// the same branches as the original run.
type ErrorCodec struct{}

var _ durable.ErrorCodec = ErrorCodec{}

type providerErrorDetail struct {
	Op         string `json:"op"`
	StatusCode int    `json:"statusCode,omitempty"`
	NotFound   bool   `json:"notFound,omitempty"`
}

func (ErrorCodec) Encode(err error) *durable.RecordedError {
	var se *StepError
	if errors.As(err, &se) {
		flat := *se
		if se.Err != nil {
			flat.Message = fmt.Sprintf("%s: %v", se.Message, se.Err)
			flat.Err = nil
		}
		detail, _ := json.Marshal(&flat)
		return &durable.RecordedError{Code: codeStep, Message: err.Error(), Detail: detail}
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		detail, _ := json.Marshal(providerErrorDetail{Op: pe.Op, StatusCode: pe.StatusCode, NotFound: pe.NotFound})
		msg := pe.Message
		if msg == "" {
			msg = pe.Error()
		}
		return &durable.RecordedError{Code: codeProvider, Message: msg, Detail: detail}
	}
	var rec *durable.RecordedError
	if errors.As(err, &rec) {
		return rec
	}
	return &durable.RecordedError{Code: codeError, Message: err.Error()}
}

func (ErrorCodec) Decode(rec *durable.RecordedError) error {
	switch rec.Code {
	case codeStep:
		var se StepError
		if err := json.Unmarshal(rec.Detail, &se); err == nil && se.Kind != "" {
			return &se
		}
	case codeProvider:
		var d providerErrorDetail
		if err := json.Unmarshal(rec.Detail, &d); err == nil {
			return &provider.Error{Op: d.Op, Message: rec.Message, StatusCode: d.StatusCode, NotFound: d.NotFound}
		}
	}
	return rec
}
