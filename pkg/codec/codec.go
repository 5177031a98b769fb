package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/lzyats/im-dispatch/pkg/event"
)

// ErrMalformed marks payloads that can never be processed (bad JSON or a
// broken envelope invariant). Callers treat it as non-retryable.
var ErrMalformed = errors.New("codec: malformed payload")

var validate = validator.New()

func EncodeEnvelope(m *event.MessageEnvelope) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrMalformed)
	}
	return json.Marshal(m)
}

func DecodeEnvelope(b []byte) (*event.MessageEnvelope, error) {
	var m event.MessageEnvelope
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &m, nil
}

func EncodeGroup(p *event.GroupFanoutPayload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrMalformed)
	}
	return json.Marshal(p)
}

// DecodeGroup also requires the inner envelope to be a GROUP message.
func DecodeGroup(b []byte) (*event.GroupFanoutPayload, error) {
	var p event.GroupFanoutPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Envelope.ChatType != event.ChatGroup {
		return nil, fmt.Errorf("%w: group payload with chatType %q", ErrMalformed, p.Envelope.ChatType)
	}
	return &p, nil
}

func EncodeEvent(e event.SystemEvent) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent accepts any JSON object. A JSON null decodes to an empty event.
func DecodeEvent(b []byte) (event.SystemEvent, error) {
	var e event.SystemEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e == nil {
		e = event.SystemEvent{}
	}
	return e, nil
}

// Preview returns at most n bytes of a raw payload for log lines.
func Preview(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
