package service

import (
	"errors"
	"fmt"

	"andromirror/models"

	"github.com/bytedance/sonic"
)

// ErrParseMessage marks an inbound control frame that is not valid JSON
var ErrParseMessage = errors.New("failed to parse server message")

type envelope struct {
	Type string `json:"type"`
}

// inboundMessage is a decoded server control frame. Exactly one of the
// typed fields is set for known types.
type inboundMessage struct {
	Type      string
	Connected *models.ConnectedMessage
	Error     *models.ErrorMessage
}

func decodeControl(data []byte) (inboundMessage, error) {
	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return inboundMessage{}, fmt.Errorf("%w: %v", ErrParseMessage, err)
	}

	msg := inboundMessage{Type: env.Type}
	switch env.Type {
	case models.MessageConnected:
		var connected models.ConnectedMessage
		if err := sonic.Unmarshal(data, &connected); err != nil {
			return inboundMessage{}, fmt.Errorf("%w: %v", ErrParseMessage, err)
		}
		msg.Connected = &connected
	case models.MessageError:
		var em models.ErrorMessage
		if err := sonic.Unmarshal(data, &em); err != nil {
			return inboundMessage{}, fmt.Errorf("%w: %v", ErrParseMessage, err)
		}
		msg.Error = &em
	}
	return msg, nil
}

func encodeControl(v interface{}) ([]byte, error) {
	return sonic.Marshal(v)
}
