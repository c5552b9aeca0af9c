package signalr

import (
	"encoding/json"
	"fmt"
)

// MessageType is the numeric discriminator carried by every hub message,
// identifying which variant a JSON frame decodes into.
type MessageType int

const (
	MessageTypeInvocation       MessageType = 1
	MessageTypeStreamItem       MessageType = 2
	MessageTypeCompletion       MessageType = 3
	MessageTypeStreamInvocation MessageType = 4
	MessageTypeCancelInvocation MessageType = 5
	MessageTypePing             MessageType = 6
	MessageTypeClose            MessageType = 7
	MessageTypeAck              MessageType = 8
	MessageTypeSequence         MessageType = 9
)

// HubMessage is the polymorphic value produced by parsing and consumed by
// writing. Exactly one of the typed pointer fields is non-nil, selected by
// Type, so callers can switch on a single value instead of juggling nine
// separate decode paths.
type HubMessage struct {
	Type MessageType

	Invocation       *InvocationMessage
	StreamItem       *StreamItemMessage
	Completion       *CompletionMessage
	StreamInvocation *StreamInvocationMessage
	CancelInvocation *CancelInvocationMessage
	Ping             *PingMessage
	Close            *CloseMessage
	Ack              *AckMessage
	Sequence         *SequenceMessage
}

// InvocationMessage requests invocation of target with arguments. An empty
// InvocationID means the caller does not expect a response.
type InvocationMessage struct {
	InvocationID string            `json:"invocationId,omitempty"`
	Target       string            `json:"target"`
	Arguments    []json.RawMessage `json:"arguments"`
	StreamIDs    []string          `json:"streamIds,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// StreamItemMessage carries one item of a streamed response.
type StreamItemMessage struct {
	InvocationID string          `json:"invocationId"`
	Item         json.RawMessage `json:"item"`
}

// CompletionMessage concludes a previous Invocation or StreamInvocation. At
// most one of Result/Error is set; both absent means a void return.
type CompletionMessage struct {
	InvocationID string            `json:"invocationId"`
	Result       json.RawMessage   `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// StreamInvocationMessage requests invocation of a streaming method.
type StreamInvocationMessage struct {
	InvocationID string            `json:"invocationId"`
	Target       string            `json:"target"`
	Arguments    []json.RawMessage `json:"arguments"`
	StreamIDs    []string          `json:"streamIds,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// CancelInvocationMessage cancels a previously started streaming invocation.
type CancelInvocationMessage struct {
	InvocationID string `json:"invocationId"`
}

// PingMessage carries no payload beyond the type discriminator.
type PingMessage struct{}

// CloseMessage is sent by the server when it closes the connection.
type CloseMessage struct {
	Error          string `json:"error,omitempty"`
	AllowReconnect bool   `json:"allowReconnect,omitempty"`
}

// AckMessage acknowledges receipt of messages up to SequenceID (stateful
// reconnect; parsed/written for wire compatibility, no behavior here).
type AckMessage struct {
	SequenceID uint64 `json:"sequenceId"`
}

// SequenceMessage carries the current send sequence number (stateful
// reconnect; parsed/written for wire compatibility, no behavior here).
type SequenceMessage struct {
	SequenceID uint64 `json:"sequenceId"`
}

// messageTypeEnvelope is used only to sniff the discriminator before
// dispatching to a variant-specific decode.
type messageTypeEnvelope struct {
	Type int `json:"type"`
}

// decodeHubMessage parses one JSON frame (already stripped of its record
// separator) into a HubMessage. It returns (nil, nil) for an unrecognized
// type so that messages introduced by a newer protocol version are dropped
// silently instead of failing the connection.
func decodeHubMessage(frame []byte) (*HubMessage, error) {
	var env messageTypeEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("signalr: decoding hub message envelope: %w", err)
	}

	switch MessageType(env.Type) {
	case MessageTypeInvocation:
		var m InvocationMessage
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, fmt.Errorf("signalr: decoding invocation message: %w", err)
		}
		return &HubMessage{Type: MessageTypeInvocation, Invocation: &m}, nil
	case MessageTypeStreamItem:
		var m StreamItemMessage
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, fmt.Errorf("signalr: decoding stream item message: %w", err)
		}
		return &HubMessage{Type: MessageTypeStreamItem, StreamItem: &m}, nil
	case MessageTypeCompletion:
		var m CompletionMessage
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, fmt.Errorf("signalr: decoding completion message: %w", err)
		}
		return &HubMessage{Type: MessageTypeCompletion, Completion: &m}, nil
	case MessageTypeStreamInvocation:
		var m StreamInvocationMessage
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, fmt.Errorf("signalr: decoding stream invocation message: %w", err)
		}
		return &HubMessage{Type: MessageTypeStreamInvocation, StreamInvocation: &m}, nil
	case MessageTypeCancelInvocation:
		var m CancelInvocationMessage
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, fmt.Errorf("signalr: decoding cancel invocation message: %w", err)
		}
		return &HubMessage{Type: MessageTypeCancelInvocation, CancelInvocation: &m}, nil
	case MessageTypePing:
		return &HubMessage{Type: MessageTypePing, Ping: &PingMessage{}}, nil
	case MessageTypeClose:
		var m CloseMessage
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, fmt.Errorf("signalr: decoding close message: %w", err)
		}
		return &HubMessage{Type: MessageTypeClose, Close: &m}, nil
	case MessageTypeAck:
		var m AckMessage
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, fmt.Errorf("signalr: decoding ack message: %w", err)
		}
		return &HubMessage{Type: MessageTypeAck, Ack: &m}, nil
	case MessageTypeSequence:
		var m SequenceMessage
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, fmt.Errorf("signalr: decoding sequence message: %w", err)
		}
		return &HubMessage{Type: MessageTypeSequence, Sequence: &m}, nil
	default:
		// Forward compatibility: unknown discriminators are dropped, not errors.
		return nil, nil
	}
}

// encodeHubMessage serializes m's active variant, embedding the numeric
// type discriminator. Field ordering in the resulting object is not
// significant to any conforming reader.
func encodeHubMessage(m *HubMessage) ([]byte, error) {
	var payload interface{}

	switch m.Type {
	case MessageTypeInvocation:
		payload = struct {
			Type MessageType `json:"type"`
			InvocationMessage
		}{m.Type, *m.Invocation}
	case MessageTypeStreamItem:
		payload = struct {
			Type MessageType `json:"type"`
			StreamItemMessage
		}{m.Type, *m.StreamItem}
	case MessageTypeCompletion:
		payload = struct {
			Type MessageType `json:"type"`
			CompletionMessage
		}{m.Type, *m.Completion}
	case MessageTypeStreamInvocation:
		payload = struct {
			Type MessageType `json:"type"`
			StreamInvocationMessage
		}{m.Type, *m.StreamInvocation}
	case MessageTypeCancelInvocation:
		payload = struct {
			Type MessageType `json:"type"`
			CancelInvocationMessage
		}{m.Type, *m.CancelInvocation}
	case MessageTypePing:
		payload = struct {
			Type MessageType `json:"type"`
		}{m.Type}
	case MessageTypeClose:
		payload = struct {
			Type MessageType `json:"type"`
			CloseMessage
		}{m.Type, *m.Close}
	case MessageTypeAck:
		payload = struct {
			Type MessageType `json:"type"`
			AckMessage
		}{m.Type, *m.Ack}
	case MessageTypeSequence:
		payload = struct {
			Type MessageType `json:"type"`
			SequenceMessage
		}{m.Type, *m.Sequence}
	default:
		return nil, fmt.Errorf("signalr: encoding hub message: %w", ErrProtocolMismatch)
	}

	return json.Marshal(payload)
}

