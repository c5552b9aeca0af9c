package signalr

import "fmt"

// TransferFormat is the declared encoding of payload bytes over a transport.
type TransferFormat int

const (
	TransferFormatText TransferFormat = iota
	TransferFormatBinary
)

func (f TransferFormat) String() string {
	if f == TransferFormatBinary {
		return "Binary"
	}
	return "Text"
}

// JSONHubProtocol implements the JSON variant of the hub protocol.
// MessagePack is not implemented.
type JSONHubProtocol struct{}

// Name returns the protocol name negotiated with the server.
func (JSONHubProtocol) Name() string { return "json" }

// Version returns the protocol version this implementation speaks.
func (JSONHubProtocol) Version() int { return 2 }

// TransferFormat returns the wire format this protocol requires from its
// transport.
func (JSONHubProtocol) TransferFormat() TransferFormat { return TransferFormatText }

// Parse decodes a UTF-8 string of zero or more concatenated, record-
// separator-terminated frames into an ordered slice of hub messages.
// Unrecognized message types are dropped, not errors. Binary input is
// rejected with ErrProtocolMismatch since the JSON protocol only
// understands text.
func (p JSONHubProtocol) Parse(input string) ([]*HubMessage, error) {
	frames, err := parseFrames([]byte(input))
	if err != nil {
		return nil, err
	}

	messages := make([]*HubMessage, 0, len(frames))
	for _, frame := range frames {
		msg, err := decodeHubMessage(frame)
		if err != nil {
			return nil, fmt.Errorf("signalr: %w: %v", ErrProtocolMismatch, err)
		}
		if msg == nil {
			continue // unknown type, silently dropped
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Write encodes message as a single record-separator-terminated JSON frame
// and returns it as a UTF-8 string ready to hand to a transport's Send.
func (p JSONHubProtocol) Write(message *HubMessage) (string, error) {
	encoded, err := encodeHubMessage(message)
	if err != nil {
		return "", err
	}
	return string(writeFrame(encoded)), nil
}

// ParseBinary always fails: the JSON hub protocol's transfer format is Text,
// so any transport configured for it must never hand it binary payloads.
func (p JSONHubProtocol) ParseBinary(input []byte) ([]*HubMessage, error) {
	return nil, fmt.Errorf("signalr: %w: json hub protocol received binary input", ErrProtocolMismatch)
}
