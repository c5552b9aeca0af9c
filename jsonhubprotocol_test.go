package signalr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONHubProtocolMetadata(t *testing.T) {
	p := JSONHubProtocol{}
	assert.Equal(t, "json", p.Name())
	assert.Equal(t, 2, p.Version())
	assert.Equal(t, TransferFormatText, p.TransferFormat())
}

func TestJSONHubProtocolParseEmpty(t *testing.T) {
	p := JSONHubProtocol{}
	messages, err := p.Parse("")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestJSONHubProtocolParseDropsUnknownType(t *testing.T) {
	p := JSONHubProtocol{}
	messages, err := p.Parse("{\"type\":99}\x1e")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestJSONHubProtocolParsePreservesOrder(t *testing.T) {
	p := JSONHubProtocol{}
	input := "{\"type\":6}\x1e{\"type\":7}\x1e{\"type\":6}\x1e"

	messages, err := p.Parse(input)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, MessageTypePing, messages[0].Type)
	assert.Equal(t, MessageTypeClose, messages[1].Type)
	assert.Equal(t, MessageTypePing, messages[2].Type)
}

func TestJSONHubProtocolWrite(t *testing.T) {
	p := JSONHubProtocol{}
	msg := &HubMessage{Type: MessageTypePing, Ping: &PingMessage{}}

	out, err := p.Write(msg)
	require.NoError(t, err)
	assert.Equal(t, "{\"type\":6}\x1e", out)
}

func TestJSONHubProtocolParseBinaryRejected(t *testing.T) {
	p := JSONHubProtocol{}
	_, err := p.ParseBinary([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrProtocolMismatch)
}
