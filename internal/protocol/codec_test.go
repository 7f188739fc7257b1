package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	data := []byte(`{"type": "start_app", "packageName": "com.example.captions", "timestamp": "2025-03-01T12:00:00Z"}`)

	env, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, TypeStartApp, env.Type)

	var msg StartApp
	require.NoError(t, env.Decode(&msg))
	assert.Equal(t, "com.example.captions", msg.PackageName)
}

func TestDecodeEnvelopeMissingType(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"packageName": "com.example.captions"}`))
	require.Error(t, err)
}

func TestDecodeEnvelopeInvalidJSON(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"type": `))
	require.Error(t, err)
}

func TestEnvelopeMessage(t *testing.T) {
	data := []byte(`{"type": "vad", "status": true}`)

	env, err := DecodeEnvelope(data)
	require.NoError(t, err)

	msg, err := env.Message()
	require.NoError(t, err)

	vad, ok := msg.(*Vad)
	require.True(t, ok, "expected *Vad, got %T", msg)
	assert.True(t, vad.Status)
}

func TestEnvelopeMessageUnknownType(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type": "hologram_request"}`))
	require.NoError(t, err)

	_, err = env.Message()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hologram_request")
}

func TestBaseStampsType(t *testing.T) {
	before := time.Now().UTC()
	b := Base(TypePing)
	after := time.Now().UTC()

	assert.Equal(t, TypePing, b.Type)
	assert.False(t, b.Timestamp.Before(before))
	assert.False(t, b.Timestamp.After(after))
}

func TestConnectionInitRoundTrip(t *testing.T) {
	data := []byte(`{
		"type": "connection_init",
		"token": "user-token",
		"deviceModel": "Even Realities G1"
	}`)

	env, err := DecodeEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, TypeConnectionInit, env.Type)

	var init ConnectionInit
	require.NoError(t, env.Decode(&init))
	assert.Equal(t, "user-token", init.Token)
	assert.Equal(t, "Even Realities G1", init.DeviceModel)
	assert.Nil(t, init.Capabilities)
}

func TestDisplayRequestLayouts(t *testing.T) {
	req := DisplayRequest{
		BaseMessage: Base(TypeDisplayRequest),
		PackageName: "com.example.captions",
		View:        ViewMain,
		Layout:      TextWall("hello"),
		DurationMs:  2000,
	}

	data, err := Marshal(req)
	require.NoError(t, err)

	env, err := DecodeEnvelope(data)
	require.NoError(t, err)

	var decoded DisplayRequest
	require.NoError(t, env.Decode(&decoded))
	assert.Equal(t, LayoutTextWall, decoded.Layout.LayoutType)
	assert.Equal(t, "hello", decoded.Layout.Text)
	assert.Equal(t, int64(2000), decoded.DurationMs)
}
