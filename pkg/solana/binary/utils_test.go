package binary

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndRead(t *testing.T) {
	key, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	var b []byte
	b = AppendBool(b, true)
	b = append(b, 7)
	b = AppendUint32(b, 1234)
	b = AppendUint64(b, 1<<40)
	b = AppendKey32(b, key)
	b = AppendString(b, "tokenitis")
	b = AppendString(b, "")

	var offset int

	var boolValue bool
	require.NoError(t, ReadBool(b, &boolValue, &offset))
	assert.True(t, boolValue)

	var uint8Value uint8
	require.NoError(t, ReadUint8(b, &uint8Value, &offset))
	assert.EqualValues(t, 7, uint8Value)

	var uint32Value uint32
	require.NoError(t, ReadUint32(b, &uint32Value, &offset))
	assert.EqualValues(t, 1234, uint32Value)

	var uint64Value uint64
	require.NoError(t, ReadUint64(b, &uint64Value, &offset))
	assert.EqualValues(t, uint64(1<<40), uint64Value)

	var keyValue ed25519.PublicKey
	require.NoError(t, ReadKey32(b, &keyValue, &offset))
	assert.EqualValues(t, key, keyValue)

	var stringValue string
	require.NoError(t, ReadString(b, &stringValue, &offset))
	assert.Equal(t, "tokenitis", stringValue)
	require.NoError(t, ReadString(b, &stringValue, &offset))
	assert.Equal(t, "", stringValue)

	assert.Equal(t, len(b), offset)
	assert.Equal(t, ErrUnexpectedEOF, ReadUint8(b, &uint8Value, &offset))
}

func TestRead_Invalid(t *testing.T) {
	var offset int
	var boolValue bool
	assert.Equal(t, ErrInvalidBool, ReadBool([]byte{2}, &boolValue, &offset))

	offset = 0
	var uint64Value uint64
	assert.Equal(t, ErrUnexpectedEOF, ReadUint64([]byte{1, 2, 3}, &uint64Value, &offset))
	assert.Equal(t, 0, offset)

	offset = 0
	var stringValue string
	truncated := AppendUint32(nil, 10)
	truncated = append(truncated, 'a')
	assert.Equal(t, ErrUnexpectedEOF, ReadString(truncated, &stringValue, &offset))

	offset = 0
	huge := AppendUint32(nil, 0xffffffff)
	assert.Equal(t, ErrUnexpectedEOF, ReadString(huge, &stringValue, &offset))

	offset = 0
	notUtf8 := AppendUint32(nil, 2)
	notUtf8 = append(notUtf8, 0xff, 0xfe)
	assert.Equal(t, ErrInvalidString, ReadString(notUtf8, &stringValue, &offset))
}
