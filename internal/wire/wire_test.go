package wire_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rdcgo/rdc/internal/wire"
)

func TestInt32RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteInt32(&buf, -42))
	v, err := wire.ReadInt32(&buf)
	require.NoError(t, err)
	require.EqualValues(t, -42, v)
}

func TestStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteString(&buf, "hello world"))
	s, err := wire.ReadString(&buf)
	require.NoError(t, err)
	require.Equal(t, "hello world", s)
}

func TestBytesRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{1, 2, 3, 4, 5}
	require.NoError(t, wire.WriteBytes(&buf, payload))
	got, err := wire.ReadBytes(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestEmptyString(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteString(&buf, ""))
	s, err := wire.ReadString(&buf)
	require.NoError(t, err)
	require.Equal(t, "", s)
}

func TestReadBytesRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteInt32(&buf, 1<<31-1))
	_, err := wire.ReadBytes(&buf)
	require.Error(t, err)
}
