package frame_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshbus/meshbus/pkg/frame"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, frame.Write(&buf, []byte("topic"), []byte("payload")))

	got, err := frame.Read(&buf, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("topic"), got[0])
	assert.Equal(t, []byte("payload"), got[1])
}

func TestWriteReadEmptyFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, frame.Write(&buf, []byte{}, []byte("x")))

	got, err := frame.Read(&buf, 2)
	require.NoError(t, err)
	assert.Empty(t, got[0])
	assert.Equal(t, []byte("x"), got[1])
}

func TestReadRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	lenBuf[0] = 0xFF // absurd length, well past MaxFrameSize
	buf.Write(lenBuf[:])

	_, err := frame.Read(&buf, 1)
	assert.Error(t, err)
}

func TestReadReturnsErrOnTruncatedInput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, frame.Write(&buf, []byte("topic"), []byte("payload")))

	truncated := bytes.NewReader(buf.Bytes()[:6])
	_, err := frame.Read(truncated, 2)
	assert.Error(t, err)
}
