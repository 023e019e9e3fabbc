package inscription

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/koinu-labs/kins/constants"
)

func TestSplitChunksRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 100, constants.MaxChunkSize, constants.MaxChunkSize + 1, 2048, 100_000}
	for _, size := range sizes {
		payload := make([]byte, size)
		rand.New(rand.NewSource(int64(size))).Read(payload)

		chunks := SplitChunks(payload)
		joined := make([]byte, 0, size)
		for _, chunk := range chunks {
			require.LessOrEqual(t, len(chunk), constants.MaxChunkSize)
			joined = append(joined, chunk...)
		}
		require.True(t, bytes.Equal(payload, joined), "size %d", size)
	}
}

func TestBuildEnvelopeDeterministic(t *testing.T) {
	payload := bytes.Repeat([]byte("kins"), 700)
	first, err := BuildEnvelope(payload, constants.ContentTypeTextPlain)
	require.NoError(t, err)
	second, err := BuildEnvelope(payload, constants.ContentTypeTextPlain)
	require.NoError(t, err)
	require.Equal(t, first.Script(), second.Script())
}

func TestBuildEnvelopeTooLarge(t *testing.T) {
	payload := make([]byte, constants.MaxInscriptionSize+1)
	_, err := BuildEnvelope(payload, constants.ContentTypeOctetStream)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestParseEnvelopeRoundTrip(t *testing.T) {
	payload := make([]byte, 2048)
	rand.New(rand.NewSource(42)).Read(payload)

	envelope, err := BuildEnvelope(payload, constants.ContentTypeImagePng)
	require.NoError(t, err)

	parsed := ParseEnvelope(envelope.Script())
	require.NotNil(t, parsed)
	require.Equal(t, constants.ContentTypeImagePng, parsed.ContentType)
	require.Equal(t, payload, parsed.Body)
}

func TestParseEnvelopeWithMetadata(t *testing.T) {
	metadata := []byte{0xa1, 0x64, 'n', 'a', 'm', 'e', 0x61, 'x'}
	envelope, err := BuildEnvelope([]byte("hello"), constants.ContentTypeTextPlain, WithMetadata(metadata))
	require.NoError(t, err)

	parsed := ParseEnvelope(envelope.Script())
	require.NotNil(t, parsed)
	require.Equal(t, metadata, parsed.Metadata)
	require.Equal(t, []byte("hello"), parsed.Body)
}

func TestParseEnvelopeRejectsForeignScript(t *testing.T) {
	require.Nil(t, ParseEnvelope([]byte{0x51, 0x52}))
	require.Nil(t, ParseEnvelope(nil))
}
