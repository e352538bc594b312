package surface

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	src     string
	cleared bool
}

func (h *fakeHost) SetSource(url string) error {
	h.src = url
	h.cleared = false
	return nil
}

func (h *fakeHost) ClearSource() error {
	h.src = ""
	h.cleared = true
	return nil
}

func TestSurface_OpenSetsSource(t *testing.T) {
	host := &fakeHost{}
	s := New(host)

	require.NoError(t, s.Open("https://example.com/manifest.mpd", true))
	assert.Equal(t, "https://example.com/manifest.mpd", host.src)
	assert.True(t, s.IsOpen())
}

func TestSurface_OpenTwiceFails(t *testing.T) {
	s := New(&fakeHost{})
	require.NoError(t, s.Open("u", true))
	assert.ErrorIs(t, s.Open("u2", true), ErrAlreadyOpen)
}

func TestSurface_AddNativeSinkRequiresSourceOpenAndPreMetadata(t *testing.T) {
	s := New(&fakeHost{})
	require.NoError(t, s.Open("u", true))

	sink, err := s.AddNativeSink(SinkVideo, "avc1.64001f")
	require.NoError(t, err)
	assert.True(t, sink.Native)

	s.MarkPastMetadata()
	_, err = s.AddNativeSink(SinkAudio, "mp4a.40.2")
	var constraintErr *NativeSinkConstraintError
	require.ErrorAs(t, err, &constraintErr)
}

func TestSurface_AddNativeSinkFailsWithoutMediaSource(t *testing.T) {
	s := New(&fakeHost{})
	require.NoError(t, s.Open("u", false))

	_, err := s.AddNativeSink(SinkVideo, "avc1")
	var constraintErr *NativeSinkConstraintError
	require.ErrorAs(t, err, &constraintErr)
}

func TestSurface_AddSinkTwiceFails(t *testing.T) {
	s := New(&fakeHost{})
	require.NoError(t, s.Open("u", true))
	_, err := s.AddNativeSink(SinkVideo, "avc1")
	require.NoError(t, err)

	_, err = s.AddNativeSink(SinkVideo, "avc1")
	assert.ErrorIs(t, err, ErrSinkExists)
}

func TestSurface_AddCustomSinkIgnoresMetadataConstraint(t *testing.T) {
	s := New(&fakeHost{})
	require.NoError(t, s.Open("u", true))
	s.MarkPastMetadata()

	sink, err := s.AddCustomSink(SinkText, "")
	require.NoError(t, err)
	assert.False(t, sink.Native)
}

func TestSurface_CloseAbortsSinksAndClearsSource(t *testing.T) {
	host := &fakeHost{}
	s := New(host)
	require.NoError(t, s.Open("u", true))
	sink, err := s.AddNativeSink(SinkVideo, "avc1")
	require.NoError(t, err)

	require.NoError(t, s.Close())

	assert.True(t, sink.Aborted())
	assert.True(t, host.cleared)
	assert.Equal(t, "", host.src)
	assert.False(t, s.IsOpen())
	assert.Empty(t, s.SinkTypes())
}

func TestSurface_CloseWithoutOpenIsNoop(t *testing.T) {
	s := New(&fakeHost{})
	require.NoError(t, s.Close())
}

func TestSurface_RemoveSinkAborts(t *testing.T) {
	s := New(&fakeHost{})
	require.NoError(t, s.Open("u", true))
	sink, err := s.AddCustomSink(SinkText, "")
	require.NoError(t, err)

	s.RemoveSink(SinkText)
	assert.True(t, sink.Aborted())
	_, ok := s.Sink(SinkText)
	assert.False(t, ok)
}

func TestSurface_OpenAfterCloseReturnsElementToPreOpenState(t *testing.T) {
	host := &fakeHost{}
	s := New(host)
	require.NoError(t, s.Open("u", true))
	require.NoError(t, s.Close())

	assert.Equal(t, "", host.src)
	assert.Equal(t, "", s.AttachedURL())
}
