package segment

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/streamplay/streamplay/internal/manifest"
)

// FMP4Parser is the default Parser for fragmented-MP4 representations: it
// unmarshals an initialization segment's moov box to confirm the track's
// codec matches what the manifest advertised, and passes media segments
// through unmodified (demuxing them further is the presentation element's
// job once appended to a sink).
type FMP4Parser struct{}

// Parse implements Parser. Init segments are unmarshaled to populate
// Metadata["codec"]/["track_id"]; media segments pass through untouched.
func (FMP4Parser) Parse(_ context.Context, raw []byte, seg manifest.Segment) (ParsedChunk, error) {
	if !seg.IsInit {
		return ParsedChunk{Data: raw, Segment: seg}, nil
	}

	var init fmp4.Init
	if err := init.Unmarshal(bytes.NewReader(raw)); err != nil {
		return ParsedChunk{}, &fmp4ParseError{cause: err}
	}

	meta := make(map[string]string, 2)
	for _, track := range init.Tracks {
		codec := codecName(track.Codec)
		if codec == "" {
			continue
		}
		meta["codec"] = codec
		meta["track_id"] = fmt.Sprintf("%d", track.ID)
		break
	}

	return ParsedChunk{Data: raw, Segment: seg, Metadata: meta}, nil
}

// codecName maps a mediacommon mp4.Codec implementation to the short name
// used elsewhere in this module for codec-mismatch comparisons.
func codecName(codec mp4.Codec) string {
	switch codec.(type) {
	case *mp4.CodecH264:
		return "h264"
	case *mp4.CodecH265:
		return "h265"
	case *mp4.CodecAV1:
		return "av1"
	case *mp4.CodecVP9:
		return "vp9"
	case *mp4.CodecMPEG4Audio:
		return "mp4a"
	case *mp4.CodecOpus:
		return "opus"
	case *mp4.CodecAC3:
		return "ac-3"
	case *mp4.CodecEAC3:
		return "ec-3"
	case *mp4.CodecMPEG1Audio:
		return "mp3"
	default:
		return ""
	}
}

// fmp4ParseError reports an fMP4 init-segment parse failure. It is never
// retryable: a malformed init segment will not become well-formed on retry.
type fmp4ParseError struct{ cause error }

func (e *fmp4ParseError) Error() string {
	return fmt.Sprintf("segment: parsing fmp4 init: %v", e.cause)
}
func (e *fmp4ParseError) Unwrap() error   { return e.cause }
func (e *fmp4ParseError) Retryable() bool { return false }
