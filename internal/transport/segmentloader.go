package transport

import (
	"context"

	"github.com/streamplay/streamplay/internal/manifest"
)

// SegmentURLResolver maps a segment descriptor to its fetchable URL. The
// manifest model (internal/manifest) deliberately carries no URL field —
// that belongs to the external manifest-parser contract — so the resolver
// is supplied by whatever constructs the Player.
type SegmentURLResolver func(seg manifest.Segment) string

// HTTPSegmentLoader adapts a Client into a segment.Loader, the concrete
// counterpart of internal/segment's Loader interface. Grounded on the
// teacher's internal/httpclient-backed fetchers (e.g. the logo fetcher in
// cmd/tvarr/cmd/serve.go), generalized from "fetch a logo" to "fetch a
// segment".
type HTTPSegmentLoader struct {
	Client  *Client
	Resolve SegmentURLResolver
}

// NewHTTPSegmentLoader builds an HTTPSegmentLoader.
func NewHTTPSegmentLoader(client *Client, resolve SegmentURLResolver) *HTTPSegmentLoader {
	return &HTTPSegmentLoader{Client: client, Resolve: resolve}
}

// Load fetches seg's bytes over HTTP.
func (l *HTTPSegmentLoader) Load(ctx context.Context, seg manifest.Segment) ([]byte, error) {
	return l.Client.Fetch(ctx, l.Resolve(seg))
}
