package transfer

import (
	"context"
	"fmt"
	"net/url"
)

// MuxOpener routes a URL to an Opener by scheme.
type MuxOpener struct {
	openers map[string]Opener
}

func NewMuxOpener() *MuxOpener {
	return &MuxOpener{openers: map[string]Opener{}}
}

// Handle registers o for scheme.
func (m *MuxOpener) Handle(scheme string, o Opener) {
	m.openers[scheme] = o
}

func (m *MuxOpener) Open(ctx context.Context, rawURL string) (Stream, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid asset url %q: %w", rawURL, err)
	}
	o, ok := m.openers[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("no opener for scheme %q", u.Scheme)
	}
	return o.Open(ctx, rawURL)
}
