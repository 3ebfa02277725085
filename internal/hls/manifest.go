package hls

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/datallboy/mediagrab/internal/domain"
	"github.com/grafov/m3u8"
)

// Segment is one media chunk in manifest order
type Segment struct {
	Target   domain.FetchTarget
	Sequence uint64
}

// Manifest is the parsed media playlist of one variant
type Manifest struct {
	BaseURL  string
	KeyURI   string
	IV       []byte // nil when the directive carries none
	Segments []Segment
}

// BaseURL strips the final path component (and any query) from a manifest URL
func BaseURL(manifestURL string) (string, error) {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return "", fmt.Errorf("parse manifest url: %w", err)
	}
	if i := strings.LastIndex(u.Path, "/"); i >= 0 {
		u.Path = u.Path[:i+1]
	} else {
		u.Path = "/"
	}
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Resolve resolves ref against base; absolute refs are returned unchanged
func Resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// ParseManifest decodes a media playlist and resolves its key and segments
func ParseManifest(raw []byte, manifestURL string) (*Manifest, error) {
	base, err := BaseURL(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrManifestStructure, err)
	}

	media, err := decodeMedia(raw)
	if err != nil {
		return nil, err
	}

	m := &Manifest{BaseURL: base}

	for i, seg := range media.Segments {
		// Segments is a ring buffer padded with nils
		if seg == nil {
			break
		}
		abs, err := Resolve(base, seg.URI)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %q: %v", domain.ErrManifestStructure, seg.URI, err)
		}
		m.Segments = append(m.Segments, Segment{
			Target:   domain.FetchTarget{URL: abs, Role: domain.RoleSegment},
			Sequence: media.SeqNo + uint64(i),
		})
	}

	key := media.Key
	if key == nil && len(m.Segments) > 0 && media.Segments[0].Key != nil {
		key = media.Segments[0].Key
	}
	if key == nil || key.URI == "" || strings.EqualFold(key.Method, "NONE") {
		return nil, fmt.Errorf("%w: no EXT-X-KEY directive", domain.ErrManifestStructure)
	}
	if key.Method != "" && !strings.EqualFold(key.Method, "AES-128") {
		return nil, fmt.Errorf("%w: unsupported key method %s", domain.ErrManifestStructure, key.Method)
	}

	if len(m.Segments) == 0 {
		return nil, fmt.Errorf("%w: no segments", domain.ErrManifestStructure)
	}

	keyURI, err := Resolve(base, key.URI)
	if err != nil {
		return nil, fmt.Errorf("%w: key uri %q: %v", domain.ErrManifestStructure, key.URI, err)
	}
	m.KeyURI = keyURI

	if key.IV != "" {
		iv, err := parseIV(key.IV)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrManifestStructure, err)
		}
		m.IV = iv
	}

	return m, nil
}

// decodeMedia runs the playlist decoder, which can panic on malformed input
// (for example segment lines without #EXTINF after a key directive).
func decodeMedia(raw []byte) (media *m3u8.MediaPlaylist, err error) {
	defer func() {
		if r := recover(); r != nil {
			media = nil
			err = fmt.Errorf("%w: decode: malformed playlist: %v", domain.ErrManifestStructure, r)
		}
	}()

	p, listType, err := m3u8.DecodeFrom(bytes.NewReader(raw), false)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrManifestStructure, err)
	}
	if listType != m3u8.MEDIA {
		return nil, fmt.Errorf("%w: not a media playlist", domain.ErrManifestStructure)
	}
	media, ok := p.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected playlist type %T", domain.ErrManifestStructure, p)
	}
	return media, nil
}

func parseIV(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	iv, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bad IV %q: %w", s, err)
	}
	if len(iv) != 16 {
		return nil, fmt.Errorf("IV must be 16 bytes, got %d", len(iv))
	}
	return iv, nil
}
