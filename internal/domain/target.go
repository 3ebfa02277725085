package domain

import (
	"strings"
)

type TargetRole int

const (
	RoleSegment TargetRole = iota
	RoleKey
	RoleManifest
	RoleAsset
)

func (r TargetRole) String() string {
	switch r {
	case RoleSegment:
		return "segment"
	case RoleKey:
		return "key"
	case RoleManifest:
		return "manifest"
	default:
		return "asset"
	}
}

// FetchTarget is a URL plus the role it plays in a job
type FetchTarget struct {
	URL  string
	Role TargetRole
}

// Variant is one rendition of a stream, identified by its manifest URL
type Variant struct {
	URL string `json:"url"`
	Tag string `json:"tag"`
}

// Task is what the page locator hands over: the page URL and its candidates
type Task struct {
	URL      string    `json:"url"`
	Variants []Variant `json:"variants"`
	Images   []string  `json:"images"`
}

func (t Task) HasVideo() bool { return len(t.Variants) > 0 }
func (t Task) HasImage() bool { return len(t.Images) > 0 }

const (
	kindStream = "stream"
	kindImage  = "image"
	sep        = "|"
)

// Candidates flattens the task into the checkpoint's remaining-target form
func (t Task) Candidates() []string {
	out := make([]string, 0, len(t.Variants)+len(t.Images))
	for _, v := range t.Variants {
		out = append(out, EncodeVariant(v))
	}
	for _, u := range t.Images {
		out = append(out, EncodeImage(u))
	}
	return out
}

func EncodeVariant(v Variant) string {
	return kindStream + sep + strings.ReplaceAll(v.Tag, sep, "_") + sep + v.URL
}

func EncodeImage(u string) string {
	return kindImage + sep + u
}

// TaskFromCandidates rebuilds a task from checkpointed candidates.
// Entries without a known prefix are treated as image URLs.
func TaskFromCandidates(url string, candidates []string) Task {
	t := Task{URL: url}
	for _, c := range candidates {
		switch {
		case strings.HasPrefix(c, kindStream+sep):
			parts := strings.SplitN(c, sep, 3)
			if len(parts) != 3 {
				continue
			}
			t.Variants = append(t.Variants, Variant{Tag: parts[1], URL: parts[2]})
		case strings.HasPrefix(c, kindImage+sep):
			t.Images = append(t.Images, strings.TrimPrefix(c, kindImage+sep))
		case c != "":
			t.Images = append(t.Images, c)
		}
	}
	return t
}
