package types

import (
	"fmt"
	"strings"
)

// ContentKind classifies a body. Captured requests use every kind; configured
// responses only use json, text and html.
type ContentKind int

const (
	KindNone ContentKind = iota
	KindJSON
	KindForm
	KindText
	KindHTML
)

var contentKindNames = [...]string{
	KindNone: "none",
	KindJSON: "json",
	KindForm: "form",
	KindText: "text",
	KindHTML: "html",
}

func (k ContentKind) String() string {
	if k < 0 || int(k) >= len(contentKindNames) {
		return fmt.Sprintf("ContentKind(%d)", int(k))
	}
	return contentKindNames[k]
}

// ParseContentKind accepts the text form of a kind in any casing.
func ParseContentKind(s string) (ContentKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range contentKindNames {
		if name == s {
			return ContentKind(k), nil
		}
	}
	return KindNone, fmt.Errorf("unknown content kind %q", s)
}

// IsResponseKind reports whether k can be used for a configured response.
func (k ContentKind) IsResponseKind() bool {
	switch k {
	case KindJSON, KindText, KindHTML:
		return true
	default:
		return false
	}
}

// MIMEType is the media type a configured response of this kind is served with.
func (k ContentKind) MIMEType() string {
	switch k {
	case KindJSON:
		return "application/json"
	case KindText:
		return "text/plain"
	case KindHTML:
		return "text/html"
	default:
		return "application/octet-stream"
	}
}

func (k ContentKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ContentKind) UnmarshalText(text []byte) error {
	parsed, err := ParseContentKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
