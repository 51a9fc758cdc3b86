package protocol

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"omniclip/internal/errs"
)

type ContentKind int

const (
	KindText ContentKind = iota
	KindRichText
)

func (k ContentKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindRichText:
		return "rich_text"
	}
	return fmt.Sprintf("ContentKind(%d)", int(k))
}

// Content is a clipboard value. For KindText only Plain is set.
type Content struct {
	Kind  ContentKind
	Plain string
	HTML  string
}

func Text(s string) Content {
	return Content{Kind: KindText, Plain: s}
}

func RichText(plain, html string) Content {
	return Content{Kind: KindRichText, Plain: plain, HTML: html}
}

func (c Content) Hash() ContentHash {
	h := sha256.New()
	switch c.Kind {
	case KindRichText:
		h.Write([]byte("rich:"))
		h.Write([]byte(c.Plain))
		h.Write([]byte(c.HTML))
	default:
		h.Write([]byte("text:"))
		h.Write([]byte(c.Plain))
	}
	var out ContentHash
	copy(out[:], h.Sum(nil))
	return out
}

func (c Content) IsEmpty() bool {
	return c.Plain == "" && c.HTML == ""
}

type richText struct {
	Plain string `json:"plain"`
	HTML  string `json:"html"`
}

func (c Content) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case KindText:
		return json.Marshal(map[string]string{"Text": c.Plain})
	case KindRichText:
		return json.Marshal(map[string]richText{"RichText": {Plain: c.Plain, HTML: c.HTML}})
	}
	return nil, fmt.Errorf("%w: unknown content kind %d", errs.ErrSerialization, int(c.Kind))
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: content: %v", errs.ErrSerialization, err)
	}
	if len(env) != 1 {
		return fmt.Errorf("%w: content must have exactly one variant, got %d", errs.ErrInvalidMessage, len(env))
	}
	for tag, raw := range env {
		switch tag {
		case "Text":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("%w: content Text: %v", errs.ErrSerialization, err)
			}
			*c = Text(s)
		case "RichText":
			var rt richText
			if err := json.Unmarshal(raw, &rt); err != nil {
				return fmt.Errorf("%w: content RichText: %v", errs.ErrSerialization, err)
			}
			*c = RichText(rt.Plain, rt.HTML)
		default:
			return fmt.Errorf("%w: unknown content variant %q", errs.ErrInvalidMessage, tag)
		}
	}
	return nil
}

func EncodeContent(c Content) ([]byte, error) {
	return json.Marshal(c)
}

func DecodeContent(data []byte) (Content, error) {
	var c Content
	if err := json.Unmarshal(data, &c); err != nil {
		return Content{}, err
	}
	return c, nil
}

// ContentHash is SHA-256 over a type tag and the content.
type ContentHash [sha256.Size]byte

func (h ContentHash) MarshalText() ([]byte, error) {
	return []byte(base64.StdEncoding.EncodeToString(h[:])), nil
}

func (h *ContentHash) UnmarshalText(text []byte) error {
	raw, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("%w: content hash: %v", errs.ErrSerialization, err)
	}
	if len(raw) != len(h) {
		return fmt.Errorf("%w: content hash must be %d bytes, got %d", errs.ErrSerialization, len(h), len(raw))
	}
	copy(h[:], raw)
	return nil
}

func (h ContentHash) IsZero() bool {
	return h == ContentHash{}
}

func (h ContentHash) String() string {
	return hex.EncodeToString(h[:8])
}
