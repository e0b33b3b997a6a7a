package pages

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kittclouds/voton/internal/store"
)

// DefaultTitle is stored whenever a page would otherwise have an empty title.
const DefaultTitle = "Untitled"

// NewPage holds the fields of a page to create. The id is assigned by the
// repository.
type NewPage struct {
	Title          string  `json:"title"`
	ParentDocument *string `json:"parentDocument,omitempty"`
	Content        *string `json:"content,omitempty"`
	CoverImage     *string `json:"coverImage,omitempty"`
	Icon           *string `json:"icon,omitempty"`
}

// Field is one optional attribute of a Patch. The zero Field leaves the
// stored value untouched; Set replaces it; Clear removes it.
type Field struct {
	set   bool
	value *string
}

// Set returns a Field that stores v.
func Set(v string) Field {
	return Field{set: true, value: &v}
}

// Clear returns a Field that removes the stored value.
func Clear() Field {
	return Field{set: true}
}

// IsSet reports whether the field was supplied.
func (f Field) IsSet() bool { return f.set }

// Value returns the supplied value, nil for Clear.
func (f Field) Value() *string { return f.value }

func (f Field) apply(dst **string) {
	if !f.set {
		return
	}
	if f.value == nil {
		*dst = nil
		return
	}
	v := *f.value
	*dst = &v
}

// Patch is a shallow partial update. Omitted fields keep their value.
type Patch struct {
	Title          Field
	ParentDocument Field
	Content        Field
	CoverImage     Field
	Icon           Field
}

// Apply overlays the patch onto page.
func (p Patch) Apply(page *store.Page) {
	if p.Title.set {
		page.Title = DefaultTitle
		if p.Title.value != nil && *p.Title.value != "" {
			page.Title = *p.Title.value
		}
	}
	p.ParentDocument.apply(&page.ParentDocument)
	p.Content.apply(&page.Content)
	p.CoverImage.apply(&page.CoverImage)
	p.Icon.apply(&page.Icon)
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return !p.Title.set && !p.ParentDocument.set && !p.Content.set && !p.CoverImage.set && !p.Icon.set
}

var nullJSON = []byte("null")

// UnmarshalJSON decodes a patch object. A key holding a string sets the
// field, a key holding null clears it, and a missing key leaves it alone.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode patch: %w", err)
	}

	fields := map[string]*Field{
		"title":          &p.Title,
		"parentDocument": &p.ParentDocument,
		"content":        &p.Content,
		"coverImage":     &p.CoverImage,
		"icon":           &p.Icon,
	}

	for key, value := range raw {
		f, ok := fields[key]
		if !ok {
			return fmt.Errorf("decode patch: unknown field %q", key)
		}
		if bytes.Equal(bytes.TrimSpace(value), nullJSON) {
			*f = Clear()
			continue
		}
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return fmt.Errorf("decode patch: field %q must be a string or null", key)
		}
		*f = Set(s)
	}

	return nil
}
