package imagestore

import (
	"encoding/json"
	"strings"
	"time"
)

// SupportedFormats lists the recognized image formats in probe-preference
// order. Callers that only know a GUID rely on this order when locating a
// blob whose extension is unknown.
var SupportedFormats = []string{"png", "jpg", "jpeg", "svg", "pdf"}

// NormalizeFormat lowercases a format string and strips a leading dot.
// It returns ErrUnsupportedFormat when the result is not a recognized format.
func NormalizeFormat(format string) (string, error) {
	f := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	for _, known := range SupportedFormats {
		if f == known {
			return f, nil
		}
	}
	return "", &ValidationError{Field: "format", Value: format, Err: ErrUnsupportedFormat}
}

// FormatContentType returns the MIME type for a supported format.
func FormatContentType(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "svg":
		return "image/svg+xml"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// ImageMetadata is the structured record describing one stored blob.
// Exactly one record exists per blob under normal operation; orphans on
// either side are tolerated and reconciled by Purge.
//
// Group is the ownership scope: nil means publicly accessible, otherwise
// reads and writes require an exact match. Alias is the optional
// human-readable secondary key, unique within the group.
type ImageMetadata struct {
	GUID      string    `json:"-"`
	Format    string    `json:"format"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Group     *string   `json:"group"`
	Alias     *string   `json:"alias"`
}

// imageMetadataDoc is the on-disk shape of a record. CreatedAt is kept as a
// string so a missing or unparsable timestamp degrades to the zero time
// instead of failing the whole document load.
type imageMetadataDoc struct {
	Format    string  `json:"format"`
	Size      int64   `json:"size"`
	CreatedAt string  `json:"created_at"`
	Group     *string `json:"group"`
	Alias     *string `json:"alias"`
}

// MarshalJSON writes CreatedAt as an RFC3339 UTC string, with an empty
// string for the zero time.
func (m *ImageMetadata) MarshalJSON() ([]byte, error) {
	doc := imageMetadataDoc{
		Format: m.Format,
		Size:   m.Size,
		Group:  m.Group,
		Alias:  m.Alias,
	}
	if !m.CreatedAt.IsZero() {
		doc.CreatedAt = m.CreatedAt.UTC().Format(time.RFC3339)
	}
	return json.Marshal(doc)
}

// UnmarshalJSON tolerates a missing or malformed created_at; the zero time
// signals "unknown" and lets age filtering fall back to the blob mtime.
func (m *ImageMetadata) UnmarshalJSON(data []byte) error {
	var doc imageMetadataDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	m.Format = doc.Format
	m.Size = doc.Size
	m.Group = doc.Group
	m.Alias = doc.Alias
	m.CreatedAt = time.Time{}
	if doc.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, doc.CreatedAt); err == nil {
			m.CreatedAt = ts.UTC()
		}
	}
	return nil
}

// Clone returns a copy so repository callers cannot mutate shared state.
func (m *ImageMetadata) Clone() *ImageMetadata {
	cp := *m
	if m.Group != nil {
		g := *m.Group
		cp.Group = &g
	}
	if m.Alias != nil {
		a := *m.Alias
		cp.Alias = &a
	}
	return &cp
}

// canAccess reports whether a caller holding the requested group token may
// touch a record with the stored group. Access is denied only when both
// sides carry a group and the strings differ.
func canAccess(stored, requested *string) bool {
	if stored == nil || requested == nil {
		return true
	}
	return *stored == *requested
}

// groupEqual compares two optional group tokens.
func groupEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
