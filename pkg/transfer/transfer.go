// Package transfer exports the whole page table to a JSON envelope and
// imports such an envelope back as a full replacement.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"

	"github.com/kittclouds/voton/internal/store"
	"github.com/kittclouds/voton/pkg/events"
	"github.com/kittclouds/voton/pkg/pages"
)

// FormatVersion is written into every export envelope.
const FormatVersion = "1.0.0"

// ErrInvalidFormat reports an import payload that failed validation. The
// store is untouched when this is returned.
var ErrInvalidFormat = errors.New("invalid export format")

// Envelope is the export file document.
type Envelope struct {
	Version    string        `json:"version"`
	ExportDate string        `json:"exportDate"`
	Pages      []*store.Page `json:"pages"`
}

// isoLayout matches JavaScript's Date.prototype.toISOString.
const isoLayout = "2006-01-02T15:04:05.000Z"

// Service runs bulk export, import and clear against a repository.
type Service struct {
	repo *pages.Repository
	log  zerolog.Logger
	now  func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithClock replaces time.Now for export timestamps and file names.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a transfer service over repo.
func New(repo *pages.Repository, opts ...Option) *Service {
	s := &Service{repo: repo, log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FileName returns the conventional export file name for t.
func FileName(t time.Time) string {
	return "voton-export-" + t.UTC().Format("2006-01-02") + ".json"
}

// Snapshot captures every page in an envelope. It never writes.
func (s *Service) Snapshot(ctx context.Context) (*Envelope, error) {
	all, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	return &Envelope{
		Version:    FormatVersion,
		ExportDate: s.now().UTC().Format(isoLayout),
		Pages:      all,
	}, nil
}

// Export serializes every page to an indented JSON envelope.
func (s *Service) Export(ctx context.Context) ([]byte, error) {
	env, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: encode: %w", err)
	}

	s.log.Info().Int("pages", len(env.Pages)).Int("bytes", len(data)).Msg("exported pages")
	return data, nil
}

// ExportToFile writes the export into dir under FileName and returns the
// path. The file is replaced atomically.
func (s *Service) ExportToFile(ctx context.Context, dir string) (string, error) {
	data, err := s.Export(ctx)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, FileName(s.now()))
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("export: write %s: %w", path, err)
	}
	return path, nil
}

// Import validates data and, only if it is well formed, replaces the whole
// table with its pages in one transaction. A single Deleted event follows a
// successful import. Returns the number of pages imported.
func (s *Service) Import(ctx context.Context, data []byte) (int, error) {
	env, err := Validate(data)
	if err != nil {
		return 0, err
	}

	if err := s.repo.Store().Replace(ctx, env.Pages); err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}

	s.repo.Bus().Publish(events.Deleted)
	s.log.Info().Int("pages", len(env.Pages)).Str("exportDate", env.ExportDate).Msg("imported pages")
	return len(env.Pages), nil
}

// ImportFile reads and imports the export file at path.
func (s *Service) ImportFile(ctx context.Context, path string) (int, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".json") {
		return 0, fmt.Errorf("%w: %s is not a .json file", ErrInvalidFormat, filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("import: read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return 0, fmt.Errorf("%w: file is empty", ErrInvalidFormat)
	}

	return s.Import(ctx, data)
}

// ClearAll empties the table and announces a Deleted event.
func (s *Service) ClearAll(ctx context.Context) error {
	if err := s.repo.Store().Clear(ctx); err != nil {
		return fmt.Errorf("clear all: %w", err)
	}
	s.repo.Bus().Publish(events.Deleted)
	s.log.Info().Msg("cleared all pages")
	return nil
}

// =============================================================================
// Validation
// =============================================================================

var optionalFields = []string{"parentDocument", "content", "coverImage", "icon"}

// Validate checks that data is a single JSON object with string version and
// exportDate and a pages array whose entries have string id and title and
// only string optional fields. Unknown keys are ignored.
func Validate(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var top map[string]json.RawMessage
	if err := dec.Decode(&top); err != nil {
		return nil, invalid("not a JSON object: %v", err)
	}
	if top == nil {
		return nil, invalid("not a JSON object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, invalid("trailing data after envelope")
	}

	env := &Envelope{}
	var ok bool
	if env.Version, ok = decodeString(top["version"]); !ok {
		return nil, invalid("version must be a string")
	}
	if env.ExportDate, ok = decodeString(top["exportDate"]); !ok {
		return nil, invalid("exportDate must be a string")
	}

	rawPages, present := top["pages"]
	if !present || !isArray(rawPages) {
		return nil, invalid("pages must be an array")
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(rawPages, &entries); err != nil {
		return nil, invalid("pages must be an array: %v", err)
	}

	env.Pages = make([]*store.Page, 0, len(entries))
	for i, entry := range entries {
		page, err := validatePage(entry)
		if err != nil {
			return nil, invalid("page %d: %v", i, err)
		}
		env.Pages = append(env.Pages, page)
	}

	return env, nil
}

func validatePage(entry json.RawMessage) (*store.Page, error) {
	if !isObject(entry) {
		return nil, errors.New("not an object")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil {
		return nil, err
	}

	page := &store.Page{}
	var ok bool
	if page.ID, ok = decodeString(fields["id"]); !ok || page.ID == "" {
		return nil, errors.New("id must be a non-empty string")
	}
	if page.Title, ok = decodeString(fields["title"]); !ok {
		return nil, fmt.Errorf("%s: title must be a string", page.ID)
	}

	targets := map[string]**string{
		"parentDocument": &page.ParentDocument,
		"content":        &page.Content,
		"coverImage":     &page.CoverImage,
		"icon":           &page.Icon,
	}
	for _, name := range optionalFields {
		raw, present := fields[name]
		if !present {
			continue
		}
		v, ok := decodeString(raw)
		if !ok {
			return nil, fmt.Errorf("%s: %s must be a string", page.ID, name)
		}
		*targets[name] = &v
	}

	return page, nil
}

// decodeString accepts only a JSON string literal; null and other types fail.
func decodeString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFormat, fmt.Sprintf(format, args...))
}
