// Package artifact defines the opaque view of an update artifact the
// deployment machine consumes: a Header describing the payloads it
// contains, and a Payload each payload's content reader. Parsing the
// Mender artifact tar format and verifying its signature are out of scope
// (see spec.md §1 Non-goals); this package only defines the interfaces and
// a minimal in-memory implementation used by the runner and by tests.
package artifact

import (
	"bytes"
	"io"
)

// Header is the read-only metadata view of an artifact.
type Header interface {
	ArtifactName() string
	ArtifactGroup() string
	PayloadTypes() []string
	TypeInfoProvides() map[string]string
	ClearsArtifactProvides() []string
	Depends() map[string]string
}

// Payload is a single named payload's content.
type Payload interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// InMemoryHeader is a minimal Header backed by plain fields, used by tests
// and by standalone mode when an artifact's metadata is supplied directly
// rather than parsed from a file.
type InMemoryHeader struct {
	Name             string
	Group            string
	Types            []string
	Provides         map[string]string
	ClearsProvides   []string
	DependsOnFields  map[string]string
}

func (h *InMemoryHeader) ArtifactName() string              { return h.Name }
func (h *InMemoryHeader) ArtifactGroup() string              { return h.Group }
func (h *InMemoryHeader) PayloadTypes() []string             { return h.Types }
func (h *InMemoryHeader) TypeInfoProvides() map[string]string { return h.Provides }
func (h *InMemoryHeader) ClearsArtifactProvides() []string   { return h.ClearsProvides }
func (h *InMemoryHeader) Depends() map[string]string         { return h.DependsOnFields }

// InMemoryPayload is a minimal Payload backed by an in-memory byte slice.
type InMemoryPayload struct {
	PayloadName string
	PayloadSize int64
	Content     []byte
}

func (p *InMemoryPayload) Name() string { return p.PayloadName }
func (p *InMemoryPayload) Size() int64  { return p.PayloadSize }

func (p *InMemoryPayload) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(p.Content)), nil
}
