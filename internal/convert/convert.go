// Package convert is the boundary to side-specific parsers and
// generators. The engine never understands source syntax itself: it hands
// bytes to a ConverterFunc and receives bytes from a GeneratorFunc, both
// injected per side. The package also owns the mapping between on-disk
// paths and logical unit ids.
package convert

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/roach88/duplex/internal/ir"
)

// ConverterFunc parses one side's source into IR. It must be pure: no
// file or network access, errors mean the source does not parse.
type ConverterFunc func(source []byte, path string) (ir.Document, error)

// GeneratorFunc renders IR into one side's source. It must be pure and
// deterministic: the same document yields the same bytes, which is what
// lets an unchanged regeneration be skipped.
type GeneratorFunc func(doc ir.Document) ([]byte, error)

// Codec pairs a side's converter and generator.
type Codec struct {
	Convert  ConverterFunc
	Generate GeneratorFunc
}

// Registry holds the codec for each side. Safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	codecs map[ir.Side]Codec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[ir.Side]Codec)}
}

// Register installs a codec for one side, replacing any earlier codec.
func (r *Registry) Register(side ir.Side, c Codec) error {
	if !side.Valid() {
		return fmt.Errorf("register codec: invalid side %q", string(side))
	}
	if c.Convert == nil || c.Generate == nil {
		return fmt.Errorf("register codec for side %s: converter and generator are both required", side)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[side] = c
	return nil
}

// Codec returns the codec registered for a side.
func (r *Registry) Codec(side ir.Side) (Codec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codecs[side]
	return c, ok
}

// Convert parses source bytes with the side's registered converter.
func (r *Registry) Convert(side ir.Side, source []byte, path string) (ir.Document, error) {
	c, ok := r.Codec(side)
	if !ok {
		return ir.Document{}, fmt.Errorf("convert %s: no codec registered for side %s", path, side)
	}
	return c.Convert(source, path)
}

// Generate renders a document with the side's registered generator.
func (r *Registry) Generate(side ir.Side, doc ir.Document) ([]byte, error) {
	c, ok := r.Codec(side)
	if !ok {
		return nil, fmt.Errorf("generate for side %s: no codec registered", side)
	}
	return c.Generate(doc)
}

// Mapper translates between on-disk paths and logical unit ids. The
// logical id is the path relative to its side's root with the side
// extension stripped, slash-normalized; the same id under the opposite
// root with the opposite extension names the twin file.
type Mapper struct {
	rootA, rootB string
	extA, extB   string
}

// NewMapper builds a mapper over two disjoint roots. Extensions are
// normalized to a leading dot.
func NewMapper(rootA, rootB, extA, extB string) (*Mapper, error) {
	if rootA == "" || rootB == "" {
		return nil, fmt.Errorf("new mapper: both roots are required")
	}
	if extA == "" || extB == "" {
		return nil, fmt.Errorf("new mapper: both extensions are required")
	}

	absA, err := filepath.Abs(rootA)
	if err != nil {
		return nil, fmt.Errorf("new mapper: root A: %w", err)
	}
	absB, err := filepath.Abs(rootB)
	if err != nil {
		return nil, fmt.Errorf("new mapper: root B: %w", err)
	}
	if absA == absB || within(absA, absB) || within(absB, absA) {
		return nil, fmt.Errorf("new mapper: roots %s and %s overlap", absA, absB)
	}

	return &Mapper{
		rootA: absA,
		rootB: absB,
		extA:  dotted(extA),
		extB:  dotted(extB),
	}, nil
}

// LogicalID resolves a path to its unit id and side.
func (m *Mapper) LogicalID(path string) (string, ir.Side, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", fmt.Errorf("logical id for %s: %w", path, err)
	}

	var root, ext string
	var side ir.Side
	switch {
	case within(m.rootA, abs):
		root, ext, side = m.rootA, m.extA, ir.SideA
	case within(m.rootB, abs):
		root, ext, side = m.rootB, m.extB, ir.SideB
	default:
		return "", "", fmt.Errorf("logical id for %s: outside both roots", path)
	}

	if !strings.HasSuffix(abs, ext) {
		return "", "", fmt.Errorf("logical id for %s: not a %s file", path, ext)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", "", fmt.Errorf("logical id for %s: %w", path, err)
	}

	id := filepath.ToSlash(strings.TrimSuffix(rel, ext))
	if id == "" || id == "." {
		return "", "", fmt.Errorf("logical id for %s: empty unit name", path)
	}
	return id, side, nil
}

// Path returns the on-disk path for a unit on one side.
func (m *Mapper) Path(logicalID string, side ir.Side) string {
	if side == ir.SideA {
		return filepath.Join(m.rootA, filepath.FromSlash(logicalID)) + m.extA
	}
	return filepath.Join(m.rootB, filepath.FromSlash(logicalID)) + m.extB
}

// OppositePath resolves a path to its twin on the other side.
func (m *Mapper) OppositePath(path string) (string, ir.Side, error) {
	id, side, err := m.LogicalID(path)
	if err != nil {
		return "", "", err
	}
	opp := side.Opposite()
	return m.Path(id, opp), opp, nil
}

func dotted(ext string) string {
	if strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

func within(root, path string) bool {
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
