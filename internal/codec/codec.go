// Package codec converts between spacegraph values and bytes: the JSON wire
// envelope spoken by agents, graph fragments in JSON and YAML, and
// compressed trace files.
package codec

import (
	"io"

	"spacegraph/internal/domain"
)

// Importer parses fragment documents
type Importer interface {
	Parse(r io.Reader) (*domain.GraphFragment, error)
	Format() string
}

// Exporter writes fragment documents
type Exporter interface {
	Export(fragment *domain.GraphFragment, w io.Writer) error
	Format() string
}

// ForFormat returns the fragment codec for a format name; "yml" is an
// alias of "yaml"
func ForFormat(format string) (*FragmentCodec, bool) {
	switch format {
	case "json":
		return jsonFragments, true
	case "yaml", "yml":
		return yamlFragments, true
	}
	return nil, false
}

var (
	_ Importer = (*FragmentCodec)(nil)
	_ Exporter = (*FragmentCodec)(nil)
)
