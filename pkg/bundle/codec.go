package bundle

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/vmihailenco/msgpack/v5"
)

// Encoding is the on-disk serialization of a bundle.
type Encoding string

const (
	Msgpack Encoding = "msgpack"
	YAML    Encoding = "yaml"
)

// EncodingOf picks the encoding from a bundle file name. YAML (and JSON,
// which YAML parses) is used for .yaml, .yml and .json; everything else is
// msgpack.
func EncodingOf(name string) Encoding {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return YAML
	}
	return Msgpack
}

// Decode deserializes and validates a bundle.
func Decode(data []byte, enc Encoding) (*Bundle, error) {
	var b Bundle
	var err error
	switch enc {
	case YAML:
		err = yaml.Unmarshal(data, &b)
	case Msgpack:
		err = msgpack.Unmarshal(data, &b)
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrCorrupt, enc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Encode serializes b.
func Encode(b *Bundle, enc Encoding) ([]byte, error) {
	switch enc {
	case YAML:
		return yaml.Marshal(b)
	case Msgpack:
		return msgpack.Marshal(b)
	}
	return nil, fmt.Errorf("bundle: unknown encoding %q", enc)
}
