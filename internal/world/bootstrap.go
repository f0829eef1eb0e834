package world

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed bootstrap.schema.json
var bootstrapSchemaText string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func bootstrapSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("bootstrap.schema.json", bootstrapSchemaText)
	})
	return schema, schemaErr
}

// TileSpec overrides the address and collision flag of one tile. The address
// excludes the world name.
type TileSpec struct {
	Coord     Coord    `json:"coord"`
	Address   []string `json:"address,omitempty"`
	Collision bool     `json:"collision,omitempty"`
}

// Bootstrap is the on-disk description of a world.
type Bootstrap struct {
	World       string     `json:"world"`
	Size        [2]int     `json:"size"` // height, width
	TileSize    int        `json:"tile_size,omitempty"`
	AddressKeys []string   `json:"tile_address_keys,omitempty"`
	Tiles       []TileSpec `json:"tiles"`
}

// Height is the number of rows.
func (b *Bootstrap) Height() int { return b.Size[0] }

// Width is the number of columns.
func (b *Bootstrap) Width() int { return b.Size[1] }

// ParseBootstrap validates data against the bootstrap schema and decodes it.
func ParseBootstrap(data []byte) (*Bootstrap, error) {
	s, err := bootstrapSchema()
	if err != nil {
		return nil, fmt.Errorf("compile bootstrap schema: %w", err)
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode bootstrap: %w", err)
	}
	if err := s.Validate(raw); err != nil {
		return nil, fmt.Errorf("validate bootstrap: %w", err)
	}
	var b Bootstrap
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bootstrap: %w", err)
	}
	return &b, nil
}

// LoadBootstrap reads and validates a bootstrap file.
func LoadBootstrap(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bootstrap: %w", err)
	}
	return ParseBootstrap(data)
}

// SaveBootstrap writes b as indented JSON, creating parent directories.
func SaveBootstrap(path string, b *Bootstrap) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create bootstrap dir: %w", err)
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bootstrap: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write bootstrap: %w", err)
	}
	return nil
}
