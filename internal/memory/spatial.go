package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tree is a node of the spatial knowledge tree. An internal node maps names
// to subtrees in insertion order; a leaf node is an ordered set of names.
type Tree struct {
	names    []string
	children map[string]*Tree // nil for a leaf set
}

// NewTree returns an empty internal node.
func NewTree() *Tree {
	return &Tree{children: make(map[string]*Tree)}
}

func newLeafSet(names ...string) *Tree {
	return &Tree{names: slices.Clone(names)}
}

// IsLeaf reports whether t is a leaf set.
func (t *Tree) IsLeaf() bool { return t.children == nil }

// Names returns child keys or leaf names in insertion order.
func (t *Tree) Names() []string { return slices.Clone(t.names) }

// Len is the number of names held directly by t.
func (t *Tree) Len() int { return len(t.names) }

// Child returns a subtree of an internal node.
func (t *Tree) Child(name string) (*Tree, bool) {
	if t.IsLeaf() {
		return nil, false
	}
	c, ok := t.children[name]
	return c, ok
}

// promote turns a leaf set into an internal node whose children are empty
// leaf sets, keeping every name.
func (t *Tree) promote() {
	if !t.IsLeaf() {
		return
	}
	t.children = make(map[string]*Tree, len(t.names))
	for _, n := range t.names {
		t.children[n] = newLeafSet()
	}
}

func (t *Tree) addName(name string) {
	if !slices.Contains(t.names, name) {
		t.names = append(t.names, name)
	}
}

// setChild stores c under name on an internal node.
func (t *Tree) setChild(name string, c *Tree) {
	t.addName(name)
	t.children[name] = c
}

// AddLeaf records an address: every element but the last is a path of
// internal nodes and the last lands in a leaf set. The tree never shrinks.
func (t *Tree) AddLeaf(address []string) {
	if len(address) < 2 {
		return
	}
	t.promote()
	child, ok := t.children[address[0]]
	if len(address) == 2 {
		if !ok {
			child = newLeafSet()
			t.setChild(address[0], child)
		}
		if child.IsLeaf() {
			child.addName(address[1])
		} else if _, exists := child.children[address[1]]; !exists {
			child.setChild(address[1], newLeafSet())
		}
		return
	}
	if !ok {
		child = NewTree()
		t.setChild(address[0], child)
	}
	child.AddLeaf(address[1:])
}

// Leaves returns the names directly under address: child keys of an internal
// node or the names of a leaf set. Unknown paths yield nil.
func (t *Tree) Leaves(address []string) []string {
	node := t
	for _, a := range address {
		c, ok := node.Child(a)
		if !ok {
			return nil
		}
		node = c
	}
	return node.Names()
}

// RandomAddress walks from the root picking a random non-empty child at each
// level and finishes with a random leaf name.
func (t *Tree) RandomAddress(rng *rand.Rand) []string {
	var address []string
	node := t
	for !node.IsLeaf() {
		var roots []string
		for _, n := range node.names {
			if node.children[n].Len() > 0 {
				roots = append(roots, n)
			}
		}
		if len(roots) == 0 {
			return address
		}
		pick := roots[rng.Intn(len(roots))]
		address = append(address, pick)
		node = node.children[pick]
	}
	if node.Len() > 0 {
		address = append(address, node.names[rng.Intn(node.Len())])
	}
	return address
}

// MarshalJSON writes internal nodes as objects (keys in insertion order) and
// leaf sets as arrays.
func (t *Tree) MarshalJSON() ([]byte, error) {
	if t.IsLeaf() {
		names := t.names
		if names == nil {
			names = []string{}
		}
		return json.Marshal(names)
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range t.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := t.children[n].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the form written by MarshalJSON, preserving key order.
func (t *Tree) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	parsed, err := decodeTree(dec)
	if err != nil {
		return fmt.Errorf("decode spatial tree: %w", err)
	}
	*t = *parsed
	return nil
}

func decodeTree(dec *json.Decoder) (*Tree, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil, fmt.Errorf("unexpected token %v", tok)
	}
	switch delim {
	case '[':
		leaf := newLeafSet()
		for dec.More() {
			var name string
			if err := dec.Decode(&name); err != nil {
				return nil, err
			}
			leaf.addName(name)
		}
		_, err := dec.Token()
		return leaf, err
	case '{':
		node := NewTree()
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected key %v", keyTok)
			}
			child, err := decodeTree(dec)
			if err != nil {
				return nil, err
			}
			node.setChild(key, child)
		}
		_, err := dec.Token()
		return node, err
	}
	return nil, fmt.Errorf("unexpected delimiter %v", delim)
}

// UnmarshalYAML reads a mapping (internal node) or sequence (leaf set),
// preserving key order.
func (t *Tree) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := yamlTree(value)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}

func yamlTree(value *yaml.Node) (*Tree, error) {
	switch value.Kind {
	case yaml.MappingNode:
		node := NewTree()
		for i := 0; i+1 < len(value.Content); i += 2 {
			child, err := yamlTree(value.Content[i+1])
			if err != nil {
				return nil, err
			}
			node.setChild(value.Content[i].Value, child)
		}
		return node, nil
	case yaml.SequenceNode:
		leaf := newLeafSet()
		for _, item := range value.Content {
			leaf.addName(item.Value)
		}
		return leaf, nil
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			return newLeafSet(), nil
		}
	}
	return nil, fmt.Errorf("spatial tree line %d: expected mapping or sequence", value.Line)
}

// MarshalYAML mirrors MarshalJSON with an ordered mapping node.
func (t *Tree) MarshalYAML() (any, error) {
	return t.yamlNode(), nil
}

func (t *Tree) yamlNode() *yaml.Node {
	if t.IsLeaf() {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, n := range t.names {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: n})
		}
		return seq
	}
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, n := range t.names {
		m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: n}, t.children[n].yamlNode())
	}
	return m
}

// Clone deep-copies the tree. A nil tree clones to an empty one.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return NewTree()
	}
	c := &Tree{names: slices.Clone(t.names)}
	if t.children != nil {
		c.children = make(map[string]*Tree, len(t.children))
		for k, v := range t.children {
			c.children[k] = v.Clone()
		}
	}
	return c
}

// Address book keys with special meaning.
const (
	AddressSleeping   = "sleeping"
	AddressLivingArea = "living_area"
)

// Spatial is an agent's knowledge of places: the tree of perceived
// addresses and a book of named addresses.
type Spatial struct {
	Tree    *Tree               `json:"tree" yaml:"tree"`
	Address map[string][]string `json:"address" yaml:"address"`
}

// NewSpatial builds a spatial memory. Without a "sleeping" entry the living
// area's bed is used.
func NewSpatial(tree *Tree, address map[string][]string) *Spatial {
	if tree == nil {
		tree = NewTree()
	}
	book := make(map[string][]string, len(address)+1)
	for k, v := range address {
		book[k] = slices.Clone(v)
	}
	if _, ok := book[AddressSleeping]; !ok {
		if living, ok := book[AddressLivingArea]; ok {
			book[AddressSleeping] = append(slices.Clone(living), "bed")
		}
	}
	return &Spatial{Tree: tree, Address: book}
}

// AddLeaf records a perceived address.
func (s *Spatial) AddLeaf(address []string) {
	s.Tree.AddLeaf(address)
}

// Leaves returns the names known under address.
func (s *Spatial) Leaves(address []string) []string {
	return s.Tree.Leaves(address)
}

// FindAddress returns the address-book entry whose key appears in hint.
// Longer keys win; ties go to the alphabetically first key.
func (s *Spatial) FindAddress(hint string) []string {
	keys := make([]string, 0, len(s.Address))
	for k := range s.Address {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		if strings.Contains(hint, k) {
			return slices.Clone(s.Address[k])
		}
	}
	return nil
}

// Clone deep-copies the spatial memory.
func (s *Spatial) Clone() *Spatial {
	book := make(map[string][]string, len(s.Address))
	for k, v := range s.Address {
		book[k] = slices.Clone(v)
	}
	return &Spatial{Tree: s.Tree.Clone(), Address: book}
}
