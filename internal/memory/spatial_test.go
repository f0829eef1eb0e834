package memory

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTree_AddLeafAndLeaves(t *testing.T) {
	tree := NewTree()
	tree.AddLeaf([]string{"ville", "house", "bedroom", "bed"})
	tree.AddLeaf([]string{"ville", "house", "bedroom", "desk"})
	tree.AddLeaf([]string{"ville", "house", "bedroom", "bed"})
	tree.AddLeaf([]string{"ville", "cafe", "counter", "coffee machine"})
	tree.AddLeaf([]string{"ville", "house", "kitchen", "stove"})

	assert.Equal(t, []string{"ville"}, tree.Leaves(nil))
	assert.Equal(t, []string{"house", "cafe"}, tree.Leaves([]string{"ville"}))
	assert.Equal(t, []string{"bedroom", "kitchen"}, tree.Leaves([]string{"ville", "house"}))
	assert.Equal(t, []string{"bed", "desk"}, tree.Leaves([]string{"ville", "house", "bedroom"}))
	assert.Nil(t, tree.Leaves([]string{"ville", "library"}))
	assert.Nil(t, tree.Leaves([]string{"ville", "house", "bedroom", "bed", "pillow"}))
}

func TestTree_AddLeafPromotesLeafSet(t *testing.T) {
	tree := NewTree()
	tree.AddLeaf([]string{"ville", "park", "garden"})
	tree.AddLeaf([]string{"ville", "park", "garden", "bench"})

	assert.Equal(t, []string{"garden"}, tree.Leaves([]string{"ville", "park"}))
	assert.Equal(t, []string{"bench"}, tree.Leaves([]string{"ville", "park", "garden"}))
}

func TestTree_JSONKeepsOrder(t *testing.T) {
	doc := `{"ville":{"zoo":{"pen":["lion"]},"arcade":{"hall":["pinball","claw"]}}}`
	var tree Tree
	require.NoError(t, json.Unmarshal([]byte(doc), &tree))
	assert.Equal(t, []string{"zoo", "arcade"}, tree.Leaves([]string{"ville"}))
	assert.Equal(t, []string{"pinball", "claw"}, tree.Leaves([]string{"ville", "arcade", "hall"}))

	out, err := json.Marshal(&tree)
	require.NoError(t, err)
	assert.JSONEq(t, doc, string(out))
	assert.Equal(t, doc, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"ville":3}`), &tree))
}

func TestTree_YAMLKeepsOrder(t *testing.T) {
	doc := `
ville:
  zoo:
    pen: [lion]
  arcade:
    hall: [pinball, claw]
`
	var tree Tree
	require.NoError(t, yaml.Unmarshal([]byte(doc), &tree))
	assert.Equal(t, []string{"zoo", "arcade"}, tree.Leaves([]string{"ville"}))

	out, err := yaml.Marshal(&tree)
	require.NoError(t, err)
	var again Tree
	require.NoError(t, yaml.Unmarshal(out, &again))
	assert.Equal(t, tree.Leaves([]string{"ville", "arcade", "hall"}), again.Leaves([]string{"ville", "arcade", "hall"}))
	assert.Equal(t, []string{"zoo", "arcade"}, again.Leaves([]string{"ville"}))

	assert.Error(t, yaml.Unmarshal([]byte(`ville: 3`), &tree))
}

func TestTree_RandomAddress(t *testing.T) {
	tree := NewTree()
	tree.AddLeaf([]string{"ville", "house", "bedroom", "bed"})
	tree.AddLeaf([]string{"ville", "empty", "hall"})
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		addr := tree.RandomAddress(rng)
		require.NotEmpty(t, addr)
		assert.Equal(t, "ville", addr[0])
	}
}

func TestSpatial_AddressBook(t *testing.T) {
	s := NewSpatial(nil, map[string][]string{
		"living_area": {"ville", "house", "bedroom"},
		"cafe":        {"ville", "Hobbs Cafe", "cafe"},
		"coffee cafe": {"ville", "Hobbs Cafe", "cafe", "coffee machine"},
	})
	assert.Equal(t, []string{"ville", "house", "bedroom", "bed"}, s.Address[AddressSleeping])
	assert.Equal(t, []string{"ville", "Hobbs Cafe", "cafe", "coffee machine"}, s.FindAddress("grab a coffee cafe latte"))
	assert.Equal(t, []string{"ville", "Hobbs Cafe", "cafe"}, s.FindAddress("go to the cafe"))
	assert.Nil(t, s.FindAddress("walk in the park"))

	explicit := NewSpatial(nil, map[string][]string{
		"living_area": {"ville", "house", "bedroom"},
		"sleeping":    {"ville", "house", "couch"},
	})
	assert.Equal(t, []string{"ville", "house", "couch"}, explicit.Address[AddressSleeping])

	clone := s.Clone()
	clone.AddLeaf([]string{"ville", "house", "bedroom", "bed"})
	assert.Empty(t, s.Leaves(nil))
}
