package memory

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/talgya/ville/internal/event"
	"github.com/talgya/ville/internal/index"
)

// Index is the semantic store behind an Associate.
type Index interface {
	Add(text string, md index.Metadata) (index.Node, error)
	Get(id string) (index.Node, error)
	GetMany(ids []string) ([]index.Node, error)
	Nearest(text string, k int, typ string, ids []string) ([]index.Scored, error)
	Remove(ids ...string) error
	Expired(now time.Time) ([]string, error)
	Touch(ids []string, at time.Time) error
	Count() (int, error)
}

// AssociateConfig tunes retention and ranking.
type AssociateConfig struct {
	Retention        int     `yaml:"retention" json:"retention"`
	MaxMemory        int     `yaml:"max_memory" json:"max_memory"` // <= 0 means unbounded
	MaxImportance    int     `yaml:"max_importance" json:"max_importance"`
	RetrieveMax      int     `yaml:"retrieve_max" json:"retrieve_max"`
	RecencyDecay     float64 `yaml:"recency_decay" json:"recency_decay"`
	RecencyWeight    float64 `yaml:"recency_weight" json:"recency_weight"`
	RelevanceWeight  float64 `yaml:"relevance_weight" json:"relevance_weight"`
	ImportanceWeight float64 `yaml:"importance_weight" json:"importance_weight"`
}

// DefaultAssociateConfig returns the usual retention and weights.
func DefaultAssociateConfig() AssociateConfig {
	return AssociateConfig{
		Retention:        8,
		MaxMemory:        -1,
		MaxImportance:    10,
		RetrieveMax:      30,
		RecencyDecay:     0.995,
		RecencyWeight:    0.5,
		RelevanceWeight:  3,
		ImportanceWeight: 2,
	}
}

// Associate is an agent's ranked memory. Ids are kept per type,
// most recent first.
type Associate struct {
	idx    Index
	cfg    AssociateConfig
	memory map[string][]string
}

// NewAssociate wraps idx. ids restores the per-type id lists from a
// checkpoint and may be nil.
func NewAssociate(idx Index, cfg AssociateConfig, ids map[string][]string) *Associate {
	a := &Associate{idx: idx, cfg: cfg, memory: make(map[string][]string, len(Types))}
	for _, t := range Types {
		a.memory[t] = slices.Clone(ids[t])
	}
	return a
}

// Config returns the tuning in use.
func (a *Associate) Config() AssociateConfig { return a.cfg }

// IDs returns a copy of the per-type id lists.
func (a *Associate) IDs() map[string][]string {
	out := make(map[string][]string, len(a.memory))
	for t, ids := range a.memory {
		out[t] = slices.Clone(ids)
	}
	return out
}

// Len is the number of ids of the given type.
func (a *Associate) Len(typ string) int {
	return len(a.memory[typ])
}

// Empty reports whether no concept of any type is held.
func (a *Associate) Empty() bool {
	for _, ids := range a.memory {
		if len(ids) > 0 {
			return false
		}
	}
	return true
}

// Add stores a concept. A zero expire means create plus DefaultLifetime.
// When the type's list reaches MaxMemory the oldest ids are evicted, leaving
// MaxMemory-1.
func (a *Associate) Add(typ string, e event.Event, poignancy int, create, expire time.Time, filling []string) (Concept, error) {
	if _, ok := a.memory[typ]; !ok {
		return Concept{}, fmt.Errorf("add concept: unknown type %q", typ)
	}
	if expire.IsZero() {
		expire = create.Add(DefaultLifetime)
	}
	md := index.Metadata{
		Type:      typ,
		Subject:   e.Subject,
		Predicate: e.Predicate,
		Object:    e.Object,
		Address:   e.AddressString(),
		Emoji:     e.Emoji,
		Poignancy: poignancy,
		Create:    create,
		Expire:    expire,
		Access:    create,
		Filling:   filling,
	}
	md.Describe = e.GetDescribe(true)
	node, err := a.idx.Add(md.Describe, md)
	if err != nil {
		return Concept{}, fmt.Errorf("add concept: %w", err)
	}

	ids := append([]string{node.ID}, a.memory[typ]...)
	if a.cfg.MaxMemory > 0 && len(ids) >= a.cfg.MaxMemory {
		if err := a.idx.Remove(ids[a.cfg.MaxMemory-1:]...); err != nil {
			return Concept{}, fmt.Errorf("evict concepts: %w", err)
		}
		ids = ids[:a.cfg.MaxMemory-1]
	}
	a.memory[typ] = ids
	return conceptFromNode(node), nil
}

// Find loads one concept.
func (a *Associate) Find(id string) (Concept, error) {
	n, err := a.idx.Get(id)
	if errors.Is(err, index.ErrNotFound) {
		return Concept{}, fmt.Errorf("%w: %s", ErrUnknownConcept, id)
	}
	if err != nil {
		return Concept{}, err
	}
	return conceptFromNode(n), nil
}

func (a *Associate) concepts(ids []string) ([]Concept, error) {
	nodes, err := a.idx.GetMany(ids)
	if errors.Is(err, index.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrUnknownConcept, err)
	}
	if err != nil {
		return nil, err
	}
	out := make([]Concept, len(nodes))
	for i, n := range nodes {
		out[i] = conceptFromNode(n)
	}
	return out, nil
}

// Retrieve returns up to Retention concepts of a type: the most recent ones
// when query is empty, otherwise the most similar.
func (a *Associate) Retrieve(typ, query string) ([]Concept, error) {
	ids := a.memory[typ]
	if query == "" {
		return a.concepts(ids[:min(len(ids), a.cfg.Retention)])
	}
	if len(ids) == 0 {
		return nil, nil
	}
	scored, err := a.idx.Nearest(query, a.cfg.Retention, typ, ids)
	if err != nil {
		return nil, fmt.Errorf("retrieve %s: %w", typ, err)
	}
	out := make([]Concept, len(scored))
	for i, s := range scored {
		out[i] = conceptFromNode(s.Node)
	}
	return out, nil
}

// RetrieveEvents is Retrieve for event concepts.
func (a *Associate) RetrieveEvents(query string) ([]Concept, error) {
	return a.Retrieve(TypeEvent, query)
}

// RetrieveThoughts is Retrieve for thought concepts.
func (a *Associate) RetrieveThoughts(query string) ([]Concept, error) {
	return a.Retrieve(TypeThought, query)
}

// RetrieveChats returns recent chats, or those most similar to a
// conversation with name.
func (a *Associate) RetrieveChats(name string) ([]Concept, error) {
	query := ""
	if name != "" {
		query = "conversation with " + name
	}
	return a.Retrieve(TypeChat, query)
}

// LastChatWith returns the most recent chat concept whose object is name.
func (a *Associate) LastChatWith(name string) (Concept, bool, error) {
	chats, err := a.concepts(a.memory[TypeChat])
	if err != nil {
		return Concept{}, false, fmt.Errorf("last chat with %s: %w", name, err)
	}
	for _, c := range chats {
		if c.Event.Object == name {
			return c, true, nil
		}
	}
	return Concept{}, false, nil
}

func (a *Associate) rankFocus(query string, limit int) ([]index.Scored, error) {
	ids := slices.Concat(a.memory[TypeEvent], a.memory[TypeThought])
	if len(ids) == 0 {
		return nil, nil
	}
	scored, err := a.idx.Nearest(query, len(ids), "", ids)
	if err != nil {
		return nil, fmt.Errorf("retrieve focus: %w", err)
	}
	return Rank(scored, a.cfg, limit), nil
}

func (a *Associate) touch(nodes []index.Scored, now time.Time) ([]Concept, error) {
	ids := make([]string, len(nodes))
	out := make([]Concept, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
		c := conceptFromNode(n.Node)
		c.Access = now
		out[i] = c
	}
	if err := a.idx.Touch(ids, now); err != nil {
		return nil, fmt.Errorf("touch concepts: %w", err)
	}
	return out, nil
}

// RetrieveFocus ranks event and thought concepts against every query and
// merges the results by id, keeping first-seen order. Returned concepts have
// their access time set to now. limit <= 0 uses RetrieveMax.
func (a *Associate) RetrieveFocus(now time.Time, focus []string, limit int) ([]Concept, error) {
	if limit <= 0 {
		limit = a.cfg.RetrieveMax
	}
	var merged []index.Scored
	pos := make(map[string]int)
	for _, q := range focus {
		nodes, err := a.rankFocus(q, limit)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if i, ok := pos[n.ID]; ok {
				merged[i] = n
				continue
			}
			pos[n.ID] = len(merged)
			merged = append(merged, n)
		}
	}
	return a.touch(merged, now)
}

// FocusResult is one query's ranked concepts.
type FocusResult struct {
	Query    string
	Concepts []Concept
}

// RetrieveFocusEach is RetrieveFocus without merging: one ranked list per
// query, in query order.
func (a *Associate) RetrieveFocusEach(now time.Time, focus []string, limit int) ([]FocusResult, error) {
	if limit <= 0 {
		limit = a.cfg.RetrieveMax
	}
	out := make([]FocusResult, 0, len(focus))
	for _, q := range focus {
		nodes, err := a.rankFocus(q, limit)
		if err != nil {
			return nil, err
		}
		concepts, err := a.touch(nodes, now)
		if err != nil {
			return nil, err
		}
		out = append(out, FocusResult{Query: q, Concepts: concepts})
	}
	return out, nil
}

// Cleanup removes concepts created after now or expired before it. Calling
// it again is a no-op.
func (a *Associate) Cleanup(now time.Time) ([]string, error) {
	expired, err := a.idx.Expired(now)
	if err != nil {
		return nil, fmt.Errorf("cleanup: %w", err)
	}
	if err := a.idx.Remove(expired...); err != nil {
		return nil, fmt.Errorf("cleanup: %w", err)
	}
	gone := make(map[string]bool, len(expired))
	for _, id := range expired {
		gone[id] = true
	}
	for t, ids := range a.memory {
		a.memory[t] = slices.DeleteFunc(ids, func(id string) bool { return gone[id] })
	}
	return expired, nil
}

// Rank orders candidates by recency, relevance and importance and keeps the
// best limit. Candidates are first sorted by access time, newest first.
func Rank(cands []index.Scored, cfg AssociateConfig, limit int) []index.Scored {
	if len(cands) == 0 {
		return nil
	}
	nodes := slices.Clone(cands)
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Access.After(nodes[j].Access) })

	recency := make([]float64, len(nodes))
	relevance := make([]float64, len(nodes))
	importance := make([]float64, len(nodes))
	fac := 1.0
	for i, n := range nodes {
		fac *= cfg.RecencyDecay
		recency[i] = fac
		relevance[i] = n.Score
		importance[i] = float64(n.Poignancy)
	}
	recency = Normalize(recency, cfg.RecencyWeight)
	relevance = Normalize(relevance, cfg.RelevanceWeight)
	importance = Normalize(importance, cfg.ImportanceWeight)

	final := make(map[string]float64, len(nodes))
	for i, n := range nodes {
		final[n.ID] = recency[i] + relevance[i] + importance[i]
	}
	sort.SliceStable(nodes, func(i, j int) bool { return final[nodes[i].ID] > final[nodes[j].ID] })
	if limit > 0 && len(nodes) > limit {
		nodes = nodes[:limit]
	}
	return nodes
}

// Normalize min-max scales values to [0, weight]. When every value is equal
// each becomes weight/2.
func Normalize(values []float64, weight float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	lo, hi := slices.Min(values), slices.Max(values)
	out := make([]float64, len(values))
	diff := hi - lo
	for i, v := range values {
		if diff == 0 {
			out[i] = weight / 2
			continue
		}
		out[i] = (v - lo) * weight / diff
	}
	return out
}
