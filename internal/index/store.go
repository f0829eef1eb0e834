// Package index provides the per-agent semantic store: memory nodes with
// metadata and an embedding, searchable by similarity. Backed by SQLite.
package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/ville/internal/retry"
)

// ErrNotFound is returned when a node id is unknown.
var ErrNotFound = errors.New("node not found")

// Metadata is stored alongside every node.
type Metadata struct {
	Type      string    `json:"type"`
	Subject   string    `json:"subject"`
	Predicate string    `json:"predicate"`
	Object    string    `json:"object"`
	Address   string    `json:"address"`
	Describe  string    `json:"describe"`
	Emoji     string    `json:"emoji,omitempty"`
	Poignancy int       `json:"poignancy"`
	Create    time.Time `json:"create"`
	Expire    time.Time `json:"expire"`
	Access    time.Time `json:"access"`
	Filling   []string  `json:"filling,omitempty"`
}

// Node is one stored memory.
type Node struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Metadata
}

// Scored is a node with its similarity to a query.
type Scored struct {
	Node
	Score float64
}

type nodeRow struct {
	ID        string `db:"id"`
	Text      string `db:"text"`
	Type      string `db:"type"`
	Subject   string `db:"subject"`
	Predicate string `db:"predicate"`
	Object    string `db:"object"`
	Address   string `db:"address"`
	Describe  string `db:"describe"`
	Emoji     string `db:"emoji"`
	Poignancy int    `db:"poignancy"`
	Create    int64  `db:"created"`
	Expire    int64  `db:"expire"`
	Access    int64  `db:"access"`
	Filling   string `db:"filling"`
	Embedding []byte `db:"embedding"`
}

func (r nodeRow) node() Node {
	n := Node{
		ID:   r.ID,
		Text: r.Text,
		Metadata: Metadata{
			Type:      r.Type,
			Subject:   r.Subject,
			Predicate: r.Predicate,
			Object:    r.Object,
			Address:   r.Address,
			Describe:  r.Describe,
			Emoji:     r.Emoji,
			Poignancy: r.Poignancy,
			Create:    time.Unix(r.Create, 0).UTC(),
			Expire:    time.Unix(r.Expire, 0).UTC(),
			Access:    time.Unix(r.Access, 0).UTC(),
		},
	}
	if r.Filling != "" {
		_ = json.Unmarshal([]byte(r.Filling), &n.Filling)
	}
	return n
}

const nodeColumns = `id, text, type, subject, predicate, object, address, describe, emoji,
	poignancy, created, expire, access, filling`

// Store is a SQLite-backed semantic index.
type Store struct {
	conn     *sqlx.DB
	embedder Embedder
	policy   retry.Policy
}

// Open opens or creates a store at path (":memory:" for a private in-memory
// store). The embedder name is recorded and must match on reopen.
func Open(path string, embedder Embedder, policy retry.Policy) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	// one connection keeps ":memory:" a single database
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn, embedder: embedder, policy: policy}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	name, err := s.GetMeta("embedder")
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := s.SaveMeta("embedder", embedder.Name()); err != nil {
			conn.Close()
			return nil, fmt.Errorf("save meta: %w", err)
		}
	case err != nil:
		conn.Close()
		return nil, fmt.Errorf("load meta: %w", err)
	case name != embedder.Name():
		conn.Close()
		return nil, fmt.Errorf("index %s built with embedder %q, not %q", path, name, embedder.Name())
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		type TEXT NOT NULL,
		subject TEXT NOT NULL,
		predicate TEXT NOT NULL,
		object TEXT NOT NULL,
		address TEXT NOT NULL,
		describe TEXT NOT NULL,
		emoji TEXT NOT NULL,
		poignancy INTEGER NOT NULL,
		created INTEGER NOT NULL,
		expire INTEGER NOT NULL,
		access INTEGER NOT NULL,
		filling TEXT NOT NULL,
		embedding BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS index_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(type);
	CREATE INDEX IF NOT EXISTS idx_nodes_expire ON nodes(expire);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// SaveMeta stores a key-value pair.
func (s *Store) SaveMeta(key, value string) error {
	_, err := s.conn.Exec(
		"INSERT OR REPLACE INTO index_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (s *Store) GetMeta(key string) (string, error) {
	var value string
	err := s.conn.Get(&value, "SELECT value FROM index_meta WHERE key = ?", key)
	return value, err
}

func (s *Store) embed(text string) ([]float32, error) {
	return retry.Do(s.policy, func(attempt int) ([]float32, error) {
		vec, err := s.embedder.Embed(text)
		if err != nil {
			slog.Warn("embed failed", "attempt", attempt, "error", err)
		}
		return vec, err
	})
}

// Add embeds text and inserts a node with a fresh id.
func (s *Store) Add(text string, md Metadata) (Node, error) {
	vec, err := s.embed(text)
	if err != nil {
		return Node{}, fmt.Errorf("embed node: %w", err)
	}
	filling := ""
	if len(md.Filling) > 0 {
		data, err := json.Marshal(md.Filling)
		if err != nil {
			return Node{}, fmt.Errorf("encode filling: %w", err)
		}
		filling = string(data)
	}
	n := Node{ID: uuid.NewString(), Text: text, Metadata: md}
	_, err = s.conn.Exec(`INSERT INTO nodes (`+nodeColumns+`, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, text, md.Type, md.Subject, md.Predicate, md.Object, md.Address, md.Describe, md.Emoji,
		md.Poignancy, md.Create.Unix(), md.Expire.Unix(), md.Access.Unix(), filling, encodeVector(vec),
	)
	if err != nil {
		return Node{}, fmt.Errorf("insert node: %w", err)
	}
	return n, nil
}

// Get returns a single node.
func (s *Store) Get(id string) (Node, error) {
	var row nodeRow
	err := s.conn.Get(&row, "SELECT "+nodeColumns+", embedding FROM nodes WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Node{}, fmt.Errorf("get %s: %w", id, err)
	}
	return row.node(), nil
}

func (s *Store) selectIDs(columns string, ids []string) ([]nodeRow, error) {
	query, args, err := sqlx.In("SELECT "+columns+" FROM nodes WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	var rows []nodeRow
	if err := s.conn.Select(&rows, s.conn.Rebind(query), args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetMany returns the nodes in the order of ids. A missing id is an error.
func (s *Store) GetMany(ids []string) ([]Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.selectIDs(nodeColumns+", embedding", ids)
	if err != nil {
		return nil, fmt.Errorf("get nodes: %w", err)
	}
	byID := make(map[string]nodeRow, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	nodes := make([]Node, 0, len(ids))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
		}
		nodes = append(nodes, r.node())
	}
	return nodes, nil
}

// Nearest ranks nodes by similarity to text and returns the best k. typ
// filters by node type when non-empty; ids restricts the candidates when
// non-nil. Equal scores keep the order of ids.
func (s *Store) Nearest(text string, k int, typ string, ids []string) ([]Scored, error) {
	if k <= 0 || (ids != nil && len(ids) == 0) {
		return nil, nil
	}
	query, err := s.embed(text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var rows []nodeRow
	if ids != nil {
		rows, err = s.selectIDs(nodeColumns+", embedding", ids)
	} else {
		err = s.conn.Select(&rows, "SELECT "+nodeColumns+", embedding FROM nodes ORDER BY created DESC")
	}
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	order := make(map[string]int, len(ids))
	for i, id := range ids {
		order[id] = i
	}
	if ids != nil {
		sort.SliceStable(rows, func(i, j int) bool { return order[rows[i].ID] < order[rows[j].ID] })
	}

	scored := make([]Scored, 0, len(rows))
	for _, r := range rows {
		if typ != "" && r.Type != typ {
			continue
		}
		scored = append(scored, Scored{Node: r.node(), Score: cosine(query, decodeVector(r.Embedding))})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Remove deletes nodes. Unknown ids are ignored.
func (s *Store) Remove(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In("DELETE FROM nodes WHERE id IN (?)", ids)
	if err != nil {
		return fmt.Errorf("remove nodes: %w", err)
	}
	if _, err := s.conn.Exec(s.conn.Rebind(query), args...); err != nil {
		return fmt.Errorf("remove nodes: %w", err)
	}
	return nil
}

// Expired returns the ids of nodes created after now or expired before it.
func (s *Store) Expired(now time.Time) ([]string, error) {
	var ids []string
	err := s.conn.Select(&ids, "SELECT id FROM nodes WHERE created > ? OR expire < ?", now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("scan expired: %w", err)
	}
	return ids, nil
}

// Touch sets the access time of the given nodes.
func (s *Store) Touch(ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query, args, err := sqlx.In("UPDATE nodes SET access = ? WHERE id IN (?)", at.Unix(), ids)
	if err != nil {
		return fmt.Errorf("touch nodes: %w", err)
	}
	if _, err := tx.Exec(tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("touch nodes: %w", err)
	}
	return tx.Commit()
}

// Count returns the number of stored nodes.
func (s *Store) Count() (int, error) {
	var n int
	err := s.conn.Get(&n, "SELECT COUNT(*) FROM nodes")
	return n, err
}
