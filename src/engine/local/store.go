package local

import (
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/errors"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// SystemNodeName is the child of the root node every repository carries.
	SystemNodeName = "jcr:system"

	rootPrimaryType   = "mode:root"
	systemPrimaryType = "mode:system"

	// PropertyTypeString and PropertyTypeBinary are the supported value types.
	PropertyTypeString = "string"
	PropertyTypeBinary = "binary"
)

// rootID is fixed so a restore can always find the root again.
var rootID = uuid.Nil.String()

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id           TEXT PRIMARY KEY,
	parent_id    TEXT NOT NULL DEFAULT '',
	name         TEXT NOT NULL,
	primary_type TEXT NOT NULL,
	position     INTEGER NOT NULL,
	properties   TEXT NOT NULL DEFAULT '{}'
);
CREATE UNIQUE INDEX IF NOT EXISTS nodes_parent_name ON nodes (parent_id, name);
`

const insertNode = `INSERT INTO nodes (id, parent_id, name, primary_type, position, properties) VALUES (?, ?, ?, ?, ?, ?)`

const selectNode = `SELECT id, parent_id, name, primary_type, position, properties FROM nodes`

// Node is a single node of the repository tree.
type Node struct {
	ID          string
	ParentID    string
	Name        string
	PrimaryType string
	Position    int
	Properties  map[string]Value
	// Path is filled in when the node was looked up by path or walked from the root.
	Path string
}

// Value is a property value.
type Value struct {
	Type   string     `json:"type"`
	String string     `json:"string,omitempty"`
	Binary *BinaryRef `json:"binary,omitempty"`
}

// BinaryRef points at content in the binary store.
type BinaryRef struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// document is the backup representation of a node.
type document struct {
	ID          string           `json:"id"`
	Parent      string           `json:"parent,omitempty"`
	Name        string           `json:"name"`
	PrimaryType string           `json:"primaryType"`
	Position    int              `json:"position"`
	Properties  map[string]Value `json:"properties,omitempty"`
}

func (n *Node) document() document {
	return document{
		ID:          n.ID,
		Parent:      n.ParentID,
		Name:        n.Name,
		PrimaryType: n.PrimaryType,
		Position:    n.Position,
		Properties:  n.Properties,
	}
}

type nodeStore struct {
	db *sql.DB
}

func openNodeStore(path string) (*nodeStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Annotatef(err, "opening node store %s", path)
	}
	// One connection keeps iteration and writes from competing for the file.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Annotatef(err, "creating schema in %s", path)
	}
	s := &nodeStore{db: db}
	if err := s.ensureRoot(); err != nil {
		_ = db.Close()
		return nil, errors.Trace(err)
	}
	return s, nil
}

func (s *nodeStore) close() error {
	return s.db.Close()
}

// ensureRoot creates the root and system nodes when missing.
func (s *nodeStore) ensureRoot() error {
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO nodes (id, parent_id, name, primary_type, position) VALUES (?, '', '', ?, 0)`,
		rootID, rootPrimaryType); err != nil {
		return errors.Annotate(err, "creating root node")
	}
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO nodes (id, parent_id, name, primary_type, position) VALUES (?, ?, ?, ?, 0)`,
		uuid.NewString(), rootID, SystemNodeName, systemPrimaryType); err != nil {
		return errors.Annotate(err, "creating system node")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var (
		n     Node
		props string
	)
	if err := row.Scan(&n.ID, &n.ParentID, &n.Name, &n.PrimaryType, &n.Position, &props); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(props), &n.Properties); err != nil {
		return nil, errors.Annotatef(err, "decoding properties of node %s", n.ID)
	}
	if n.Properties == nil {
		n.Properties = map[string]Value{}
	}
	return &n, nil
}

func (s *nodeStore) root() (*Node, error) {
	n, err := scanNode(s.db.QueryRow(selectNode+` WHERE id = ?`, rootID))
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("root node")
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	n.Path = "/"
	return n, nil
}

func (s *nodeStore) child(parent *Node, name string) (*Node, error) {
	n, err := scanNode(s.db.QueryRow(selectNode+` WHERE parent_id = ? AND name = ?`, parent.ID, name))
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("node %q", joinPath(parent.Path, name))
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	n.Path = joinPath(parent.Path, name)
	return n, nil
}

// resolve walks path from the root.
func (s *nodeStore) resolve(path string) (*Node, error) {
	n, err := s.root()
	if err != nil {
		return nil, err
	}
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			continue
		}
		if n, err = s.child(n, seg); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (s *nodeStore) children(parent *Node) ([]*Node, error) {
	rows, err := s.db.Query(selectNode+` WHERE parent_id = ? AND id != ? ORDER BY position, rowid`, parent.ID, rootID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	var out []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, errors.Trace(err)
		}
		n.Path = joinPath(parent.Path, n.Name)
		out = append(out, n)
	}
	return out, errors.Trace(rows.Err())
}

func (s *nodeStore) addChild(parent *Node, name, primaryType string) (*Node, error) {
	var pos int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(position) + 1, 0) FROM nodes WHERE parent_id = ?`, parent.ID).Scan(&pos); err != nil {
		return nil, errors.Trace(err)
	}
	n := &Node{
		ID:          uuid.NewString(),
		ParentID:    parent.ID,
		Name:        name,
		PrimaryType: primaryType,
		Position:    pos,
		Properties:  map[string]Value{},
		Path:        joinPath(parent.Path, name),
	}
	if _, err := s.db.Exec(insertNode, n.ID, n.ParentID, n.Name, n.PrimaryType, n.Position, "{}"); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, errors.AlreadyExistsf("node %q", n.Path)
		}
		return nil, errors.Trace(err)
	}
	return n, nil
}

func (s *nodeStore) setProperties(n *Node) error {
	b, err := json.Marshal(n.Properties)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = s.db.Exec(`UPDATE nodes SET properties = ? WHERE id = ?`, string(b), n.ID)
	return errors.Trace(err)
}

func (s *nodeStore) count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&n)
	return n, errors.Trace(err)
}

// each calls fn for every node, parents before their children, with Path set.
// fn must not use the store.
func (s *nodeStore) each(fn func(*Node) error) error {
	rows, err := s.db.Query(selectNode + ` ORDER BY rowid`)
	if err != nil {
		return errors.Trace(err)
	}
	defer rows.Close()
	paths := map[string]string{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return errors.Trace(err)
		}
		if n.ID == rootID {
			n.Path = "/"
		} else if parent, ok := paths[n.ParentID]; ok {
			n.Path = joinPath(parent, n.Name)
		} else {
			n.Path = "[" + n.ID + "]"
		}
		paths[n.ID] = n.Path
		if err := fn(n); err != nil {
			return err
		}
	}
	return errors.Trace(rows.Err())
}

// replace swaps the whole tree for the documents load feeds to insert, in one
// transaction. install runs after the last insert and before the commit; an
// error from it rolls the transaction back. It returns the number of inserted
// nodes.
func (s *nodeStore) replace(load func(insert func(document) error) error, install func() error) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM nodes`); err != nil {
		return 0, errors.Trace(err)
	}
	stmt, err := tx.Prepare(insertNode)
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer stmt.Close()

	count := 0
	err = load(func(d document) error {
		props := d.Properties
		if props == nil {
			props = map[string]Value{}
		}
		b, err := json.Marshal(props)
		if err != nil {
			return errors.Trace(err)
		}
		if _, err := stmt.Exec(d.ID, d.Parent, d.Name, d.PrimaryType, d.Position, string(b)); err != nil {
			return errors.Annotatef(err, "restoring node %s", d.ID)
		}
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := install(); err != nil {
		return 0, err
	}
	return count, errors.Trace(tx.Commit())
}

func joinPath(parent, name string) string {
	if parent == "/" || parent == "" {
		return "/" + name
	}
	return parent + "/" + name
}
