// Package store is a schemaless document collection adapter backed by a
// single SQLite table. Documents are JSON objects keyed by an "id" field;
// criteria compile to json_extract conditions so the exact same criteria
// value scopes visibility checks and the reads/writes they guard.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// FieldID is the identity field of every document.
const FieldID = "id"

type Store struct {
	DB *sql.DB
}

func New(db *sql.DB) Store {
	return Store{DB: db}
}

// Collection returns a handle on a named collection.
func (s Store) Collection(name string) Collection {
	return Collection{db: s.DB, name: name}
}

type Collection struct {
	db   *sql.DB
	name string
}

func (c Collection) Name() string { return c.name }

// Find returns all documents matching the criteria, in insertion order.
func (c Collection) Find(ctx context.Context, criteria Criteria) ([]Document, error) {
	where, args := criteria.compile()
	query := `SELECT doc FROM documents WHERE collection=?` + where + ` ORDER BY rowid`
	rows, err := c.db.QueryContext(ctx, query, append([]any{c.name}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c.name, err)
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", c.name, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// FindOne returns the first matching document or ErrNotFound.
func (c Collection) FindOne(ctx context.Context, criteria Criteria) (Document, error) {
	where, args := criteria.compile()
	query := `SELECT doc FROM documents WHERE collection=?` + where + ` ORDER BY rowid LIMIT 1`
	var raw string
	err := c.db.QueryRowContext(ctx, query, append([]any{c.name}, args...)...).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find one %s: %w", c.name, err)
	}
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode %s document: %w", c.name, err)
	}
	return doc, nil
}

// Save upserts the document by id, assigning a fresh id when absent.
// It returns the persisted document and whether a new identity was assigned.
func (c Collection) Save(ctx context.Context, doc Document) (Document, bool, error) {
	if doc == nil {
		return nil, false, errors.New("document required")
	}
	created := false
	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
		doc = doc.Clone()
		doc[FieldID] = id
		created = true
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, false, fmt.Errorf("encode %s document: %w", c.name, err)
	}
	_, err = c.db.ExecContext(ctx, `INSERT INTO documents(collection,id,doc) VALUES (?,?,?)
ON CONFLICT(collection,id) DO UPDATE SET doc=excluded.doc`, c.name, id, string(payload))
	if err != nil {
		return nil, false, fmt.Errorf("save %s/%s: %w", c.name, id, err)
	}
	return doc, created, nil
}

// Remove deletes all documents matching the criteria and reports how many.
func (c Collection) Remove(ctx context.Context, criteria Criteria) (int64, error) {
	where, args := criteria.compile()
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE collection=?`+where,
		append([]any{c.name}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("remove %s: %w", c.name, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Count returns the number of documents matching the criteria.
func (c Collection) Count(ctx context.Context, criteria Criteria) (int64, error) {
	where, args := criteria.compile()
	var n int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection=?`+where,
		append([]any{c.name}, args...)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", c.name, err)
	}
	return n, nil
}

func fieldExpr(field string) string {
	if field == FieldID {
		return "id"
	}
	// Field names may come from the query string; stripping quotes keeps the
	// path inside the literal.
	return fmt.Sprintf("json_extract(doc,'$.%s')", strings.ReplaceAll(field, "'", ""))
}
