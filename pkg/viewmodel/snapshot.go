package viewmodel

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/automerge/automerge-go"
	_ "github.com/mattn/go-sqlite3"
)

// SnapshotStore backs viewmodel documents up to sqlite.
type SnapshotStore struct {
	db *sql.DB
}

// Snapshot is one persisted viewmodel document.
type Snapshot struct {
	ID        string
	View      string
	Widgets   []string
	Doc       *automerge.Doc
	UpdatedAt time.Time
}

// OpenSnapshotStore opens (creating if needed) the sqlite database at path.
func OpenSnapshotStore(ctx context.Context, path string) (*SnapshotStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := NewSnapshotStore(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS viewmodels (
		id text not null primary key,
		view text not null,
		widgets text not null,
		content text not null,
		updated_at integer not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create viewmodels table: %w", err)
	}
	slog.Info("Ensured viewmodels table exists")
	return nil
}

func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// Save writes the document of vm. It reports false when the stored content
// was already identical.
func (s *SnapshotStore) Save(ctx context.Context, vm *Viewmodel) (bool, error) {
	widgets, err := json.Marshal(vm.WidgetIDs())
	if err != nil {
		return false, fmt.Errorf("failed to encode widget ids: %w", err)
	}
	content := base64.StdEncoding.EncodeToString(vm.Save())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO viewmodels (id, view, widgets, content, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET widgets = excluded.widgets, content = excluded.content, updated_at = excluded.updated_at
		WHERE viewmodels.content != excluded.content`,
		vm.ID, vm.View, string(widgets), content, time.Now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to save viewmodel %s: %w", vm.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count rows affected by save: %w", err)
	}
	return n > 0, nil
}

// Load reads back the snapshot of a viewmodel.
func (s *SnapshotStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	var (
		snap      = &Snapshot{ID: id}
		widgets   string
		content   string
		updatedAt int64
	)
	if err := s.db.QueryRowContext(ctx,
		`SELECT view, widgets, content, updated_at FROM viewmodels WHERE id = ?`, id,
	).Scan(&snap.View, &widgets, &content, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to query viewmodel %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(widgets), &snap.Widgets); err != nil {
		return nil, fmt.Errorf("failed to decode widget ids: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc: %w", err)
	}
	snap.Doc = doc
	snap.UpdatedAt = time.UnixMilli(updatedAt)
	return snap, nil
}

// IDs lists the persisted viewmodel ids, most recently updated first.
func (s *SnapshotStore) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM viewmodels ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(rows)

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// WidgetJSON reads the rendering of one widget from a document.
func WidgetJSON(doc *automerge.Doc, widgetID string) (string, error) {
	v, err := doc.Path(docWidgets, widgetID).Get()
	if err != nil {
		return "", fmt.Errorf("failed to read widget %s: %w", widgetID, err)
	}
	raw, ok := v.Interface().(string)
	if !ok {
		return "", fmt.Errorf("widget %s is not recorded", widgetID)
	}
	return raw, nil
}
