package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"biblfs/internal/biblfs"
	"biblfs/internal/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const xattrValuesQuery = `
	SELECT t.uuid, t.data
	FROM DocumentHasTextMetadata AS h
	JOIN TextMetadata AS t ON t.uuid = h.metadata_uuid
	WHERE h.document_uuid = ? AND t.name = ?
	ORDER BY h.id`

func (s *SQLiteDatabase) GetXAttr(ctx context.Context, file *model.File, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, xattrValuesQuery, file.DocumentID, name)
	if err != nil {
		return nil, fmt.Errorf("getting attribute %q: %w", name, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var (
			id   model.TextMetadataID
			data string
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scanning attribute %q: %w", name, err)
		}
		values = append(values, data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("getting attribute %q: %w", name, err)
	}
	return values, nil
}

func (s *SQLiteDatabase) ListXAttr(ctx context.Context, file *model.File) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name
		FROM DocumentHasTextMetadata AS h
		JOIN TextMetadata AS t ON t.uuid = h.metadata_uuid
		WHERE h.document_uuid = ? AND t.name IS NOT NULL
		GROUP BY t.name
		ORDER BY MIN(h.id)`, file.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("listing attributes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning attribute name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing attributes: %w", err)
	}
	return names, nil
}

// textMetadataIDByName returns the text-metadata rows linked to the document under name,
// oldest link first.
func textMetadataIDByName(ctx context.Context, q querier, doc model.DocumentID, name string) ([]model.TextMetadataID, error) {
	rows, err := q.QueryContext(ctx, xattrValuesQuery, doc, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []model.TextMetadataID
	for rows.Next() {
		var (
			id   model.TextMetadataID
			data string
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// documentsReferencingExcept returns display titles of documents other than doc linking the row.
func documentsReferencingExcept(ctx context.Context, q querier, id model.TextMetadataID, doc model.DocumentID) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT d.uuid, d.title, d.title_suffix
		FROM DocumentHasTextMetadata AS h
		JOIN Documents AS d ON d.uuid = h.document_uuid
		WHERE h.metadata_uuid = ? AND h.document_uuid != ?
		ORDER BY d.title`, id, doc)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var (
			d      model.Document
			suffix sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.Title, &suffix); err != nil {
			return nil, err
		}
		d.TitleSuffix = suffix.String
		titles = append(titles, d.DisplayTitle())
	}
	return titles, rows.Err()
}

func (s *SQLiteDatabase) SetXAttr(ctx context.Context, file *model.File, name, value string, opts biblfs.SetXAttrOptions) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := textMetadataIDByName(ctx, tx, file.DocumentID, name)
	if err != nil {
		return fmt.Errorf("looking up attribute %q: %w", name, err)
	}
	exists := len(existing) > 0

	switch {
	case opts.Mode == biblfs.SetCreate && exists:
		return fmt.Errorf("setting %q: %w", name, biblfs.ErrAttributeExists)
	case opts.Mode == biblfs.SetReplace && !exists:
		return fmt.Errorf("setting %q: %w", name, biblfs.ErrNoAttribute)
	}

	var id model.TextMetadataID
	if exists {
		id = existing[0]
		if opts.NeverReplaceShared {
			owners, err := documentsReferencingExcept(ctx, tx, id, file.DocumentID)
			if err != nil {
				return fmt.Errorf("checking owners of %q: %w", name, err)
			}
			if len(owners) > 0 {
				return &biblfs.SharedAttributeError{Name: name, Documents: owners}
			}
		}
		var got model.TextMetadataID
		err = tx.QueryRowContext(ctx, `
			INSERT INTO TextMetadata (uuid, name, data) VALUES (?, ?, ?)
			ON CONFLICT(uuid) DO UPDATE SET data = excluded.data, last_modified = ?
			RETURNING uuid`,
			id, name, value, model.FormatTimestamp(s.clock.Now())).Scan(&got)
		if err != nil {
			return fmt.Errorf("updating attribute %q: %w", name, err)
		}
		if got != id {
			panic(fmt.Sprintf("updated text metadata %s but store returned %s", id, got))
		}
	} else {
		id = model.TextMetadataID(s.idgen.New())
		var got model.TextMetadataID
		err = tx.QueryRowContext(ctx,
			`INSERT INTO TextMetadata (uuid, name, data) VALUES (?, ?, ?) RETURNING uuid`,
			id, name, value).Scan(&got)
		if err != nil {
			return fmt.Errorf("inserting attribute %q: %w", name, err)
		}
		if got != id {
			panic(fmt.Sprintf("inserted text metadata %s but store returned %s", id, got))
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO DocumentHasTextMetadata (name, document_uuid, metadata_uuid)
		SELECT ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM DocumentHasTextMetadata WHERE document_uuid = ? AND metadata_uuid = ?
		)`,
		xattrLinkName, file.DocumentID, id, file.DocumentID, id)
	if err != nil {
		return fmt.Errorf("linking attribute %q: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) RemoveXAttr(ctx context.Context, file *model.File, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids, err := textMetadataIDByName(ctx, tx, file.DocumentID, name)
	if err != nil {
		return fmt.Errorf("looking up attribute %q: %w", name, err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("removing %q: %w", name, biblfs.ErrNoAttribute)
	}

	for _, id := range ids {
		rows, err := tx.QueryContext(ctx,
			`DELETE FROM DocumentHasTextMetadata WHERE metadata_uuid = ? AND document_uuid = ? RETURNING document_uuid`,
			id, file.DocumentID)
		if err != nil {
			return fmt.Errorf("unlinking attribute %q: %w", name, err)
		}
		for rows.Next() {
			var doc model.DocumentID
			if err := rows.Scan(&doc); err != nil {
				rows.Close()
				return fmt.Errorf("unlinking attribute %q: %w", name, err)
			}
			if doc != file.DocumentID {
				rows.Close()
				panic(fmt.Sprintf("unlinked %s from document %s, expected %s", id, doc, file.DocumentID))
			}
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("unlinking attribute %q: %w", name, err)
		}

		var remaining int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM DocumentHasTextMetadata WHERE metadata_uuid = ?`, id).Scan(&remaining)
		if err != nil {
			return fmt.Errorf("counting references to %q: %w", name, err)
		}
		if remaining > 0 {
			continue
		}

		var got model.TextMetadataID
		err = tx.QueryRowContext(ctx, `DELETE FROM TextMetadata WHERE uuid = ? RETURNING uuid`, id).Scan(&got)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("deleting attribute %q: %w", name, err)
		}
		if err == nil && got != id {
			panic(fmt.Sprintf("deleted text metadata %s but store returned %s", id, got))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
