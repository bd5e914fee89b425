package biblfs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"biblfs/internal/metrics"
	"biblfs/internal/model"
)

// FullTextTable is the full-text index over document titles, authors and text.
const FullTextTable = "document_title_authors_text_view_fts"

// QueryKind selects how Query.Text is interpreted.
type QueryKind int

const (
	// QueryFullText treats Text as a full-text search phrase.
	QueryFullText QueryKind = iota
	// QuerySQL passes Text through as a statement returning document uuids.
	QuerySQL
)

// Query is a search that yields document ids.
type Query struct {
	Kind QueryKind
	Text string
}

func FullTextQuery(phrase string) Query { return Query{Kind: QueryFullText, Text: phrase} }

func SQLQuery(statement string) Query { return Query{Kind: QuerySQL, Text: statement} }

// AsRef returns the raw phrase or statement.
func (q Query) AsRef() string { return q.Text }

// AsSQL renders the statement shown in query.sql.
func (q Query) AsSQL() string {
	if q.Kind == QuerySQL {
		return q.Text
	}
	return fullTextSelect + "'" + strings.ReplaceAll(q.Text, "'", "''") + "'"
}

const fullTextSelect = "SELECT uuid FROM " + FullTextTable + " WHERE " + FullTextTable + " MATCH "

// Execute runs the query. Full-text phrases are bound, never spliced.
func (q Query) Execute(ctx context.Context, db Database) ([]model.DocumentID, error) {
	if q.Kind == QuerySQL {
		return db.RunQuery(ctx, q.Text)
	}
	return db.RunQuery(ctx, fullTextSelect+"?", q.Text)
}

// QueryDir is one query directory and its two synthetic files. Each
// directory caches its own results; the default root query has no
// directory inode.
type QueryDir struct {
	Query      Query
	Ino        uint64
	SQLIno     uint64
	ResultsIno uint64

	executed bool
	results  []model.DocumentID
	err      error
}

// Reset drops cached results so the next access re-executes.
func (d *QueryDir) Reset() {
	d.executed = false
	d.results = nil
	d.err = nil
}

// Executed reports whether results are cached.
func (d *QueryDir) Executed() bool { return d.executed }

// ensure executes the query unless results are cached. A failed query is
// cached as its error text, except when the request itself was interrupted:
// that failure is served once and the next access runs the query again.
func (d *QueryDir) ensure(ctx context.Context, db Database, m metrics.FSMetrics, logger Logger) {
	if d.executed {
		return
	}
	start := time.Now()
	results, err := d.Query.Execute(ctx, db)
	m.RecordQueryExecution(time.Since(start), err != nil)

	d.results = results
	d.err = err
	d.executed = !interrupted(err)
	if err != nil {
		logger.Debug("query failed", "query", d.Query.AsRef(), "error", err)
		d.results = nil
	}
}

func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// storeMessage strips wrapping so results.txt shows the store's own text.
func storeMessage(err error) string {
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return err.Error()
		}
		err = inner
	}
}

// Results returns the cached document ids and the cached failure, if any.
func (d *QueryDir) Results() ([]model.DocumentID, error) { return d.results, d.err }

// ResultsText renders results.txt: canonical uuids joined by newlines, or
// the error text.
func (d *QueryDir) ResultsText() []byte {
	if d.err != nil {
		return []byte(storeMessage(d.err))
	}
	var buf bytes.Buffer
	for i, id := range d.results {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(id.String())
	}
	return buf.Bytes()
}

// SQLText renders query.sql.
func (d *QueryDir) SQLText() []byte { return []byte(d.Query.AsSQL()) }
