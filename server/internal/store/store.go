// Package store implements the durable persistence layer: news items,
// their analysis results, and time-range/dedup queries against a
// single sqlite file. Writes are serialized through one *sqlx.DB
// connection; sqlite's own file lock is the only write-contention
// point, matching the single-writer model of the concurrency design.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/weichuangxin420/newsflow/server/internal/models"
)

// ErrNotFound is returned by ByID when no row matches.
var ErrNotFound = errors.New("store: not found")

// Store is the single persistence entry point. All exported methods
// are safe for concurrent use; sqlx serializes writes via the
// underlying *sql.DB connection pool, which is capped at one open
// connection for sqlite's single-writer semantics.
type Store struct {
	db *sqlx.DB
}

// Open creates (if absent) and migrates the sqlite database at path,
// returning a ready Store. An unreadable or unwritable path is a
// fatal construction error per the error taxonomy.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrating %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS news_items (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	content TEXT,
	source TEXT,
	category TEXT,
	url TEXT,
	publish_time DATETIME,
	keywords TEXT,
	importance_score INTEGER DEFAULT 0,
	importance_reasoning TEXT,
	importance_factors TEXT,
	created_at DATETIME,
	updated_at DATETIME
);

CREATE TABLE IF NOT EXISTS analysis_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	news_id TEXT NOT NULL,
	impact_score REAL,
	summary TEXT,
	impact_degree TEXT,
	analysis_time DATETIME
);

CREATE INDEX IF NOT EXISTS idx_news_publish_time ON news_items(publish_time);
CREATE INDEX IF NOT EXISTS idx_news_source ON news_items(source);
CREATE INDEX IF NOT EXISTS idx_news_category ON news_items(category);
CREATE INDEX IF NOT EXISTS idx_news_title_url ON news_items(title, url);
CREATE INDEX IF NOT EXISTS idx_analysis_news_id ON analysis_results(news_id);
`

// migrate creates the schema on a fresh database and probes for the
// impact_degree column on an existing one, adding it if absent. This
// is the only supported migration; any other schema drift is left to
// fail loudly on first query, per the store's failure-mode contract.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	rows, err := s.db.Query(`PRAGMA table_info(news_items)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	hasImpactDegree := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if name == "impact_degree" {
			hasImpactDegree = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if !hasImpactDegree {
		if _, err := s.db.Exec(`ALTER TABLE news_items ADD COLUMN impact_degree TEXT`); err != nil {
			return err
		}
	}
	return nil
}

// Save upserts item by ID, assigning an ID if empty, and returns the
// number of rows saved (always 0 or 1). A second save with an equal
// (title, url) pair but no ID is treated as an update of the existing
// row, satisfying the dedup invariant.
func (s *Store) Save(ctx context.Context, item *models.NewsItem) (int, error) {
	n, err := s.SaveBatch(ctx, []*models.NewsItem{item})
	return n, err
}

// SaveBatch upserts each item, assigning IDs and setting UpdatedAt.
// Items whose (title, url) already exists are updated in place rather
// than inserted again; running the same batch twice saves the same
// rows both times without duplicating them. Malformed keyword/factor
// fields are logged by the caller, not here; encode failures never
// abort the batch.
func (s *Store) SaveBatch(ctx context.Context, items []*models.NewsItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now()
	saved := 0
	for _, item := range items {
		if existingID, ok, err := existingIDFor(ctx, tx, item.Title, item.URL); err != nil {
			return saved, err
		} else if ok && item.ID == "" {
			item.ID = existingID
		}
		if item.ID == "" {
			item.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.Join(
				[]string{item.Source, item.Title, item.URL, now.Format(time.RFC3339Nano)}, "\x00"))).String()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		item.UpdatedAt = now
		item.KeywordsRaw = encodeStringList(item.Keywords)
		item.ImportanceFactorsRaw = encodeStringList(item.ImportanceFactors)

		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO news_items (id, title, content, source, category, url, publish_time,
				keywords, importance_score, importance_reasoning, importance_factors,
				impact_degree, created_at, updated_at)
			VALUES (:id, :title, :content, :source, :category, :url, :publish_time,
				:keywords, :importance_score, :importance_reasoning, :importance_factors,
				:impact_degree, :created_at, :updated_at)
			ON CONFLICT(id) DO UPDATE SET
				title=excluded.title, content=excluded.content, source=excluded.source,
				category=excluded.category, url=excluded.url, publish_time=excluded.publish_time,
				keywords=excluded.keywords, importance_score=excluded.importance_score,
				importance_reasoning=excluded.importance_reasoning,
				importance_factors=excluded.importance_factors,
				impact_degree=excluded.impact_degree, updated_at=excluded.updated_at
		`, rowOf(item))
		if err != nil {
			return saved, fmt.Errorf("store: saving item %s: %w", item.ID, err)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return saved, err
	}
	return saved, nil
}

// row is a plain struct mirroring models.NewsItem's db columns,
// since sqlx's NamedExec needs the raw string fields rather than the
// decoded []string ones.
type row struct {
	ID                   string    `db:"id"`
	Title                string    `db:"title"`
	Content              string    `db:"content"`
	Source               string    `db:"source"`
	Category             string    `db:"category"`
	URL                  string    `db:"url"`
	PublishTime          time.Time `db:"publish_time"`
	Keywords             string    `db:"keywords"`
	ImportanceScore      int       `db:"importance_score"`
	ImportanceReasoning  string    `db:"importance_reasoning"`
	ImportanceFactors    string    `db:"importance_factors"`
	ImpactDegree         string    `db:"impact_degree"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func rowOf(item *models.NewsItem) row {
	return row{
		ID: item.ID, Title: item.Title, Content: item.Content, Source: item.Source,
		Category: item.Category, URL: item.URL, PublishTime: item.PublishTime,
		Keywords: item.KeywordsRaw, ImportanceScore: item.ImportanceScore,
		ImportanceReasoning: item.ImportanceReasoning, ImportanceFactors: item.ImportanceFactorsRaw,
		ImpactDegree: string(item.ImpactDegree), CreatedAt: item.CreatedAt, UpdatedAt: item.UpdatedAt,
	}
}

func existingIDFor(ctx context.Context, tx *sqlx.Tx, title, url string) (string, bool, error) {
	var id string
	err := tx.GetContext(ctx, &id, `SELECT id FROM news_items WHERE title = ? AND url = ? LIMIT 1`, title, url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Exists reports whether a row already matches title or url (dedup
// probe used ahead of ingestion).
func (s *Store) Exists(ctx context.Context, title, url string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM news_items WHERE title = ? OR (url != '' AND url = ?)`, title, url)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ByID returns a single item, or ErrNotFound.
func (s *Store) ByID(ctx context.Context, id string) (*models.NewsItem, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT id, title, content, source, category, url, publish_time,
		keywords, importance_score, importance_reasoning, importance_factors, impact_degree,
		created_at, updated_at FROM news_items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return itemOf(r), nil
}

func itemOf(r row) *models.NewsItem {
	return &models.NewsItem{
		ID: r.ID, Title: r.Title, Content: r.Content, Source: r.Source, Category: r.Category,
		URL: r.URL, PublishTime: r.PublishTime, Keywords: decodeStringList(r.Keywords),
		KeywordsRaw: r.Keywords, ImportanceScore: r.ImportanceScore, ImportanceReasoning: r.ImportanceReasoning,
		ImportanceFactors: decodeStringList(r.ImportanceFactors), ImportanceFactorsRaw: r.ImportanceFactors,
		ImpactDegree: models.ImpactDegree(r.ImpactDegree), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

// QueryFilter narrows Query's result set. Zero values mean "no filter".
type QueryFilter struct {
	Source   string
	Category string
	Start    time.Time
	End      time.Time
}

// Query returns up to limit items, newest-first by publish time,
// skipping offset rows, optionally filtered by source/category/range.
func (s *Store) Query(ctx context.Context, limit, offset int, filter QueryFilter) ([]*models.NewsItem, error) {
	var clauses []string
	var args []interface{}

	if filter.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, filter.Category)
	}
	if !filter.Start.IsZero() {
		clauses = append(clauses, "publish_time >= ?")
		args = append(args, filter.Start)
	}
	if !filter.End.IsZero() {
		clauses = append(clauses, "publish_time <= ?")
		args = append(args, filter.End)
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`SELECT id, title, content, source, category, url, publish_time,
		keywords, importance_score, importance_reasoning, importance_factors, impact_degree,
		created_at, updated_at FROM news_items %s ORDER BY publish_time DESC LIMIT ? OFFSET ?`, where)

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return itemsOf(rows), nil
}

// ByDateRange returns items published within [start, end], ordered by
// importance_score desc then publish_time desc.
func (s *Store) ByDateRange(ctx context.Context, start, end time.Time) ([]*models.NewsItem, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `SELECT id, title, content, source, category, url, publish_time,
		keywords, importance_score, importance_reasoning, importance_factors, impact_degree,
		created_at, updated_at FROM news_items
		WHERE publish_time >= ? AND publish_time <= ?
		ORDER BY importance_score DESC, publish_time DESC`, start, end)
	if err != nil {
		return nil, err
	}
	return itemsOf(rows), nil
}

func itemsOf(rows []row) []*models.NewsItem {
	items := make([]*models.NewsItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, itemOf(r))
	}
	return items
}

// SaveAnalysis inserts one AnalysisResult. The referenced NewsItem
// must already exist; callers are responsible for that ordering.
func (s *Store) SaveAnalysis(ctx context.Context, a *models.AnalysisResult) error {
	if a.AnalysisTime.IsZero() {
		a.AnalysisTime = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO analysis_results (news_id, impact_score, summary, impact_degree, analysis_time)
		VALUES (:news_id, :impact_score, :summary, :impact_degree, :analysis_time)
	`, a)
	return err
}

// DeleteOlderThan removes news_items (and their analysis_results,
// cascade-wise) whose publish_time is older than days ago. This is the
// only supported analysis_results pruning path: rows are never pruned
// standalone while their NewsItem still exists.
func (s *Store) DeleteOlderThan(ctx context.Context, days int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -days)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM analysis_results WHERE news_id IN
		(SELECT id FROM news_items WHERE publish_time < ?)`, cutoff)
	if err != nil {
		return 0, err
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM news_items WHERE publish_time < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// Stats returns aggregate counters: total rows, rows published today,
// and per-source/per-category breakdowns.
func (s *Store) Stats(ctx context.Context) (*models.StoreStats, error) {
	stats := &models.StoreStats{BySource: map[string]int{}, ByCategory: map[string]int{}}

	if err := s.db.GetContext(ctx, &stats.Total, `SELECT COUNT(1) FROM news_items`); err != nil {
		return nil, err
	}

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := s.db.GetContext(ctx, &stats.Today, `SELECT COUNT(1) FROM news_items WHERE publish_time >= ?`, startOfDay); err != nil {
		return nil, err
	}

	type bucket struct {
		Key   string `db:"k"`
		Count int    `db:"c"`
	}
	var bySource []bucket
	if err := s.db.SelectContext(ctx, &bySource, `SELECT source as k, COUNT(1) as c FROM news_items GROUP BY source`); err != nil {
		return nil, err
	}
	for _, b := range bySource {
		stats.BySource[b.Key] = b.Count
	}

	var byCategory []bucket
	if err := s.db.SelectContext(ctx, &byCategory, `SELECT category as k, COUNT(1) as c FROM news_items GROUP BY category`); err != nil {
		return nil, err
	}
	for _, b := range byCategory {
		stats.ByCategory[b.Key] = b.Count
	}

	return stats, nil
}

// Optimize reclaims space after deletes, sqlite's VACUUM equivalent.
func (s *Store) Optimize(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `VACUUM`)
	return err
}

func encodeStringList(xs []string) string {
	if len(xs) == 0 {
		return ""
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return ""
	}
	return string(b)
}

// decodeStringList tolerates malformed stored text by returning an
// empty list rather than propagating a decode error, per the store's
// stated failure mode for keyword/factor fields.
func decodeStringList(raw string) []string {
	if raw == "" {
		return nil
	}
	var xs []string
	if err := json.Unmarshal([]byte(raw), &xs); err != nil {
		return nil
	}
	return xs
}
