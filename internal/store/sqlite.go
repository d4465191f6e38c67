package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore persists users and journal entries. Embeddings, moods and tags
// are stored as JSON text columns; similarity search loads the candidate
// embeddings and ranks them in process.
type SQLiteStore struct {
	db  *sql.DB
	dim int // expected embedding dimension
}

func NewSQLiteStore(dataSourceName string, embeddingDim int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, dim: embeddingDim}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY, -- UUID
        email TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS journals (
        id TEXT PRIMARY KEY, -- UUID
        owner_id TEXT NOT NULL,
        title TEXT NOT NULL,
        content TEXT NOT NULL,
        rich_text TEXT NOT NULL DEFAULT '',
        created_at DATETIME NOT NULL,
        moods TEXT NOT NULL DEFAULT '{}',            -- JSON object: label -> score
        tags TEXT NOT NULL DEFAULT '[]',             -- JSON array of strings
        content_embedding TEXT NOT NULL,             -- JSON array of float32
        title_embedding TEXT NOT NULL,               -- JSON array of float32
        FOREIGN KEY (owner_id) REFERENCES users (id)
    );

    CREATE INDEX IF NOT EXISTS idx_journals_owner_created
        ON journals (owner_id, created_at);
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = ?", email,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE id = ?", id,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	user := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		user.ID, user.Email, user.PasswordHash, user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return &user, nil
}

// Journal methods

// InsertEntry stores one journal entry. Both embeddings must match the
// configured dimension.
func (s *SQLiteStore) InsertEntry(ctx context.Context, entry *JournalEntry) error {
	if len(entry.ContentEmbedding) != s.dim || len(entry.TitleEmbedding) != s.dim {
		return fmt.Errorf("embedding dimension mismatch: got content=%d title=%d, want %d",
			len(entry.ContentEmbedding), len(entry.TitleEmbedding), s.dim)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	moods, err := json.Marshal(entry.Moods)
	if err != nil {
		return fmt.Errorf("failed to marshal moods: %w", err)
	}
	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	contentEmb, err := json.Marshal(entry.ContentEmbedding)
	if err != nil {
		return fmt.Errorf("failed to marshal content embedding: %w", err)
	}
	titleEmb, err := json.Marshal(entry.TitleEmbedding)
	if err != nil {
		return fmt.Errorf("failed to marshal title embedding: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO journals (id, owner_id, title, content, rich_text, created_at, moods, tags, content_embedding, title_embedding)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OwnerID, entry.Title, entry.Content, entry.RichText,
		entry.CreatedAt, string(moods), string(tags), string(contentEmb), string(titleEmb),
	)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}
	return nil
}

// EntriesByOwner returns the owner's entries ordered by creation time. The
// from bound is inclusive and until is exclusive; either may be nil.
func (s *SQLiteStore) EntriesByOwner(ctx context.Context, ownerID string, from, until *time.Time) ([]JournalEntry, error) {
	query := `SELECT id, owner_id, title, content, rich_text, created_at, moods, tags, content_embedding, title_embedding
              FROM journals WHERE owner_id = ?`
	args := []any{ownerID}

	if from != nil {
		query += " AND created_at >= ?"
		args = append(args, *from)
	}
	if until != nil {
		query += " AND created_at < ?"
		args = append(args, *until)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journals: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journal rows: %w", err)
	}
	return entries, nil
}

// SearchSimilar ranks the candidate entries by cosine similarity between the
// query vector and the chosen embedding field, returning at most limit
// matches in descending similarity order. An empty candidate set yields an
// empty result without touching the database.
func (s *SQLiteStore) SearchSimilar(ctx context.Context, field SearchField, query []float32, candidateIDs []string, limit int) ([]SimilarityMatch, error) {
	if len(candidateIDs) == 0 {
		return []SimilarityMatch{}, nil
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("query embedding dimension mismatch: got %d, want %d", len(query), s.dim)
	}

	col := "content_embedding"
	if field == FieldTitle {
		col = "title_embedding"
	}

	placeholders := ""
	args := make([]any, 0, len(candidateIDs))
	for i, id := range candidateIDs {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, title, content, created_at, %s FROM journals WHERE id IN (%s)", col, placeholders),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate embeddings: %w", err)
	}
	defer rows.Close()

	var matches []SimilarityMatch
	for rows.Next() {
		var m SimilarityMatch
		var embJSON string
		if err := rows.Scan(&m.EntryID, &m.Title, &m.Content, &m.CreatedAt, &embJSON); err != nil {
			return nil, fmt.Errorf("failed to scan candidate row: %w", err)
		}
		var emb []float32
		if err := json.Unmarshal([]byte(embJSON), &emb); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding for entry %s: %w", m.EntryID, err)
		}
		sim, err := cosineSimilarity(query, emb)
		if err != nil {
			return nil, fmt.Errorf("failed to score entry %s: %w", m.EntryID, err)
		}
		m.Similarity = sim
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidate rows: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func scanEntry(rows *sql.Rows) (JournalEntry, error) {
	var entry JournalEntry
	var moodsJSON, tagsJSON, contentEmbJSON, titleEmbJSON string
	if err := rows.Scan(&entry.ID, &entry.OwnerID, &entry.Title, &entry.Content, &entry.RichText,
		&entry.CreatedAt, &moodsJSON, &tagsJSON, &contentEmbJSON, &titleEmbJSON); err != nil {
		return JournalEntry{}, fmt.Errorf("failed to scan journal row: %w", err)
	}
	if err := json.Unmarshal([]byte(moodsJSON), &entry.Moods); err != nil {
		return JournalEntry{}, fmt.Errorf("failed to unmarshal moods for entry %s: %w", entry.ID, err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &entry.Tags); err != nil {
		return JournalEntry{}, fmt.Errorf("failed to unmarshal tags for entry %s: %w", entry.ID, err)
	}
	if err := json.Unmarshal([]byte(contentEmbJSON), &entry.ContentEmbedding); err != nil {
		return JournalEntry{}, fmt.Errorf("failed to unmarshal content embedding for entry %s: %w", entry.ID, err)
	}
	if err := json.Unmarshal([]byte(titleEmbJSON), &entry.TitleEmbedding); err != nil {
		return JournalEntry{}, fmt.Errorf("failed to unmarshal title embedding for entry %s: %w", entry.ID, err)
	}
	return entry, nil
}
