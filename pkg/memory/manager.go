// Package memory indexes a directory of markdown notes into SQLite and
// exposes hybrid keyword/vector search plus the note tools the agent
// uses to read and write them. The index is rebuilt lazily: filesystem
// changes mark it dirty, and the next search syncs first.
package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/mika/saker/internal/observability"
)

func init() {
	sqlite_vec.Auto()
}

// SearchResult is one scored chunk of a note.
type SearchResult struct {
	ChunkID      string   `json:"chunk_id"`
	Path         string   `json:"path"`
	Content      string   `json:"content"`
	Score        float64  `json:"score"`
	VectorScore  *float64 `json:"vector_score,omitempty"`
	KeywordScore *float64 `json:"keyword_score,omitempty"`
}

// SearchOptions tunes hybrid search.
type SearchOptions struct {
	Limit         int     `json:"limit"`
	VectorWeight  float64 `json:"vector_weight"`
	KeywordWeight float64 `json:"keyword_weight"`
	MinScore      float64 `json:"min_score"`
}

func defaultSearchOptions() *SearchOptions {
	return &SearchOptions{Limit: 20, VectorWeight: 0.7, KeywordWeight: 0.3}
}

// Status describes the index.
type Status struct {
	TotalNotes   int        `json:"total_notes"`
	TotalChunks  int        `json:"total_chunks"`
	Dirty        bool       `json:"dirty"`
	Syncing      bool       `json:"syncing"`
	CacheHitRate *float64   `json:"embedding_cache_hit_rate,omitempty"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
}

// Config holds memory manager configuration.
type Config struct {
	Dir        string
	DBPath     string
	Logger     zerolog.Logger
	Embeddings EmbeddingProvider // optional, keyword-only search without it
}

// Manager owns the note index.
type Manager struct {
	db         *sql.DB
	dir        string
	log        zerolog.Logger
	embeddings EmbeddingProvider
	watcher    *watcher

	mu       sync.RWMutex
	dirty    bool
	syncing  bool
	lastSync *time.Time
	stats    struct {
		cacheHits   int
		cacheMisses int
	}
}

// NewManager opens the index database and starts watching the note
// directory.
func NewManager(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()

	if cfg.Dir == "" {
		return nil, errors.New("memory directory is required")
	}
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create memory directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_fts5=1&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	m := &Manager{
		db:         db,
		dir:        cfg.Dir,
		log:        cfg.Logger,
		embeddings: cfg.Embeddings,
		dirty:      true, // force an initial sync
	}

	if err := m.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	w, err := newWatcher(cfg.Logger, m.MarkDirty)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := w.watch(cfg.Dir); err != nil {
		w.stop()
		db.Close()
		return nil, fmt.Errorf("watch memory directory: %w", err)
	}
	m.watcher = w

	m.log.Info().Str("dir", cfg.Dir).Msg("Memory manager initialized")
	return m, nil
}

func (m *Manager) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL UNIQUE,
			content_hash TEXT NOT NULL,
			indexed_at INTEGER NOT NULL,
			size_bytes INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			note_id INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			content TEXT NOT NULL,
			FOREIGN KEY (note_id) REFERENCES notes(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_note ON chunks(note_id);

		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			chunk_id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);

		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			dimension INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
	`
	if _, err := m.db.Exec(schema); err != nil {
		return err
	}

	if m.embeddings != nil {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(
				chunk_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, m.embeddings.Dimension())
		if _, err := m.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("create vector table: %w", err)
		}
	}
	return nil
}

// Dir returns the note directory.
func (m *Manager) Dir() string {
	return m.dir
}

// MarkDirty flags the index for re-sync before the next search.
func (m *Manager) MarkDirty() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = true
}

// Search runs hybrid keyword and vector search over the notes, syncing
// the index first if it is dirty.
func (m *Manager) Search(ctx context.Context, query string, opts *SearchOptions) ([]SearchResult, error) {
	start := time.Now()
	defer func() { observability.RecordMemorySearch(time.Since(start)) }()

	if query == "" {
		return []SearchResult{}, nil
	}
	if opts == nil {
		opts = defaultSearchOptions()
	}

	m.mu.RLock()
	dirty := m.dirty
	m.mu.RUnlock()
	if dirty {
		if err := m.Sync(ctx); err != nil {
			m.log.Warn().Err(err).Msg("Sync failed before search")
		}
	}

	var vectorResults []vectorHit
	var keywordResults []keywordHit
	var vectorErr, keywordErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if m.embeddings != nil {
			vectorResults, vectorErr = m.vectorSearch(ctx, query, 200)
		}
	}()
	go func() {
		defer wg.Done()
		keywordResults, keywordErr = m.keywordSearch(query, 200)
	}()
	wg.Wait()

	if vectorErr != nil {
		m.log.Warn().Err(vectorErr).Msg("Vector search failed, using keyword only")
	}
	if keywordErr != nil {
		m.log.Warn().Err(keywordErr).Msg("Keyword search failed, using vector only")
	}
	if vectorErr != nil && keywordErr != nil {
		return nil, fmt.Errorf("both search methods failed")
	}

	results := m.merge(vectorResults, keywordResults, opts)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	m.log.Debug().Str("query", query).Int("results", len(results)).Msg("Search completed")
	return results, nil
}

type vectorHit struct {
	chunkID    string
	similarity float64
}

type keywordHit struct {
	chunkID string
	bm25    float64
}

func (m *Manager) vectorSearch(ctx context.Context, query string, limit int) ([]vectorHit, error) {
	embedding, err := m.embeddings.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT chunk_id, vec_distance_cosine(embedding, ?) AS distance
		FROM embeddings
		ORDER BY distance ASC
		LIMIT ?
	`, string(embeddingJSON), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []vectorHit
	for rows.Next() {
		var chunkID string
		var distance float64
		if err := rows.Scan(&chunkID, &distance); err != nil {
			return nil, err
		}
		hits = append(hits, vectorHit{chunkID: chunkID, similarity: 1.0 - distance})
	}
	return hits, rows.Err()
}

func (m *Manager) keywordSearch(query string, limit int) ([]keywordHit, error) {
	rows, err := m.db.Query(`
		SELECT chunk_id, bm25(chunks_fts) AS score
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []keywordHit
	for rows.Next() {
		var chunkID string
		var score float64
		if err := rows.Scan(&chunkID, &score); err != nil {
			return nil, err
		}
		// bm25 reports better matches as more negative
		hits = append(hits, keywordHit{chunkID: chunkID, bm25: -score})
	}
	return hits, rows.Err()
}

func (m *Manager) merge(vector []vectorHit, keyword []keywordHit, opts *SearchOptions) []SearchResult {
	vectorMap := make(map[string]float64, len(vector))
	keywordMap := make(map[string]float64, len(keyword))

	var maxKeyword float64
	for _, hit := range vector {
		vectorMap[hit.chunkID] = hit.similarity
	}
	for _, hit := range keyword {
		keywordMap[hit.chunkID] = hit.bm25
		if hit.bm25 > maxKeyword {
			maxKeyword = hit.bm25
		}
	}

	seen := make(map[string]bool, len(vectorMap)+len(keywordMap))
	for id := range vectorMap {
		seen[id] = true
	}
	for id := range keywordMap {
		seen[id] = true
	}

	type scored struct {
		chunkID      string
		score        float64
		vectorScore  *float64
		keywordScore *float64
	}

	var ranked []scored
	for chunkID := range seen {
		var normVector, normKeyword float64
		var vecPtr, keyPtr *float64

		if similarity, ok := vectorMap[chunkID]; ok {
			// similarity [-1, 1] mapped to [0, 1]
			normVector = (similarity + 1) / 2
			v := normVector
			vecPtr = &v
		}
		if bm25, ok := keywordMap[chunkID]; ok && maxKeyword > 0 {
			normKeyword = bm25 / maxKeyword
			k := normKeyword
			keyPtr = &k
		}

		combined := normVector*opts.VectorWeight + normKeyword*opts.KeywordWeight
		if opts.MinScore > 0 && combined < opts.MinScore {
			continue
		}
		ranked = append(ranked, scored{chunkID: chunkID, score: combined, vectorScore: vecPtr, keywordScore: keyPtr})
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	results := make([]SearchResult, 0, len(ranked))
	for _, s := range ranked {
		var content, path string
		err := m.db.QueryRow(`
			SELECT c.content, n.path
			FROM chunks c
			JOIN notes n ON c.note_id = n.id
			WHERE c.id = ?
		`, s.chunkID).Scan(&content, &path)
		if err != nil {
			m.log.Warn().Err(err).Str("chunk_id", s.chunkID).Msg("Failed to fetch chunk details")
			continue
		}
		results = append(results, SearchResult{
			ChunkID:      s.chunkID,
			Path:         path,
			Content:      content,
			Score:        s.score,
			VectorScore:  s.vectorScore,
			KeywordScore: s.keywordScore,
		})
	}
	return results
}

// Sync walks the note directory and reindexes anything whose content
// hash changed. Notes deleted on disk are pruned from the index.
func (m *Manager) Sync(ctx context.Context) error {
	m.mu.Lock()
	if m.syncing {
		m.mu.Unlock()
		return errors.New("sync already in progress")
	}
	m.syncing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.syncing = false
		m.dirty = false
		now := time.Now()
		m.lastSync = &now
		m.mu.Unlock()
	}()

	start := time.Now()
	defer func() { observability.RecordMemorySync(time.Since(start)) }()

	var notes []string
	err := filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			rel, _ := filepath.Rel(m.dir, path)
			notes = append(notes, rel)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk memory directory: %w", err)
	}

	indexed, skipped, chunksCreated := 0, 0, 0
	for _, rel := range notes {
		changed, chunks, err := m.indexNote(ctx, rel)
		if err != nil {
			m.log.Warn().Err(err).Str("note", rel).Msg("Failed to index note")
			continue
		}
		if changed {
			indexed++
			chunksCreated += chunks
		} else {
			skipped++
		}
	}

	pruned, err := m.pruneDeleted(notes)
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to prune deleted notes")
	}

	m.log.Info().
		Int("notes_indexed", indexed).
		Int("notes_skipped", skipped).
		Int("chunks_created", chunksCreated).
		Int("notes_pruned", pruned).
		Dur("duration", time.Since(start)).
		Msg("Sync completed")

	observability.SetMemoryChunks(m.Status().TotalChunks)
	return nil
}

func (m *Manager) indexNote(ctx context.Context, rel string) (bool, int, error) {
	content, err := os.ReadFile(filepath.Join(m.dir, rel))
	if err != nil {
		return false, 0, err
	}

	sum := sha256.Sum256(content)
	contentHash := hex.EncodeToString(sum[:])

	var existingHash string
	err = m.db.QueryRow("SELECT content_hash FROM notes WHERE path = ?", rel).Scan(&existingHash)
	if err == nil && existingHash == contentHash {
		return false, 0, nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback()

	if err := m.removeNote(tx, rel); err != nil {
		return false, 0, err
	}

	result, err := tx.Exec(
		"INSERT INTO notes (path, content_hash, indexed_at, size_bytes) VALUES (?, ?, ?, ?)",
		rel, contentHash, time.Now().Unix(), len(content),
	)
	if err != nil {
		return false, 0, err
	}
	noteID, _ := result.LastInsertId()

	chunks := chunkMarkdown(string(content))
	for i, text := range chunks {
		chunkID := fmt.Sprintf("%s#%d", rel, i)
		if _, err := tx.Exec(
			"INSERT INTO chunks (id, note_id, seq, content) VALUES (?, ?, ?, ?)",
			chunkID, noteID, i, text,
		); err != nil {
			return false, 0, err
		}
		if _, err := tx.Exec(
			"INSERT INTO chunks_fts (chunk_id, content) VALUES (?, ?)",
			chunkID, text,
		); err != nil {
			return false, 0, err
		}
		if m.embeddings != nil {
			if err := m.storeEmbedding(ctx, tx, chunkID, text); err != nil {
				m.log.Warn().Err(err).Str("chunk_id", chunkID).Msg("Failed to store embedding")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, 0, err
	}
	return true, len(chunks), nil
}

// removeNote drops a note and its derived rows. The FTS and vector
// tables are virtual and do not cascade, so they are cleared by hand.
func (m *Manager) removeNote(tx *sql.Tx, rel string) error {
	rows, err := tx.Query("SELECT c.id FROM chunks c JOIN notes n ON c.note_id = n.id WHERE n.path = ?", rel)
	if err != nil {
		return err
	}
	var chunkIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		chunkIDs = append(chunkIDs, id)
	}
	rows.Close()

	for _, id := range chunkIDs {
		if _, err := tx.Exec("DELETE FROM chunks_fts WHERE chunk_id = ?", id); err != nil {
			return err
		}
		if m.embeddings != nil {
			if _, err := tx.Exec("DELETE FROM embeddings WHERE chunk_id = ?", id); err != nil {
				return err
			}
		}
	}

	_, err = tx.Exec("DELETE FROM notes WHERE path = ?", rel)
	return err
}

func (m *Manager) storeEmbedding(ctx context.Context, tx *sql.Tx, chunkID, content string) error {
	sum := sha256.Sum256([]byte(content))
	contentHash := hex.EncodeToString(sum[:])

	var embedding []float32
	var cached []byte
	err := tx.QueryRow("SELECT embedding FROM embedding_cache WHERE content_hash = ?", contentHash).Scan(&cached)
	if err == nil {
		m.stats.cacheHits++
		if err := json.Unmarshal(cached, &embedding); err != nil {
			return fmt.Errorf("unmarshal cached embedding: %w", err)
		}
	} else {
		m.stats.cacheMisses++
		embedding, err = m.embeddings.Embed(ctx, content)
		if err != nil {
			return fmt.Errorf("embed chunk: %w", err)
		}
		payload, err := json.Marshal(embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO embedding_cache (content_hash, embedding, dimension, created_at) VALUES (?, ?, ?, ?)",
			contentHash, payload, len(embedding), time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("cache embedding: %w", err)
		}
	}

	payload, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO embeddings (chunk_id, embedding) VALUES (?, ?)",
		chunkID, string(payload),
	); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return nil
}

func (m *Manager) pruneDeleted(existing []string) (int, error) {
	rows, err := m.db.Query("SELECT path FROM notes")
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	existingSet := make(map[string]bool, len(existing))
	for _, path := range existing {
		existingSet[path] = true
	}

	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return 0, err
		}
		if !existingSet[path] {
			stale = append(stale, path)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	rows.Close()

	for _, path := range stale {
		tx, err := m.db.Begin()
		if err != nil {
			return 0, err
		}
		if err := m.removeNote(tx, path); err != nil {
			tx.Rollback()
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// Status reports index counters.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{
		Dirty:    m.dirty,
		Syncing:  m.syncing,
		LastSync: m.lastSync,
	}
	m.db.QueryRow("SELECT COUNT(*) FROM notes").Scan(&status.TotalNotes)
	m.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&status.TotalChunks)

	if total := m.stats.cacheHits + m.stats.cacheMisses; total > 0 {
		rate := float64(m.stats.cacheHits) / float64(total)
		status.CacheHitRate = &rate
	}
	return status
}

// Close stops the watcher and closes the database.
func (m *Manager) Close() error {
	m.log.Info().Msg("Closing memory manager")
	if m.watcher != nil {
		m.watcher.stop()
	}
	return m.db.Close()
}
