package memory

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"aide/internal/domain"
)

// IndexConfig tunes hybrid retrieval. Weights are relative; the similarity
// floor discards semantic matches too weak to trust.
type IndexConfig struct {
	SemanticWeight  float64
	LexicalWeight   float64
	SimilarityFloor float64
	SearchWindow    int
}

// Index layers retrieval over the Store. Appends embed eagerly but
// tolerate embedder failure: a turn is never lost because the embedding
// call failed, it is stored without a vector and found lexically.
type Index struct {
	store    *Store
	embedder domain.Embedder
	cfg      IndexConfig
}

func NewIndex(store *Store, embedder domain.Embedder, cfg IndexConfig) *Index {
	if cfg.SearchWindow <= 0 {
		cfg.SearchWindow = 500
	}
	return &Index{store: store, embedder: embedder, cfg: cfg}
}

// Append persists a turn, embedding its content when an embedder is
// available.
func (ix *Index) Append(ctx context.Context, turn *domain.ConversationTurn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	if ix.embedder != nil && turn.Content != "" && turn.Embedding == nil {
		vec, err := ix.embedder.Embed(ctx, turn.Content)
		if err != nil {
			ix.store.logger.Warn("embedding failed, storing turn without vector",
				"turn", turn.ID, "error", err)
		} else {
			turn.Embedding = vec
		}
	}

	_, err := ix.store.db.ExecContext(ctx,
		`INSERT INTO turns (id, role, content, source, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.Role, turn.Content, turn.Source,
		encodeVector(turn.Embedding), turn.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Recent returns the last n turns in chronological order.
func (ix *Index) Recent(ctx context.Context, n int) ([]domain.ConversationTurn, error) {
	rows, err := ix.store.db.QueryContext(ctx,
		`SELECT id, role, content, source, embedding, created_at
		 FROM turns ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	// Reverse newest-first into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Search returns the limit most relevant turns for the query, best first.
// Scoring is a weighted sum of cosine similarity and token overlap; when
// the query cannot be embedded the search degrades to lexical only rather
// than failing.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]domain.ConversationTurn, error) {
	return ix.search(ctx, query, limit, "")
}

func (ix *Index) search(ctx context.Context, query string, limit int, source string) ([]domain.ConversationTurn, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	var queryVec []float32
	if ix.embedder != nil {
		vec, err := ix.embedder.Embed(ctx, query)
		if err != nil {
			ix.store.logger.Warn("query embedding failed, falling back to lexical search", "error", err)
		} else {
			queryVec = vec
		}
	}

	q := `SELECT id, role, content, source, embedding, created_at FROM turns`
	args := []any{}
	if source != "" {
		q += ` WHERE source = ?`
		args = append(args, source)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, ix.cfg.SearchWindow)

	rows, err := ix.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search turns: %w", err)
	}
	defer rows.Close()

	candidates, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}

	queryTokens := tokenize(query)
	type scored struct {
		turn  domain.ConversationTurn
		score float64
	}
	var results []scored
	for _, turn := range candidates {
		score := ix.cfg.LexicalWeight * overlap(queryTokens, tokenize(turn.Content))
		if queryVec != nil && turn.Embedding != nil {
			sim := cosine(queryVec, turn.Embedding)
			if sim < ix.cfg.SimilarityFloor {
				// The vector marks the turn off-topic; lexical overlap
				// alone must not resurrect it. Vectorless turns and
				// embed-failure queries still rank lexically.
				continue
			}
			score += ix.cfg.SemanticWeight * sim
		}
		if score > 0 {
			results = append(results, scored{turn: turn, score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > limit {
		results = results[:limit]
	}

	out := make([]domain.ConversationTurn, 0, len(results))
	for _, r := range results {
		out = append(out, r.turn)
	}
	return out, nil
}

// ContextTurns merges the most recent turns with relevant older ones,
// skipping duplicates. Recent turns come last so the model sees them
// closest to the new message.
func (ix *Index) ContextTurns(ctx context.Context, query string, recentN, relevantN int) ([]domain.ConversationTurn, error) {
	recent, err := ix.Recent(ctx, recentN)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(recent))
	for _, t := range recent {
		seen[t.ID] = true
	}

	var merged []domain.ConversationTurn
	if relevantN > 0 {
		relevant, err := ix.Search(ctx, query, relevantN)
		if err != nil {
			return nil, err
		}
		for _, t := range relevant {
			if !seen[t.ID] {
				merged = append(merged, t)
				seen[t.ID] = true
			}
		}
	}
	return append(merged, recent...), nil
}

// SaveNote stores a standalone fact, outside the conversational flow.
func (ix *Index) SaveNote(ctx context.Context, text string) error {
	return ix.Append(ctx, &domain.ConversationTurn{
		Role:    domain.RoleSystem,
		Content: text,
		Source:  "note",
	})
}

// SearchNotes retrieves saved notes relevant to the query.
func (ix *Index) SearchNotes(ctx context.Context, query string, limit int) ([]string, error) {
	turns, err := ix.search(ctx, query, limit, "note")
	if err != nil {
		return nil, err
	}
	notes := make([]string, 0, len(turns))
	for _, t := range turns {
		notes = append(notes, t.Content)
	}
	return notes, nil
}

func scanTurns(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]domain.ConversationTurn, error) {
	var turns []domain.ConversationTurn
	for rows.Next() {
		var (
			turn    domain.ConversationTurn
			blob    []byte
			created int64
		)
		if err := rows.Scan(&turn.ID, &turn.Role, &turn.Content, &turn.Source, &blob, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Embedding = decodeVector(blob)
		turn.CreatedAt = time.Unix(0, created).UTC()
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// encodeVector packs float32 values little-endian; nil vectors stay nil so
// the column is NULL.
func encodeVector(vec []float32) []byte {
	if vec == nil {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, ".,;:!?\"'()[]{}")
		if len(token) > 2 {
			tokens[token] = true
		}
	}
	return tokens
}

// overlap is the fraction of query tokens present in the candidate.
func overlap(query, candidate map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	matched := 0
	for token := range query {
		if candidate[token] {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}
