package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aide/internal/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func defaultIndexConfig() IndexConfig {
	return IndexConfig{
		SemanticWeight:  0.7,
		LexicalWeight:   0.3,
		SimilarityFloor: 0.35,
		SearchWindow:    500,
	}
}

// stubEmbedder maps known phrases to fixed vectors and fails on demand.
type stubEmbedder struct {
	vectors map[string][]float32
	failAll bool
	calls   int
}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.failAll {
		return nil, fmt.Errorf("embedder down")
	}
	for phrase, vec := range e.vectors {
		if strings.Contains(strings.ToLower(text), phrase) {
			return vec, nil
		}
	}
	return []float32{0, 0, 1}, nil
}

func TestAppendAndRecentChronological(t *testing.T) {
	ix := NewIndex(testStore(t), nil, defaultIndexConfig())
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		turn := &domain.ConversationTurn{
			Role:      domain.RoleUser,
			Content:   fmt.Sprintf("message number %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := ix.Append(ctx, turn); err != nil {
			t.Fatalf("append: %v", err)
		}
		if turn.ID == "" {
			t.Fatal("append must assign an ID")
		}
	}

	turns, err := ix.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].CreatedAt.Before(turns[i-1].CreatedAt) {
			t.Fatal("recent turns must be chronological")
		}
	}
	if turns[2].Content != "message number 4" {
		t.Fatalf("expected newest last, got %q", turns[2].Content)
	}
}

func TestAppendToleratesEmbedderFailure(t *testing.T) {
	emb := &stubEmbedder{failAll: true}
	ix := NewIndex(testStore(t), emb, defaultIndexConfig())
	ctx := context.Background()

	if err := ix.Append(ctx, &domain.ConversationTurn{Role: domain.RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("append must survive embedder failure: %v", err)
	}

	turns, err := ix.Recent(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 {
		t.Fatal("turn was not stored")
	}
	if turns[0].Embedding != nil {
		t.Fatal("expected no vector for failed embedding")
	}
}

func TestSearchRanksRelevantFirst(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"dentist": {1, 0, 0},
		"grocery": {0, 1, 0},
	}}
	ix := NewIndex(testStore(t), emb, defaultIndexConfig())
	ctx := context.Background()

	contents := []string{
		"remind me about the dentist appointment on Friday",
		"add milk to the grocery list",
		"the weather is nice today",
	}
	for _, c := range contents {
		if err := ix.Append(ctx, &domain.ConversationTurn{Role: domain.RoleUser, Content: c}); err != nil {
			t.Fatal(err)
		}
	}

	results, err := ix.Search(ctx, "when is my dentist appointment", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if !strings.Contains(results[0].Content, "dentist") {
		t.Fatalf("expected dentist turn first, got %q", results[0].Content)
	}
}

func TestSearchFloorExcludesOffTopicVectors(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	emb := &stubEmbedder{vectors: map[string][]float32{
		"cancelled": {0, 1, 0},
		"status":    {1, 0, 0},
	}}
	ix := NewIndex(store, emb, defaultIndexConfig())

	// Shares three tokens with the query but embeds orthogonally.
	if err := ix.Append(ctx, &domain.ConversationTurn{
		Role:    domain.RoleUser,
		Content: "the quarterly budget review is cancelled",
	}); err != nil {
		t.Fatal(err)
	}
	// Same lexical overlap, no vector at all.
	vectorless := NewIndex(store, nil, defaultIndexConfig())
	if err := vectorless.Append(ctx, &domain.ConversationTurn{
		Role:    domain.RoleUser,
		Content: "quarterly budget review moved to Monday",
	}); err != nil {
		t.Fatal(err)
	}

	results, err := ix.Search(ctx, "quarterly budget review status", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if strings.Contains(r.Content, "cancelled") {
			t.Fatalf("turn below the similarity floor must be excluded, got %q", r.Content)
		}
	}
	if len(results) != 1 || !strings.Contains(results[0].Content, "moved to Monday") {
		t.Fatalf("vectorless turn must still rank lexically, got %v", results)
	}
}

func TestSearchDegradesToLexicalWhenEmbedderFails(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	// Seed turns with a working embedder.
	seeder := NewIndex(store, &stubEmbedder{vectors: map[string][]float32{"dentist": {1, 0, 0}}}, defaultIndexConfig())
	if err := seeder.Append(ctx, &domain.ConversationTurn{Role: domain.RoleUser, Content: "dentist appointment Friday"}); err != nil {
		t.Fatal(err)
	}
	if err := seeder.Append(ctx, &domain.ConversationTurn{Role: domain.RoleUser, Content: "unrelated chatter"}); err != nil {
		t.Fatal(err)
	}

	// Query through an index whose embedder is down.
	ix := NewIndex(store, &stubEmbedder{failAll: true}, defaultIndexConfig())
	results, err := ix.Search(ctx, "dentist appointment", 5)
	if err != nil {
		t.Fatalf("search must not fail when embedder is down: %v", err)
	}
	if len(results) != 1 || !strings.Contains(results[0].Content, "dentist") {
		t.Fatalf("expected lexical match, got %v", results)
	}
}

func TestContextTurnsMergesWithoutDuplicates(t *testing.T) {
	ix := NewIndex(testStore(t), nil, defaultIndexConfig())
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	contents := []string{
		"old note about the dentist",
		"filler one",
		"filler two",
		"filler three",
	}
	for i, c := range contents {
		if err := ix.Append(ctx, &domain.ConversationTurn{
			Role:      domain.RoleUser,
			Content:   c,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}

	// Recent window of 3 excludes the dentist turn; search pulls it in.
	merged, err := ix.ContextTurns(ctx, "dentist", 3, 2)
	if err != nil {
		t.Fatalf("context turns: %v", err)
	}

	ids := make(map[string]int)
	for _, turn := range merged {
		ids[turn.ID]++
	}
	for id, count := range ids {
		if count > 1 {
			t.Fatalf("turn %s appears %d times", id, count)
		}
	}
	if !strings.Contains(merged[0].Content, "dentist") {
		t.Fatalf("expected relevant turn before recent ones, got %q", merged[0].Content)
	}
	if merged[len(merged)-1].Content != "filler three" {
		t.Fatal("expected newest recent turn last")
	}
}

func TestNotesRoundTrip(t *testing.T) {
	ix := NewIndex(testStore(t), nil, defaultIndexConfig())
	ctx := context.Background()

	if err := ix.SaveNote(ctx, "passport renewal due in March"); err != nil {
		t.Fatalf("save note: %v", err)
	}
	if err := ix.Append(ctx, &domain.ConversationTurn{Role: domain.RoleUser, Content: "passport question"}); err != nil {
		t.Fatal(err)
	}

	notes, err := ix.SearchNotes(ctx, "passport renewal", 5)
	if err != nil {
		t.Fatalf("search notes: %v", err)
	}
	if len(notes) != 1 || notes[0] != "passport renewal due in March" {
		t.Fatalf("unexpected notes: %v", notes)
	}
}

func TestVectorCodec(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.125}
	decoded := decodeVector(encodeVector(vec))
	if len(decoded) != len(vec) {
		t.Fatalf("length mismatch: %d", len(decoded))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Fatalf("value mismatch at %d: %v != %v", i, decoded[i], vec[i])
		}
	}

	if encodeVector(nil) != nil {
		t.Fatal("nil vector must encode to nil")
	}
	if decodeVector(nil) != nil {
		t.Fatal("nil blob must decode to nil")
	}
	if decodeVector([]byte{1, 2, 3}) != nil {
		t.Fatal("misaligned blob must decode to nil")
	}
}
