package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qanatlabs/qanat/internal/budget"
	"github.com/qanatlabs/qanat/internal/models"
	"github.com/qanatlabs/qanat/internal/rag"
)

const testDim = 4

// fakeLLM returns canned responses in order.
type fakeLLM struct {
	responses []string
	calls     int
	prompts   []string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.calls >= len(f.responses) {
		return "", errors.New("no more canned responses")
	}
	out := f.responses[f.calls]
	f.calls++
	return out, nil
}

func (f *fakeLLM) Close() error { return nil }

// fakeEmbedder returns a fixed vector for every text.
type fakeEmbedder struct {
	vec []float32
}

func (f *fakeEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

func (f *fakeEmbedder) Close() error { return nil }

type fakeScriptStore struct {
	inserted []*models.GeneratedScript
	statuses map[uuid.UUID]string
	feedback []*models.FeedbackRecord
}

func newFakeScriptStore() *fakeScriptStore {
	return &fakeScriptStore{statuses: make(map[uuid.UUID]string)}
}

func (f *fakeScriptStore) InsertScript(ctx context.Context, sc *models.GeneratedScript) error {
	f.inserted = append(f.inserted, sc)
	return nil
}

func (f *fakeScriptStore) GetScript(ctx context.Context, id uuid.UUID) (*models.GeneratedScript, error) {
	for _, sc := range f.inserted {
		if sc.ID == id {
			return sc, nil
		}
	}
	return nil, errors.New("script not found")
}

func (f *fakeScriptStore) UpdateScriptStatus(ctx context.Context, id uuid.UUID, status string) error {
	f.statuses[id] = status
	return nil
}

func (f *fakeScriptStore) RecentScripts(ctx context.Context, contentType string, limit int) ([]models.GeneratedScript, error) {
	var out []models.GeneratedScript
	for i := len(f.inserted) - 1; i >= 0 && len(out) < limit; i-- {
		if f.inserted[i].ContentType == contentType {
			out = append(out, *f.inserted[i])
		}
	}
	return out, nil
}

func (f *fakeScriptStore) InsertFeedback(ctx context.Context, fb *models.FeedbackRecord, emb *models.EmbeddingRecord) error {
	f.feedback = append(f.feedback, fb)
	return nil
}

// permissiveLedger has no Redis behind it, so every budget check passes.
func permissiveLedger() *budget.Ledger {
	return budget.NewLedger("youtube", nil, 0)
}

func newRAGManager() (*rag.Manager, *rag.MemoryIndex) {
	idx := rag.NewMemoryIndex()
	return rag.NewManager(idx, idx, testDim), idx
}

func TestPlannerUnknownContentType(t *testing.T) {
	p := NewPlanner(permissiveLedger(), &fakeLLM{}, nil)
	_, err := p.Plan(context.Background(), "vlogs", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown content type")
}

func TestPlannerBuildsPromptFromGames(t *testing.T) {
	llm := &fakeLLM{responses: []string{"1. المقدمة\n2. الألعاب"}}
	p := NewPlanner(permissiveLedger(), llm, nil)

	games := []models.Game{
		{Title: "Starfall", GamePass: true},
		{Title: "Dune Racer", ArabicSupport: models.ArabicSupport{HasArabic: true, ArabicType: "subtitles"}},
	}
	plan, err := p.Plan(context.Background(), "monthly_releases", games)
	require.NoError(t, err)
	assert.Equal(t, "monthly_releases", plan.ContentType)
	assert.Equal(t, []string{"Starfall", "Dune Racer"}, plan.Games)
	assert.Equal(t, "1. المقدمة\n2. الألعاب", plan.Outline)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "Starfall")
	assert.Contains(t, llm.prompts[0], "Game Pass")
	assert.Contains(t, llm.prompts[0], "subtitles")
}

func TestPlannerAvoidsCoveredTopics(t *testing.T) {
	store := newFakeScriptStore()
	ctx := context.Background()
	require.NoError(t, store.InsertScript(ctx, &models.GeneratedScript{
		ID: uuid.New(), ContentType: "monthly_releases", Title: "إصدارات يوليو 2026",
	}))
	require.NoError(t, store.InsertScript(ctx, &models.GeneratedScript{
		ID: uuid.New(), ContentType: "aaa_review", Title: "مراجعة لعبة السيف",
	}))

	llm := &fakeLLM{responses: []string{"مخطط الحلقة"}}
	p := NewPlanner(permissiveLedger(), llm, store)
	_, err := p.Plan(ctx, "monthly_releases", nil)
	require.NoError(t, err)

	// Covered topics for the same content type land in the prompt with the
	// do-not-repeat instruction; other content types stay out.
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "لا تكررها")
	assert.Contains(t, llm.prompts[0], "إصدارات يوليو 2026")
	assert.NotContains(t, llm.prompts[0], "مراجعة لعبة السيف")
}

func TestWriterPersistsAndIndexesScript(t *testing.T) {
	ragMgr, idx := newRAGManager()
	store := newFakeScriptStore()
	llm := &fakeLLM{responses: []string{"السلام عليكم ومرحباً بكم في حلقة جديدة"}}
	w := NewWriter(permissiveLedger(), llm, ragMgr, &fakeEmbedder{vec: []float32{1, 0, 0, 0}}, store)

	script, err := w.Write(context.Background(), "monthly_releases", "إصدارات أغسطس 2026", false)
	require.NoError(t, err)
	require.Len(t, store.inserted, 1)
	assert.Equal(t, "draft", script.Status)
	assert.Equal(t, 7, script.WordCount)

	// The generated script is indexed for future dedup.
	assert.Equal(t, 1, idx.Len())
	results, err := ragMgr.SearchSimilar(context.Background(), []float32{1, 0, 0, 0}, rag.SearchParams{TopK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.SourceScript, results[0].SourceType)
	require.NotNil(t, results[0].SourceID)
	assert.Equal(t, script.ID, *results[0].SourceID)
}

func TestWriterRejectsDuplicate(t *testing.T) {
	ragMgr, _ := newRAGManager()
	store := newFakeScriptStore()
	llm := &fakeLLM{responses: []string{"النص الأول", "النص الثاني", "النص الثالث"}}
	w := NewWriter(permissiveLedger(), llm, ragMgr, &fakeEmbedder{vec: []float32{1, 0, 0, 0}}, store)
	ctx := context.Background()

	_, err := w.Write(ctx, "monthly_releases", "إصدارات أغسطس", false)
	require.NoError(t, err)

	// The same topic embeds to the same vector: similarity 1.0.
	_, err = w.Write(ctx, "monthly_releases", "إصدارات أغسطس", false)
	require.Error(t, err)
	var dup *DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.GreaterOrEqual(t, dup.Similarity, rag.DefaultDuplicateThreshold)
	assert.Len(t, store.inserted, 1)

	// force overrides the duplicate gate.
	_, err = w.Write(ctx, "monthly_releases", "إصدارات أغسطس", true)
	require.NoError(t, err)
	assert.Len(t, store.inserted, 2)
}

func TestWriterInjectsContextAndFeedback(t *testing.T) {
	ragMgr, idx := newRAGManager()
	store := newFakeScriptStore()
	llm := &fakeLLM{responses: []string{"نص الحلقة"}}
	w := NewWriter(permissiveLedger(), llm, ragMgr, &fakeEmbedder{vec: []float32{0, 1, 0, 0}}, store)
	ctx := context.Background()

	prior := models.GeneratedScript{ID: uuid.New(), ContentType: "monthly_releases", Title: "إصدارات يوليو"}
	idx.AddScript(prior)
	_, err := ragMgr.StoreFeedback(ctx, rag.FeedbackInput{
		ScriptID:     prior.ID,
		FeedbackType: models.FeedbackEdit,
		FeedbackText: "قلل المقدمة",
		Embedding:    []float32{0, 0, 1, 0},
	})
	require.NoError(t, err)

	_, err = w.Write(ctx, "monthly_releases", "إصدارات أغسطس", false)
	require.NoError(t, err)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "قلل المقدمة")
	assert.Contains(t, llm.prompts[0], "إصدارات أغسطس")
}

func TestValidatorPassAndFail(t *testing.T) {
	store := newFakeScriptStore()
	script := &models.GeneratedScript{ID: uuid.New(), ContentType: "aaa_review", Title: "t", ScriptText: "نص"}
	require.NoError(t, store.InsertScript(context.Background(), script))

	llm := &fakeLLM{responses: []string{
		`{"accuracy": 9, "dialect": 8, "structure": 8, "engagement": 9, "originality": 8, "notes": "جيد"}`,
		`{"accuracy": 4, "dialect": 5, "structure": 4, "engagement": 3, "originality": 5, "notes": "ضعيف"}`,
	}}
	v := NewValidator(permissiveLedger(), llm, store, store)

	result, err := v.Validate(context.Background(), script.ID)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.InDelta(t, 8.4, result.Scores.Overall(), 1e-9)
	assert.Equal(t, "validated", store.statuses[script.ID])

	result, err = v.Validate(context.Background(), script.ID)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, "rejected", store.statuses[script.ID])

	// Each run leaves an auto feedback entry for the writer's prompts.
	require.Len(t, store.feedback, 2)
	assert.Equal(t, models.FeedbackAuto, store.feedback[0].FeedbackType)
	assert.Equal(t, "validator", store.feedback[0].Source)
	assert.Contains(t, store.feedback[1].FeedbackText, "rejected")
}

func TestParseValidation(t *testing.T) {
	fenced := "```json\n{\"accuracy\": 7, \"dialect\": 7, \"structure\": 7, \"engagement\": 7, \"originality\": 7, \"notes\": \"ok\"}\n```"
	scores, notes, err := parseValidation(fenced)
	require.NoError(t, err)
	assert.Equal(t, 7, scores.Accuracy)
	assert.Equal(t, "ok", notes)

	_, _, err = parseValidation("not json at all")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unparseable"))

	_, _, err = parseValidation(`{"accuracy": 11, "dialect": 7, "structure": 7, "engagement": 7, "originality": 7}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}
