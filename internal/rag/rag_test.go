package rag

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/cost"
	"github.com/TobiSchelling/kursil/internal/database"
	"github.com/TobiSchelling/kursil/internal/generate"
	"github.com/TobiSchelling/kursil/internal/logger"
)

var vocabulary = []string{"inertia", "droop", "voltage"}

// wordEmbedder counts vocabulary words, plus a constant bias dimension.
type wordEmbedder struct{ calls int }

func (e *wordEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	e.calls++
	out := make([][]float64, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		v := make([]float64, len(vocabulary)+1)
		for j, w := range vocabulary {
			v[j] = float64(strings.Count(lower, w))
		}
		v[len(vocabulary)] = 0.1
		out[i] = v
	}
	return out, nil
}

func (e *wordEmbedder) Model() string { return "test-embed" }

type echoProvider struct{ prompt string }

func (p *echoProvider) Complete(_ context.Context, _, prompt string) (string, error) {
	p.prompt = prompt
	return "Inertia is stored rotational energy.", nil
}

func (p *echoProvider) Model() string      { return "gpt-4o-mini" }
func (p *echoProvider) IsConfigured() bool { return true }

func seed(t *testing.T, withHandouts bool) (*database.DB, string) {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(filepath.Join(t.TempDir(), "rag.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mainID, err := db.InsertMainTopic(ctx, database.MainTopic{Subject: "Grid Stability"})
	require.NoError(t, err)
	topicID, err := db.InsertTopic(ctx, database.Topic{MainTopicID: mainID, Name: "Frequency Control", DiscussionPoints: []string{"Inertia", "Droop"}})
	require.NoError(t, err)
	handouts := map[string]string{
		"Inertia": "Inertia of rotating machines slows frequency change. Inertia matters.",
		"Droop":   "Droop control shares load between governors.",
	}
	for i, text := range []string{"Inertia", "Droop"} {
		id, err := db.InsertPoint(ctx, topicID, i, text)
		require.NoError(t, err)
		if withHandouts {
			require.NoError(t, db.SetPointField(ctx, id, database.FieldHandout, handouts[text]))
		}
	}
	return db, mainID
}

func TestIngestAndQuery(t *testing.T) {
	db, mainID := seed(t, true)
	ctx := context.Background()
	emb := &wordEmbedder{}
	prov := &echoProvider{}
	svc := New(db, emb, generate.New(prov, cost.Default(), nil), nil, Options{}, logger.Nop())

	res, err := svc.Ingest(ctx, mainID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Handouts)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, "test-embed", res.Model)

	chunks, err := db.GetChunks(ctx, mainID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.True(t, strings.HasPrefix(chunks[0].Content, "Topic: Frequency Control\nPoint of Discussion: Inertia"))

	ans, err := svc.Query(ctx, mainID, "What does inertia do?", 1)
	require.NoError(t, err)
	assert.Equal(t, "Inertia is stored rotational energy.", ans.Answer)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, chunks[0].PointID, ans.Sources[0].PointID)
	assert.Contains(t, prov.prompt, "slows frequency change")
	assert.Contains(t, prov.prompt, "Question: What does inertia do?")

	entries, err := db.GetCostEntries(ctx, mainID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "answer", entries[0].Stage)
	mt, err := db.GetMainTopic(ctx, mainID)
	require.NoError(t, err)
	assert.InDelta(t, ans.Cost, mt.Cost, 1e-9)
}

func TestIngestReplacesChunks(t *testing.T) {
	db, mainID := seed(t, true)
	svc := New(db, &wordEmbedder{}, generate.New(&echoProvider{}, cost.Default(), nil), nil, Options{}, nil)

	_, err := svc.Ingest(context.Background(), mainID)
	require.NoError(t, err)
	_, err = svc.Ingest(context.Background(), mainID)
	require.NoError(t, err)

	chunks, err := db.GetChunks(context.Background(), mainID)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestIngestWithoutHandouts(t *testing.T) {
	db, mainID := seed(t, false)
	emb := &wordEmbedder{}
	svc := New(db, emb, generate.New(&echoProvider{}, cost.Default(), nil), nil, Options{}, nil)

	_, err := svc.Ingest(context.Background(), mainID)
	assert.True(t, apperr.Is(err, apperr.KindPrerequisiteMissing))
	assert.Zero(t, emb.calls)

	_, err = svc.Query(context.Background(), mainID, "anything?", 0)
	assert.True(t, apperr.Is(err, apperr.KindPrerequisiteMissing))
}

func TestQueryValidation(t *testing.T) {
	db, mainID := seed(t, true)
	svc := New(db, nil, generate.New(&echoProvider{}, cost.Default(), nil), nil, Options{}, nil)

	_, err := svc.Query(context.Background(), mainID, "  ", 0)
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))

	_, err = svc.Query(context.Background(), "missing", "why?", 0)
	assert.True(t, apperr.Is(err, apperr.KindMainTopicNotFound))

	_, err = svc.Ingest(context.Background(), mainID)
	assert.True(t, apperr.Is(err, apperr.KindUpstreamUnavailable))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1, Cosine([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Zero(t, Cosine([]float64{0, 0}, []float64{1, 1}))
	assert.Zero(t, Cosine([]float64{1}, []float64{1, 1}))
}

func TestSplitShortText(t *testing.T) {
	assert.Equal(t, []string{"one paragraph\n\nanother"}, Split("one paragraph\n\nanother", 100, 20))
	assert.Nil(t, Split("   ", 100, 20))
}

func TestSplitPrefersParagraphs(t *testing.T) {
	a := strings.Repeat("a", 40)
	b := strings.Repeat("b", 40)
	c := strings.Repeat("c", 40)
	chunks := Split(a+"\n\n"+b+"\n\n"+c, 90, 0)
	assert.Equal(t, []string{a + "\n\n" + b, c}, chunks)
}

func TestSplitOverlapsWords(t *testing.T) {
	words := strings.Fields("alpha beta gamma delta epsilon zeta eta theta iota kappa")
	chunks := Split(strings.Join(words, " "), 25, 10)
	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		tail := prev[len(prev)-min(len(prev), 10):]
		first := strings.Fields(chunks[i])[0]
		assert.Contains(t, tail, first, "chunk %d starts with the tail of the previous one", i)
	}
}

func TestSplitHardCutsLongWords(t *testing.T) {
	chunks := Split(strings.Repeat("x", 250), 100, 0)
	assert.Equal(t, []int{100, 100, 50}, []int{len(chunks[0]), len(chunks[1]), len(chunks[2])})
}

func TestSplitProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		words := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,10}`), 1, 80).Draw(t, "words")
		size := rapid.IntRange(20, 200).Draw(t, "size")
		overlap := rapid.IntRange(0, 19).Draw(t, "overlap")

		var b strings.Builder
		for i, w := range words {
			if i > 0 {
				b.WriteString(rapid.SampledFrom([]string{" ", "\n", "\n\n"}).Draw(t, "sep"))
			}
			b.WriteString(w)
		}
		chunks := Split(b.String(), size, overlap)
		require.NotEmpty(t, chunks)

		seen := map[string]bool{}
		for _, c := range chunks {
			if runeLen(c) > size {
				t.Fatalf("chunk of %d runes exceeds %d", runeLen(c), size)
			}
			for _, w := range strings.Fields(c) {
				seen[w] = true
			}
		}
		for _, w := range words {
			if !seen[w] {
				t.Fatalf("word %q lost", w)
			}
		}
	})
}
