package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/kursil/internal/cost"
	"github.com/TobiSchelling/kursil/internal/database"
	"github.com/TobiSchelling/kursil/internal/generate"
	"github.com/TobiSchelling/kursil/internal/prompts"
)

const gridOutline = `1. **Topic Title:** Frequency Control
   - **Objective:** Keep the grid at 50 Hz.
   - **Key Concepts:** inertia, droop
   - **Skills to be Mastered:** reading frequency charts
   - **Point of Discussion:**
     - Inertia
     - Droop

2. **Topic Title:** Voltage Stability
   - **Objective:** Explain voltage collapse.
   - **Key Concepts:** reactive power
   - **Skills to be Mastered:** interpreting PV curves
   - **Point of Discussion:**
     - Reactive power
`

// fakeProvider answers by stage. Test templates start with "stage: <name>"
// so the stage can be read back from the prompt.
type fakeProvider struct {
	mu      sync.Mutex
	calls   map[string]int
	respond func(stage, prompt string) (string, error)
}

func newFakeProvider(respond func(stage, prompt string) (string, error)) *fakeProvider {
	return &fakeProvider{calls: map[string]int{}, respond: respond}
}

func (f *fakeProvider) Complete(_ context.Context, _, prompt string) (string, error) {
	first, _, _ := strings.Cut(prompt, "\n")
	stage := strings.TrimSpace(strings.TrimPrefix(first, "stage:"))
	f.mu.Lock()
	f.calls[stage]++
	f.mu.Unlock()
	return f.respond(stage, prompt)
}

func (f *fakeProvider) Model() string      { return "fake-model" }
func (f *fakeProvider) IsConfigured() bool { return true }

func (f *fakeProvider) count(stage string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stage]
}

func (f *fakeProvider) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// defaultResponse returns plausible output for every stage.
func defaultResponse(stage, prompt string) (string, error) {
	switch stage {
	case "outline":
		return gridOutline, nil
	case "topic_elaboration":
		return "Subtopic: Inertia\nRotating mass resists change.\nSubtopic: Droop\nGovernors share load.", nil
	case "misc":
		return `{"method": "Lecture", "assessment": "Quiz", "learn_objective": "Explain it", "duration": 30}`, nil
	default:
		return fmt.Sprintf("%s for %s", stage, pointOf(prompt)), nil
	}
}

func pointOf(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if v, ok := strings.CutPrefix(line, "point: "); ok {
			return v
		}
	}
	return ""
}

func testLibrary(t *testing.T) *prompts.Library {
	t.Helper()
	dir := t.TempDir()
	for _, stage := range prompts.MustDefault().Stages() {
		body := "stage: " + stage + "\npoint: {{.Point}}\ntopic: {{.Topic}}\nsubject: {{.Subject}}\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, stage+".txt"), []byte(body), 0o644))
	}
	lib, err := prompts.New(dir)
	require.NoError(t, err)
	return lib
}

type harness struct {
	db       *database.DB
	provider *fakeProvider
	orch     *Orchestrator
}

func newHarness(t *testing.T, respond func(stage, prompt string) (string, error), mods ...func(*Deps, *Settings)) *harness {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "kursil.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if respond == nil {
		respond = defaultResponse
	}
	fp := newFakeProvider(respond)
	deps := Deps{
		Store:     db,
		Generator: generate.New(fp, cost.Default(), nil),
		Prompts:   testLibrary(t),
	}
	settings := Settings{Concurrency: 2}
	for _, m := range mods {
		m(&deps, &settings)
	}
	return &harness{db: db, provider: fp, orch: New(deps, settings)}
}

// seedPoints creates a main topic with one topic whose points are already
// elaborated.
func (h *harness) seedPoints(t *testing.T, texts ...string) (mainID, topicID string, pointIDs []string) {
	t.Helper()
	ctx := context.Background()
	mainID, err := h.db.InsertMainTopic(ctx, database.MainTopic{Subject: "Grid Stability", TopicNames: []string{"Frequency Control"}})
	require.NoError(t, err)
	topicID, err = h.db.InsertTopic(ctx, database.Topic{
		MainTopicID:      mainID,
		Name:             "Frequency Control",
		Objective:        "Keep 50 Hz",
		DiscussionPoints: texts,
	})
	require.NoError(t, err)
	for i, text := range texts {
		id, err := h.db.InsertPoint(ctx, topicID, i, text)
		require.NoError(t, err)
		require.NoError(t, h.db.SetPointField(ctx, id, database.FieldElaboration, "About "+text))
		pointIDs = append(pointIDs, id)
	}
	return mainID, topicID, pointIDs
}

var errUpstream = errors.New("upstream exploded")
