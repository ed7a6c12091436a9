package pipeline

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/database"
	"github.com/TobiSchelling/kursil/internal/docgen"
	"github.com/TobiSchelling/kursil/internal/fetch"
	"github.com/TobiSchelling/kursil/internal/media"
	"github.com/TobiSchelling/kursil/internal/progress"
)

func TestGridStabilityEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	out, err := h.orch.CreateOutline(ctx, OutlineRequest{Subject: "Grid Stability"})
	require.NoError(t, err)
	require.Len(t, out.Topics, 2)
	assert.Equal(t, "Frequency Control", out.Topics[0].Name)
	assert.Equal(t, []string{"Inertia", "Droop"}, out.Topics[0].Points)
	assert.Positive(t, out.Cost)

	topicID := out.Topics[0].ID
	br, err := h.orch.ElaborateTopic(ctx, topicID)
	require.NoError(t, err)
	assert.Equal(t, 2, br.Generated)
	assert.Equal(t, 1, h.provider.count("topic_elaboration"))
	assert.Zero(t, h.provider.count("elaboration"), "bulk sections matched every point")

	results, err := h.orch.RunTopic(ctx, topicID)
	require.NoError(t, err)
	require.Len(t, results, len(FullRun))
	for _, r := range results[1:] {
		assert.Equal(t, 2, r.Generated, "stage %s", r.Stage)
	}
	assert.Equal(t, 2, results[0].Existing)

	points, err := h.db.GetPointsByTopic(ctx, topicID)
	require.NoError(t, err)
	require.Len(t, points, 2)
	p := points[0]
	assert.Equal(t, "Rotating mass resists change.", p.Elaboration)
	assert.Equal(t, "prompting for Inertia", p.Prompting)
	assert.Equal(t, "handout for Inertia", p.Handout)
	assert.Equal(t, "quiz for Inertia", p.Quiz)
	assert.Equal(t, "Lecture", p.Method)
	assert.Equal(t, "30", p.Duration)
	assert.Equal(t, "translation for Inertia", p.HandoutTranslation)

	mt, err := h.db.GetMainTopic(ctx, out.MainTopicID)
	require.NoError(t, err)
	sum, err := h.db.SumCostByMainTopic(ctx, out.MainTopicID)
	require.NoError(t, err)
	assert.InDelta(t, sum, mt.Cost, 1e-6, "main topic cost matches the ledger")
}

const gridOutlineThreePoints = `1. **Topic Title:** Frequency Control
   - **Objective:** Keep the grid at 50 Hz.
   - **Point of Discussion:**
     - Inertia
     - Droop
     - Reserves

2. **Topic Title:** Voltage Stability
   - **Objective:** Explain voltage collapse.
   - **Point of Discussion:**
     - Reactive power
     - Tap changers
     - Load shedding
`

func TestGridStabilityScenario(t *testing.T) {
	h := newHarness(t, func(stage, prompt string) (string, error) {
		switch stage {
		case "outline":
			return gridOutlineThreePoints, nil
		case "topic_elaboration":
			return "Subtopic: Inertia\nRotating mass.\nSubtopic: Droop\nLoad sharing.\nSubtopic: Reserves\nHeadroom.", nil
		}
		return defaultResponse(stage, prompt)
	})
	ctx := context.Background()

	out, err := h.orch.CreateOutline(ctx, OutlineRequest{Subject: "Grid Stability"})
	require.NoError(t, err)
	require.Len(t, out.Topics, 2)
	for _, tp := range out.Topics {
		assert.Len(t, tp.Points, 3, "topic %s", tp.Name)
	}
	topicID := out.Topics[0].ID

	br, err := h.orch.ElaborateTopic(ctx, topicID)
	require.NoError(t, err)
	assert.Equal(t, 3, br.Generated)
	points, err := h.db.GetPointsByTopic(ctx, topicID)
	require.NoError(t, err)
	require.Len(t, points, 3)
	for _, p := range points {
		assert.NotEmpty(t, p.Elaboration)
		assert.Empty(t, p.Prompting)
	}

	br, err = h.orch.AdvanceTopic(ctx, topicID, StageHandout)
	require.NoError(t, err)
	assert.Equal(t, 3, br.Failed)
	for _, it := range br.Items {
		assert.Equal(t, apperr.KindPrerequisiteMissing, it.Kind, "point %s", it.Point)
	}

	br, err = h.orch.AdvanceTopic(ctx, topicID, StagePrompting)
	require.NoError(t, err)
	assert.Equal(t, 3, br.Generated)
	br, err = h.orch.AdvanceTopic(ctx, topicID, StageHandout)
	require.NoError(t, err)
	assert.Equal(t, 3, br.Generated)

	points, err = h.db.GetPointsByTopic(ctx, topicID)
	require.NoError(t, err)
	for _, p := range points {
		assert.NotEmpty(t, p.Handout, "point %s", p.Text)
	}

	topicCost, err := h.db.SumCostByTopic(ctx, topicID)
	require.NoError(t, err)
	assert.Positive(t, topicCost)
}

func TestAdvancePointIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	mainID, _, ids := h.seedPoints(t, "Inertia")

	first, err := h.orch.AdvancePoint(ctx, ids[0], StagePrompting)
	require.NoError(t, err)
	assert.Equal(t, StatusGenerated, first.Status)
	assert.Positive(t, first.Cost)

	second, err := h.orch.AdvancePoint(ctx, ids[0], StagePrompting)
	require.NoError(t, err)
	assert.Equal(t, StatusExisting, second.Status)
	assert.Equal(t, first.Value, second.Value)
	assert.Zero(t, second.Cost)
	assert.Equal(t, 1, h.provider.count("prompting"))

	entries, err := h.db.GetCostEntries(ctx, mainID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAdvancePointPrerequisiteMissing(t *testing.T) {
	h := newHarness(t, nil)
	_, _, ids := h.seedPoints(t, "Inertia")

	res, err := h.orch.AdvancePoint(context.Background(), ids[0], StageHandout)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPrerequisiteMissing))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, apperr.KindPrerequisiteMissing, res.Kind)
	assert.Zero(t, h.provider.total(), "no generation call without the prerequisite")
}

func TestAdvancePointNotFound(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.orch.AdvancePoint(context.Background(), "missing", StagePrompting)
	assert.True(t, apperr.Is(err, apperr.KindPointNotFound))

	_, err = h.orch.AdvancePoint(context.Background(), "missing", Stage("bogus"))
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
}

func TestAdvanceTopicFailuresAreIndependent(t *testing.T) {
	h := newHarness(t, func(stage, prompt string) (string, error) {
		if pointOf(prompt) == "Droop" {
			return "", errUpstream
		}
		return defaultResponse(stage, prompt)
	})
	_, topicID, _ := h.seedPoints(t, "Inertia", "Droop", "Reserves")

	br, err := h.orch.AdvanceTopic(context.Background(), topicID, StagePrompting)
	require.NoError(t, err)
	require.Len(t, br.Items, 3)
	assert.Equal(t, 2, br.Generated)
	assert.Equal(t, 1, br.Failed)
	assert.Equal(t, "Droop", br.Items[1].Point)
	assert.Equal(t, StatusFailed, br.Items[1].Status)
	assert.Equal(t, apperr.KindUpstreamUnavailable, br.Items[1].Kind)
	assert.Equal(t, StatusGenerated, br.Items[2].Status)
}

func TestAdvanceTopicNotFound(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.orch.AdvanceTopic(context.Background(), "missing", StagePrompting)
	assert.True(t, apperr.Is(err, apperr.KindTopicNotFound))
}

func TestElaborateTopicFallsBackPerPoint(t *testing.T) {
	h := newHarness(t, func(stage, prompt string) (string, error) {
		if stage == "topic_elaboration" {
			return "Subtopic: Inertia\nRotating mass resists change.", nil
		}
		return defaultResponse(stage, prompt)
	})
	ctx := context.Background()
	mainID, err := h.db.InsertMainTopic(ctx, database.MainTopic{Subject: "Grid Stability"})
	require.NoError(t, err)
	topicID, err := h.db.InsertTopic(ctx, database.Topic{MainTopicID: mainID, Name: "Frequency Control", DiscussionPoints: []string{"Inertia", "Droop"}})
	require.NoError(t, err)

	var reported []int
	br, err := h.orch.ElaborateTopic(ctx, topicID, WithReport(func(_ StepResult, completed, total int) {
		assert.Equal(t, 2, total)
		reported = append(reported, completed)
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, br.Generated)
	assert.Equal(t, []int{1, 2}, reported)
	assert.Equal(t, 1, h.provider.count("elaboration"))
	assert.Equal(t, "elaboration for Droop", br.Items[1].Value)
}

func TestElaborateTopicConcurrentCallsElaborateOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	mainID, err := h.db.InsertMainTopic(ctx, database.MainTopic{Subject: "Grid Stability"})
	require.NoError(t, err)
	topicID, err := h.db.InsertTopic(ctx, database.Topic{MainTopicID: mainID, Name: "Frequency Control", DiscussionPoints: []string{"Inertia", "Droop"}})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		results [2]BatchResult
	)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			br, err := h.orch.ElaborateTopic(ctx, topicID)
			assert.NoError(t, err)
			results[i] = br
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.provider.count("topic_elaboration"))
	assert.Zero(t, h.provider.count("elaboration"))
	assert.Equal(t, 2, results[0].Generated+results[1].Generated)
	assert.Equal(t, 2, results[0].Existing+results[1].Existing)

	points, err := h.db.GetPointsByTopic(ctx, topicID)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "Rotating mass resists change.", points[0].Elaboration)
}

func TestBulkElaborationKeepsExistingText(t *testing.T) {
	h := newHarness(t, nil)
	_, topicID, ids := h.seedPoints(t, "Inertia")
	topic, err := h.db.GetTopic(context.Background(), topicID)
	require.NoError(t, err)

	res := h.orch.storeBulkElaboration(context.Background(), topic, ids[0], "Inertia", "Replacement text.")
	assert.Equal(t, StatusExisting, res.Status)
	assert.Equal(t, "About Inertia", res.Value)

	p, err := h.db.GetPoint(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, "About Inertia", p.Elaboration)
}

func TestOutlineWithoutTopicsPersistsNothing(t *testing.T) {
	h := newHarness(t, func(string, string) (string, error) {
		return "I cannot help with that.", nil
	})
	ctx := context.Background()

	_, err := h.orch.CreateOutline(ctx, OutlineRequest{Subject: "Grid Stability"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindParseAmbiguous))

	mts, err := h.db.ListMainTopics(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, mts)

	_, err = h.orch.CreateOutline(ctx, OutlineRequest{Subject: "  "})
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
}

type stubFetcher struct{ urls []string }

func (s *stubFetcher) FetchAll(_ context.Context, urls []string) []fetch.Reference {
	s.urls = urls
	return []fetch.Reference{{URL: urls[0], Title: "Grid codes", Text: "Frequency must stay within limits."}}
}

func TestCreateOutlineWithReferences(t *testing.T) {
	f := &stubFetcher{}
	h := newHarness(t, nil, func(d *Deps, _ *Settings) { d.Fetcher = f })

	out, err := h.orch.CreateOutline(context.Background(), OutlineRequest{
		Subject:       "Grid Stability",
		ReferenceURLs: []string{"https://example.com/grid"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.References)
	assert.Equal(t, []string{"https://example.com/grid"}, f.urls)
}

func TestMiscFillsOnlyEmptyFields(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, _, ids := h.seedPoints(t, "Inertia")
	require.NoError(t, h.db.SetPointFields(ctx, ids[0], map[database.PointField]string{
		database.FieldPrompting: "p",
		database.FieldHandout:   "h",
		database.FieldMethod:    "Workshop",
	}))

	res, err := h.orch.AdvancePoint(ctx, ids[0], StageMisc)
	require.NoError(t, err)
	assert.Equal(t, StatusGenerated, res.Status)

	p, err := h.db.GetPoint(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "Workshop", p.Method, "filled fields are kept")
	assert.Equal(t, "Quiz", p.Assessment)
	assert.Equal(t, "Explain it", p.LearnObjective)
	assert.Equal(t, "30", p.Duration)
}

func TestMiscUnparseableRecordsCost(t *testing.T) {
	h := newHarness(t, func(string, string) (string, error) { return "no json here", nil })
	ctx := context.Background()
	mainID, _, ids := h.seedPoints(t, "Inertia")
	require.NoError(t, h.db.SetPointFields(ctx, ids[0], map[database.PointField]string{
		database.FieldPrompting: "p",
		database.FieldHandout:   "h",
	}))

	res, err := h.orch.AdvancePoint(ctx, ids[0], StageMisc)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, apperr.KindParseAmbiguous, res.Kind)

	entries, err := h.db.GetCostEntries(ctx, mainID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAdvanceTopicCancellationSkipsRemaining(t *testing.T) {
	h := newHarness(t, nil, func(_ *Deps, s *Settings) { s.Concurrency = 1 })
	_, topicID, _ := h.seedPoints(t, "Inertia", "Droop", "Reserves")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	br, err := h.orch.AdvanceTopic(ctx, topicID, StagePrompting, WithReport(func(item StepResult, _, _ int) {
		if item.Point == "Inertia" {
			cancel()
		}
	}))
	require.NoError(t, err)
	require.Len(t, br.Items, 3)

	assert.Equal(t, StatusGenerated, br.Items[0].Status)
	assert.Equal(t, StatusSkipped, br.Items[2].Status)
	assert.Equal(t, "cancelled", br.Items[2].Reason)
	seenSkip := false
	for _, it := range br.Items {
		if it.Status == StatusSkipped {
			seenSkip = true
			continue
		}
		assert.False(t, seenSkip, "no item runs after a skipped one")
	}
	assert.Equal(t, 3, br.Generated+br.Skipped)
}

// recordingTracker captures published events.
type recordingTracker struct {
	*progress.MemoryTracker
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingTracker) Publish(ctx context.Context, ev progress.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return r.MemoryTracker.Publish(ctx, ev)
}

func TestSubmitTopicStageReportsProgress(t *testing.T) {
	h := newHarness(t, nil)
	_, topicID, ids := h.seedPoints(t, "Inertia", "Droop", "Reserves")

	tracker := &recordingTracker{MemoryTracker: progress.NewMemoryTracker()}
	runner := NewRunner(tracker, time.Minute, nil)

	taskID, err := h.orch.SubmitTopicStage(context.Background(), runner, topicID, StagePrompting)
	require.NoError(t, err)
	runner.Wait()

	tracker.mu.Lock()
	events := append([]progress.Event(nil), tracker.events...)
	tracker.mu.Unlock()
	require.Len(t, events, 3)
	seen := map[string]bool{}
	for _, ev := range events {
		assert.Equal(t, taskID, ev.TaskID)
		seen[ev.PointID] = true
	}
	for _, id := range ids {
		assert.True(t, seen[id])
	}
	maxPct := 0.0
	for _, ev := range events {
		maxPct = max(maxPct, ev.Percent)
	}
	assert.InDelta(t, 100, maxPct, 1e-9)

	task, err := tracker.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusCompleted, task.Status)
	assert.Equal(t, 3, task.Completed)
	require.NotNil(t, task.LastEvent)
	assert.True(t, task.LastEvent.Done)
	assert.InDelta(t, 100, task.LastEvent.Percent, 1e-9)
}

func TestSubmitTopicStageSizesPartialTopic(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	mainID, err := h.db.InsertMainTopic(ctx, database.MainTopic{Subject: "Grid Stability"})
	require.NoError(t, err)
	topicID, err := h.db.InsertTopic(ctx, database.Topic{
		MainTopicID:      mainID,
		Name:             "Frequency Control",
		DiscussionPoints: []string{"Inertia", "Droop", "Reserves"},
	})
	require.NoError(t, err)
	for i, text := range []string{"Inertia", "Droop"} {
		id, err := h.db.InsertPoint(ctx, topicID, i, text)
		require.NoError(t, err)
		require.NoError(t, h.db.SetPointField(ctx, id, database.FieldElaboration, "About "+text))
	}

	tracker := &recordingTracker{MemoryTracker: progress.NewMemoryTracker()}
	runner := NewRunner(tracker, time.Minute, nil)
	taskID, err := h.orch.SubmitTopicStage(ctx, runner, topicID, StagePrompting)
	require.NoError(t, err)
	runner.Wait()

	task, err := tracker.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, 2, task.Total)
	assert.Equal(t, 2, task.Completed)

	tracker.mu.Lock()
	events := append([]progress.Event(nil), tracker.events...)
	tracker.mu.Unlock()
	require.Len(t, events, 2)

	topic, err := h.db.GetTopic(ctx, topicID)
	require.NoError(t, err)
	points, err := h.db.GetPointsByTopic(ctx, topicID)
	require.NoError(t, err)
	assert.Equal(t, 3, batchSize(topic, points, StageElaboration))
	assert.Equal(t, 2, batchSize(topic, points, StageHandout))
}

func TestSubmitTopicStageUnknownTopic(t *testing.T) {
	h := newHarness(t, nil)
	runner := NewRunner(progress.NewMemoryTracker(), 0, nil)

	_, err := h.orch.SubmitTopicStage(context.Background(), runner, "missing", StagePrompting)
	assert.True(t, apperr.Is(err, apperr.KindTopicNotFound))

	_, err = h.orch.SubmitTopicStage(context.Background(), runner, "missing", StageAnalogy)
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
}

func TestRunnerRecordsFailure(t *testing.T) {
	tracker := progress.NewMemoryTracker()
	runner := NewRunner(tracker, 0, nil)

	id, err := runner.Submit(context.Background(), "test", 0, func(context.Context, func(progress.Event)) (any, error) {
		return nil, errUpstream
	})
	require.NoError(t, err)
	runner.Wait()

	task, err := tracker.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusFailed, task.Status)
	assert.Equal(t, errUpstream.Error(), task.Error)
}

func TestAdvanceTopicStage(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, topicID, _ := h.seedPoints(t, "Inertia")

	res, err := h.orch.AdvanceTopicStage(ctx, topicID, StageAnalogy)
	require.NoError(t, err)
	assert.Equal(t, StatusGenerated, res.Status)

	again, err := h.orch.AdvanceTopicStage(ctx, topicID, StageAnalogy)
	require.NoError(t, err)
	assert.Equal(t, StatusExisting, again.Status)
	assert.Equal(t, 1, h.provider.count("analogy"))

	tr, err := h.orch.AdvanceTopicStage(ctx, topicID, StageTopicTranslation)
	require.NoError(t, err)
	assert.Equal(t, StatusGenerated, tr.Status)

	topic, err := h.db.GetTopic(ctx, topicID)
	require.NoError(t, err)
	assert.NotEmpty(t, topic.Analogy)
	assert.NotEmpty(t, topic.Translation)

	_, err = h.orch.AdvanceTopicStage(ctx, topicID, StageQuiz)
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
}

func TestMainTopicTextStages(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	mainID, _, _ := h.seedPoints(t, "Inertia")

	res, err := h.orch.TranslateSubject(ctx, mainID)
	require.NoError(t, err)
	assert.Equal(t, StatusGenerated, res.Status)

	sum, err := h.orch.SummarizeObjectives(ctx, mainID)
	require.NoError(t, err)
	assert.Equal(t, StatusGenerated, sum.Status)

	mt, err := h.db.GetMainTopic(ctx, mainID)
	require.NoError(t, err)
	assert.Equal(t, res.Value, mt.TranslatedSubject)
	assert.Equal(t, sum.Value, mt.ObjectivesSummary)

	again, err := h.orch.TranslateSubject(ctx, mainID)
	require.NoError(t, err)
	assert.Equal(t, StatusExisting, again.Status)
	assert.Equal(t, 1, h.provider.count("subject_translation"))

	empty, err := h.db.InsertMainTopic(ctx, database.MainTopic{Subject: "Empty"})
	require.NoError(t, err)
	_, err = h.orch.SummarizeObjectives(ctx, empty)
	assert.True(t, apperr.Is(err, apperr.KindPrerequisiteMissing))

	_, err = h.orch.TranslateSubject(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.KindMainTopicNotFound))
}

type fakeImages struct{ prompt string }

func (f *fakeImages) GenerateImage(_ context.Context, prompt string, _ media.ImageOptions) ([]byte, error) {
	f.prompt = prompt
	return []byte("png-bytes"), nil
}

type fakeSpeech struct{ text string }

func (f *fakeSpeech) Synthesize(_ context.Context, text string, _ media.SpeechOptions) ([]byte, error) {
	f.text = text
	return []byte("mp3-bytes"), nil
}

func TestCoverAndNarration(t *testing.T) {
	img := &fakeImages{}
	sp := &fakeSpeech{}
	dir := t.TempDir()
	h := newHarness(t, nil, func(d *Deps, _ *Settings) {
		d.Images = img
		d.Speech = sp
		d.Uploader = media.NewLocalUploader(dir, "https://cdn.example.com")
	})
	h.orch.now = func() time.Time { return time.Date(2024, 5, 17, 8, 30, 0, 0, time.UTC) }
	ctx := context.Background()
	mainID, _, _ := h.seedPoints(t, "Inertia")

	cover, err := h.orch.GenerateCover(ctx, mainID)
	require.NoError(t, err)
	require.Equal(t, StatusGenerated, cover.Status)
	assert.Equal(t, "https://cdn.example.com/kursil/webresources/grid_stability_20240517083000.png", cover.Value)
	assert.Equal(t, "image_prompt for", img.prompt)
	assert.Positive(t, cover.Cost)

	again, err := h.orch.GenerateCover(ctx, mainID)
	require.NoError(t, err)
	assert.Equal(t, StatusExisting, again.Status)

	narr, err := h.orch.GenerateNarration(ctx, mainID, "Welcome to the course.")
	require.NoError(t, err)
	require.Equal(t, StatusGenerated, narr.Status)
	assert.Equal(t, "Welcome to the course.", sp.text)
	assert.Zero(t, h.provider.count("narration"), "explicit text skips the script call")
	assert.True(t, strings.HasSuffix(narr.Value, ".mp3"))

	mt, err := h.db.GetMainTopic(ctx, mainID)
	require.NoError(t, err)
	assert.Equal(t, cover.Value, mt.ImageURL)
	assert.Equal(t, narr.Value, mt.AudioURL)
}

func TestCoverWithoutMediaFails(t *testing.T) {
	h := newHarness(t, nil)
	mainID, _, _ := h.seedPoints(t, "Inertia")

	res, err := h.orch.GenerateCover(context.Background(), mainID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, apperr.KindUpstreamUnavailable, res.Kind)
	assert.Zero(t, h.provider.total())
}

func TestExportDocument(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, nil, func(d *Deps, _ *Settings) {
		d.Assemblers = []docgen.Assembler{docgen.NewHandoutWord(dir), docgen.NewKursilWord(dir)}
	})
	ctx := context.Background()

	emptyMain, err := h.db.InsertMainTopic(ctx, database.MainTopic{Subject: "Empty"})
	require.NoError(t, err)
	emptyTopic, err := h.db.InsertTopic(ctx, database.Topic{MainTopicID: emptyMain, Name: "T", DiscussionPoints: []string{"x"}})
	require.NoError(t, err)
	_, err = h.db.InsertPoint(ctx, emptyTopic, 0, "x")
	require.NoError(t, err)
	_, err = h.orch.ExportDocument(ctx, emptyMain, docgen.KindHandout)
	assert.True(t, apperr.Is(err, apperr.KindPrerequisiteMissing))

	mainID, _, _ := h.seedPoints(t, "Inertia")
	res, err := h.orch.ExportDocument(ctx, mainID, docgen.KindHandout)
	require.NoError(t, err)
	assert.Equal(t, res.Path, res.Locator)
	_, err = os.Stat(res.Path)
	require.NoError(t, err)

	mt, err := h.db.GetMainTopic(ctx, mainID)
	require.NoError(t, err)
	assert.Equal(t, res.Locator, mt.HandoutDocument)

	_, err = h.orch.ExportDocument(ctx, mainID, docgen.KindSlides)
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest), "no slides assembler configured")

	doc, err := h.orch.BuildDocument(ctx, mainID)
	require.NoError(t, err)
	require.Len(t, doc.Topics, 1)
	assert.Equal(t, "About Inertia", doc.Topics[0].Points[0].Body, "elaboration stands in for a missing handout")
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	var k keyedMutex
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock("p1")
			unlock()
		}()
	}
	wg.Wait()
	assert.Empty(t, k.locks)
}
