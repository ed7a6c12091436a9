package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedStagesPresent(t *testing.T) {
	lib := MustDefault()
	for _, stage := range []string{
		"outline", "elaboration", "topic_elaboration", "prompting", "handout",
		"quiz", "misc", "method", "assessment", "learn_objective", "duration",
		"translation", "analogy", "topic_translation", "subject_translation",
		"objectives_summary", "image_prompt", "narration", "answer",
	} {
		assert.True(t, lib.Has(stage), stage)
	}
}

func TestRenderOutlineWithReferences(t *testing.T) {
	lib := MustDefault()
	system, prompt, err := lib.Render("outline", Data{
		Subject:    "Grid Stability",
		References: []Reference{{URL: "https://example.com/a", Title: "Inertia", Text: "Rotating mass matters."}},
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultSystemRole, system)
	assert.Contains(t, prompt, `"Grid Stability"`)
	assert.Contains(t, prompt, "Rotating mass matters.")
	assert.Contains(t, prompt, "**Topic Title:**")
}

func TestRenderTopicElaborationListsPoints(t *testing.T) {
	_, prompt, err := MustDefault().Render("topic_elaboration", Data{
		Topic:  "Frequency Control",
		Points: []string{"Primary response", "Secondary response"},
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "- Primary response\n- Secondary response")
}

func TestRenderUnknownStage(t *testing.T) {
	_, _, err := MustDefault().Render("nope", Data{})
	assert.Error(t, err)
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quiz.txt"), []byte("Quiz on {{.Point}}"), 0o644))

	lib, err := New(dir)
	require.NoError(t, err)

	_, prompt, err := lib.Render("quiz", Data{Point: "Inertia"})
	require.NoError(t, err)
	assert.Equal(t, "Quiz on Inertia", prompt)
	assert.True(t, lib.Has("handout"))
}

func TestOverrideParseError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quiz.txt"), []byte("{{.Point"), 0o644))
	_, err := New(dir)
	assert.Error(t, err)
}

func TestSystemRolePerStage(t *testing.T) {
	assert.Contains(t, SystemRole("translation"), "translator")
	assert.Equal(t, DefaultSystemRole, SystemRole("handout"))
}
