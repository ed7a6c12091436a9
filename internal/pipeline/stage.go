package pipeline

import (
	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/database"
)

// Stage names one generation step.
type Stage string

const (
	StageOutline            Stage = "outline"
	StageElaboration        Stage = "elaboration"
	StagePrompting          Stage = "prompting"
	StageHandout            Stage = "handout"
	StageQuiz               Stage = "quiz"
	StageMisc               Stage = "misc"
	StageMethod             Stage = "method"
	StageAssessment         Stage = "assessment"
	StageLearnObjective     Stage = "learn_objective"
	StageDuration           Stage = "duration"
	StageTranslation        Stage = "translation"
	StageAnalogy            Stage = "analogy"
	StageTopicTranslation   Stage = "topic_translation"
	StageSubjectTranslation Stage = "subject_translation"
	StageObjectivesSummary  Stage = "objectives_summary"
	StageImage              Stage = "image"
	StageSpeech             Stage = "speech"
)

type pointStage struct {
	targets  []database.PointField
	requires database.PointField
}

var miscFields = []database.PointField{
	database.FieldMethod,
	database.FieldAssessment,
	database.FieldLearnObjective,
	database.FieldDuration,
}

var pointStages = map[Stage]pointStage{
	StageElaboration:    {targets: []database.PointField{database.FieldElaboration}},
	StagePrompting:      {targets: []database.PointField{database.FieldPrompting}, requires: database.FieldElaboration},
	StageHandout:        {targets: []database.PointField{database.FieldHandout}, requires: database.FieldPrompting},
	StageQuiz:           {targets: []database.PointField{database.FieldQuiz}, requires: database.FieldHandout},
	StageMisc:           {targets: miscFields, requires: database.FieldHandout},
	StageMethod:         {targets: []database.PointField{database.FieldMethod}, requires: database.FieldHandout},
	StageAssessment:     {targets: []database.PointField{database.FieldAssessment}, requires: database.FieldHandout},
	StageLearnObjective: {targets: []database.PointField{database.FieldLearnObjective}, requires: database.FieldHandout},
	StageDuration:       {targets: []database.PointField{database.FieldDuration}, requires: database.FieldHandout},
	StageTranslation:    {targets: []database.PointField{database.FieldHandoutTranslation}, requires: database.FieldHandout},
}

var topicStages = map[Stage]database.TopicField{
	StageAnalogy:          database.FieldAnalogy,
	StageTopicTranslation: database.FieldTranslation,
}

// FullRun is the point stage order used when running a topic end to end.
var FullRun = []Stage{
	StageElaboration,
	StagePrompting,
	StageHandout,
	StageQuiz,
	StageMisc,
	StageTranslation,
}

// PointStages lists the stages AdvancePoint accepts, in graph order.
func PointStages() []Stage {
	return []Stage{
		StageElaboration, StagePrompting, StageHandout, StageQuiz, StageMisc,
		StageMethod, StageAssessment, StageLearnObjective, StageDuration, StageTranslation,
	}
}

// IsPointStage reports whether s runs on a single point.
func IsPointStage(s Stage) bool {
	_, ok := pointStages[s]
	return ok
}

// IsTopicStage reports whether s runs on a topic as a whole.
func IsTopicStage(s Stage) bool {
	_, ok := topicStages[s]
	return ok
}

// ParsePointStage validates a point stage name.
func ParsePointStage(name string) (Stage, error) {
	s := Stage(name)
	if !IsPointStage(s) {
		return "", apperr.Newf(apperr.KindInvalidRequest, "unknown point stage %q", name)
	}
	return s, nil
}

// ParseTopicStage validates a stage name accepted at topic level: any point
// stage (fanned out) or a topic stage.
func ParseTopicStage(name string) (Stage, error) {
	s := Stage(name)
	if !IsPointStage(s) && !IsTopicStage(s) {
		return "", apperr.Newf(apperr.KindInvalidRequest, "unknown topic stage %q", name)
	}
	return s, nil
}

// Prerequisite returns the field a point stage requires, or "".
func Prerequisite(s Stage) database.PointField {
	return pointStages[s].requires
}
