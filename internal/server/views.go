package server

import "github.com/TobiSchelling/kursil/internal/database"

type mainTopicView struct {
	ID                string   `json:"id"`
	Subject           string   `json:"subject"`
	TranslatedSubject string   `json:"translated_subject,omitempty"`
	Cost              float64  `json:"cost"`
	TopicNames        []string `json:"topic_names"`
	ObjectivesSummary string   `json:"objectives_summary,omitempty"`
	HandoutDocument   string   `json:"handout_document,omitempty"`
	KursilDocument    string   `json:"kursil_document,omitempty"`
	SlidesDocument    string   `json:"slides_document,omitempty"`
	AudioURL          string   `json:"audio_url,omitempty"`
	ImageURL          string   `json:"image_url,omitempty"`
	CreatedAt         string   `json:"created_at"`
	UpdatedAt         string   `json:"updated_at"`
}

func newMainTopicView(mt *database.MainTopic) mainTopicView {
	return mainTopicView{
		ID:                mt.ID,
		Subject:           mt.Subject,
		TranslatedSubject: mt.TranslatedSubject,
		Cost:              mt.Cost,
		TopicNames:        mt.TopicNames,
		ObjectivesSummary: mt.ObjectivesSummary,
		HandoutDocument:   mt.HandoutDocument,
		KursilDocument:    mt.KursilDocument,
		SlidesDocument:    mt.SlidesDocument,
		AudioURL:          mt.AudioURL,
		ImageURL:          mt.ImageURL,
		CreatedAt:         mt.CreatedAt,
		UpdatedAt:         mt.UpdatedAt,
	}
}

type topicView struct {
	ID               string   `json:"id"`
	MainTopicID      string   `json:"main_topic_id"`
	Position         int      `json:"position"`
	Name             string   `json:"name"`
	Objective        string   `json:"objective,omitempty"`
	KeyConcepts      string   `json:"key_concepts,omitempty"`
	Skills           string   `json:"skills,omitempty"`
	DiscussionPoints []string `json:"discussion_points"`
	Analogy          string   `json:"analogy,omitempty"`
	Translation      string   `json:"translation,omitempty"`
}

func newTopicView(t *database.Topic) topicView {
	return topicView{
		ID:               t.ID,
		MainTopicID:      t.MainTopicID,
		Position:         t.Position,
		Name:             t.Name,
		Objective:        t.Objective,
		KeyConcepts:      t.KeyConcepts,
		Skills:           t.Skills,
		DiscussionPoints: t.DiscussionPoints,
		Analogy:          t.Analogy,
		Translation:      t.Translation,
	}
}

type pointView struct {
	ID                 string `json:"id"`
	TopicID            string `json:"topic_id"`
	Position           int    `json:"position"`
	Text               string `json:"text"`
	Elaboration        string `json:"elaboration,omitempty"`
	Prompting          string `json:"prompting,omitempty"`
	Handout            string `json:"handout,omitempty"`
	Quiz               string `json:"quiz,omitempty"`
	Method             string `json:"method,omitempty"`
	Assessment         string `json:"assessment,omitempty"`
	LearnObjective     string `json:"learn_objective,omitempty"`
	Duration           string `json:"duration,omitempty"`
	HandoutTranslation string `json:"handout_translation,omitempty"`
	UpdatedAt          string `json:"updated_at"`
}

func newPointView(p *database.Point) pointView {
	return pointView{
		ID:                 p.ID,
		TopicID:            p.TopicID,
		Position:           p.Position,
		Text:               p.Text,
		Elaboration:        p.Elaboration,
		Prompting:          p.Prompting,
		Handout:            p.Handout,
		Quiz:               p.Quiz,
		Method:             p.Method,
		Assessment:         p.Assessment,
		LearnObjective:     p.LearnObjective,
		Duration:           p.Duration,
		HandoutTranslation: p.HandoutTranslation,
		UpdatedAt:          p.UpdatedAt,
	}
}

type costStageView struct {
	Stage        string  `json:"stage"`
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

type costView struct {
	ID      string          `json:"id"`
	Total   float64         `json:"total"`
	ByStage []costStageView `json:"by_stage,omitempty"`
}

func newCostView(id string, total float64, rows []database.CostSummary) costView {
	v := costView{ID: id, Total: total}
	for _, r := range rows {
		v.ByStage = append(v.ByStage, costStageView(r))
	}
	return v
}

type taskAccepted struct {
	TaskID    string `json:"task_id"`
	StatusURL string `json:"status_url"`
	EventsURL string `json:"events_url"`
}

func newTaskAccepted(id string) taskAccepted {
	return taskAccepted{
		TaskID:    id,
		StatusURL: "/api/tasks/" + id,
		EventsURL: "/api/tasks/" + id + "/events",
	}
}
