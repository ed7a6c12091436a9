package database

// MainTopic is one curriculum, created per outline request.
type MainTopic struct {
	ID                string
	Subject           string
	TranslatedSubject string
	Cost              float64
	TopicNames        []string
	ObjectivesSummary string
	HandoutDocument   string
	KursilDocument    string
	SlidesDocument    string
	AudioURL          string
	ImageURL          string
	CreatedAt         string
	UpdatedAt         string
}

// MainTopicUpdate carries the fields to change. Nil fields are left alone.
type MainTopicUpdate struct {
	TranslatedSubject *string
	ObjectivesSummary *string
	HandoutDocument   *string
	KursilDocument    *string
	SlidesDocument    *string
	AudioURL          *string
	ImageURL          *string
}

// Topic is one outline topic under a MainTopic.
type Topic struct {
	ID               string
	MainTopicID      string
	Position         int
	Name             string
	Objective        string
	KeyConcepts      string
	Skills           string
	DiscussionPoints []string
	Analogy          string
	Translation      string
	CreatedAt        string
}

// Point is one discussion point and its generated stage outputs.
type Point struct {
	ID                 string
	TopicID            string
	Position           int
	Text               string
	Elaboration        string
	Prompting          string
	Handout            string
	Quiz               string
	Method             string
	Assessment         string
	LearnObjective     string
	Duration           string
	HandoutTranslation string
	CreatedAt          string
	UpdatedAt          string
}

// Field returns the value of the named point field.
func (p *Point) Field(f PointField) string {
	switch f {
	case FieldElaboration:
		return p.Elaboration
	case FieldPrompting:
		return p.Prompting
	case FieldHandout:
		return p.Handout
	case FieldQuiz:
		return p.Quiz
	case FieldMethod:
		return p.Method
	case FieldAssessment:
		return p.Assessment
	case FieldLearnObjective:
		return p.LearnObjective
	case FieldDuration:
		return p.Duration
	case FieldHandoutTranslation:
		return p.HandoutTranslation
	default:
		return ""
	}
}

// PointField names a writable stage column on points.
type PointField string

const (
	FieldElaboration        PointField = "elaboration"
	FieldPrompting          PointField = "prompting"
	FieldHandout            PointField = "handout"
	FieldQuiz               PointField = "quiz"
	FieldMethod             PointField = "method"
	FieldAssessment         PointField = "assessment"
	FieldLearnObjective     PointField = "learn_objective"
	FieldDuration           PointField = "duration"
	FieldHandoutTranslation PointField = "handout_translation"
)

// TopicField names a writable column on topics.
type TopicField string

const (
	FieldAnalogy     TopicField = "analogy"
	FieldTranslation TopicField = "translation"
)

// CostEntry is one append-only ledger row.
type CostEntry struct {
	ID           string
	CreatedAt    string
	TopicID      string
	MainTopicID  string
	Label        string
	Stage        string
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// CostSummary aggregates ledger rows per stage.
type CostSummary struct {
	Stage        string
	Calls        int
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// HandoutChunk is an embedded slice of a handout used for retrieval.
type HandoutChunk struct {
	ID          string
	MainTopicID string
	PointID     string
	Position    int
	Content     string
	Embedding   []float64
	Model       string
}

// Stats holds row counts for the status command.
type Stats struct {
	MainTopics  int
	Topics      int
	Points      int
	Handouts    int
	CostEntries int
	TotalCost   float64
}
