package pipeline

import "github.com/TobiSchelling/kursil/internal/apperr"

// Status is the outcome of one step.
type Status string

const (
	StatusGenerated Status = "generated"
	StatusExisting  Status = "existing"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// StepResult reports one stage run on one point, topic or main topic.
type StepResult struct {
	Stage       Stage       `json:"stage"`
	PointID     string      `json:"point_id,omitempty"`
	Point       string      `json:"point,omitempty"`
	TopicID     string      `json:"topic_id,omitempty"`
	MainTopicID string      `json:"main_topic_id,omitempty"`
	Status      Status      `json:"status"`
	Value       string      `json:"value,omitempty"`
	Kind        apperr.Kind `json:"kind,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Cost        float64     `json:"cost,omitempty"`
}

func (r *StepResult) fail(err error) {
	r.Status = StatusFailed
	r.Kind = apperr.KindOf(err)
	r.Reason = err.Error()
}

// BatchResult collects the per-point results of a topic fan-out.
type BatchResult struct {
	TopicID   string       `json:"topic_id"`
	Topic     string       `json:"topic"`
	Stage     Stage        `json:"stage"`
	Items     []StepResult `json:"items"`
	Generated int          `json:"generated"`
	Existing  int          `json:"existing"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Cost      float64      `json:"cost"`
}

func (b *BatchResult) tally() {
	b.Generated, b.Existing, b.Failed, b.Skipped = 0, 0, 0, 0
	for _, it := range b.Items {
		switch it.Status {
		case StatusGenerated:
			b.Generated++
		case StatusExisting:
			b.Existing++
		case StatusFailed:
			b.Failed++
		case StatusSkipped:
			b.Skipped++
		}
		b.Cost += it.Cost
	}
}
