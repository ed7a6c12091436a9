// Package mcp exposes the curriculum pipeline as MCP tools for assistant
// clients.
package mcp

import (
	"context"
	"fmt"
	"strings"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/database"
	"github.com/TobiSchelling/kursil/internal/logger"
	"github.com/TobiSchelling/kursil/internal/pipeline"
)

// Server wraps the orchestrator and exposes it as MCP tools.
type Server struct {
	server *gomcp.Server
	db     *database.DB
	orch   *pipeline.Orchestrator
	log    *logger.Logger
}

// NewServer creates an MCP server over the given store and orchestrator.
func NewServer(db *database.DB, orch *pipeline.Orchestrator, version string, log *logger.Logger) *Server {
	if version == "" {
		version = "dev"
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{db: db, orch: orch, log: log.With("component", "mcp")}
	s.server = gomcp.NewServer(&gomcp.Implementation{Name: "kursil", Version: version}, nil)
	s.registerTools()
	return s
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying server for tests.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

type generateOutlineInput struct {
	Subject       string   `json:"subject" jsonschema:"the course subject to outline"`
	ReferenceURLs []string `json:"reference_urls,omitempty" jsonschema:"web pages to ground the outline on"`
}

type topicInput struct {
	TopicID string `json:"topic_id" jsonschema:"the topic identifier"`
}

type advanceTopicStageInput struct {
	TopicID string `json:"topic_id" jsonschema:"the topic identifier"`
	Stage   string `json:"stage" jsonschema:"a point stage (e.g. prompting, handout, quiz) or a topic stage (analogy, topic_translation)"`
}

type advancePointStageInput struct {
	PointID string `json:"point_id" jsonschema:"the discussion point identifier"`
	Stage   string `json:"stage" jsonschema:"elaboration, prompting, handout, quiz, misc, method, assessment, learn_objective, duration or translation"`
}

type pointInput struct {
	PointID string `json:"point_id" jsonschema:"the discussion point identifier"`
}

// topicStageOutput carries a batch for point stages or a single result for
// topic stages.
type topicStageOutput struct {
	Batch  *pipeline.BatchResult `json:"batch,omitempty"`
	Result *pipeline.StepResult  `json:"result,omitempty"`
}

type pointOutput struct {
	ID                 string `json:"id"`
	TopicID            string `json:"topic_id"`
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
}

type costReportInput struct {
	MainTopicID string `json:"main_topic_id" jsonschema:"the main topic identifier"`
}

type stageCost struct {
	Stage        string  `json:"stage"`
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

type costReportOutput struct {
	MainTopicID string      `json:"main_topic_id"`
	Subject     string      `json:"subject"`
	Total       float64     `json:"total"`
	Ledger      float64     `json:"ledger"`
	ByStage     []stageCost `json:"by_stage"`
}

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "generate_outline",
		Description: "Generate and store a course outline for a subject. Returns the main topic id and the created topics with their discussion points.",
	}, s.handleGenerateOutline)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "elaborate_topic",
		Description: "Elaborate every discussion point of a topic, creating point rows as needed. Already elaborated points are left alone.",
	}, s.handleElaborateTopic)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "advance_topic_stage",
		Description: "Run a point stage over every point of a topic, or a topic-level stage (analogy, topic_translation) on the topic itself.",
	}, s.handleAdvanceTopicStage)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "advance_point_stage",
		Description: "Run one stage on one discussion point. Returns the existing value when the stage output is already present.",
	}, s.handleAdvancePointStage)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_point",
		Description: "Get a discussion point with all generated stage outputs.",
	}, s.handleGetPoint)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "cost_report",
		Description: "Report the accumulated generation cost of a main topic, broken down by stage.",
	}, s.handleCostReport)
}

func (s *Server) handleGenerateOutline(ctx context.Context, _ *gomcp.CallToolRequest, input generateOutlineInput) (*gomcp.CallToolResult, pipeline.OutlineResult, error) {
	res, err := s.orch.CreateOutline(ctx, pipeline.OutlineRequest{Subject: input.Subject, ReferenceURLs: input.ReferenceURLs})
	if err != nil {
		return s.errorResult("generating outline", err), pipeline.OutlineResult{}, nil
	}
	return nil, *res, nil
}

func (s *Server) handleElaborateTopic(ctx context.Context, _ *gomcp.CallToolRequest, input topicInput) (*gomcp.CallToolResult, pipeline.BatchResult, error) {
	if strings.TrimSpace(input.TopicID) == "" {
		return textError("topic_id is required"), pipeline.BatchResult{}, nil
	}
	br, err := s.orch.ElaborateTopic(ctx, input.TopicID)
	if err != nil {
		return s.errorResult("elaborating topic "+input.TopicID, err), pipeline.BatchResult{}, nil
	}
	return nil, br, nil
}

func (s *Server) handleAdvanceTopicStage(ctx context.Context, _ *gomcp.CallToolRequest, input advanceTopicStageInput) (*gomcp.CallToolResult, topicStageOutput, error) {
	if strings.TrimSpace(input.TopicID) == "" {
		return textError("topic_id is required"), topicStageOutput{}, nil
	}
	stage := pipeline.Stage(strings.TrimSpace(input.Stage))
	if pipeline.IsTopicStage(stage) {
		res, err := s.orch.AdvanceTopicStage(ctx, input.TopicID, stage)
		if err != nil {
			return s.errorResult("advancing topic "+input.TopicID, err), topicStageOutput{}, nil
		}
		if res.Status == pipeline.StatusFailed {
			return textError(fmt.Sprintf("%s failed (%s): %s", stage, res.Kind, res.Reason)), topicStageOutput{}, nil
		}
		return nil, topicStageOutput{Result: &res}, nil
	}
	br, err := s.orch.AdvanceTopic(ctx, input.TopicID, stage)
	if err != nil {
		return s.errorResult("advancing topic "+input.TopicID, err), topicStageOutput{}, nil
	}
	return nil, topicStageOutput{Batch: &br}, nil
}

func (s *Server) handleAdvancePointStage(ctx context.Context, _ *gomcp.CallToolRequest, input advancePointStageInput) (*gomcp.CallToolResult, pipeline.StepResult, error) {
	if strings.TrimSpace(input.PointID) == "" {
		return textError("point_id is required"), pipeline.StepResult{}, nil
	}
	res, err := s.orch.AdvancePoint(ctx, input.PointID, pipeline.Stage(strings.TrimSpace(input.Stage)))
	if err != nil {
		return s.errorResult("advancing point "+input.PointID, err), pipeline.StepResult{}, nil
	}
	if res.Status == pipeline.StatusFailed {
		return textError(fmt.Sprintf("%s failed (%s): %s", res.Stage, res.Kind, res.Reason)), pipeline.StepResult{}, nil
	}
	return nil, res, nil
}

func (s *Server) handleGetPoint(ctx context.Context, _ *gomcp.CallToolRequest, input pointInput) (*gomcp.CallToolResult, pointOutput, error) {
	if strings.TrimSpace(input.PointID) == "" {
		return textError("point_id is required"), pointOutput{}, nil
	}
	p, err := s.db.GetPoint(ctx, input.PointID)
	if err != nil {
		return s.errorResult("loading point", err), pointOutput{}, nil
	}
	if p == nil {
		return s.errorResult("loading point", apperr.Newf(apperr.KindPointNotFound, "point %s not found", input.PointID)), pointOutput{}, nil
	}
	return nil, pointOutput{
		ID:                 p.ID,
		TopicID:            p.TopicID,
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
	}, nil
}

func (s *Server) handleCostReport(ctx context.Context, _ *gomcp.CallToolRequest, input costReportInput) (*gomcp.CallToolResult, costReportOutput, error) {
	if strings.TrimSpace(input.MainTopicID) == "" {
		return textError("main_topic_id is required"), costReportOutput{}, nil
	}
	mt, err := s.db.GetMainTopic(ctx, input.MainTopicID)
	if err != nil {
		return s.errorResult("loading main topic", err), costReportOutput{}, nil
	}
	if mt == nil {
		return s.errorResult("loading main topic", apperr.Newf(apperr.KindMainTopicNotFound, "main topic %s not found", input.MainTopicID)), costReportOutput{}, nil
	}
	ledger, err := s.db.SumCostByMainTopic(ctx, mt.ID)
	if err != nil {
		return s.errorResult("summing cost", err), costReportOutput{}, nil
	}
	rows, err := s.db.SummarizeCosts(ctx, mt.ID)
	if err != nil {
		return s.errorResult("summarising cost", err), costReportOutput{}, nil
	}

	out := costReportOutput{
		MainTopicID: mt.ID,
		Subject:     mt.Subject,
		Total:       mt.Cost,
		Ledger:      ledger,
		ByStage:     make([]stageCost, 0, len(rows)),
	}
	for _, r := range rows {
		out.ByStage = append(out.ByStage, stageCost(r))
	}
	return nil, out, nil
}

// errorResult reports err to the client as a tool error tagged with its kind.
func (s *Server) errorResult(action string, err error) *gomcp.CallToolResult {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal || kind == apperr.KindPersistenceFailure {
		s.log.Error("tool call failed", "action", action, "error", err)
	}
	return textError(fmt.Sprintf("%s: [%s] %s", action, kind, err))
}

func textError(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}
