package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/kursil/internal/database"
	"github.com/TobiSchelling/kursil/internal/docgen"
	"github.com/TobiSchelling/kursil/internal/pipeline"
)

func init() {
	rootCmd.AddCommand(outlineCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(elaborateCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(coverCmd)
	rootCmd.AddCommand(narrateCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(costCmd)
}

// withApp wires the collaborators for a command and releases them after.
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

// --- outline command ---

var referenceURLs []string

var outlineCmd = &cobra.Command{
	Use:   "outline [subject]",
	Short: "Generate and store an outline for a subject",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		res, err := a.orch.CreateOutline(cmd.Context(), pipeline.OutlineRequest{
			Subject:       strings.Join(args, " "),
			ReferenceURLs: referenceURLs,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Main topic %s: %s\n", res.MainTopicID, res.Subject)
		if res.References > 0 {
			fmt.Printf("  Grounded on %d reference(s)\n", res.References)
		}
		for i, t := range res.Topics {
			fmt.Printf("\n%d. %s  [%s]\n", i+1, t.Name, t.ID)
			for _, p := range t.Points {
				fmt.Printf("     - %s\n", p)
			}
		}
		fmt.Printf("\nCost: %s\n", formatCost(res.Cost, cfg.Cost.Currency))
		return nil
	}),
}

func init() {
	outlineCmd.Flags().StringSliceVar(&referenceURLs, "ref", nil, "Reference URL to ground the outline on (repeatable)")
}

// --- show command ---

var showCmd = &cobra.Command{
	Use:   "show [main-topic-id]",
	Short: "List curricula, or show one with per-point stage progress",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cfg, log)
		if err != nil {
			return err
		}
		defer db.Close()
		ctx := cmd.Context()

		if len(args) == 0 {
			mts, err := db.ListMainTopics(ctx, 50)
			if err != nil {
				return err
			}
			if len(mts) == 0 {
				fmt.Println("No curricula yet. Create one with: kursil outline <subject>")
				return nil
			}
			for _, mt := range mts {
				fmt.Printf("  %s  %-40s %s\n", mt.ID, mt.Subject, formatCost(mt.Cost, cfg.Cost.Currency))
			}
			return nil
		}

		mt, err := db.GetMainTopic(ctx, args[0])
		if err != nil {
			return err
		}
		if mt == nil {
			return fmt.Errorf("main topic %s not found", args[0])
		}
		fmt.Printf("%s  [%s]\n", mt.Subject, mt.ID)
		if mt.TranslatedSubject != "" {
			fmt.Printf("  %s\n", mt.TranslatedSubject)
		}

		topics, err := db.GetTopicsByMainTopic(ctx, mt.ID)
		if err != nil {
			return err
		}
		for i, t := range topics {
			fmt.Printf("\n%d. %s  [%s]\n", i+1, t.Name, t.ID)
			points, err := db.GetPointsByTopic(ctx, t.ID)
			if err != nil {
				return err
			}
			if len(points) == 0 {
				for _, text := range t.DiscussionPoints {
					fmt.Printf("     %s %s\n", stageMarks(nil), text)
				}
				continue
			}
			for i := range points {
				fmt.Printf("     %s %s  [%s]\n", stageMarks(&points[i]), points[i].Text, points[i].ID)
			}
		}
		fmt.Println("\nColumns: elaboration prompting handout quiz method translation")
		fmt.Printf("Cost: %s\n", formatCost(mt.Cost, cfg.Cost.Currency))
		return nil
	},
}

var markFields = []database.PointField{
	database.FieldElaboration,
	database.FieldPrompting,
	database.FieldHandout,
	database.FieldQuiz,
	database.FieldMethod,
	database.FieldHandoutTranslation,
}

// stageMarks renders one character per markFields entry: x when filled.
func stageMarks(p *database.Point) string {
	var b strings.Builder
	b.WriteByte('[')
	for _, f := range markFields {
		if p != nil && strings.TrimSpace(p.Field(f)) != "" {
			b.WriteByte('x')
		} else {
			b.WriteByte('.')
		}
	}
	b.WriteByte(']')
	return b.String()
}

// --- elaborate, stage and run commands ---

func printProgress(item pipeline.StepResult, completed, total int) {
	line := fmt.Sprintf("  [%d/%d] %s: %s", completed, total, item.Point, item.Status)
	if item.Reason != "" {
		line += " (" + item.Reason + ")"
	}
	fmt.Println(line)
}

func printBatch(br pipeline.BatchResult) {
	fmt.Printf("%s / %s: %d generated, %d existing, %d failed, %d skipped, cost %s\n",
		br.Topic, br.Stage, br.Generated, br.Existing, br.Failed, br.Skipped, formatCost(br.Cost, cfg.Cost.Currency))
}

var elaborateCmd = &cobra.Command{
	Use:   "elaborate [topic-id]",
	Short: "Elaborate every discussion point of a topic",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		br, err := a.orch.ElaborateTopic(cmd.Context(), args[0], pipeline.WithReport(printProgress))
		if err != nil {
			return err
		}
		printBatch(br)
		return nil
	}),
}

var stageOnTopic bool

var stageCmd = &cobra.Command{
	Use:   "stage [stage] [point-id|topic-id]",
	Short: "Run one stage on a point, or on every point of a topic with --topic",
	Long: "Point stages: " + joinStages(pipeline.PointStages()) + ".\n" +
		"Topic stages (always with --topic): analogy, topic_translation.",
	Args: cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		stage, id := pipeline.Stage(args[0]), args[1]
		ctx := cmd.Context()

		if !stageOnTopic {
			res, err := a.orch.AdvancePoint(ctx, id, stage)
			if err != nil {
				return err
			}
			return printStep(res)
		}
		if pipeline.IsTopicStage(stage) {
			res, err := a.orch.AdvanceTopicStage(ctx, id, stage)
			if err != nil {
				return err
			}
			return printStep(res)
		}
		br, err := a.orch.AdvanceTopic(ctx, id, stage, pipeline.WithReport(printProgress))
		if err != nil {
			return err
		}
		printBatch(br)
		return nil
	}),
}

func init() {
	stageCmd.Flags().BoolVar(&stageOnTopic, "topic", false, "Treat the id as a topic")
}

var runCmd = &cobra.Command{
	Use:   "run [topic-id]",
	Short: "Advance a topic through elaboration, prompting, handout, quiz, misc and translation",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		results, err := a.orch.RunTopic(cmd.Context(), args[0], pipeline.WithReport(printProgress))
		for _, br := range results {
			printBatch(br)
		}
		if err != nil {
			return err
		}
		if cmd.Context().Err() != nil {
			fmt.Println("Interrupted; re-run to continue where it stopped.")
		}
		return nil
	}),
}

// --- main topic commands ---

var translateCmd = &cobra.Command{
	Use:   "translate [main-topic-id]",
	Short: "Translate the subject into the target language",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		res, err := a.orch.TranslateSubject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printStep(res)
	}),
}

var summaryCmd = &cobra.Command{
	Use:   "summary [main-topic-id]",
	Short: "Summarize the learning objectives of all topics",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		res, err := a.orch.SummarizeObjectives(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printStep(res)
	}),
}

var exportCmd = &cobra.Command{
	Use:   "export [main-topic-id] [kursil|handout|slides]",
	Short: "Assemble a Word or PowerPoint document",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		kind, ok := docgen.ParseKind(args[1])
		if !ok {
			return fmt.Errorf("unknown document kind %q (want kursil, handout or slides)", args[1])
		}
		res, err := a.orch.ExportDocument(cmd.Context(), args[0], kind)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", res.Path)
		if res.Locator != "" && res.Locator != res.Path {
			fmt.Printf("Uploaded to %s\n", res.Locator)
		}
		return nil
	}),
}

var coverCmd = &cobra.Command{
	Use:   "cover [main-topic-id]",
	Short: "Generate and upload a cover image",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		res, err := a.orch.GenerateCover(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printStep(res)
	}),
}

var narrationText string

var narrateCmd = &cobra.Command{
	Use:   "narrate [main-topic-id]",
	Short: "Synthesize narration audio and upload it",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		res, err := a.orch.GenerateNarration(cmd.Context(), args[0], narrationText)
		if err != nil {
			return err
		}
		return printStep(res)
	}),
}

func init() {
	narrateCmd.Flags().StringVar(&narrationText, "text", "", "Text to narrate (defaults to the objectives summary)")
}

// --- retrieval commands ---

var ingestCmd = &cobra.Command{
	Use:   "ingest [main-topic-id]",
	Short: "Chunk and embed the handouts of a curriculum",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		res, err := a.rag.Ingest(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %d handout(s) as %d chunk(s) with %s\n", res.Handouts, res.Chunks, res.Model)
		return nil
	}),
}

var askTopK int

var askCmd = &cobra.Command{
	Use:   "ask [main-topic-id] [question...]",
	Short: "Answer a question from the ingested handouts",
	Args:  cobra.MinimumNArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ans, err := a.rag.Query(cmd.Context(), args[0], strings.Join(args[1:], " "), askTopK)
		if err != nil {
			return err
		}
		fmt.Println(ans.Answer)
		fmt.Println("\nSources:")
		for _, s := range ans.Sources {
			fmt.Printf("  %.3f  %s\n", s.Score, s.PointID)
		}
		fmt.Printf("\nCost: %s\n", formatCost(ans.Cost, cfg.Cost.Currency))
		return nil
	}),
}

func init() {
	askCmd.Flags().IntVarP(&askTopK, "top", "k", 0, "Number of chunks to retrieve (defaults to config)")
}

// --- cost command ---

var costCmd = &cobra.Command{
	Use:   "cost [main-topic-id]",
	Short: "Show the cost ledger of a curriculum by stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cfg, log)
		if err != nil {
			return err
		}
		defer db.Close()
		ctx := cmd.Context()

		mt, err := db.GetMainTopic(ctx, args[0])
		if err != nil {
			return err
		}
		if mt == nil {
			return fmt.Errorf("main topic %s not found", args[0])
		}
		rows, err := db.SummarizeCosts(ctx, mt.ID)
		if err != nil {
			return err
		}

		fmt.Printf("%s\n\n", mt.Subject)
		fmt.Printf("  %-20s %6s %10s %10s %14s\n", "stage", "calls", "in", "out", "cost")
		for _, r := range rows {
			fmt.Printf("  %-20s %6d %10d %10d %14s\n", r.Stage, r.Calls, r.InputTokens, r.OutputTokens, formatCost(r.Cost, cfg.Cost.Currency))
		}
		fmt.Printf("\nTotal: %s\n", formatCost(mt.Cost, cfg.Cost.Currency))
		return nil
	},
}

func printStep(res pipeline.StepResult) error {
	if res.Status == pipeline.StatusFailed {
		return fmt.Errorf("%s failed (%s): %s", res.Stage, res.Kind, res.Reason)
	}
	fmt.Printf("%s: %s\n", res.Stage, res.Status)
	if res.Value != "" {
		fmt.Println()
		fmt.Println(res.Value)
	}
	if res.Cost > 0 {
		fmt.Printf("\nCost: %s\n", formatCost(res.Cost, cfg.Cost.Currency))
	}
	return nil
}

func joinStages(stages []pipeline.Stage) string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

func formatCost(v float64, currency string) string {
	if currency == "" {
		return fmt.Sprintf("%.2f", v)
	}
	return fmt.Sprintf("%.2f %s", v, currency)
}
