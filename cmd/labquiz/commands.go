package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	appI18n "github.com/pavelanni/labquiz/internal/i18n"
	"github.com/pavelanni/labquiz/internal/llm"
	"github.com/pavelanni/labquiz/internal/llm/prompts"
	"github.com/pavelanni/labquiz/internal/model"
)

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create course folders and sample rosters in the data root",
		RunE:  runInit,
	}
	addDataFlags(cmd.Flags())
	return cmd
}

func structureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "structure",
		Short: "Print the course, lab and bank index as JSON",
		RunE:  runStructure,
	}
	addDataFlags(cmd.Flags())
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Sample one question per bank and print the test as JSON",
		RunE:  runGenerate,
	}
	f := cmd.Flags()
	addDataFlags(f)
	f.IntP("course", "c", 0, "Course id (required)")
	f.String("lab", "", "Lab directory, e.g. lab1 (required)")
	f.StringSliceP("bank", "b", nil, "Bank directories in test order (required, repeatable)")
	f.Bool("with-answers", false, "Include the correct answers")
	f.Uint64("seed", 0, "Seed for question selection (0 = random)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("course")
	_ = cmd.MarkFlagRequired("lab")
	_ = cmd.MarkFlagRequired("bank")
	return cmd
}

func resultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Export the result log as JSON",
		RunE:  runResults,
	}
	f := cmd.Flags()
	addDataFlags(f)
	f.IntP("course", "c", 0, "Only results of this course")
	f.String("student", "", "Only results of this student id")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write the data root to a zip archive",
		RunE:  runBackup,
	}
	addDataFlags(cmd.Flags())
	cmd.Flags().StringP("output", "o", "", "Archive path (default labquiz-backup-YYYY-MM-DD.zip)")
	return cmd
}

func restoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore ARCHIVE",
		Short: "Replace the data root with a zip archive and clear the result log",
		Args:  cobra.ExactArgs(1),
		RunE:  runRestore,
	}
	addDataFlags(cmd.Flags())
	cmd.Flags().BoolP("yes", "y", false, "Confirm that current data and results are discarded")
	return cmd
}

func draftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Draft new questions for a bank with an LLM",
		RunE:  runDraft,
	}
	f := cmd.Flags()
	addDataFlags(f)
	f.IntP("course", "c", 0, "Course id (required)")
	f.String("lab", "", "Lab directory (required)")
	f.StringP("bank", "b", "", "Bank directory to write into (required)")
	f.StringP("topic", "t", "", "Topic of the questions (required)")
	f.IntP("count", "n", 5, "Number of questions to draft")
	f.StringP("difficulty", "d", string(prompts.DifficultyStandard), "Question difficulty (basic, standard, advanced)")
	f.Bool("dry-run", false, "Print the question files instead of writing them")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	_ = cmd.MarkFlagRequired("course")
	_ = cmd.MarkFlagRequired("lab")
	_ = cmd.MarkFlagRequired("bank")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	eng, err := openEngine(v)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.EnsureLayout(cmd.Context()); err != nil {
		return fmt.Errorf("prepare data root: %w", err)
	}
	slog.Info("data root ready", "path", eng.DataRootPath())
	return nil
}

func runStructure(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	eng, err := openEngine(v)
	if err != nil {
		return err
	}
	defer eng.Close()

	st, err := eng.Structure(cmd.Context())
	if err != nil {
		return err
	}
	for _, w := range st.Warnings {
		slog.Warn("skipped part of the data root", "detail", w)
	}
	ctx := appI18n.WithLocalizer(cmd.Context(), appI18n.NewLocalizer(v.GetString("lang")))
	return writeJSONOutput(v.GetString("output"), appI18n.NameStructure(ctx, st))
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	eng, err := openEngine(v)
	if err != nil {
		return err
	}
	defer eng.Close()

	course, lab := v.GetInt("course"), v.GetString("lab")
	questions, err := eng.Generate(cmd.Context(), course, lab, v.GetStringSlice("bank"))
	if err != nil {
		return err
	}
	test := model.Test{Course: course, Lab: lab, Questions: questions, CreatedAt: time.Now().UTC()}
	if v.GetBool("with-answers") {
		return writeJSONOutput(v.GetString("output"), test)
	}
	return writeJSONOutput(v.GetString("output"), test.Public())
}

func runResults(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	eng, err := openEngine(v)
	if err != nil {
		return err
	}
	defer eng.Close()

	filter := model.ResultFilter{Course: v.GetInt("course"), StudentID: v.GetString("student")}
	results, err := eng.TestResults(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("read results: %w", err)
	}

	export := model.ResultsExport{
		ExportedAt: time.Now().UTC(),
		Course:     filter.Course,
		StudentID:  filter.StudentID,
		Count:      len(results),
		Summary:    model.Summarize(results),
		Results:    results,
	}
	return writeJSONOutput(v.GetString("output"), export)
}

func runBackup(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	eng, err := openEngine(v)
	if err != nil {
		return err
	}
	defer eng.Close()

	dest := v.GetString("output")
	if dest == "" {
		dest = fmt.Sprintf("labquiz-backup-%s.zip", time.Now().Format("2006-01-02"))
	}
	if err := eng.ExportFile(cmd.Context(), dest); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	slog.Info("backup written", "path", dest)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	if !v.GetBool("yes") {
		return errors.New("restore discards the current data and results: pass --yes to confirm")
	}

	eng, err := openEngine(v)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.ImportFile(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}
	slog.Info("data root restored", "archive", args[0], "path", eng.DataRootPath())
	return nil
}

func runDraft(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	difficulty := strings.ToLower(strings.TrimSpace(v.GetString("difficulty")))
	if !prompts.IsValidDifficulty(difficulty) {
		slog.Warn("invalid difficulty, using standard", "difficulty", difficulty)
		difficulty = string(prompts.DifficultyStandard)
	}

	eng, err := openEngine(v)
	if err != nil {
		return err
	}
	defer eng.Close()

	client := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
	ctx := cmd.Context()
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	questions, err := client.DraftQuestions(ctx, v.GetString("topic"), v.GetInt("count"),
		prompts.Difficulty(difficulty), v.GetString("lang"))
	if err != nil {
		return fmt.Errorf("draft questions: %w", err)
	}

	if v.GetBool("dry-run") {
		return writeJSONOutput("-", questions)
	}
	return saveDrafts(ctx, eng, v.GetInt("course"), v.GetString("lab"), v.GetString("bank"), questions)
}

type questionAdder interface {
	AddQuestion(ctx context.Context, course int, lab, bank string, q model.Question) (string, error)
}

func saveDrafts(ctx context.Context, eng questionAdder, course int, lab, bank string, questions []model.Question) error {
	for _, q := range questions {
		id, err := eng.AddQuestion(ctx, course, lab, bank, q)
		if err != nil {
			return fmt.Errorf("save drafted question: %w", err)
		}
		slog.Info("question written", "course", course, "lab", lab, "bank", bank, "id", id)
	}
	return nil
}

func writeJSONOutput(outPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}
