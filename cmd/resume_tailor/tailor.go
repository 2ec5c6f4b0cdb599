package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jonathan/resume-tailor/internal/ingestion"
	"github.com/jonathan/resume-tailor/internal/rewriting"
)

var (
	tailorResume string
	tailorJob    string
	tailorAll    bool
)

var tailorCmd = &cobra.Command{
	Use:   "tailor",
	Short: "Rewrite a resume for a job description with the configured model",
	RunE:  runTailor,
}

func init() {
	tailorCmd.Flags().StringVarP(&tailorResume, "resume", "r", "", "Resume file: pdf, docx or text (required)")
	tailorCmd.Flags().StringVarP(&tailorJob, "job", "j", "", "Job description text file (required)")
	tailorCmd.Flags().BoolVar(&tailorAll, "all", false, "Also extract keywords and infer the company, printed as JSON")
	_ = tailorCmd.MarkFlagRequired("resume")
	_ = tailorCmd.MarkFlagRequired("job")
	rootCmd.AddCommand(tailorCmd)
}

func runTailor(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	resume, err := ingestion.ParseLocal(appFs, tailorResume)
	if err != nil {
		return err
	}
	jd, err := afero.ReadFile(appFs, tailorJob)
	if err != nil {
		return fmt.Errorf("failed to read job description: %w", err)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	client, _, err := newLLMClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	jobText := ingestion.CleanText(ingestion.DecodeText(jd))
	if !tailorAll {
		result, err := rewriting.Tailor(ctx, client, resume.Text, jobText)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), result.Text)
		return err
	}

	all, err := rewriting.TailorAll(ctx, client, resume.Text, jobText)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(all)
}
