package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jonathan/resume-tailor/internal/export"
	"github.com/jonathan/resume-tailor/internal/ingestion"
)

var (
	exportIn     string
	exportLabel  string
	exportFormat string
	exportOutDir string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render resume text as a docx or pdf file",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportIn, "in", "i", "", "Resume text file (required)")
	exportCmd.Flags().StringVarP(&exportLabel, "label", "l", "", "Company or label used in the file name")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "docx", "Output format: docx or pdf")
	exportCmd.Flags().StringVarP(&exportOutDir, "out", "o", ".", "Output directory")
	_ = exportCmd.MarkFlagRequired("in")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	data, err := afero.ReadFile(appFs, exportIn)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", exportIn, err)
	}

	file, err := export.Render(ingestion.DecodeText(data), exportLabel, format)
	if err != nil {
		return err
	}

	if err := appFs.MkdirAll(exportOutDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(exportOutDir, file.Name)
	if err := afero.WriteFile(appFs, path, file.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
