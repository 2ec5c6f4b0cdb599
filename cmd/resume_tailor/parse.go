package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jonathan/resume-tailor/internal/ingestion"
)

var (
	parseJSON     bool
	parseMetadata bool
)

// appFs is the filesystem the file commands read and write.
var appFs = afero.NewOsFs()

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Extract plain text from a pdf, docx or text resume",
	Args:  cobra.ExactArgs(1),
	RunE:  runParse,
}

func init() {
	parseCmd.Flags().BoolVar(&parseJSON, "json", false, "Print text and metadata as JSON")
	parseCmd.Flags().BoolVar(&parseMetadata, "metadata", false, "Print only the document metadata as JSON")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	doc, err := ingestion.ParseLocal(appFs, args[0])
	if err != nil {
		return err
	}
	if parseMetadata {
		data, err := doc.Metadata.ToJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}
	return printDocument(cmd, doc, parseJSON)
}

func printDocument(cmd *cobra.Command, doc *ingestion.Document, asJSON bool) error {
	out := cmd.OutOrStdout()
	if !asJSON {
		_, err := fmt.Fprintln(out, doc.Text)
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"text": doc.Text, "metadata": doc.Metadata})
}
