package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jonathan/resume-tailor/internal/fetch"
	"github.com/jonathan/resume-tailor/internal/ingestion"
)

var (
	fetchURL     string
	fetchBrowser bool
	fetchJSON    bool
)

var fetchJobCmd = &cobra.Command{
	Use:   "fetch-job",
	Short: "Fetch a job posting and print its description text",
	RunE:  runFetchJob,
}

func init() {
	fetchJobCmd.Flags().StringVarP(&fetchURL, "url", "u", "", "Job posting URL (required)")
	fetchJobCmd.Flags().BoolVar(&fetchBrowser, "browser", false, "Render the page in headless Chrome when the HTML is thin")
	fetchJobCmd.Flags().BoolVar(&fetchJSON, "json", false, "Print text and metadata as JSON")
	_ = fetchJobCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(fetchJobCmd)
}

func runFetchJob(cmd *cobra.Command, _ []string) error {
	if err := fetch.ValidateURL(fetchURL); err != nil {
		return err
	}

	cfg := fetch.DefaultCachedFetcherConfig()
	cfg.SkipCache = true
	if fetchBrowser {
		cfg.Renderer = fetch.NewChromeRenderer(false)
	}

	doc, err := ingestion.IngestFromURL(context.Background(), fetch.NewCachedFetcher(cfg), fetchURL, fetchBrowser)
	if err != nil {
		return err
	}
	return printDocument(cmd, doc, fetchJSON)
}
