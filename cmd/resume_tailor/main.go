// Package main provides the entry point for the resume tailoring wizard API
// server and its command-line tools.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "resume_tailor",
	Short: "Resume Tailor wizard server and tools",
	Long: "Resume Tailor walks a resume through upload, review, job description and ATS checks " +
		"to an editor where it is rewritten for the job and exported as docx or pdf.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a JSON or YAML config file (environment fills the gaps)")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
