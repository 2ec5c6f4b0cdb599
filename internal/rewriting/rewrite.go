// Package rewriting tailors resume text to a job description and derives
// the keyword and company data shown next to it in the editor.
package rewriting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/resume-tailor/internal/ingestion"
	"github.com/jonathan/resume-tailor/internal/keywords"
	"github.com/jonathan/resume-tailor/internal/llm"
	"github.com/jonathan/resume-tailor/internal/prompts"
)

// Tailored is the rewritten resume and the model that wrote it.
type Tailored struct {
	Text  string `json:"tailored"`
	Model string `json:"model"`
}

// KeywordReport lists the job keywords and those the resume lacks.
type KeywordReport struct {
	Keywords []string `json:"keywords"`
	Missing  []string `json:"missing"`
}

// All is the combined result of one editor run.
type All struct {
	Tailored string   `json:"tailored"`
	Model    string   `json:"model"`
	Keywords []string `json:"keywords"`
	Missing  []string `json:"missing"`
	Company  string   `json:"company"`
}

func requireText(resumeText, jobDescription string) error {
	if strings.TrimSpace(resumeText) == "" {
		return fmt.Errorf("resume_text is empty: %w", ingestion.ErrEmptyInput)
	}
	if strings.TrimSpace(jobDescription) == "" {
		return fmt.Errorf("jd_text is empty: %w", ingestion.ErrEmptyInput)
	}
	return nil
}

// Tailor rewrites the resume for the job description.
func Tailor(ctx context.Context, client llm.Client, resumeText, jobDescription string) (*Tailored, error) {
	if err := requireText(resumeText, jobDescription); err != nil {
		return nil, err
	}

	prompt, err := prompts.Tailor(resumeText, jobDescription)
	if err != nil {
		return nil, err
	}

	// TierAdvanced: the rewrite needs nuance and must stay truthful
	responseText, err := client.GenerateContent(ctx, prompt, llm.TierAdvanced)
	if err != nil {
		return nil, &APICallError{Message: "failed to tailor resume", Cause: err}
	}

	text := parseTextResponse(responseText)
	if text == "" {
		return nil, &APICallError{Message: "model returned an empty resume"}
	}
	return &Tailored{Text: text, Model: client.GetModel(llm.TierAdvanced)}, nil
}

// ExtractKeywords asks for the keywords an ATS would scan the job
// description for and checks which of them the resume lacks.
func ExtractKeywords(ctx context.Context, client llm.Client, resumeText, jobDescription string) (*KeywordReport, error) {
	if strings.TrimSpace(jobDescription) == "" {
		return nil, fmt.Errorf("jd_text is empty: %w", ingestion.ErrEmptyInput)
	}

	prompt, err := prompts.Keywords(jobDescription)
	if err != nil {
		return nil, err
	}

	responseText, err := client.GenerateContent(ctx, prompt, llm.TierLite)
	if err != nil {
		return nil, &APICallError{Message: "failed to extract keywords", Cause: err}
	}

	kws := keywords.ParseKeywords(responseText)
	return &KeywordReport{Keywords: kws, Missing: keywords.Missing(resumeText, kws)}, nil
}

// InferCompany names the hiring company, or keywords.DefaultLabel when the
// model gives nothing usable.
func InferCompany(ctx context.Context, client llm.Client, jobDescription string) (string, error) {
	if strings.TrimSpace(jobDescription) == "" {
		return keywords.DefaultLabel, nil
	}

	prompt, err := prompts.Company(jobDescription)
	if err != nil {
		return "", err
	}

	responseText, err := client.GenerateContent(ctx, prompt, llm.TierLite)
	if err != nil {
		return "", &APICallError{Message: "failed to infer company", Cause: err}
	}

	name := parseTextResponse(responseText)
	// Models sometimes answer with a sentence; keep the first line only
	if idx := strings.IndexByte(name, '\n'); idx >= 0 {
		name = name[:idx]
	}
	name = strings.Trim(strings.TrimSpace(name), `"'.`)
	if name == "" {
		return keywords.DefaultLabel, nil
	}
	return name, nil
}

// TailorAll runs Tailor, ExtractKeywords and InferCompany concurrently.
// The first failure cancels the others.
func TailorAll(ctx context.Context, client llm.Client, resumeText, jobDescription string) (*All, error) {
	if err := requireText(resumeText, jobDescription); err != nil {
		return nil, err
	}

	g, gCtx := errgroup.WithContext(ctx)

	var (
		mu     sync.Mutex
		result All
	)

	g.Go(func() error {
		tailored, err := Tailor(gCtx, client, resumeText, jobDescription)
		if err != nil {
			return err
		}
		mu.Lock()
		result.Tailored, result.Model = tailored.Text, tailored.Model
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		report, err := ExtractKeywords(gCtx, client, resumeText, jobDescription)
		if err != nil {
			return err
		}
		mu.Lock()
		result.Keywords, result.Missing = report.Keywords, report.Missing
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		company, err := InferCompany(gCtx, client, jobDescription)
		if err != nil {
			return err
		}
		mu.Lock()
		result.Company = company
		mu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &result, nil
}

// parseTextResponse strips a markdown fence and unwraps {"text": ...} when
// the model returned JSON anyway.
func parseTextResponse(responseText string) string {
	text := strings.TrimSpace(responseText)

	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		lines = lines[1:]
		if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
			lines = lines[:n-1]
		}
		text = strings.TrimSpace(strings.Join(lines, "\n"))
	}

	var jsonResp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(text), &jsonResp); err == nil && jsonResp.Text != "" {
		return strings.TrimSpace(jsonResp.Text)
	}
	return text
}
