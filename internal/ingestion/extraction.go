package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jonathan/resume-tailor/internal/llm"
	"github.com/jonathan/resume-tailor/internal/wizard"
)

// ErrEmptyInput is returned when a required text input is blank.
var ErrEmptyInput = errors.New("input text is empty")

// ExtractSections asks the LLM to split resume text into the six sections
// edited on the processing step.
func ExtractSections(ctx context.Context, client llm.Client, resumeText string) (*wizard.StructuredResume, error) {
	if strings.TrimSpace(resumeText) == "" {
		return nil, fmt.Errorf("resume_text: %w", ErrEmptyInput)
	}

	prompt := llm.BuildExtractionPrompt(llm.ResumeSectionsSchema(),
		llm.LabeledInput{Label: "RESUME", Text: resumeText},
	)
	jsonResp, err := client.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		return nil, fmt.Errorf("failed to generate sections: %w", err)
	}

	var sections wizard.StructuredResume
	if err := json.Unmarshal([]byte(llm.CleanJSONBlock(jsonResp)), &sections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sections: %w (content: %.200s)", err, jsonResp)
	}
	sections.Profile = strings.TrimSpace(sections.Profile)
	sections.Summary = strings.TrimSpace(sections.Summary)
	sections.Education = strings.TrimSpace(sections.Education)
	sections.Skills = strings.TrimSpace(sections.Skills)
	sections.WorkExperience = strings.TrimSpace(sections.WorkExperience)
	sections.Projects = strings.TrimSpace(sections.Projects)
	return &sections, nil
}

// CheckATS returns the job requirements the resume does not clearly meet.
// The result is never nil; an empty slice means no gaps were found.
func CheckATS(ctx context.Context, client llm.Client, resumeText, jobDescription string) ([]string, error) {
	if strings.TrimSpace(resumeText) == "" {
		return nil, fmt.Errorf("resume_text: %w", ErrEmptyInput)
	}
	if strings.TrimSpace(jobDescription) == "" {
		return nil, fmt.Errorf("jd_text: %w", ErrEmptyInput)
	}

	prompt := llm.BuildExtractionPrompt(llm.ATSGapSchema(),
		llm.LabeledInput{Label: "RESUME", Text: resumeText},
		llm.LabeledInput{Label: "JOB DESCRIPTION", Text: jobDescription},
	)
	jsonResp, err := client.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ATS check: %w", err)
	}

	var out struct {
		MissingRequirements []string `json:"missing_requirements"`
	}
	if err := json.Unmarshal([]byte(llm.CleanJSONBlock(jsonResp)), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ATS check: %w (content: %.200s)", err, jsonResp)
	}

	gaps := make([]string, 0, len(out.MissingRequirements))
	seen := make(map[string]bool, len(out.MissingRequirements))
	for _, gap := range out.MissingRequirements {
		gap = strings.TrimSpace(gap)
		key := strings.ToLower(gap)
		if gap == "" || seen[key] {
			continue
		}
		seen[key] = true
		gaps = append(gaps, gap)
	}
	return gaps, nil
}
