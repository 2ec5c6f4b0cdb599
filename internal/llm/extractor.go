package llm

import (
	"fmt"
	"strings"
)

// ExtractionSchema defines the structure for LLM-based content extraction.
type ExtractionSchema struct {
	Name        string        // Schema name (e.g., "ResumeSections")
	Description string        // Preamble describing the extraction task
	Fields      []SchemaField // Expected output fields
}

// SchemaField defines a single field in the extraction output.
type SchemaField struct {
	Name        string // JSON field name
	Type        string // Type hint: "string", "[\"string\"]"
	Description string // Description for the LLM
	Required    bool
}

// BuildExtractionPrompt constructs the LLM prompt from schema and one or more
// labeled inputs, rendered in the order given.
func BuildExtractionPrompt(schema ExtractionSchema, inputs ...LabeledInput) string {
	var sb strings.Builder

	sb.WriteString(schema.Description)
	sb.WriteString("\n\n")

	sb.WriteString("Return ONLY valid JSON matching this exact structure:\n{\n")
	for i, field := range schema.Fields {
		typeHint := field.Type
		if typeHint == "" {
			typeHint = "\"string\""
		}
		requiredHint := ""
		if field.Required {
			requiredHint = " (required)"
		}
		sb.WriteString(fmt.Sprintf("  \"%s\": %s%s", field.Name, typeHint, requiredHint))
		if field.Description != "" {
			sb.WriteString(fmt.Sprintf(" // %s", field.Description))
		}
		if i < len(schema.Fields)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}\n\n")

	sb.WriteString("IMPORTANT:\n")
	sb.WriteString("- Use only information present in the input, do not invent anything.\n")
	sb.WriteString("- Return ONLY the JSON object, no markdown, no explanation, no code blocks.\n")

	for _, in := range inputs {
		sb.WriteString("\n")
		sb.WriteString(in.Label)
		sb.WriteString(":\n\"\"\"\n")
		sb.WriteString(in.Text)
		sb.WriteString("\n\"\"\"\n")
	}

	return sb.String()
}

// LabeledInput is one block of input text in an extraction prompt.
type LabeledInput struct {
	Label string
	Text  string
}

// ResumeSectionsSchema splits resume text into the six sections the wizard's
// section review step edits.
func ResumeSectionsSchema() ExtractionSchema {
	return ExtractionSchema{
		Name: "ResumeSections",
		Description: `You are an expert resume parser. COPY TEXT VERBATIM - do not paraphrase or reword.
Split the resume into its sections. Put text that fits no section into "summary".
Leave a field as an empty string when the resume has no such section.`,
		Fields: []SchemaField{
			{Name: "profile", Description: "Name, contact details, links", Required: true},
			{Name: "summary", Description: "Professional summary or objective", Required: true},
			{Name: "education", Description: "Degrees, schools, dates", Required: true},
			{Name: "skills", Description: "Technical and other skills", Required: true},
			{Name: "work_experience", Description: "Jobs with titles, dates and bullet points", Required: true},
			{Name: "projects", Description: "Personal or professional projects", Required: true},
		},
	}
}

// ATSGapSchema lists the job requirements a resume does not clearly meet.
func ATSGapSchema() ExtractionSchema {
	return ExtractionSchema{
		Name: "ATSGaps",
		Description: `You are an applicant tracking system. Compare the RESUME against the JOB DESCRIPTION.
List each requirement from the job description that the resume does not clearly demonstrate,
most important first. Return an empty list when every requirement is covered.`,
		Fields: []SchemaField{
			{
				Name:        "missing_requirements",
				Type:        "[\"string\"]",
				Description: "Unmet requirements, one short phrase each",
				Required:    true,
			},
		},
	}
}
