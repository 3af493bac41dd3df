package usecase

import (
	"fmt"
	"strings"

	"autodoc-pipeline/internal/domain/model"
)

const batchPreamble = `You are an assistant specialised in writing technical documentation for software systems.`

const batchGuidance = `Below is a set of source files (they may be written in different languages).
Write a partial, well structured documentation focused on:

- An overview of what this set of files does.
- The main responsibilities of its types and functions.
- Important flows.
- Integration points with other modules.
- Notes that matter for maintenance.

Answer in Markdown.`

const refinePreamble = `You are an assistant specialised in refining and improving technical documentation.`

const refineGuidance = `Using the current documentation above and following the additional instructions, write a new, refined version of the documentation.
Keep the Markdown format and every relevant piece of information, adapting it as instructed.

Return ONLY the refined documentation in Markdown, with no explanation before or after it.`

// BuildBatchPrompt renders the full instruction sent for one batch.
func BuildBatchPrompt(template string, files []model.FileRecord) string {
	var sb strings.Builder
	sb.WriteString(batchPreamble)
	sb.WriteString("\n\nUSER PROMPT:\n")
	sb.WriteString(template)
	sb.WriteString("\n\n")
	sb.WriteString(batchGuidance)
	sb.WriteString("\n\nFILES:\n")
	for i, f := range files {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "### File: %s\n\n```\n%s\n```", f.Path, f.Content)
	}
	sb.WriteString("\n")
	return sb.String()
}

// BuildRefinePrompt renders the instruction used to rewrite a consolidated
// document.
func BuildRefinePrompt(current, instruction string) string {
	var sb strings.Builder
	sb.WriteString(refinePreamble)
	sb.WriteString("\n\nCURRENT DOCUMENTATION:\n")
	sb.WriteString(current)
	sb.WriteString("\n\nADDITIONAL USER PROMPT:\n")
	sb.WriteString(instruction)
	sb.WriteString("\n\n")
	sb.WriteString(refineGuidance)
	sb.WriteString("\n")
	return sb.String()
}

// EstimateTokens is the provider-agnostic estimate of one token per four
// characters, rounded up.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
