package actions

import (
	"fmt"
	"strings"
)

// ClaudePrompt renders a structured prompt for a coding assistant from
// the create_claude_prompt arguments.
func ClaudePrompt(args Args) string {
	var b strings.Builder
	b.WriteString("**PROMPT FOR CLAUDE:**\n\n")
	fmt.Fprintf(&b, "**Task:** %s\n\n", args.String("task_description"))
	if c := args.String("context"); c != "" {
		fmt.Fprintf(&b, "**Context:** %s\n\n", c)
	}
	if reqs := args.Strings("specific_requirements"); len(reqs) > 0 {
		b.WriteString("**Requirements:**\n")
		numbered(&b, reqs)
		b.WriteString("\n")
	}
	if f := args.String("output_format"); f != "" {
		fmt.Fprintf(&b, "**Output Format:** %s\n\n", f)
	}
	b.WriteString("Please provide a detailed solution with clear explanations and well-commented code where applicable.")
	return b.String()
}

func DebuggingPrompt(args Args) string {
	var b strings.Builder
	b.WriteString("**DEBUGGING PROMPT FOR CLAUDE:**\n\n")
	fmt.Fprintf(&b, "**Issue:** %s\n\n", args.String("error_description"))
	if s := args.String("tech_stack"); s != "" {
		fmt.Fprintf(&b, "**Technology Stack:** %s\n\n", s)
	}
	if code := args.String("code_snippet"); code != "" {
		fmt.Fprintf(&b, "**Code with Issue:**\n```\n%s\n```\n\n", code)
	}
	if e := args.String("expected_behavior"); e != "" {
		fmt.Fprintf(&b, "**Expected Behavior:** %s\n\n", e)
	}
	b.WriteString("Please analyze the issue and provide:\n")
	numbered(&b, []string{
		"Root cause analysis",
		"Step-by-step debugging approach",
		"Fixed code with explanations",
		"Prevention strategies for similar issues",
	})
	return strings.TrimSuffix(b.String(), "\n")
}

func CodeReviewPrompt(args Args) string {
	lang := args.String("programming_language")
	var b strings.Builder
	b.WriteString("**CODE REVIEW PROMPT FOR CLAUDE:**\n\n")
	if lang != "" {
		fmt.Fprintf(&b, "**Language:** %s\n\n", lang)
	}
	fmt.Fprintf(&b, "**Code to Review:**\n```%s\n%s\n```\n\n", lang, args.String("code_to_review"))
	if focus := args.Strings("review_focus"); len(focus) > 0 {
		b.WriteString("**Focus Areas:**\n")
		numbered(&b, focus)
		b.WriteString("\n")
	}
	b.WriteString("Please provide a comprehensive code review including:\n")
	numbered(&b, []string{
		"Overall code quality assessment",
		"Specific improvements and optimizations",
		"Best practices recommendations",
		"Security considerations (if applicable)",
		"Performance optimization suggestions",
		"Refactored code examples where beneficial",
	})
	return strings.TrimSuffix(b.String(), "\n")
}

func numbered(b *strings.Builder, items []string) {
	for i, item := range items {
		fmt.Fprintf(b, "%d. %s\n", i+1, item)
	}
}
