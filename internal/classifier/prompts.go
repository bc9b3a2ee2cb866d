package classifier

import (
	"fmt"
	"strings"
)

type modeTemplate struct {
	base    string
	context string
}

var modeTemplates = map[string]modeTemplate{
	"personal": {
		base:    "You are a productivity assistant helping with personal task management. Focus on personal life, family, health, and home-related activities.",
		context: "Consider this is personal time - prioritize family, health, home, and personal development tasks.",
	},
	"work": {
		base:    "You are a productivity assistant helping with professional task management. Focus on work projects, meetings, deadlines, and business activities.",
		context: "Consider this is work time - prioritize professional tasks, meetings, and business objectives.",
	},
	"weekend": {
		base:    "You are a productivity assistant helping with weekend task management. Focus on personal life, family time, home projects, and relaxation.",
		context: "Consider this is weekend time - prioritize personal tasks, family activities, home projects, and leisure.",
	},
	"evening": {
		base:    "You are a productivity assistant helping with evening task management. Focus on personal activities, family time, and preparation for the next day.",
		context: "Consider this is evening time - prioritize personal tasks, family activities, and next-day preparation.",
	},
}

var defaultTemplate = modeTemplate{
	base:    "You are a productivity assistant helping with task management. Assign the most relevant labels based on task content.",
	context: "Analyze the task content and assign appropriate labels based on context and priority.",
}

var reasoningInstructions = map[string]string{
	"minimal": "Respond with only the label name(s), separated by commas if multiple. No explanations.",
	"light":   "Respond with the label name(s) on the first line, then provide a brief one-sentence explanation.",
	"deep":    "Respond with the label name(s) on the first line, then provide detailed reasoning with confidence level (0.0-1.0).",
}

type modeEnhancement struct {
	note        string
	preferences []string
}

var modeEnhancements = map[string]modeEnhancement{
	"weekend": {
		note:        "Weekend tasks often involve personal care, family time, home projects, or relaxation.",
		preferences: []string{"home", "personal", "family", "health", "leisure"},
	},
	"work": {
		note:        "Work hours focus on professional responsibilities, meetings, and business objectives.",
		preferences: []string{"work", "meeting", "urgent", "followup", "project"},
	},
	"evening": {
		note:        "Evening tasks often involve personal care, family time, home tasks, or administrative work.",
		preferences: []string{"personal", "home", "family", "admin"},
	},
}

// ModePrompt returns the instruction block for a mode and reasoning level.
// Unknown values fall back to the generic template and light reasoning.
func ModePrompt(mode, reasoningLevel string) string {
	tmpl, ok := modeTemplates[mode]
	if !ok {
		tmpl = defaultTemplate
	}
	instruction, ok := reasoningInstructions[reasoningLevel]
	if !ok {
		instruction = reasoningInstructions["light"]
	}

	parts := []string{tmpl.base, tmpl.context}
	if enh, ok := modeEnhancements[mode]; ok {
		parts = append(parts, enh.note)
		parts = append(parts, "Prefer these labels when appropriate: "+strings.Join(enh.preferences, ", "))
	}
	parts = append(parts, instruction)
	return strings.Join(parts, "\n\n")
}

func buildPrompt(modePrompt, userProfile, text string, labels []string, reasoningLevel string) string {
	var sb strings.Builder

	sb.WriteString(modePrompt)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "User Profile: %s\n\n", userProfile)
	fmt.Fprintf(&sb, "Available Labels: %s\n\n", strings.Join(labels, ", "))
	fmt.Fprintf(&sb, "Task: %s\n\n", text)
	sb.WriteString("Please respond with one or two relevant labels from the available labels list.")

	switch reasoningLevel {
	case "light":
		sb.WriteString("\n\nBriefly explain your reasoning in one sentence.")
	case "deep":
		sb.WriteString("\n\nProvide detailed reasoning with confidence level (0.0-1.0).")
	}
	return sb.String()
}
