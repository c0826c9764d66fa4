package rails

import "strings"

const instructionGeneral = "general"

// buildSystemPrompt joins the general instructions and the optional sample
// conversation into one system message.
func buildSystemPrompt(cfg *Config) string {
	var parts []string
	for _, in := range cfg.Instructions {
		if in.Type != instructionGeneral {
			continue
		}
		if c := strings.TrimSpace(in.Content); c != "" {
			parts = append(parts, c)
		}
	}
	if sample := strings.TrimSpace(cfg.SampleConversation); sample != "" {
		parts = append(parts, "Sample conversation:\n"+sample)
	}
	return strings.Join(parts, "\n\n")
}
