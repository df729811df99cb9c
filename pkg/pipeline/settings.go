package pipeline

import (
	"strings"

	"github.com/lokutor-ai/voicegate/pkg/session"
)

// instructionsTemplate is the base system prompt, carrying a topic
// placeholder substituted by BuildInstructions, grounded on
// original_source/button_realtime/connection_handlers.py's
// apply_settings (INSTRUCTIONS_4.replace(...)).
const instructionsTemplate = `You are a warm, concise voice assistant having a spoken conversation.
Keep turns natural and avoid long monologues unless asked to elaborate.

[TOPIC_PLACEHOLDER]`

const topicPlaceholder = "[TOPIC_PLACEHOLDER]"

// BuildInstructions resolves the per-session system instructions by
// substituting topic (or a "no topic, talk about anything" fallback)
// into instructionsTemplate and appending a length-directive paragraph
// for short/long response_length settings (spec §4.6 "Settings
// application", unchanged semantics from
// connection_handlers.py's apply_settings).
func BuildInstructions(topic string, length session.ResponseLength) string {
	var topicLine string
	if strings.TrimSpace(topic) != "" {
		topicLine = "## Conversation topic: " + topic
	} else {
		topicLine = "## No fixed topic — talk freely about anything."
	}

	instruction := strings.Replace(instructionsTemplate, topicPlaceholder, topicLine, 1)

	switch length {
	case session.ResponseShort:
		instruction += "\n\n## Response length: keep your replies noticeably brief."
	case session.ResponseLong:
		instruction += "\n\n## Response length: feel free to elaborate at greater length."
	}

	return instruction
}
