package pipeline

import (
	"strings"
	"testing"

	"github.com/lokutor-ai/voicegate/pkg/session"
)

func TestBuildInstructionsWithTopic(t *testing.T) {
	out := BuildInstructions("astronomy", session.ResponseNormal)
	if !strings.Contains(out, "Conversation topic: astronomy") {
		t.Fatalf("missing topic line: %s", out)
	}
	if strings.Contains(out, "keep your replies") || strings.Contains(out, "elaborate at greater") {
		t.Fatalf("normal length should not add a directive: %s", out)
	}
}

func TestBuildInstructionsNoTopicFallback(t *testing.T) {
	out := BuildInstructions("", session.ResponseNormal)
	if !strings.Contains(out, "No fixed topic") {
		t.Fatalf("missing no-topic fallback: %s", out)
	}
}

func TestBuildInstructionsShortAndLongDirectives(t *testing.T) {
	short := BuildInstructions("sports", session.ResponseShort)
	if !strings.Contains(short, "keep your replies noticeably brief") {
		t.Fatalf("missing short directive: %s", short)
	}

	long := BuildInstructions("sports", session.ResponseLong)
	if !strings.Contains(long, "elaborate at greater length") {
		t.Fatalf("missing long directive: %s", long)
	}
}
