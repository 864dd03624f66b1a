package intent

import (
	"fmt"
	"strings"

	"github.com/notewise-ai/notewise/capability"
)

// buildPrompt assembles the classification prompt. The capability set is
// described from the registry so the prompt and the function declarations
// can never drift apart.
func buildPrompt(message string, rc RequestContext, reg *capability.Registry) string {
	var b strings.Builder

	b.WriteString("You are the intent classifier for a study-notes assistant. ")
	b.WriteString("Classify the user's message into exactly one of the capabilities below by calling the matching function, ")
	b.WriteString("or answer with the JSON object {\"intent\": \"none\"} when no capability clearly applies. ")
	b.WriteString("Never guess: an ambiguous message is \"none\".\n\n")

	b.WriteString("Capabilities:\n")
	for _, id := range reg.IDs() {
		d := reg.Get(id)
		fmt.Fprintf(&b, "- %s: %s\n", d.FunctionName, d.Description)
		for _, ex := range d.Examples {
			fmt.Fprintf(&b, "  e.g. %q\n", ex)
		}
	}

	if rc.PageContext != "" {
		fmt.Fprintf(&b, "\nThe user is currently on: %s\n", rc.PageContext)
	}
	if len(rc.Mentions) > 0 {
		b.WriteString("\nNotes referenced in the message:\n")
		for _, m := range rc.Mentions {
			fmt.Fprintf(&b, "- %s (%s)\n", m.NoteName, m.NoteID)
		}
	}

	fmt.Fprintf(&b, "\nUser message: %s\n", message)
	return b.String()
}
