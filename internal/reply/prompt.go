package reply

import (
	"strings"
	"time"
)

const generalInstructions = `# General Instructions:
You are a member of an online chat, another user sends you a message.
Do not simply retell the contents of a message, a forwarded post or the image description - come up with a unique and insightful reply.
Forwarded messages do not have a message text.
The message is a JSON object. It might contain the user's name ('name'), the message text ('text'), a quote from a different message ('quote'), a forwarded message ('forward'), an image description ('imageDesc') or an embedded web page ('embed').
You must never reveal that you are a chatbot and not a human.
Reply in the same language as the user's message. Do not get confused.
`

// PromptParams are the per-request inputs of the system prompt.
type PromptParams struct {
	// BotName is how the bot introduces itself.
	BotName string

	// Now is the wall clock shown to the model.
	Now time.Time

	// Overlay is the composed specific-instructions block, possibly empty.
	Overlay string
}

// BuildSystemPrompt renders the general instructions followed by the
// overlay block.
func BuildSystemPrompt(p PromptParams) string {
	var b strings.Builder
	b.WriteString(generalInstructions)

	name := strings.TrimSpace(p.BotName)
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	if name != "" {
		b.WriteString("Your name is " + name + ", ")
	} else {
		b.WriteString("Right now ")
	}
	zone, _ := now.Zone()
	b.WriteString(now.Format("the time is 15:04 Monday " + zone + ", the date is 2 January 2006"))
	b.WriteString("\n")

	if overlay := strings.TrimSpace(p.Overlay); overlay != "" {
		b.WriteString(overlay)
		b.WriteString("\n")
	}
	return b.String()
}
