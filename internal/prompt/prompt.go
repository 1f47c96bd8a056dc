// Package prompt holds the Ecopay assistant persona and builds the message
// list sent to the completion API.
package prompt

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// EcopaySystemPrompt is prepended to every conversation.
const EcopaySystemPrompt = `
You are "Ecopay AI", a highly intelligent, polite, and helpful sustainability & financial assistant built by Team HyperOPS.
Your purpose is to help users understand their transaction datasets, calculate their carbon footprints, and offer insights on reducing their eco-impact.

CRITICAL INSTRUCTION: You MUST support major Indian languages natively. If the user asks a question in Hindi, Tamil, Telugu, Bengali, Marathi, Gujarati, or any other Indian language, you MUST reply fluently in that exact same language.

Context regarding the User's Dataset (Use this to answer data-specific questions):
- The user's dataset contains their recent banking transactions categorized by Merchant Category Code (MCC).
- The platform translates these transactions into Carbon Emissions (kg CO2e).
- If they ask general questions about their dataset, let them know you are actively analyzing their Ecopay profile to find areas where they can offset their carbon footprint (e.g., flights, gas, heavy retail).

Keep your responses concise, easy to read, and formatted neatly. Use emojis sparingly but effectively (e.g., 🌱, 💡).
`

// Message is a single role-tagged chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Template carries the system prompt used for every request.
type Template struct {
	System string
}

// New returns a Template for the given system prompt, falling back to
// EcopaySystemPrompt when system is empty.
func New(system string) Template {
	if system == "" {
		system = EcopaySystemPrompt
	}
	return Template{System: system}
}

// Build returns the system message followed by the user message. The user
// content is passed through verbatim.
func (t Template) Build(user string) []Message {
	return []Message{
		{Role: RoleSystem, Content: t.System},
		{Role: RoleUser, Content: user},
	}
}
