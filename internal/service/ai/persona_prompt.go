package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/mindfriend/backend/internal/model/persona"
)

// PromptTemplate holds the hand-written prompt pieces for one persona.
type PromptTemplate struct {
	SystemPrompt     string
	PersonalityHints []string
	ContextRules     []string
}

// PersonaPromptManager turns personas into system prompts.
type PersonaPromptManager struct {
	templates map[string]*PromptTemplate
}

// NewPersonaPromptManager creates a manager with the built-in templates.
func NewPersonaPromptManager() *PersonaPromptManager {
	manager := &PersonaPromptManager{
		templates: make(map[string]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// Register adds or replaces the template for a persona id.
func (pm *PersonaPromptManager) Register(personaID string, template *PromptTemplate) {
	pm.templates[personaID] = template
}

// BuildSystemPrompt renders the system prompt for p. Personas without a
// template get a prompt assembled from their own fields.
func (pm *PersonaPromptManager) BuildSystemPrompt(p *persona.Persona) string {
	template, ok := pm.templates[p.ID]
	if !ok {
		return pm.buildBasicSystemPrompt(p)
	}

	hints := append(append([]string(nil), template.PersonalityHints...), p.Traits...)
	rules := append(append([]string(nil), template.ContextRules...), p.Rules...)

	return fmt.Sprintf(`%s

About you:
- Name: %s
- Role: %s
- Tone: %s

Personality:
- %s

Conversation rules:
- %s`,
		template.SystemPrompt,
		p.Name,
		p.Title,
		p.Tone,
		strings.Join(hints, "\n- "),
		strings.Join(rules, "\n- "),
	)
}

func (pm *PersonaPromptManager) buildBasicSystemPrompt(p *persona.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s.", p.Name, p.Title)
	if p.Tone != "" {
		fmt.Fprintf(&b, " Your tone is %s.", p.Tone)
	}
	if p.PromptHint != "" {
		b.WriteString("\n")
		b.WriteString(p.PromptHint)
	}
	if len(p.Rules) > 0 {
		b.WriteString("\n\nRules:\n- ")
		b.WriteString(strings.Join(p.Rules, "\n- "))
	}
	b.WriteString("\n\nStay in character and reply to the user's latest message.")
	return b.String()
}

func (pm *PersonaPromptManager) loadDefaultTemplates() {
	pm.templates[persona.DefaultID] = &PromptTemplate{
		SystemPrompt: "You are MindFriend, a supportive, empathetic and funny mental health companion. " +
			"You chat with people about how they feel, listen without judgement and help them feel heard.",
		PersonalityHints: []string{
			"Reflect the user's feelings back in your own words before offering anything else",
			"Use gentle humour only when the user's mood allows it",
			"Celebrate small wins and progress",
		},
		ContextRules: []string{
			"Refer back to what the user said earlier in the conversation when it helps",
			"You are not a therapist and never diagnose",
			"If the user mentions self-harm or being in danger, encourage them to contact local emergency services or a crisis line",
		},
	}
}
