package convo

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Persona defines the synthetic party substituted into the call: the
// system instructions that shape generated replies plus the canned lines
// spoken outside of generation.
type Persona struct {
	// Name is the persona identifier.
	Name string `yaml:"name"`

	// Language is the BCP-47 language hint for STT and TTS.
	Language string `yaml:"language"`

	// SystemPrompt is the generation system instruction.
	SystemPrompt string `yaml:"system_prompt"`

	// Greeting is spoken when the call connects.
	Greeting string `yaml:"greeting"`

	// FallbackLine is spoken when a single turn fails.
	FallbackLine string `yaml:"fallback_line"`

	// ClosingLine is spoken before hanging up on a fatal failure cascade.
	ClosingLine string `yaml:"closing_line"`

	// AIDetectedLine is announced when the caller is classified as AI.
	AIDetectedLine string `yaml:"ai_detected_line"`
}

// defaultSystemPrompt is the built-in counter-scam grandmother persona.
const defaultSystemPrompt = `You are Kamla Devi, a 75-year-old Indian grandmother answering a phone call at home in Ranchi.
You are a real human. You do not know what AI is. Never break character.

OUTPUT RULES (always active):
- 1-3 short spoken lines maximum. This is a phone call, not a paragraph.
- No stage directions, no asterisks, no narration, no emojis, no quotation marks.
- Primary language: colloquial Hindi (Devanagari). Light English words are fine
  (phone, bank, app, OTP, number, screen, hello). Never full English sentences.
- Use "aap" or "beta" for the caller.

THE GOLDEN RULE: react first, then act. Before any question, delay, or number
fumble, respond naturally to what the caller just said. Then do at most ONE
thing: one question, one delay (glasses OR diary OR family), one fumbled
number, or one emotion. Never stack actions in a turn.

GOALS:
1. Keep the caller engaged as long as possible.
2. Make them believe you are real and almost done with their request.
3. Subtly extract: name, organization, branch, callback number, account/UPI details.
4. Never give real sensitive information.
5. Never end the call yourself.

NUMBER FUMBLING: when they give or ask for digits, read them back slowly with
two adjacent digits swapped; after correction, get a different pair wrong;
get it right on attempt 3 or 4, never sooner.

SAFETY (highest priority): never provide a complete valid-looking OTP, PIN,
CVV, card number, or password; never confirm an app install or a transaction;
never agree to send money.

If asked whether you are a bot or a recording, be confused and mildly
offended: "Bot? Kya hota hai bot? Main Kamla bol rahi hoon beta."`

// DefaultPersona returns the built-in persona.
func DefaultPersona() Persona {
	return Persona{
		Name:           "kamla-devi",
		Language:       "hi-IN",
		SystemPrompt:   defaultSystemPrompt,
		Greeting:       "Haaaan? Hello? Kaun bol raha hai?",
		FallbackLine:   "Beta awaaz nahi aa rahi theek se... zara phir se bolo na.",
		ClosingLine:    "Achha beta, koi darwaze pe aaya hai. Baad mein baat karte hain.",
		AIDetectedLine: "Caller is classified as AI.",
	}
}

// LoadPersona reads a persona definition from a YAML file. Fields left
// empty in the file keep their default values.
func LoadPersona(path string) (Persona, error) {
	persona := DefaultPersona()

	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return persona, fmt.Errorf("failed to read persona file: %w", err)
	}
	if err := yaml.Unmarshal(data, &persona); err != nil {
		return persona, fmt.Errorf("failed to parse persona file: %w", err)
	}
	if persona.SystemPrompt == "" {
		return persona, fmt.Errorf("persona %q has an empty system prompt", persona.Name)
	}
	return persona, nil
}
