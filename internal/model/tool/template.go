package tool

import "fmt"

// Kind tells whether a tool produces text or an image URL.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Template maps caller text onto a fixed single-shot prompt.
type Template struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Kind        Kind    `json:"kind"`
	System      string  `json:"-"`
	Prompt      string  `json:"-"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	ImageSize   string  `json:"imageSize,omitempty"`
}

// Render fills the prompt with the caller's text.
func (t Template) Render(text string) string {
	return fmt.Sprintf(t.Prompt, text)
}

// Seed returns the built-in tools served by the legacy endpoints.
func Seed() []Template {
	return []Template{
		{
			ID:          "summary",
			Name:        "Summary",
			Description: "Condenses a block of text into a short summary.",
			Kind:        KindText,
			System:      "You are a helpful assistant that creates concise summaries.",
			Prompt:      "Please summarize the following text:\n\n%s",
			MaxTokens:   500,
			Temperature: 0.5,
		},
		{
			ID:          "paragraph",
			Name:        "Paragraph",
			Description: "Writes a detailed paragraph about a topic.",
			Kind:        KindText,
			Prompt:      "Write a detailed paragraph about: %s",
			MaxTokens:   500,
			Temperature: 0.5,
		},
		{
			ID:          "js-converter",
			Name:        "JavaScript converter",
			Description: "Turns plain instructions into JavaScript code.",
			Kind:        KindText,
			System:      "You are a helpful assistant that converts instructions into JavaScript code.",
			Prompt:      "Convert these instructions into JavaScript code:\n%s",
			MaxTokens:   400,
			Temperature: 0.25,
		},
		{
			ID:          "scifi-image",
			Name:        "Sci-fi image",
			Description: "Generates a science fiction illustration.",
			Kind:        KindImage,
			Prompt:      "Generate a sci-fi image of %s",
			ImageSize:   "512x512",
		},
	}
}
