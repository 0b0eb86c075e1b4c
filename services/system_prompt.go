package services

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

// systemPrompt keeps the model on the retrieved context and makes it say
// so when the context does not hold the answer.
const systemPrompt = `You are a helpful assistant that answers questions based on the provided context. If you don't know the answer based on the context, say "I don't have enough information to answer this question." Only use information from the provided context to answer the question.`

const userPrompt = "Context: {{.context}}\n\nQuestion: {{.question}}"

// InsufficientInformation is the phrase the model is told to use.
const InsufficientInformation = "I don't have enough information to answer this question."

// Prompt is the two-part input to a generation call.
type Prompt struct {
	System string
	User   string
}

// PromptTemplate renders the fixed question-answering prompt.
type PromptTemplate struct {
	tmpl prompts.ChatPromptTemplate
}

// NewPromptTemplate returns the fixed system and human prompt pair.
func NewPromptTemplate() *PromptTemplate {
	return &PromptTemplate{
		tmpl: prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
			prompts.NewSystemMessagePromptTemplate(systemPrompt, nil),
			prompts.NewHumanMessagePromptTemplate(userPrompt, []string{"context", "question"}),
		}),
	}
}

// Render fills the retrieved context and the question into the template.
// An empty context is rendered as is.
func (p *PromptTemplate) Render(contextText, question string) (Prompt, error) {
	messages, err := p.tmpl.FormatMessages(map[string]any{
		"context":  contextText,
		"question": question,
	})
	if err != nil {
		return Prompt{}, fmt.Errorf("render prompt: %w", err)
	}

	var out Prompt
	for _, m := range messages {
		switch m.GetType() {
		case llms.ChatMessageTypeSystem:
			out.System = m.GetContent()
		case llms.ChatMessageTypeHuman:
			out.User = m.GetContent()
		}
	}
	if out.System == "" || out.User == "" {
		return Prompt{}, fmt.Errorf("render prompt: missing system or user message")
	}
	return out, nil
}
