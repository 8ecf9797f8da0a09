package chatbot

import (
	openai "github.com/sashabaranov/go-openai"

	"ChatDesk/internal/config"
	"ChatDesk/internal/session"
)

// BuildRequest maps the whole history, oldest first, into a chat completion
// request. The full history is resent on every turn.
func BuildRequest(model string, history []session.Message) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(history))
	for i, msg := range history {
		messages[i] = openai.ChatCompletionMessage{
			Role:    wireRole(msg.Role),
			Content: msg.Content,
		}
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: config.Temperature,
	}
}

func wireRole(r session.Role) string {
	if r == session.RoleAssistant {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}
