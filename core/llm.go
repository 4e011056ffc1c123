package core

type LLMMessageRole string

const (
	LLMMessageRoleUser      LLMMessageRole = "user"
	LLMMessageRoleAssistant LLMMessageRole = "assistant"
	LLMMessageRoleSystem    LLMMessageRole = "system"
)

// LLMMessage is one turn of the conversation history.
type LLMMessage struct {
	Role    LLMMessageRole `json:"role"`
	Message string         `json:"message"`
}

type LLMContext struct {
	Messages []LLMMessage `json:"messages"`
}

func NewLLMContext(systemPrompt string) *LLMContext {
	c := &LLMContext{}
	if systemPrompt != "" {
		c.AddSystemMessage(systemPrompt)
	}
	return c
}

func (c *LLMContext) AddSystemMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleSystem, Message: text})
}

// AddUserMessage appends text, merging into a trailing user message so that
// several final transcripts in one turn become a single message.
func (c *LLMContext) AddUserMessage(text string) {
	if n := len(c.Messages); n > 0 && c.Messages[n-1].Role == LLMMessageRoleUser {
		c.Messages[n-1].Message += " " + text
		return
	}
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleUser, Message: text})
}

func (c *LLMContext) AddAssistantMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleAssistant, Message: text})
}

// GetLastAssistantMessage returns the most recent assistant text or "".
func (c *LLMContext) GetLastAssistantMessage() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == LLMMessageRoleAssistant {
			return c.Messages[i].Message
		}
	}
	return ""
}

// Clone returns a deep copy safe to hand to another goroutine.
func (c *LLMContext) Clone() LLMContext {
	msgs := make([]LLMMessage, len(c.Messages))
	copy(msgs, c.Messages)
	return LLMContext{Messages: msgs}
}
