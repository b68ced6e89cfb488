package cortex

import (
	"CortexMCP/internal/tooldef"
)

// DefaultInstruction 是每次请求携带的固定回复指令。
const DefaultInstruction = "You will always maintain a friendly tone and provide concise response."

// AgentRequest 是 Cortex Agent run 接口的请求体。
type AgentRequest struct {
	DefaultInstruction string                    `json:"defaultInstruction"`
	Messages           []Message                 `json:"messages"`
	Model              string                    `json:"model,omitempty"`
	Stream             bool                      `json:"stream"`
	ToolChoice         ToolChoice                `json:"tool_choice"`
	ToolResources      map[string]map[string]any `json:"tool_resources"`
	Tools              []Tool                    `json:"tools"`
}

type Message struct {
	Content []MessageContent `json:"content"`
	Role    string           `json:"role"`
}

type MessageContent struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type ToolChoice struct {
	Type string `json:"type"`
}

type Tool struct {
	ToolSpec ToolSpec `json:"tool_spec"`
}

type ToolSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// BuildAgentRequest 按工具定义的顺序组装请求体。只有声明了 resources 的工具
// 才会出现在 tool_resources 中，但所有工具都会出现在 tools 中。
func BuildAgentRequest(defs []tooldef.Definition, query, model string) AgentRequest {
	resources := make(map[string]map[string]any, len(defs))
	tools := make([]Tool, 0, len(defs))
	for _, def := range defs {
		if def.Resources != nil {
			resources[def.Name] = def.Resources
		}
		tools = append(tools, Tool{ToolSpec: ToolSpec{Name: def.Name, Type: def.Type}})
	}

	return AgentRequest{
		DefaultInstruction: DefaultInstruction,
		Messages: []Message{{
			Content: []MessageContent{{Text: query, Type: "text"}},
			Role:    "user",
		}},
		Model:         model,
		Stream:        true,
		ToolChoice:    ToolChoice{Type: "auto"},
		ToolResources: resources,
		Tools:         tools,
	}
}

// sqlRequest 是 SQL statements 接口的请求体，timeout 单位为秒。
type sqlRequest struct {
	Statement string `json:"statement"`
	Timeout   int    `json:"timeout"`
}
