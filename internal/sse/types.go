// Package sse 负责解析 Cortex Agent 返回的 Server-Sent Events 流，
// 并把增量片段（文本、工具结果、SQL、引用）折叠为完整的查询结果。
package sse

import "encoding/json"

const (
	itemTypeText        = "text"
	itemTypeToolResults = "tool_results"
	resultTypeJSON      = "json"
)

// Citation 标识一条为回答提供依据的检索文档。
type Citation struct {
	DocumentID string `json:"doc_id"`
	SourceID   string `json:"source_id"`
}

// DeltaItem 是 delta.content 中单个元素的和类型。
// 仅 TextItem、ToolResultsItem、UnknownItem 实现该接口。
type DeltaItem interface {
	deltaItem()
}

// TextItem 携带一段回答文本。
type TextItem struct {
	Text string
}

// ToolResultsItem 携带若干工具执行结果。
type ToolResultsItem struct {
	Results []ToolResult
}

// UnknownItem 表示无法识别的类型，折叠时不产生任何效果。
type UnknownItem struct {
	Type string
}

func (TextItem) deltaItem()        {}
func (ToolResultsItem) deltaItem() {}
func (UnknownItem) deltaItem()     {}

// ToolResult 是工具结果的和类型，只有 JSONResult 会被折叠。
type ToolResult interface {
	toolResult()
}

// JSONResult 是 type 为 json 且 json 字段非空的工具结果。
type JSONResult struct {
	// Text 为 nil 表示负载中没有 text 字段。
	Text          *string
	SQL           string
	SearchResults []Citation
}

// OtherResult 表示其它类型或缺少 json 负载的工具结果。
type OtherResult struct {
	Type string
}

func (JSONResult) toolResult()  {}
func (OtherResult) toolResult() {}

// wire 层结构，保持与服务端字段名一致。
// 兄弟字段各自独立解析，某个字段类型不符只丢弃该字段本身。
type (
	deltaEnvelope struct {
		Delta json.RawMessage `json:"delta"`
		Data  json.RawMessage `json:"data"`
	}

	deltaBody struct {
		Content []json.RawMessage `json:"content"`
	}

	wireItem struct {
		Type        string          `json:"type"`
		Text        json.RawMessage `json:"text"`
		ToolResults json.RawMessage `json:"tool_results"`
	}

	wireToolResult struct {
		Type string          `json:"type"`
		JSON json.RawMessage `json:"json"`
	}
)

// present 报告原始字段是否存在且不为 null。
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// decodeItem 把单个 content 元素转换为 DeltaItem，无法解析时返回 UnknownItem。
func decodeItem(raw json.RawMessage) DeltaItem {
	var item wireItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return UnknownItem{}
	}
	switch item.Type {
	case itemTypeText:
		var text string
		_ = json.Unmarshal(item.Text, &text)
		return TextItem{Text: text}
	case itemTypeToolResults:
		out := ToolResultsItem{}
		var body struct {
			Content []json.RawMessage `json:"content"`
		}
		if !present(item.ToolResults) || json.Unmarshal(item.ToolResults, &body) != nil {
			return out
		}
		out.Results = make([]ToolResult, 0, len(body.Content))
		for _, rawResult := range body.Content {
			out.Results = append(out.Results, decodeToolResult(rawResult))
		}
		return out
	default:
		return UnknownItem{Type: item.Type}
	}
}

func decodeToolResult(raw json.RawMessage) ToolResult {
	var result wireToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return OtherResult{}
	}
	if result.Type != resultTypeJSON || !present(result.JSON) {
		return OtherResult{Type: result.Type}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(result.JSON, &fields); err != nil {
		return OtherResult{Type: result.Type}
	}

	out := JSONResult{}
	var text string
	if raw, ok := fields["text"]; ok && json.Unmarshal(raw, &text) == nil && present(raw) {
		out.Text = &text
	}
	_ = json.Unmarshal(fields["sql"], &out.SQL)
	out.SearchResults = decodeCitations(fields["searchResults"])
	return out
}

// decodeCitations 逐条解析检索结果，非数组时返回 nil。
func decodeCitations(raw json.RawMessage) []Citation {
	var entries []json.RawMessage
	if !present(raw) || json.Unmarshal(raw, &entries) != nil {
		return nil
	}
	citations := make([]Citation, 0, len(entries))
	for _, entry := range entries {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(entry, &fields); err != nil || fields == nil {
			continue
		}
		citations = append(citations, Citation{
			DocumentID: scalarString(fields["doc_id"]),
			SourceID:   scalarString(fields["source_id"]),
		})
	}
	return citations
}

// scalarString 返回字符串值；数字与布尔值保留其 JSON 文本，其它情况为空串。
func scalarString(raw json.RawMessage) string {
	if !present(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch v.(type) {
	case float64, bool:
		return string(raw)
	}
	return ""
}
