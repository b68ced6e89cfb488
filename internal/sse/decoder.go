package sse

import (
	"encoding/json"
	"strings"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// LineKind 描述一行 SSE 文本的解析结果。
type LineKind int

const (
	// LineIgnored 表示不是 data: 行。
	LineIgnored LineKind = iota
	// LineTerminal 表示空负载或 [DONE] 结束标记。
	LineTerminal
	// LineMalformed 表示负载不是合法 JSON 或缺少 content。
	LineMalformed
	// LineDelta 表示成功解析出 content 数组。
	LineDelta
)

// String 返回适合作为指标标签的名称。
func (k LineKind) String() string {
	switch k {
	case LineIgnored:
		return "ignored"
	case LineTerminal:
		return "terminal"
	case LineMalformed:
		return "malformed"
	case LineDelta:
		return "delta"
	default:
		return "unknown"
	}
}

// DecodeLine 解析一行 SSE 文本。只有 LineDelta 会返回 content 元素。
func DecodeLine(line string) ([]DeltaItem, LineKind) {
	rest, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return nil, LineIgnored
	}
	return DecodePayload(strings.TrimSpace(rest))
}

// DecodePayload 解析去掉 data: 前缀后的负载。
// 同时接受 {delta:{...}} 与 {data:{delta:{...}}} 两种外层结构，优先使用顶层 delta。
func DecodePayload(payload string) ([]DeltaItem, LineKind) {
	if payload == "" || payload == doneSentinel {
		return nil, LineTerminal
	}

	var env deltaEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, LineMalformed
	}

	raw := env.Delta
	if !present(raw) && present(env.Data) {
		var nested struct {
			Delta json.RawMessage `json:"delta"`
		}
		if json.Unmarshal(env.Data, &nested) == nil {
			raw = nested.Delta
		}
	}
	if !present(raw) {
		return nil, LineMalformed
	}
	var delta deltaBody
	if err := json.Unmarshal(raw, &delta); err != nil || delta.Content == nil {
		return nil, LineMalformed
	}

	items := make([]DeltaItem, 0, len(delta.Content))
	for _, content := range delta.Content {
		items = append(items, decodeItem(content))
	}
	return items, LineDelta
}
