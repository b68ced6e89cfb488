package sse

import "strings"

// Result 是一次流读取结束后的最终结果。
type Result struct {
	Text      string
	SQL       string
	Citations []Citation
}

// Accumulator 按到达顺序折叠 delta 元素。每个查询独占一个实例，不可复用。
type Accumulator struct {
	text      strings.Builder
	sql       string
	citations []Citation
}

// Apply 将一组 delta 元素折叠进累加器。
func (a *Accumulator) Apply(items []DeltaItem) {
	for _, item := range items {
		switch v := item.(type) {
		case TextItem:
			a.text.WriteString(v.Text)
		case ToolResultsItem:
			a.applyToolResults(v.Results)
		case UnknownItem:
		}
	}
}

func (a *Accumulator) applyToolResults(results []ToolResult) {
	for _, result := range results {
		switch r := result.(type) {
		case JSONResult:
			if r.Text != nil {
				a.text.WriteString(*r.Text)
			}
			// SQL 以最后一次非空值为准。
			if r.SQL != "" {
				a.sql = r.SQL
			}
			a.citations = append(a.citations, r.SearchResults...)
		case OtherResult:
		}
	}
}

// Result 返回当前累积内容的快照，Citations 永远不为 nil。
func (a *Accumulator) Result() Result {
	citations := make([]Citation, len(a.citations))
	copy(citations, a.citations)
	return Result{
		Text:      a.text.String(),
		SQL:       a.sql,
		Citations: citations,
	}
}
