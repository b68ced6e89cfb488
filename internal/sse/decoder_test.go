package sse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeLineIgnoresNonDataLines(t *testing.T) {
	for _, line := range []string{"", "event: message", ": keep-alive", " data: {}", "id: 7"} {
		items, kind := DecodeLine(line)
		require.Nil(t, items, line)
		require.Equal(t, LineIgnored, kind, line)
	}
}

func TestDecodeLineTerminalMarkers(t *testing.T) {
	for _, line := range []string{"data: [DONE]", "data:[DONE]", "data:", "data:    ", "data: [DONE]\r"} {
		items, kind := DecodeLine(line)
		require.Nil(t, items, line)
		require.Equal(t, LineTerminal, kind, line)
	}
}

func TestDecodeLineMalformed(t *testing.T) {
	cases := []string{
		`data: {"delta":`,
		`data: not json`,
		`data: {"delta":{}}`,
		`data: {"other":{"content":[]}}`,
		`data: ["a"]`,
		`data: null`,
		`data: {"data":{}}`,
	}
	for _, line := range cases {
		items, kind := DecodeLine(line)
		require.Nil(t, items, line)
		require.Equal(t, LineMalformed, kind, line)
	}
}

func TestDecodeLineEnvelopes(t *testing.T) {
	items, kind := DecodeLine(`data: {"delta":{"content":[{"type":"text","text":"top"}]}}`)
	require.Equal(t, LineDelta, kind)
	require.Equal(t, []DeltaItem{TextItem{Text: "top"}}, items)

	items, kind = DecodeLine(`data: {"data":{"delta":{"content":[{"type":"text","text":"nested"}]}}}`)
	require.Equal(t, LineDelta, kind)
	require.Equal(t, []DeltaItem{TextItem{Text: "nested"}}, items)

	items, kind = DecodeLine(`data: {"delta":{"content":[{"type":"text","text":"top"}]},"data":{"delta":{"content":[{"type":"text","text":"nested"}]}}}`)
	require.Equal(t, LineDelta, kind)
	require.Equal(t, []DeltaItem{TextItem{Text: "top"}}, items)
}

func TestDecodeLineEmptyContentIsDelta(t *testing.T) {
	items, kind := DecodeLine(`data: {"delta":{"content":[]}}`)
	require.Equal(t, LineDelta, kind)
	require.Empty(t, items)
}

func TestDecodeItemVariants(t *testing.T) {
	payload := `{"delta":{"content":[` +
		`{"type":"text"},` +
		`{"type":"tool_use","tool_use":{"name":"x"}},` +
		`{"type":"tool_results"},` +
		`{"type":"tool_results","tool_results":{"content":[` +
		`{"type":"json","json":{"text":"t","sql":"SELECT 1","searchResults":[{"doc_id":"d1","source_id":"s1"}]}},` +
		`{"type":"json"},` +
		`{"type":"json","json":null},` +
		`{"type":"text","json":{"text":"skipped"}},` +
		`42` +
		`]}},` +
		`"garbage"` +
		`]}}`

	items, kind := DecodePayload(payload)
	require.Equal(t, LineDelta, kind)
	require.Len(t, items, 5)

	require.Equal(t, TextItem{Text: ""}, items[0])
	require.Equal(t, UnknownItem{Type: "tool_use"}, items[1])
	require.Equal(t, ToolResultsItem{}, items[2])
	require.Equal(t, UnknownItem{}, items[4])

	results, ok := items[3].(ToolResultsItem)
	require.True(t, ok)
	require.Len(t, results.Results, 5)

	first, ok := results.Results[0].(JSONResult)
	require.True(t, ok)
	require.NotNil(t, first.Text)
	require.Equal(t, "t", *first.Text)
	require.Equal(t, "SELECT 1", first.SQL)
	require.Equal(t, []Citation{{DocumentID: "d1", SourceID: "s1"}}, first.SearchResults)

	require.Equal(t, OtherResult{Type: "json"}, results.Results[1])
	require.Equal(t, OtherResult{Type: "json"}, results.Results[2])
	require.Equal(t, OtherResult{Type: "text"}, results.Results[3])
	require.Equal(t, OtherResult{}, results.Results[4])
}

func TestLineKindString(t *testing.T) {
	require.Equal(t, "ignored", LineIgnored.String())
	require.Equal(t, "terminal", LineTerminal.String())
	require.Equal(t, "malformed", LineMalformed.String())
	require.Equal(t, "delta", LineDelta.String())
	require.Equal(t, "unknown", LineKind(99).String())
}

func TestDecodeLineTopLevelDeltaIgnoresNonObjectData(t *testing.T) {
	items, kind := DecodeLine(`data: {"delta":{"content":[{"type":"text","text":"top"}]},"data":"meta"}`)
	require.Equal(t, LineDelta, kind)
	require.Equal(t, []DeltaItem{TextItem{Text: "top"}}, items)

	_, kind = DecodeLine(`data: {"data":"meta"}`)
	require.Equal(t, LineMalformed, kind)

	_, kind = DecodeLine(`data: {"delta":null,"data":{"delta":{"content":[]}}}`)
	require.Equal(t, LineDelta, kind)
}

func TestDecodeToolResultKeepsValidSiblingFields(t *testing.T) {
	payload := `{"delta":{"content":[{"type":"tool_results","tool_results":{"content":[` +
		`{"type":"json","json":{"sql":"SELECT 9","text":"x","searchResults":[` +
		`{"doc_id":7,"source_id":"s1"},"junk",{"doc_id":"d2","source_id":{"nested":true}}]}},` +
		`{"type":"json","json":{"sql":42,"text":["bad"],"searchResults":"none"}}` +
		`]}}]}}`

	items, kind := DecodePayload(payload)
	require.Equal(t, LineDelta, kind)
	require.Len(t, items, 1)

	results := items[0].(ToolResultsItem).Results
	require.Len(t, results, 2)

	first, ok := results[0].(JSONResult)
	require.True(t, ok)
	require.NotNil(t, first.Text)
	require.Equal(t, "x", *first.Text)
	require.Equal(t, "SELECT 9", first.SQL)
	require.Equal(t, []Citation{{DocumentID: "7", SourceID: "s1"}, {DocumentID: "d2"}}, first.SearchResults)

	second, ok := results[1].(JSONResult)
	require.True(t, ok)
	require.Nil(t, second.Text)
	require.Empty(t, second.SQL)
	require.Nil(t, second.SearchResults)

	var acc Accumulator
	acc.Apply([]DeltaItem{TextItem{Text: "top"}})
	acc.Apply(items)
	require.Equal(t, Result{Text: "topx", SQL: "SELECT 9", Citations: first.SearchResults}, acc.Result())
}
