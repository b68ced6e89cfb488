package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"CortexMCP/sdk/go/cortexmcp"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/v1/query", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewEncoder(w).Encode(cortexmcp.QueryResult{
			Citations: []cortexmcp.Citation{{DocumentID: "doc-7", SourceID: "orders_search"}},
			Results:   json.RawMessage(`{"data":[["42"]]}`),
			SQL:       "SELECT COUNT(*) FROM orders",
			Text:      "There are 42 orders.",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := cortexmcp.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetAccessToken("demo-token")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Health(ctx); err != nil {
		panic(err)
	}
	fmt.Println("server is healthy")

	result, err := client.Query(ctx, "How many orders were placed?")
	if err != nil {
		panic(err)
	}
	fmt.Printf("answer: %s\nsql: %s\nresults: %s\ncitations: %d\n",
		result.Text, result.SQL, result.Results, len(result.Citations))
}
