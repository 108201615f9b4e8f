package modelclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testSchema = json.RawMessage(`{"type":"object"}`)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", "test-model",
		WithBaseURL(srv.URL),
		WithRetries(2, time.Millisecond),
	)
}

func chatReply(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(b)
}

func TestStructuredCompletion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "test-model", req["model"])
		require.InDelta(t, DefaultTemperature, req["temperature"], 1e-9)
		rf := req["response_format"].(map[string]any)
		require.Equal(t, "json_schema", rf["type"])

		fmt.Fprint(w, chatReply(`{"summary":"short bill"}`))
	})

	obj, err := c.StructuredCompletion(context.Background(),
		[]Message{{Role: "user", Content: "analyze"}}, testSchema, nil)
	require.NoError(t, err)
	require.Equal(t, "short bill", obj["summary"])
}

func TestStructuredCompletionRecoversFencedJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatReply("Here you go:\n```json\n{\"summary\":\"x\"}\n```\nDone."))
	})

	obj, err := c.StructuredCompletion(context.Background(),
		[]Message{{Role: "user", Content: "analyze"}}, testSchema, nil)
	require.NoError(t, err)
	require.Equal(t, "x", obj["summary"])
}

func TestStructuredCompletionEmptyResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatReply("I cannot analyze this bill."))
	})

	_, err := c.StructuredCompletion(context.Background(),
		[]Message{{Role: "user", Content: "analyze"}}, testSchema, nil)
	require.ErrorIs(t, err, ErrEmptyResult)
}

func TestStructuredCompletionWithPDF(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		msgs := req["messages"].([]any)
		require.Len(t, msgs, 1)
		parts := msgs[0].(map[string]any)["content"].([]any)
		require.Len(t, parts, 2)
		file := parts[0].(map[string]any)["file"].(map[string]any)
		require.True(t, strings.HasPrefix(file["file_data"].(string),
			"data:application/pdf;base64,"))

		fmt.Fprint(w, chatReply(`{"summary":"pdf bill"}`))
	})

	obj, err := c.StructuredCompletionWithPDF(context.Background(),
		[]byte("%PDF-1.7 fake"), "analyze", testSchema, nil)
	require.NoError(t, err)
	require.Equal(t, "pdf bill", obj["summary"])
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, chatReply(`{}`))
	})

	_, err := c.StructuredCompletion(context.Background(),
		[]Message{{Role: "user", Content: "hi"}}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestCompleteSurfacesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.StructuredCompletion(context.Background(),
		[]Message{{Role: "user", Content: "hi"}}, nil, nil)
	require.ErrorIs(t, err, ErrRateLimited)
	require.Equal(t, int32(3), calls.Load()) // initial + 2 retries
}

func TestCompleteTerminalOnBadRequest(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad schema"}}`)
	})

	_, err := c.StructuredCompletion(context.Background(),
		[]Message{{Role: "user", Content: "hi"}}, nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	require.Equal(t, int32(1), calls.Load())
}

func TestRecoverJSON(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantKey string
	}{
		{"direct", `{"a":"b"}`, "b", "a"},
		{"fenced", "```json\n{\"a\":\"b\"}\n```", "b", "a"},
		{"fenced no lang", "```\n{\"a\":\"b\"}\n```", "b", "a"},
		{"surrounded", `prefix {"a":"b"} suffix`, "b", "a"},
		{"brace in string", `note {"a":"b}","c":1} end`, "b}", "a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obj, ok := RecoverJSON(tc.in)
			require.True(t, ok)
			require.Equal(t, tc.want, obj[tc.wantKey])
		})
	}

	for _, in := range []string{"", "no json here", "{unbalanced"} {
		_, ok := RecoverJSON(in)
		require.False(t, ok, "input %q", in)
	}
}
