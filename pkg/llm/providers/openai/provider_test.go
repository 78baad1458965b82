package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"

	"deskbridge/pkg/bridge"

	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	retries := 2
	negative := -1
	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr string
	}{
		{name: "minimal", cfg: ProviderConfig{APIKey: "sk-test"}},
		{
			name: "full",
			cfg: ProviderConfig{
				APIKey:          "sk-test",
				BaseURL:         "https://proxy.internal/v1",
				Organization:    "org",
				Project:         "proj",
				MaxRetries:      &retries,
				ReasoningEffort: "LOW",
			},
		},
		{name: "blank key", cfg: ProviderConfig{APIKey: "  "}, wantErr: "missing api_key"},
		{name: "relative base url", cfg: ProviderConfig{APIKey: "k", BaseURL: "/v1"}, wantErr: "base_url"},
		{name: "negative retries", cfg: ProviderConfig{APIKey: "k", MaxRetries: &negative}, wantErr: "max_retries"},
		{name: "unknown effort", cfg: ProviderConfig{APIKey: "k", ReasoningEffort: "extreme"}, wantErr: "reasoning_effort"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			provider, err := New(testCase.cfg)
			if testCase.wantErr == "" {
				if err != nil || provider == nil {
					t.Fatalf("New() = (%v, %v), want provider", provider, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, testCase.wantErr)
			}
		})
	}
}

func TestCompleteBuildsSingleTurnRequest(t *testing.T) {
	t.Parallel()

	client := &responsesStub{stream: &eventStreamStub{events: []responses.ResponseStreamEventUnion{
		event(t, `{"type":"response.completed","sequence_number":1,"response":{}}`),
	}}}
	provider := &Provider{responses: client, effort: "low"}

	_, err := provider.Complete(context.Background(), bridge.LLMRequest{
		Model:           " gpt-4o-mini ",
		System:          "Summarize ticket #42.",
		Prompt:          "TICKET #42: Printer on fire",
		MaxOutputTokens: 500,
		Temperature:     0.3,
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if len(client.params) != 1 {
		t.Fatalf("calls = %d, want 1", len(client.params))
	}

	encoded, err := json.Marshal(client.params[0])
	if err != nil {
		t.Fatalf("marshal params failed: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(encoded, &body); err != nil {
		t.Fatalf("unmarshal params failed: %v", err)
	}

	want := map[string]any{
		"model":             "gpt-4o-mini",
		"instructions":      "Summarize ticket #42.",
		"input":             "TICKET #42: Printer on fire",
		"max_output_tokens": float64(500),
		"temperature":       0.3,
	}
	for key, value := range want {
		if body[key] != value {
			t.Fatalf("%s = %#v, want %#v (body %s)", key, body[key], value, encoded)
		}
	}
	reasoning, _ := body["reasoning"].(map[string]any)
	if reasoning["effort"] != "low" {
		t.Fatalf("reasoning = %#v, want effort low", body["reasoning"])
	}
}

func TestCompleteOmitsUnsetOptions(t *testing.T) {
	t.Parallel()

	client := &responsesStub{stream: &eventStreamStub{events: []responses.ResponseStreamEventUnion{
		event(t, `{"type":"response.completed","sequence_number":1,"response":{}}`),
	}}}
	provider := &Provider{responses: client}

	if _, err := provider.Complete(context.Background(), bridge.LLMRequest{Model: "m", Prompt: "p"}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	encoded, err := json.Marshal(client.params[0])
	if err != nil {
		t.Fatalf("marshal params failed: %v", err)
	}
	for _, key := range []string{"instructions", "max_output_tokens", "temperature", "reasoning"} {
		if strings.Contains(string(encoded), `"`+key+`"`) {
			t.Fatalf("params contain %q: %s", key, encoded)
		}
	}
}

func TestCompleteAssemblesStream(t *testing.T) {
	t.Parallel()

	delta := func(sequence int, text string) string {
		raw, _ := json.Marshal(text)
		return `{"type":"response.output_text.delta","sequence_number":` + strconv.Itoa(sequence) +
			`,"item_id":"i","output_index":0,"content_index":0,"delta":` + string(raw) + `,"logprobs":[]}`
	}

	tests := []struct {
		name       string
		events     []string
		streamErr  error
		want       bridge.LLMCompletion
		wantErr    string
		wantClosed bool
	}{
		{
			name: "deltas then completion with usage",
			events: []string{
				`{"type":"response.in_progress","sequence_number":0,"response":{}}`,
				`{"type":"response.reasoning_text.delta","sequence_number":1,"item_id":"i","output_index":0,"content_index":0,"delta":"hidden"}`,
				delta(2, "The printer "),
				delta(3, "is on fire."),
				`{"type":"response.completed","sequence_number":4,"response":{"usage":{"input_tokens":120,"output_tokens":9}}}`,
			},
			want: bridge.LLMCompletion{
				Text:         "The printer is on fire.",
				FinishReason: bridge.LLMFinishStop,
				Usage:        bridge.LLMUsage{InputTokens: 120, OutputTokens: 9},
			},
		},
		{
			name: "max tokens marks length",
			events: []string{
				delta(1, "Partial"),
				`{"type":"response.incomplete","sequence_number":2,"response":{"incomplete_details":{"reason":"max_output_tokens"}}}`,
			},
			want: bridge.LLMCompletion{Text: "Partial", FinishReason: bridge.LLMFinishLength},
		},
		{
			name: "content filter marks filtered",
			events: []string{
				`{"type":"response.incomplete","sequence_number":1,"response":{"incomplete_details":{"reason":"content_filter"}}}`,
			},
			want: bridge.LLMCompletion{FinishReason: bridge.LLMFinishFiltered},
		},
		{
			name: "failed response",
			events: []string{
				`{"type":"response.failed","sequence_number":1,"response":{"status":"failed","error":{"code":"server_error","message":"boom"}}}`,
			},
			wantErr: "server_error: boom",
		},
		{
			name:    "error event",
			events:  []string{`{"type":"error","sequence_number":1,"code":"rate_limit_exceeded","message":"slow down","param":null}`},
			wantErr: "rate_limit_exceeded: slow down",
		},
		{
			name:      "transport error",
			events:    []string{delta(1, "half")},
			streamErr: errors.New("connection reset"),
			wantErr:   "connection reset",
		},
		{
			name:    "stream ends without terminal event",
			events:  []string{delta(1, "dangling")},
			wantErr: "without a terminal event",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			events := make([]responses.ResponseStreamEventUnion, 0, len(testCase.events))
			for _, raw := range testCase.events {
				events = append(events, event(t, raw))
			}
			stream := &eventStreamStub{events: events, err: testCase.streamErr}
			provider := &Provider{responses: &responsesStub{stream: stream}}

			got, err := provider.Complete(context.Background(), bridge.LLMRequest{Model: "m", Prompt: "p"})
			if stream.closeCount != 1 {
				t.Fatalf("close count = %d, want 1", stream.closeCount)
			}
			if testCase.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Complete failed: %v", err)
			}
			if got != testCase.want {
				t.Fatalf("completion = %+v, want %+v", got, testCase.want)
			}
		})
	}
}

func TestCompleteRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	client := &responsesStub{}
	provider := &Provider{responses: client}

	_, err := provider.Complete(context.Background(), bridge.LLMRequest{Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "missing prompt") {
		t.Fatalf("error = %v, want missing prompt", err)
	}
	if len(client.params) != 0 {
		t.Fatalf("calls = %d, want none", len(client.params))
	}
}

func TestCompleteReportsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := &Provider{responses: &responsesStub{stream: &eventStreamStub{err: errors.New("aborted")}}}

	_, err := provider.Complete(ctx, bridge.LLMRequest{Model: "m", Prompt: "p"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func event(t *testing.T, raw string) responses.ResponseStreamEventUnion {
	t.Helper()

	var decoded responses.ResponseStreamEventUnion
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("unmarshal event failed: %v", err)
	}

	return decoded
}

type responsesStub struct {
	params []responses.ResponseNewParams
	stream *eventStreamStub
}

func (s *responsesStub) NewStreaming(
	_ context.Context,
	body responses.ResponseNewParams,
	_ ...option.RequestOption,
) eventStream {
	s.params = append(s.params, body)
	if s.stream == nil {
		s.stream = &eventStreamStub{}
	}

	return s.stream
}

type eventStreamStub struct {
	events []responses.ResponseStreamEventUnion
	err    error

	current    responses.ResponseStreamEventUnion
	index      int
	closeCount int
}

func (s *eventStreamStub) Next() bool {
	if s.index >= len(s.events) {
		return false
	}
	s.current = s.events[s.index]
	s.index++

	return true
}

func (s *eventStreamStub) Current() responses.ResponseStreamEventUnion {
	return s.current
}

func (s *eventStreamStub) Err() error {
	return s.err
}

func (s *eventStreamStub) Close() error {
	s.closeCount++
	return nil
}
