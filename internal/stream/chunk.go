package stream

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Chunk is one normalized streaming chat-completions chunk. Providers differ
// in how strictly they follow the wire dialect, so parsing is lenient: fields
// that do not fit are dropped rather than failing the stream.
type Chunk struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage"`
}

// Choice carries one delta of generated output.
type Choice struct {
	Delta        Delta            `json:"delta"`
	FinishReason string           `json:"finish_reason"`
	Logprobs     *LogprobsPayload `json:"logprobs"`
}

// Delta is the incremental message payload. Content arrives either as a
// plain string or as a list of typed parts; both flatten to one string.
// Reasoning text rides a separate channel.
type Delta struct {
	Content          string
	ReasoningContent string
}

func (d *Delta) UnmarshalJSON(data []byte) error {
	var raw struct {
		Content          json.RawMessage `json:"content"`
		ReasoningContent string          `json:"reasoning_content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Content = flattenContent(raw.Content)
	d.ReasoningContent = raw.ReasoningContent
	return nil
}

func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, part := range parts {
			if part.Type == "" || part.Type == "text" {
				b.WriteString(part.Text)
			}
		}
		return b.String()
	}
	return ""
}

// LogprobsPayload holds the token-level log-probability records of a choice.
type LogprobsPayload struct {
	Content []TokenLogprob `json:"content"`
}

func (p *LogprobsPayload) UnmarshalJSON(data []byte) error {
	var raw struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	// Anything but a list means the provider does not really support
	// logprobs on this path; treat it as none.
	var entries []TokenLogprob
	if err := json.Unmarshal(raw.Content, &entries); err == nil {
		p.Content = entries
	}
	return nil
}

// TokenLogprob is one token record. Logprob is nil when the provider sent
// nothing usable for the token.
type TokenLogprob struct {
	Token       string
	Logprob     *float64
	Bytes       []int
	TopLogprobs []TopLogprob
}

// TopLogprob is one alternative-token record inside a TokenLogprob.
type TopLogprob struct {
	Token   string
	Logprob *float64
	Bytes   []int
}

func (t *TokenLogprob) UnmarshalJSON(data []byte) error {
	var raw rawLogprobEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Token = coerceString(raw.Token)
	t.Logprob = coerceFloat(raw.Logprob)
	t.Bytes = coerceTokenBytes(raw.Bytes)
	for _, topRaw := range raw.TopLogprobs {
		var top rawLogprobEntry
		if err := json.Unmarshal(topRaw, &top); err != nil {
			continue
		}
		t.TopLogprobs = append(t.TopLogprobs, TopLogprob{
			Token:   coerceString(top.Token),
			Logprob: coerceFloat(top.Logprob),
			Bytes:   coerceTokenBytes(top.Bytes),
		})
	}
	return nil
}

type rawLogprobEntry struct {
	Token       json.RawMessage   `json:"token"`
	Logprob     json.RawMessage   `json:"logprob"`
	Bytes       json.RawMessage   `json:"bytes"`
	TopLogprobs []json.RawMessage `json:"top_logprobs"`
}

// Usage is the terminal accounting record. Some providers report the
// chat-completions field names, others the responses-style ones; both are
// read.
type Usage struct {
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
}

func (u *Usage) UnmarshalJSON(data []byte) error {
	var raw struct {
		InputTokens        int `json:"input_tokens"`
		OutputTokens       int `json:"output_tokens"`
		PromptTokens       int `json:"prompt_tokens"`
		CompletionTokens   int `json:"completion_tokens"`
		InputTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"input_tokens_details"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.InputTokens = raw.InputTokens
	if u.InputTokens == 0 {
		u.InputTokens = raw.PromptTokens
	}
	u.OutputTokens = raw.OutputTokens
	if u.OutputTokens == 0 {
		u.OutputTokens = raw.CompletionTokens
	}
	u.CachedInputTokens = raw.InputTokensDetails.CachedTokens
	if u.CachedInputTokens == 0 {
		u.CachedInputTokens = raw.PromptTokensDetails.CachedTokens
	}
	return nil
}

// ParseChunk decodes one streaming chunk from its raw JSON.
func ParseChunk(data []byte) (*Chunk, error) {
	var chunk Chunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// ExtractTokenLogprobs returns the token records of a chunk's first choice,
// or nothing when the chunk carries none.
func ExtractTokenLogprobs(chunk *Chunk) []TokenLogprob {
	if chunk == nil || len(chunk.Choices) == 0 {
		return nil
	}
	payload := chunk.Choices[0].Logprobs
	if payload == nil {
		return nil
	}
	return payload.Content
}

func coerceString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func coerceFloat(raw json.RawMessage) *float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &parsed
	}
	return nil
}

func coerceTokenBytes(raw json.RawMessage) []int {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var bytes []int
	if err := json.Unmarshal(raw, &bytes); err != nil {
		return nil
	}
	return bytes
}
