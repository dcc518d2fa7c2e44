package stream

// Wire shapes of the Anthropic streaming events the ingester cares
// about. Everything else in the producer stream is passed over.

type usageInfo struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

func (u usageInfo) total() int {
	return u.InputTokens + u.OutputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
}

type messageStart struct {
	Message struct {
		Model string    `json:"model"`
		Usage usageInfo `json:"usage"`
	} `json:"message"`
}

type contentBlockDelta struct {
	Index int `json:"index"`
	Delta struct {
		Type     string `json:"type"` // "text_delta" | "input_json_delta" | "thinking_delta"
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"delta"`
}

// messageDelta carries the final output token count.
type messageDelta struct {
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type upstreamError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
