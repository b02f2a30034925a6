package orchestrator

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/user/sagecodex/pkg/llm"
)

// usageEstimator approximates token usage when the provider stream does
// not report a usage block. Estimates are good enough for the usage log;
// provider-reported counts always win when present.
type usageEstimator struct {
	enc *tiktoken.Tiktoken
}

func newUsageEstimator(model string) *usageEstimator {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return &usageEstimator{}
		}
	}
	return &usageEstimator{enc: enc}
}

func (e *usageEstimator) count(text string) int {
	if e.enc == nil {
		// Rough heuristic when no tokenizer is available.
		return len(text) / 4
	}
	return len(e.enc.Encode(text, nil, nil))
}

func (e *usageEstimator) estimate(messages []llm.Message, output string) llm.Usage {
	var input int
	for _, msg := range messages {
		input += e.count(msg.Content)
		for _, tc := range msg.Tools {
			input += e.count(tc.Function.Name)
			input += e.count(string(tc.Function.Arguments))
		}
	}
	out := e.count(output)
	return llm.Usage{
		InputTokens:  input,
		OutputTokens: out,
		TotalTokens:  input + out,
	}
}
