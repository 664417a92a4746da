package registry

import "llmd/pkg/types"

// Presets are the models the stock configuration knows how to pull and
// serve. A manifest replaces this list entirely.
func Presets() []types.Model {
	return []types.Model{
		{
			ID:          "gemma-3-4b-it",
			ServedName:  "gemma-3-4b-it",
			Source:      "modelscope:LLM-Research/gemma-3-4b-it",
			Revision:    "master",
			Family:      "gemma",
			EstVRAMMB:   11264,
			MaxModelLen: 8192,
			Multimodal:  true,
		},
		{
			ID:              "qwen3-8b",
			ServedName:      "Qwen3-8B",
			Source:          "modelscope:Qwen/Qwen3-8B",
			Revision:        "master",
			Family:          "qwen",
			EstVRAMMB:       18432,
			MaxModelLen:     8192,
			ReasoningParser: "qwen3",
		},
		{
			ID:          "ernie-4.5-0.3b-pt",
			ServedName:  "ERNIE-4.5-0.3B-PT",
			Source:      "modelscope:PaddlePaddle/ERNIE-4.5-0.3B-PT",
			Revision:    "master",
			Family:      "ernie",
			EstVRAMMB:   2048,
			MaxModelLen: 4096,
		},
		{
			ID:          "minicpm-o-2.6",
			ServedName:  "MiniCPM-o-2_6",
			Source:      "modelscope:OpenBMB/MiniCPM-o-2_6",
			Revision:    "master",
			Family:      "minicpm",
			EstVRAMMB:   18432,
			MaxModelLen: 8192,
			Multimodal:  true,
			ExtraArgs:   []string{"--trust-remote-code"},
		},
	}
}
