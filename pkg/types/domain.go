package types

// Model represents a registry entry for a servable model.
type Model struct {
	// Stable identifier for the model.
	// example: qwen3-8b
	ID string `json:"id" yaml:"id" toml:"id" example:"qwen3-8b"`
	// Name advertised to clients (--served-model-name).
	// example: Qwen3-8B
	ServedName string `json:"served_name,omitempty" yaml:"served_name" toml:"served_name" example:"Qwen3-8B"`
	// Absolute path to the model directory on disk.
	// example: /home/user/models/qwen3-8b/master
	Path string `json:"path,omitempty" yaml:"path" toml:"path" example:"/home/user/models/qwen3-8b/master"`
	// Hub source reference, e.g. "modelscope:Qwen/Qwen3-8B" or "hf:google/gemma-3-4b-it".
	Source string `json:"source,omitempty" yaml:"source" toml:"source"`
	// Revision/tag to download and serve.
	// example: master
	Revision string `json:"revision,omitempty" yaml:"revision" toml:"revision"`
	// Optional family (e.g., qwen, gemma, ernie).
	Family string `json:"family,omitempty" yaml:"family" toml:"family"`
	// Estimated VRAM requirement in MB; 0 means estimate from weights on disk.
	EstVRAMMB int `json:"est_vram_mb,omitempty" yaml:"est_vram_mb" toml:"est_vram_mb"`
	// Maximum context length passed to the engine (--max-model-len).
	MaxModelLen int `json:"max_model_len,omitempty" yaml:"max_model_len" toml:"max_model_len"`
	// Reasoning parser name when the model emits thinking segments
	// (--reasoning-parser); empty disables reasoning mode.
	ReasoningParser string `json:"reasoning_parser,omitempty" yaml:"reasoning_parser" toml:"reasoning_parser"`
	// Extra engine arguments appended verbatim.
	ExtraArgs []string `json:"extra_args,omitempty" yaml:"extra_args" toml:"extra_args"`
	// Multimodal marks models that accept image content parts.
	Multimodal bool `json:"multimodal,omitempty" yaml:"multimodal" toml:"multimodal"`
}

// DisplayName returns the served name, falling back to the id.
func (m Model) DisplayName() string {
	if m.ServedName != "" {
		return m.ServedName
	}
	return m.ID
}
