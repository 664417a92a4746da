package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		in      string
		hub     Kind
		repo    string
		wantErr bool
	}{
		{in: "modelscope:Qwen/Qwen3-8B", hub: KindModelScope, repo: "Qwen/Qwen3-8B"},
		{in: "hf:google/gemma-3-4b-it", hub: KindHuggingFace, repo: "google/gemma-3-4b-it"},
		{in: "huggingface:google/gemma-3-4b-it", hub: KindHuggingFace, repo: "google/gemma-3-4b-it"},
		{in: "LLM-Research/gemma-3-4b-it", hub: KindModelScope, repo: "LLM-Research/gemma-3-4b-it"},
		{in: "ollama:whatever/x", wantErr: true},
		{in: "no-slash", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		ref, err := ParseRef(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.hub, ref.Hub)
		assert.Equal(t, tc.repo, ref.Repo)
	}
}
