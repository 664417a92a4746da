package cli

import "testing"

func TestRefID(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Qwen/Qwen3-8B", "Qwen__Qwen3-8B"},
		{"hf:org/name", "org__name"},
		{"modelscope:LLM-Research/gemma-3-4b-it", "LLM-Research__gemma-3-4b-it"},
		{"plain-id", "plain-id"},
	}
	for _, tc := range cases {
		if got := refID(tc.in); got != tc.want {
			t.Errorf("refID(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}
