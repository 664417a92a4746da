package hub

import (
	"fmt"
	"strings"
)

// Kind identifies a model hub.
type Kind string

const (
	KindModelScope  Kind = "modelscope"
	KindHuggingFace Kind = "hf"
)

// Ref is a parsed hub source, e.g. "modelscope:Qwen/Qwen3-8B" or
// "hf:google/gemma-3-4b-it". A bare "org/name" defaults to ModelScope,
// matching the tutorials this tool grew out of.
type Ref struct {
	Hub  Kind
	Repo string
}

// ParseRef parses a source string into a Ref.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("empty hub reference")
	}
	hub := KindModelScope
	if i := strings.Index(s, ":"); i >= 0 {
		switch k := Kind(strings.ToLower(s[:i])); k {
		case KindModelScope, KindHuggingFace:
			hub = k
		case "huggingface":
			hub = KindHuggingFace
		default:
			return Ref{}, fmt.Errorf("unknown hub %q in reference %q", s[:i], s)
		}
		s = s[i+1:]
	}
	if !strings.Contains(s, "/") {
		return Ref{}, fmt.Errorf("hub repo must be org/name, got %q", s)
	}
	return Ref{Hub: hub, Repo: s}, nil
}

func (r Ref) String() string { return string(r.Hub) + ":" + r.Repo }
