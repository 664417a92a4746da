package eval

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var jsonIter = jsoniter.ConfigCompatibleWithStandardLibrary

// Sample is one multiple-choice question.
type Sample struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Choices  []string `json:"choices"`
	// Answer is the letter of the correct choice (A, B, ...).
	Answer   string `json:"answer"`
	Category string `json:"category"`
}

// Dataset is a named collection of samples loaded from a JSONL file.
type Dataset struct {
	Name    string
	Samples []Sample
}

// LoadDataset reads <dir>/<name>.jsonl, validating every line against the
// sample schema. Blank lines are skipped; any invalid line fails the load.
func LoadDataset(dir, name string) (Dataset, error) {
	ds := Dataset{Name: name}
	path := filepath.Join(dir, name+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		return ds, fmt.Errorf("open dataset %s: %w", name, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var doc any
		if err := jsonIter.UnmarshalFromString(line, &doc); err != nil {
			return ds, fmt.Errorf("dataset %s line %d: %w", name, lineNo, err)
		}
		if errs := validateSampleDoc(doc); len(errs) > 0 {
			return ds, fmt.Errorf("dataset %s line %d: %s", name, lineNo, strings.Join(errs, "; "))
		}
		var s Sample
		if err := jsonIter.UnmarshalFromString(line, &s); err != nil {
			return ds, fmt.Errorf("dataset %s line %d: %w", name, lineNo, err)
		}
		s.Answer = strings.ToUpper(s.Answer)
		if idx := int(s.Answer[0] - 'A'); idx < 0 || idx >= len(s.Choices) {
			return ds, fmt.Errorf("dataset %s line %d: answer %s out of range", name, lineNo, s.Answer)
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("%s-%d", name, lineNo)
		}
		ds.Samples = append(ds.Samples, s)
	}
	if err := sc.Err(); err != nil {
		return ds, err
	}
	if len(ds.Samples) == 0 {
		return ds, fmt.Errorf("dataset %s: no samples", name)
	}
	return ds, nil
}

// Prompt renders the question with lettered choices and an instruction to
// answer with the letter only.
func (s Sample) Prompt() string {
	var sb strings.Builder
	sb.WriteString(s.Question)
	sb.WriteString("\n")
	for i, c := range s.Choices {
		fmt.Fprintf(&sb, "%c. %s\n", 'A'+i, c)
	}
	sb.WriteString("Answer with the letter of the correct choice only.")
	return sb.String()
}

// ExtractChoice finds the model's answer: the first standalone choice
// letter in the reply, case-insensitive. Returns "" when none is found.
func ExtractChoice(reply string, numChoices int) string {
	upper := strings.ToUpper(reply)
	for i := 0; i < len(upper); i++ {
		ch := upper[i]
		if ch < 'A' || int(ch-'A') >= numChoices {
			continue
		}
		prevOK := i == 0 || !isWordByte(upper[i-1])
		nextOK := i+1 >= len(upper) || !isWordByte(upper[i+1])
		if prevOK && nextOK {
			return string(ch)
		}
	}
	return ""
}

func isWordByte(b byte) bool {
	return b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
