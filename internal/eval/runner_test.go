package eval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmd/pkg/types"
)

// fakeOpenAI answers every question with a fixed reply chosen by the
// question text, so accuracy is deterministic.
func fakeOpenAI(t *testing.T, answers map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			_ = json.NewEncoder(w).Encode(types.OpenAIModelList{Object: "list"})
		case "/v1/chat/completions":
			var req types.ChatCompletionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			prompt := req.Messages[0].Content.PlainText()
			reply := "I don't know"
			for needle, ans := range answers {
				if strings.Contains(prompt, needle) {
					reply = ans
					break
				}
			}
			resp := types.ChatCompletionResponse{
				Choices: []types.ChatChoice{{
					Message:      types.ChatMessage{Role: "assistant", Content: types.ChatContent{Text: reply}},
					FinishReason: "stop",
				}},
			}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestRunnerRun(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "iquiz", `
{"question":"2+2?","choices":["3","4"],"answer":"B","category":"math"}
{"question":"Capital of France?","choices":["Paris","Rome"],"answer":"A","category":"geo"}
{"question":"Sky color?","choices":["blue","green"],"answer":"A","category":"nature"}
`)
	srv := fakeOpenAI(t, map[string]string{
		"2+2":    "The answer is B",
		"France": "A",
		"Sky":    "Definitely B, green",
	})
	defer srv.Close()

	r, err := NewRunner(TaskConfig{
		Model:       "qwen3-8b",
		APIURL:      srv.URL + "/v1",
		Datasets:    []string{"iquiz"},
		DatasetsDir: dir,
		BatchSize:   2,
	}, zerolog.Nop())
	require.NoError(t, err)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Datasets, 1)
	ds := rep.Datasets[0]
	assert.Equal(t, 3, ds.Total)
	assert.Equal(t, 2, ds.Correct)
	assert.InDelta(t, 2.0/3.0, ds.Accuracy, 1e-9)
	assert.Equal(t, CategoryStat{Total: 1, Correct: 1, Accuracy: 1}, ds.Categories["math"])
	assert.Equal(t, 0, ds.Categories["nature"].Correct)
	assert.NotEmpty(t, rep.RunID)
	assert.Len(t, rep.Samples, 3)
}

func TestRunnerHealthPreflight(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "iquiz", `{"question":"q","choices":["a","b"],"answer":"A"}`)
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	r, err := NewRunner(TaskConfig{
		Model:       "m",
		APIURL:      srv.URL + "/v1",
		DatasetsDir: dir,
	}, zerolog.Nop())
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}

func TestRunnerConfigValidation(t *testing.T) {
	_, err := NewRunner(TaskConfig{APIURL: "http://x"}, zerolog.Nop())
	require.Error(t, err)
	_, err = NewRunner(TaskConfig{Model: "m"}, zerolog.Nop())
	require.Error(t, err)
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "iquiz", `{"question":"2+2?","choices":["3","4"],"answer":"B"}`)
	srv := fakeOpenAI(t, map[string]string{"2+2": "B"})
	defer srv.Close()

	r, err := NewRunner(TaskConfig{
		Model:       "m",
		APIURL:      srv.URL + "/v1",
		Datasets:    []string{"iquiz"},
		DatasetsDir: dir,
	}, zerolog.Nop())
	require.NoError(t, err)
	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	work := t.TempDir()
	runDir, err := WriteReport(rep, work)
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(runDir, "summary.json"))
	require.NoError(t, err)
	var got Report
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, rep.RunID, got.RunID)
	assert.Equal(t, 1.0, got.Accuracy)

	details, err := os.ReadFile(filepath.Join(runDir, "details.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(details), `"predicted":"B"`)
}
