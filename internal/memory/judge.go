package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/duplex-voice-lab/internal/httpx"
)

// Judge is the secondary filter: given the live conversational context and
// one candidate text, it decides relevance and importance independently of
// the raw similarity score.
type Judge interface {
	Judge(ctx context.Context, convoContext, candidateText string) (relevant, important bool, err error)
}

// HTTPJudge asks an OpenAI-compatible chat-completions endpoint and expects
// a strict JSON object back.
type HTTPJudge struct {
	URL       string
	Model     string
	AuthToken string
	Timeout   time.Duration
	Client    *http.Client
}

const judgeSystemPrompt = `You decide whether a stored memory should be shown to a voice assistant mid-conversation.
Reply with exactly one JSON object: {"relevant": <bool>, "important": <bool>}.
"relevant": the memory bears on what the user is talking about right now.
"important": surfacing it would meaningfully improve the assistant's reply.
No prose, no markdown.`

type judgeVerdict struct {
	Relevant  bool `json:"relevant"`
	Important bool `json:"important"`
}

func (j *HTTPJudge) Judge(ctx context.Context, convoContext, candidateText string) (bool, bool, error) {
	payload := map[string]interface{}{
		"messages": []map[string]string{
			{"role": "system", "content": judgeSystemPrompt},
			{"role": "user", "content": fmt.Sprintf("Conversation so far:\n%s\n\nCandidate memory:\n%s", convoContext, candidateText)},
		},
	}
	if j.Model != "" {
		payload["model"] = j.Model
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, false, err
	}
	client := j.Client
	if client == nil {
		client = &http.Client{Timeout: j.Timeout}
	}
	resp, err := httpx.PostWithRetries(ctx, client, j.URL, body, "", j.AuthToken, j.Timeout, 2, "")
	if err != nil {
		return false, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.ReadAll(resp.Body)
		return false, false, fmt.Errorf("judge status %d", resp.StatusCode)
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, false, err
	}
	if len(out.Choices) == 0 {
		return false, false, fmt.Errorf("judge returned no choices")
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	// tolerate fenced replies from sloppier models
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	var verdict judgeVerdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &verdict); err != nil {
		return false, false, fmt.Errorf("judge reply not parseable: %w", err)
	}
	return verdict.Relevant, verdict.Important, nil
}
