package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"

	"github.com/roomcast/transcript-relay/internal/models"
)

const insightsPrompt = `You are a meeting assistant. Given the latest transcript window of a live
session and the previous insights JSON, produce updated insights.

Respond with ONLY a JSON object of this exact shape, no prose, no fences:
{"aiTitle":"","aiTitleConfidence":0.0,"shouldUpdateTitle":false,"currentTopic":"","currentTopicConfidence":0.0,"topics":[{"id":"","label":"","startedAtSec":0}],"topicChanged":false}

Previous insights:
%s

Transcript window:
%s`

type VertexGemini struct {
	client *vertexgenai.Client
	model  *vertexgenai.GenerativeModel
}

func NewVertexGemini(ctx context.Context, projectID, location, modelName string) (*VertexGemini, error) {
	c, err := vertexgenai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, err
	}

	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	m := c.GenerativeModel(modelName)
	return &VertexGemini{client: c, model: m}, nil
}

func (v *VertexGemini) Close() error { return v.client.Close() }

func (v *VertexGemini) SessionInsights(ctx context.Context, transcript string, prev *models.InsightPayload) (*models.InsightPayload, error) {
	prevJSON := "null"
	if prev != nil {
		if b, err := json.Marshal(prev); err == nil {
			prevJSON = string(b)
		}
	}
	prompt := fmt.Sprintf(insightsPrompt, prevJSON, transcript)

	it := v.model.GenerateContentStream(ctx, vertexgenai.Text(prompt))
	var sb strings.Builder
	for {
		resp, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(vertexgenai.Text); ok {
					sb.WriteString(string(t))
				}
			}
		}
	}

	raw := stripFences(sb.String())
	if raw == "" {
		return nil, fmt.Errorf("empty model response")
	}

	var out models.InsightPayload
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode insights: %w", err)
	}
	return &out, nil
}

// stripFences unwraps ```json fenced responses the model sometimes emits
// despite the prompt.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
