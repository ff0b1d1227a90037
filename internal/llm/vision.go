package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

const (
	maxVisionEdge = 1600

	visionPrompt = "You answer questions about a single scanned document page. " +
		"Reply with the answer only, as short as possible, taken from the page."
)

// VisionOptions configures VisionClient.
type VisionOptions struct {
	ClientOptions
	Model string
}

// VisionClient answers a question about one page image with a multimodal model.
type VisionClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewVisionClient(opts VisionOptions) *VisionClient {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = "ollama"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL(opts.BaseURL)
	cfg.HTTPClient = newHTTPClient(opts.RetryMax)
	return &VisionClient{
		client:  openai.NewClientWithConfig(cfg),
		model:   opts.Model,
		timeout: opts.Timeout,
	}
}

// Model returns the vision model name.
func (v *VisionClient) Model() string { return v.model }

// Answer sends the page and question and returns the answer with a
// confidence in [0,1] computed from token log-probabilities.
func (v *VisionClient) Answer(ctx context.Context, page []byte, question string) (string, float64, error) {
	dataURL, err := encodePage(page)
	if err != nil {
		return "", 0, err
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    v.model,
		LogProbs: true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: visionPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: question},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", 0, translate(err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, &Error{StatusCode: 502, Detail: "vision backend returned no choices"}
	}

	choice := resp.Choices[0]
	var logprobs []float64
	if choice.LogProbs != nil {
		for _, lp := range choice.LogProbs.Content {
			logprobs = append(logprobs, lp.LogProb)
		}
	}
	confidence := MeanProbability(logprobs)

	logrus.WithFields(logrus.Fields{
		"model":      v.model,
		"confidence": confidence,
	}).Debug("[LLM] vision answer")

	return strings.TrimSpace(choice.Message.Content), confidence, nil
}

// encodePage fits the page within maxVisionEdge and returns a PNG data URL.
func encodePage(page []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("decode page image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() > maxVisionEdge || b.Dy() > maxVisionEdge {
		img = imaging.Fit(img, maxVisionEdge, maxVisionEdge, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("encode page image: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// MeanProbability averages exp(logprob) over tokens and clamps to [0,1].
// It returns 0 when no log-probabilities are available.
func MeanProbability(logprobs []float64) float64 {
	if len(logprobs) == 0 {
		return 0
	}
	var sum float64
	for _, lp := range logprobs {
		sum += math.Exp(lp)
	}
	mean := sum / float64(len(logprobs))
	switch {
	case math.IsNaN(mean) || mean < 0:
		return 0
	case mean > 1:
		return 1
	}
	return math.Round(mean*10000) / 10000
}
