// Package gemini describes images and merges prompts with Google's Gemini
// API, as an alternative to the OpenAI describer.
package gemini

import (
	"context"
	"errors"
	"strings"

	"stylebird/settings"
	"stylebird/text"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type Describer struct {
	apiKey string
	model  string
}

func NewDescriber(cfg settings.GeminiConfig) *Describer {
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Describer{apiKey: cfg.ApiKey, model: model}
}

// DescribeContent returns a composition description of the content image.
func (d *Describer) DescribeContent(ctx context.Context, jpegData []byte) (string, error) {
	return d.generate(ctx, genai.ImageData("jpeg", jpegData), genai.Text(text.ContentInstruction))
}

// DescribeStyle returns a rendering description of the style image.
func (d *Describer) DescribeStyle(ctx context.Context, jpegData []byte) (string, error) {
	return d.generate(ctx, genai.ImageData("jpeg", jpegData), genai.Text(text.StyleInstruction))
}

// CombinePrompt merges the two descriptions into one short diffusion prompt.
func (d *Describer) CombinePrompt(ctx context.Context, content, style string) (string, error) {
	return d.generate(ctx, genai.Text(text.CombineSystem+"\n\n"+text.CombineInstruction(content, style)))
}

func (d *Describer) generate(ctx context.Context, parts ...genai.Part) (string, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(d.apiKey))
	if err != nil {
		return "", err
	}
	defer client.Close()

	model := client.GenerativeModel(d.model)
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", err
	}
	return processResponse(resp)
}

// processResponse extracts the first text content part from the genai response.
func processResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("no candidates found in response")
	}
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if txt, ok := part.(genai.Text); ok {
					return strings.TrimSpace(string(txt)), nil
				}
			}
		}
	}
	return "", errors.New("no text content found in response")
}
