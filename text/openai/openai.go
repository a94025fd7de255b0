// Package openai describes images and merges prompts with an OpenAI
// compatible chat endpoint.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"stylebird/settings"
	"stylebird/text"

	openai "github.com/sashabaranov/go-openai"
)

type Describer struct {
	client *openai.Client
	model  string
}

func NewDescriber(cfg settings.OpenAIConfig) *Describer {
	clientConfig := openai.DefaultConfig(cfg.ApiKey)
	if cfg.Url != "" {
		clientConfig.BaseURL = cfg.Url
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Describer{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}
}

// DescribeContent returns a composition description of the content image.
func (d *Describer) DescribeContent(ctx context.Context, jpegData []byte) (string, error) {
	return d.describeImage(ctx, jpegData, text.ContentInstruction, 250)
}

// DescribeStyle returns a rendering description of the style image.
func (d *Describer) DescribeStyle(ctx context.Context, jpegData []byte) (string, error) {
	return d.describeImage(ctx, jpegData, text.StyleInstruction, 200)
}

// CombinePrompt merges the two descriptions into one short diffusion prompt.
func (d *Describer) CombinePrompt(ctx context.Context, content, style string) (string, error) {
	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     d.model,
		MaxTokens: 300,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: text.CombineSystem,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text.CombineInstruction(content, style),
			},
		},
	})
	if err != nil {
		return "", err
	}
	return firstChoice(resp)
}

func (d *Describer) describeImage(ctx context.Context, jpegData []byte, instruction string, maxTokens int) (string, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegData)

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     d.model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: instruction,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return firstChoice(resp)
}

func firstChoice(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
