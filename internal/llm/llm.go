// Package llm talks to an OpenAI-compatible API for frame descriptions,
// audio transcription and question generation.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultVisionModel     = openai.GPT4oMini
	DefaultChatModel       = openai.GPT4oMini
	DefaultTranscribeModel = openai.Whisper1
	DefaultMaxTokens       = 300
)

// ErrEmptyResponse is returned when the service answers with no usable content.
var ErrEmptyResponse = errors.New("empty response from model")

// Config selects the endpoint and models. Zero values fall back to the defaults.
type Config struct {
	APIKey          string
	BaseURL         string
	VisionModel     string
	ChatModel       string
	TranscribeModel string
	MaxTokens       int
}

// Client is a thin wrapper that owns one go-openai client for all three services.
type Client struct {
	cli *openai.Client
	cfg Config
}

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = DefaultVisionModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = DefaultTranscribeModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &Client{cli: openai.NewClientWithConfig(clientConfig), cfg: cfg}, nil
}

// Describe sends one JPEG image with a text prompt to the vision model.
func (c *Client) Describe(ctx context.Context, jpeg []byte, prompt string) (string, error) {
	dataURI := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)

	resp, err := c.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.cfg.VisionModel,
		MaxTokens: c.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURI,
							Detail: openai.ImageURLDetailAuto,
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

// Transcribe uploads audio and returns the recognized text. name is only used as the
// upload filename; its extension tells the service the container format.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, name string) (string, error) {
	resp, err := c.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.TranscribeModel,
		FilePath: name,
		Reader:   audio,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// Complete asks the chat model for a JSON object answer to prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}
	return firstChoice(resp)
}

func firstChoice(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w (finish reason %q)", ErrEmptyResponse, resp.Choices[0].FinishReason)
	}
	return content, nil
}
