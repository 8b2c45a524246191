package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"zhicuoti/internal/platform/config"

	openai "github.com/sashabaranov/go-openai"
)

// Prompt is a system instruction plus one user turn with an optional image.
type Prompt struct {
	System    string
	User      string
	Image     []byte
	ImageType string // e.g. image/png
}

// Stream yields completion text chunks. Recv returns io.EOF once the answer is complete.
type Stream interface {
	Recv() (string, error)
	Close() error
}

type Client struct {
	client *openai.Client
	model  string
}

func New(cfg config.OpenAIConfig) *Client {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIURL != "" {
		c.BaseURL = cfg.APIURL
	}
	return &Client{client: openai.NewClientWithConfig(c), model: cfg.Model}
}

func (c *Client) StreamCompletion(ctx context.Context, p Prompt) (Stream, error) {
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(p.Image) > 0 {
		imageType := p.ImageType
		if imageType == "" {
			imageType = "image/jpeg"
		}
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: p.User},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", imageType, base64.StdEncoding.EncodeToString(p.Image)),
				},
			},
		}
	} else {
		user.Content = p.User
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			user,
		},
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start chat completion: %w", err)
	}
	return &chatStream{stream: stream}, nil
}

type chatStream struct {
	stream *openai.ChatCompletionStream
}

func (s *chatStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", fmt.Errorf("chat completion stream: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *chatStream) Close() error {
	return s.stream.Close()
}
