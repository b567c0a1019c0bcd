package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/pixelsmith-dev/pixelsmith/pkg/config"
)

// Client provides access to the OpenAI image generation and edit
// endpoints. It performs no retries; failures are classified and returned
// to the caller.
type Client struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewClient creates a new image API client. A missing API key is reported
// as an unavailable-service error so callers fail before consuming quota.
func NewClient(cfg *config.OpenAIConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, NewError(ErrorTypeUnavailable, "OPENAI_API_KEY is not set", nil)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("image model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		logger: logger.Named("imagegen"),
	}, nil
}

// Generate produces image bytes (PNG) from a text prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions) ([]byte, error) {
	c.logger.Debug("image generation request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)),
		zap.String("size", opts.Size))

	start := time.Now()

	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Model:          c.model,
		Prompt:         prompt,
		N:              1,
		Size:           opts.Size,
		Quality:        opts.Quality,
		ResponseFormat: c.responseFormat(),
	})
	if err != nil {
		c.logger.Error("image generation failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, Classify(err)
	}

	data, err := decodeImageData(resp)
	if err != nil {
		return nil, err
	}

	c.logger.Info("image generation completed",
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)))

	return data, nil
}

// Edit produces image bytes (PNG) by editing baseImage according to the
// prompt.
func (c *Client) Edit(ctx context.Context, baseImage []byte, prompt string, opts GenerateOptions) ([]byte, error) {
	if len(baseImage) == 0 {
		return nil, NewError(ErrorTypeInvalidInput, "base image is empty", nil)
	}

	c.logger.Debug("image edit request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Int("base_bytes", len(baseImage)),
		zap.String("size", opts.Size))

	start := time.Now()

	// The filename and content type help the API parse the upload.
	image := openai.WrapReader(bytes.NewReader(baseImage), "image.png", "image/png")

	resp, err := c.client.CreateEditImage(ctx, openai.ImageEditRequest{
		Model:          c.model,
		Image:          image,
		Prompt:         prompt,
		N:              1,
		Size:           opts.Size,
		ResponseFormat: c.responseFormat(),
	})
	if err != nil {
		c.logger.Error("image edit failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, Classify(err)
	}

	data, err := decodeImageData(resp)
	if err != nil {
		return nil, err
	}

	c.logger.Info("image edit completed",
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)))

	return data, nil
}

// responseFormat returns the response_format parameter for the configured
// model. gpt-image-1 always returns base64 and rejects the parameter;
// dall-e models default to URLs and need it set explicitly.
func (c *Client) responseFormat() string {
	if strings.HasPrefix(c.model, "dall-e") {
		return openai.CreateImageResponseFormatB64JSON
	}
	return ""
}

func decodeImageData(resp openai.ImageResponse) ([]byte, error) {
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, NewError(ErrorTypeUpstream, "unexpected response format from image service", nil)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, NewError(ErrorTypeUpstream, "failed to decode image payload", err)
	}
	return data, nil
}
