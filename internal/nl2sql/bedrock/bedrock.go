// Package bedrock invokes Anthropic models hosted on AWS Bedrock.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/reportgen/reportgen/internal/nl2sql"
)

const (
	Provider         = "bedrock"
	DefaultModelID   = "anthropic.claude-3-sonnet-20240229-v1:0"
	anthropicVersion = "bedrock-2023-05-31"
)

type Config struct {
	Region      string
	ModelID     string
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
	Timeout     time.Duration
}

type client interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type Translator struct {
	client client
	cfg    Config
}

func New(ctx context.Context, cfg Config) (*Translator, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region := strings.TrimSpace(cfg.Region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithClient(bedrockruntime.NewFromConfig(awsCfg), cfg)
}

func NewWithClient(c client, cfg Config) (*Translator, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	cfg.ModelID = strings.TrimSpace(cfg.ModelID)
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &Translator{client: c, cfg: cfg}, nil
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type message struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type invokeBody struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Messages         []message `json:"messages"`
	Temperature      float64   `json:"temperature"`
	TopP             float64   `json:"top_p"`
	TopK             int       `json:"top_k"`
}

type invokeResponse struct {
	Content []contentPart `json:"content"`
}

func (t *Translator) Translate(ctx context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	body, err := json.Marshal(invokeBody{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        t.cfg.MaxTokens,
		Messages: []message{{
			Role:    "user",
			Content: []contentPart{{Type: "text", Text: req.Prompt}},
		}},
		Temperature: t.cfg.Temperature,
		TopP:        t.cfg.TopP,
		TopK:        t.cfg.TopK,
	})
	if err != nil {
		return nl2sql.Result{}, fmt.Errorf("marshal invoke body: %w", err)
	}

	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	out, err := t.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(t.cfg.ModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nl2sql.Result{}, fmt.Errorf("invoke model %s: %w", t.cfg.ModelID, err)
	}

	var parsed invokeResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return nl2sql.Result{}, fmt.Errorf("decode invoke response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return nl2sql.Result{}, fmt.Errorf("model %s returned no content", t.cfg.ModelID)
	}
	return nl2sql.Result{
		Text:     parsed.Content[0].Text,
		Provider: Provider,
		Model:    t.cfg.ModelID,
	}, nil
}
