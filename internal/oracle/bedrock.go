package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/ppiankov/neurorouter"

	"github.com/ppiankov/sentinel/internal/model"
)

// BedrockConfig holds parameters for the AWS Bedrock Converse backend.
// Static keys are optional; without them the default credential chain is used.
type BedrockConfig struct {
	Region                string
	ModelID               string
	AccessKeyID           string
	SecretAccessKey       string
	MaxTokens             int
	Timeout               time.Duration
	MaxAttempts           int
	Backoff               time.Duration
	AnalyticalTemperature float64
}

// converseAPI is the subset of the Bedrock runtime client used here.
type converseAPI interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClassifier asks a Bedrock-hosted model for a report.
type BedrockClassifier struct {
	cfg   BedrockConfig
	api   converseAPI
	retry retryPolicy
}

// NewBedrockClassifier loads AWS configuration and builds a runtime client.
func NewBedrockClassifier(ctx context.Context, cfg BedrockConfig) (*BedrockClassifier, error) {
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("bedrock: model_id is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return newBedrockClassifier(cfg, bedrockruntime.NewFromConfig(awsCfg)), nil
}

func newBedrockClassifier(cfg BedrockConfig, api converseAPI) *BedrockClassifier {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &BedrockClassifier{cfg: cfg, api: api, retry: newRetryPolicy(cfg.MaxAttempts, cfg.Backoff)}
}

// Name identifies the backend in logs and failures.
func (c *BedrockClassifier) Name() string { return "bedrock" }

// Classify sends one Converse request and decodes the report.
func (c *BedrockClassifier) Classify(ctx context.Context, req Request) (*model.AuditReport, error) {
	user, err := UserPrompt(req)
	if err != nil {
		return nil, &Failure{Backend: c.Name(), Reason: ReasonTransport, Err: err}
	}

	in := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.cfg.ModelID),
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: SystemPrompt(req.Mode, req.Axioms)},
		},
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: user}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(c.cfg.MaxTokens)),
			Temperature: aws.Float32(float32(temperature(req.Mode, c.cfg.AnalyticalTemperature))),
		},
	}

	report, err := c.retry.do(ctx, c.Name(), func(ctx context.Context) (*model.AuditReport, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		out, err := c.api.Converse(callCtx, in)
		if err != nil {
			return nil, classifyAWSError(err)
		}
		text, err := converseText(out)
		if err != nil {
			return nil, permanent{err}
		}
		return decodeOnce(text, len(req.Records))
	})
	if err != nil {
		return nil, err
	}
	bind(report, req)
	return report, nil
}

// classifyAWSError maps Bedrock errors onto failure reasons. Throttling
// and server-side errors are retried; everything else is permanent.
func classifyAWSError(err error) error {
	var (
		throttled   *types.ThrottlingException
		internal    *types.InternalServerException
		unavailable *types.ServiceUnavailableException
		notReady    *types.ModelNotReadyException
		timeout     *types.ModelTimeoutException
	)
	switch {
	case errors.As(err, &throttled):
		return &Failure{Reason: ReasonRateLimited, Err: fmt.Errorf("%w: %v", neurorouter.ErrRateLimited, err)}
	case errors.As(err, &internal), errors.As(err, &unavailable), errors.As(err, &notReady):
		return &Failure{Reason: ReasonStatus, Err: err}
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return &Failure{Reason: ReasonTransport, Err: err}
	default:
		return permanent{&Failure{Reason: ReasonStatus, Err: err}}
	}
}

func converseText(out *bedrockruntime.ConverseOutput) (string, error) {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", &Failure{Reason: ReasonDecode, Err: fmt.Errorf("converse returned no message")}
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			b.WriteString(t.Value)
		}
	}
	if b.Len() == 0 {
		return "", &Failure{Reason: ReasonDecode, Err: fmt.Errorf("converse returned empty text")}
	}
	return b.String(), nil
}
