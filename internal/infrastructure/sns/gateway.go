package sns

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/concert-notifier/internal/config"
	"github.com/concert-notifier/internal/domain"
	"github.com/concert-notifier/internal/infrastructure/awsconf"
	"github.com/concert-notifier/internal/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
)

// collapseIDAttribute is understood by APNS as the replace-in-place key.
const collapseIDAttribute = "AWS.SNS.MOBILE.APNS.COLLAPSE_ID"

// API is the subset of *sns.Client the gateway relies on.
type API interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	ListEndpointsByPlatformApplication(ctx context.Context, in *sns.ListEndpointsByPlatformApplicationInput, optFns ...func(*sns.Options)) (*sns.ListEndpointsByPlatformApplicationOutput, error)
	GetEndpointAttributes(ctx context.Context, in *sns.GetEndpointAttributesInput, optFns ...func(*sns.Options)) (*sns.GetEndpointAttributesOutput, error)
	SetEndpointAttributes(ctx context.Context, in *sns.SetEndpointAttributesInput, optFns ...func(*sns.Options)) (*sns.SetEndpointAttributesOutput, error)
	DeleteEndpoint(ctx context.Context, in *sns.DeleteEndpointInput, optFns ...func(*sns.Options)) (*sns.DeleteEndpointOutput, error)
	CreatePlatformEndpoint(ctx context.Context, in *sns.CreatePlatformEndpointInput, optFns ...func(*sns.Options)) (*sns.CreatePlatformEndpointOutput, error)
}

// Gateway talks to the SNS mobile push platform application.
type Gateway struct {
	client         API
	applicationArn string
	platform       string
	breaker        *PublishBreaker
}

func NewClient(awsCfg aws.Config, cfg *config.Config) *sns.Client {
	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint := awsconf.BaseEndpoint(cfg); endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})
}

// NewGateway binds the gateway to one platform application. platform selects
// the vendor key of the envelope (APNS, APNS_SANDBOX or GCM).
func NewGateway(client API, applicationArn, platform string) *Gateway {
	return &Gateway{client: client, applicationArn: applicationArn, platform: platform}
}

// WithBreaker routes every Publish through cb.
func (g *Gateway) WithBreaker(cb *PublishBreaker) *Gateway {
	g.breaker = cb
	return g
}

// ListEndpoints returns one page of endpoints and the token for the next one.
func (g *Gateway) ListEndpoints(ctx context.Context, nextToken string) ([]domain.EndpointStatus, string, error) {
	in := &sns.ListEndpointsByPlatformApplicationInput{
		PlatformApplicationArn: aws.String(g.applicationArn),
	}
	if nextToken != "" {
		in.NextToken = aws.String(nextToken)
	}
	out, err := g.client.ListEndpointsByPlatformApplication(ctx, in)
	if err != nil {
		metrics.GatewayCallFailures.WithLabelValues("list_endpoints").Inc()
		return nil, "", fmt.Errorf("list endpoints: %w", err)
	}
	page := make([]domain.EndpointStatus, 0, len(out.Endpoints))
	for _, e := range out.Endpoints {
		page = append(page, domain.EndpointStatus{
			Arn:     aws.ToString(e.EndpointArn),
			Enabled: enabled(e.Attributes),
		})
	}
	return page, aws.ToString(out.NextToken), nil
}

// EndpointEnabled fetches the Enabled attribute of a single endpoint.
// A deleted endpoint yields domain.ErrNotFound.
func (g *Gateway) EndpointEnabled(ctx context.Context, endpointArn string) (bool, error) {
	out, err := g.client.GetEndpointAttributes(ctx, &sns.GetEndpointAttributesInput{
		EndpointArn: aws.String(endpointArn),
	})
	if err != nil {
		if isNotFound(err) {
			return false, fmt.Errorf("endpoint %s: %w", endpointArn, domain.ErrNotFound)
		}
		metrics.GatewayCallFailures.WithLabelValues("get_endpoint_attributes").Inc()
		return false, fmt.Errorf("get endpoint attributes: %w", err)
	}
	return enabled(out.Attributes), nil
}

func (g *Gateway) DeleteEndpoint(ctx context.Context, endpointArn string) error {
	_, err := g.client.DeleteEndpoint(ctx, &sns.DeleteEndpointInput{
		EndpointArn: aws.String(endpointArn),
	})
	if err != nil {
		metrics.GatewayCallFailures.WithLabelValues("delete_endpoint").Inc()
		return fmt.Errorf("delete endpoint: %w", err)
	}
	return nil
}

// Publish sends msg to one endpoint as a MessageStructure=json envelope.
func (g *Gateway) Publish(ctx context.Context, endpointArn string, msg domain.PushMessage) error {
	envelope, err := BuildEnvelope(g.platform, msg)
	if err != nil {
		return err
	}
	in := &sns.PublishInput{
		TargetArn:        aws.String(endpointArn),
		Message:          aws.String(envelope),
		MessageStructure: aws.String("json"),
	}
	if msg.ThreadID != "" {
		in.MessageAttributes = map[string]types.MessageAttributeValue{
			collapseIDAttribute: {DataType: aws.String("String"), StringValue: aws.String(msg.ThreadID)},
		}
	}
	if err := g.publish(ctx, in); err != nil {
		metrics.GatewayCallFailures.WithLabelValues("publish").Inc()
		return fmt.Errorf("publish to %s: %w", endpointArn, err)
	}
	return nil
}

func (g *Gateway) publish(ctx context.Context, in *sns.PublishInput) error {
	if g.breaker == nil {
		_, err := g.client.Publish(ctx, in)
		return err
	}
	_, err := g.breaker.Execute(func() (*sns.PublishOutput, error) {
		return g.client.Publish(ctx, in)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrBreakerOpen, err)
	}
	return err
}

// CreateEndpoint registers a device token and returns its endpoint ARN. SNS
// hands back the existing ARN when the token is already registered, possibly
// disabled or bound to a stale token, so the attributes are reconciled here.
func (g *Gateway) CreateEndpoint(ctx context.Context, deviceToken, userID string) (string, error) {
	out, err := g.client.CreatePlatformEndpoint(ctx, &sns.CreatePlatformEndpointInput{
		PlatformApplicationArn: aws.String(g.applicationArn),
		Token:                  aws.String(deviceToken),
		CustomUserData:         aws.String(userID),
	})
	if err != nil {
		metrics.GatewayCallFailures.WithLabelValues("create_endpoint").Inc()
		return "", fmt.Errorf("create platform endpoint: %w", err)
	}
	arn := aws.ToString(out.EndpointArn)

	attrs, err := g.client.GetEndpointAttributes(ctx, &sns.GetEndpointAttributesInput{EndpointArn: aws.String(arn)})
	if err != nil {
		return "", fmt.Errorf("get endpoint attributes: %w", err)
	}
	if enabled(attrs.Attributes) && attrs.Attributes["Token"] == deviceToken {
		return arn, nil
	}
	_, err = g.client.SetEndpointAttributes(ctx, &sns.SetEndpointAttributesInput{
		EndpointArn: aws.String(arn),
		Attributes: map[string]string{
			"Token":   deviceToken,
			"Enabled": "true",
		},
	})
	if err != nil {
		metrics.GatewayCallFailures.WithLabelValues("set_endpoint_attributes").Inc()
		return "", fmt.Errorf("enable endpoint: %w", err)
	}
	return arn, nil
}

func enabled(attrs map[string]string) bool {
	return strings.EqualFold(attrs["Enabled"], "true")
}

func isNotFound(err error) bool {
	var nfe *types.NotFoundException
	return errors.As(err, &nfe)
}
