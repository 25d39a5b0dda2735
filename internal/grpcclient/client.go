// Package grpcclient provides a client for a remote OCR service over gRPC
package grpcclient

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GriffinCanCode/cardscan/internal/card"
	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
	"github.com/GriffinCanCode/cardscan/internal/resilience"
	"github.com/GriffinCanCode/cardscan/internal/trace"
)

// Config holds client settings.
type Config struct {
	Addr             string
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	CallTimeout      time.Duration
	Breaker          resilience.Config
	Retry            resilience.RetryConfig
}

// DefaultConfig returns standard client settings.
func DefaultConfig() Config {
	return Config{
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
		CallTimeout:      DefaultCallTimeout,
		Breaker:          resilience.Config{Trips: serviceFault},
		Retry:            resilience.DefaultRetryConfig(),
	}
}

// Client calls the OCR service.
type Client struct {
	conn    *grpc.ClientConn
	health  grpc_health_v1.HealthClient
	breaker *resilience.Breaker
	cfg     Config
}

// New creates a client. Extra dial options are appended after the defaults.
func New(cfg Config, opts ...grpc.DialOption) (*Client, error) {
	if cfg.Addr == "" {
		return nil, apperrors.New(apperrors.ConfigMissing, "OCR gRPC address is required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Breaker.Trips == nil {
		cfg.Breaker.Trips = serviceFault
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithChainUnaryInterceptor(trace.UnaryClientInterceptor()),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Addr, dialOpts...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Unavailable, "create OCR gRPC client")
	}

	return &Client{
		conn:    conn,
		health:  grpc_health_v1.NewHealthClient(conn),
		breaker: resilience.New("ocr-grpc", cfg.Breaker),
		cfg:     cfg,
	}, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Breaker exposes the client's circuit breaker for state reporting.
func (c *Client) Breaker() *resilience.Breaker {
	return c.breaker
}

// DetectText sends an image for OCR. Transient failures are retried; repeated
// failures open the breaker and fail fast until it resets.
func (c *Client) DetectText(ctx context.Context, image []byte) (card.OcrResult, error) {
	ctx, span := trace.StartSpan(ctx, "grpc_detect_text")
	defer span.End()
	span.SetAttr("bytes", len(image))

	if len(image) == 0 {
		return card.OcrResult{}, apperrors.New(apperrors.OCRInvalidImage, "empty image")
	}

	req, err := structpb.NewStruct(map[string]any{
		"image":  base64.StdEncoding.EncodeToString(image),
		"format": imageFormat(image),
	})
	if err != nil {
		return card.OcrResult{}, apperrors.Wrap(err, apperrors.Internal, "build OCR request")
	}

	if err := c.breaker.Allow(); err != nil {
		span.SetAttr("error", err.Error())
		return card.OcrResult{}, apperrors.Wrap(err, apperrors.Unavailable, "OCR service circuit open")
	}

	resp := &structpb.Struct{}
	err = resilience.Retry(ctx, c.cfg.Retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
		return c.conn.Invoke(callCtx, DetectTextMethod, req, resp)
	})
	c.breaker.Record(err)
	if err != nil {
		appErr := apperrors.FromGRPCError(err)
		if appErr.Code == apperrors.InvalidArgument {
			return card.OcrResult{}, apperrors.Wrap(err, apperrors.OCRInvalidImage, appErr.Message)
		}
		span.SetAttr("error", err.Error())
		return card.OcrResult{}, apperrors.Wrap(appErr, apperrors.OCRFailed, "OCR service call failed")
	}

	result := decodeResult(resp)
	span.SetAttr("lines", len(result.Lines))
	return result, nil
}

// Health checks the server's gRPC health service.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	resp, err := c.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: OCRServiceName})
	if err != nil {
		return apperrors.FromGRPCError(err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return apperrors.Newf(apperrors.Unavailable, "OCR service is %s", resp.GetStatus())
	}
	return nil
}

// decodeResult reads {text, lines?, confidence?}. Lines fall back to splitting text.
// serviceFault counts every failure except a rejected image against the
// OCR service.
func serviceFault(err error) bool {
	return status.Code(err) != codes.InvalidArgument
}

func decodeResult(resp *structpb.Struct) card.OcrResult {
	fields := resp.GetFields()
	text := fields["text"].GetStringValue()

	var lines []string
	for _, v := range fields["lines"].GetListValue().GetValues() {
		if s := strings.TrimSpace(v.GetStringValue()); s != "" {
			lines = append(lines, s)
		}
	}
	result := card.NewOcrResult(text, lines)

	if v, ok := fields["confidence"]; ok {
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); isNum {
			conf := min(max(v.GetNumberValue(), 0), 1)
			result.Confidence = &conf
		}
	}
	return result
}

func imageFormat(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpeg"
	default:
		return "unknown"
	}
}
