package exporters

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"

	defaultTimeout = 10 * time.Second
)

var defaultEndpoints = map[string]string{
	ProtocolGRPC: "localhost:4317",
	ProtocolHTTP: "localhost:4318",
}

// OTLPConfig describes where spans are shipped. Empty fields fall back to collector defaults.
type OTLPConfig struct {
	Endpoint string
	// Protocol is grpc or http
	Protocol string
	Insecure bool
	Headers  map[string]string
	Timeout  time.Duration
	// Gzip compresses export payloads
	Gzip bool
}

func (c OTLPConfig) withDefaults() (OTLPConfig, error) {
	if c.Protocol == "" {
		c.Protocol = ProtocolGRPC
	}
	endpoint, ok := defaultEndpoints[c.Protocol]
	if !ok {
		return c, fmt.Errorf("unsupported OTLP protocol %q: use %s or %s", c.Protocol, ProtocolGRPC, ProtocolHTTP)
	}
	if c.Endpoint == "" {
		c.Endpoint = endpoint
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c, nil
}

// NewOTLPExporter dials the collector over the configured protocol.
func NewOTLPExporter(ctx context.Context, config OTLPConfig) (*otlptrace.Exporter, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	if config.Protocol == ProtocolHTTP {
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(config.Endpoint),
			otlptracehttp.WithTimeout(config.Timeout),
			otlptracehttp.WithHeaders(config.Headers),
		}
		if config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if config.Gzip {
			opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
		}
		return otlptracehttp.New(ctx, opts...)
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(config.Endpoint),
		otlptracegrpc.WithTimeout(config.Timeout),
		otlptracegrpc.WithHeaders(config.Headers),
	}
	if config.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	if config.Gzip {
		opts = append(opts, otlptracegrpc.WithCompressor("gzip"))
	}
	return otlptracegrpc.New(ctx, opts...)
}
