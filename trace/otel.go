package trace

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "k6frames"

var (
	// ErrInvalidTracesOutput is returned for a traces output other than none or otel.
	ErrInvalidTracesOutput = errors.New("invalid traces output")
	// ErrInvalidProto is returned for an exporter protocol other than http or grpc.
	ErrInvalidProto = errors.New("invalid protocol")
	// ErrInvalidURLScheme is returned for an exporter URL that is not http or https.
	ErrInvalidURLScheme = errors.New("invalid URL scheme")
	// ErrInvalidGRPCWithURLPath is returned when a gRPC exporter is given a URL path.
	ErrInvalidGRPCWithURLPath = errors.New("grpc protocol does not support URL path")
)

// TracerProvider is a TracerProvider that has to be shut down to flush
// the spans it holds.
type TracerProvider struct {
	trace.TracerProvider
	shutdown func(ctx context.Context) error
}

// Shutdown flushes and stops the provider. Spans started afterwards are dropped.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.shutdown(ctx)
}

// NewNoopTracerProvider returns a provider recording nothing.
func NewNoopTracerProvider() *TracerProvider {
	return &TracerProvider{
		TracerProvider: noop.NewTracerProvider(),
		shutdown:       func(context.Context) error { return nil },
	}
}

type tracerProviderParams struct {
	proto    string
	endpoint string
	urlPath  string
	insecure bool
	headers  map[string]string
}

func defaultTracerProviderParams() tracerProviderParams {
	return tracerProviderParams{
		proto:    "grpc",
		endpoint: "127.0.0.1:4317",
		insecure: true,
		headers:  make(map[string]string),
	}
}

// TracerProviderFromConfigLine returns the provider line describes.
//
// The line is either empty, "none" or otel[=<url>][,proto=<http|grpc>][,header.<name>=<value>].
// A bare "otel" exports over gRPC to 127.0.0.1:4317. An http or https
// URL switches the exporter to OTLP over HTTP.
func TracerProviderFromConfigLine(ctx context.Context, line string) (*TracerProvider, error) {
	if line == "" || line == "none" {
		return NewNoopTracerProvider(), nil
	}
	params, err := tracerProviderParamsFromConfigLine(line)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptrace.New(ctx, newClient(params))
	if err != nil {
		return nil, fmt.Errorf("creating traces exporter: %w", err)
	}
	prov := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)

	return &TracerProvider{TracerProvider: prov, shutdown: prov.Shutdown}, nil
}

func newClient(params tracerProviderParams) otlptrace.Client {
	if params.proto == "http" {
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(params.endpoint),
			otlptracehttp.WithHeaders(params.headers),
		}
		if params.urlPath != "" {
			opts = append(opts, otlptracehttp.WithURLPath(params.urlPath))
		}
		if params.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.NewClient(opts...)
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(params.endpoint),
		otlptracegrpc.WithHeaders(params.headers),
	}
	if params.insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.NewClient(opts...)
}

func tracerProviderParamsFromConfigLine(line string) (tracerProviderParams, error) {
	params := defaultTracerProviderParams()

	first, _, _ := strings.Cut(line, ",")
	output, _, _ := strings.Cut(first, "=")
	if output != "otel" {
		return params, fmt.Errorf("%w %q", ErrInvalidTracesOutput, output)
	}

	for _, token := range strings.Split(line, ",") {
		key, value, _ := strings.Cut(token, "=")
		switch {
		case key == "otel":
			if value == "" {
				continue
			}
			if err := params.parseURL(value); err != nil {
				return params, fmt.Errorf("parsing the otel URL: %w", err)
			}
		case key == "proto":
			if value != "http" && value != "grpc" {
				return params, fmt.Errorf("%w: %q", ErrInvalidProto, value)
			}
			params.proto = value
		case strings.HasPrefix(key, "header."):
			params.headers[strings.TrimPrefix(key, "header.")] = value
		default:
			return params, fmt.Errorf("unknown otel config key %q", key)
		}
	}

	if params.proto == "grpc" && params.urlPath != "" {
		return params, ErrInvalidGRPCWithURLPath
	}

	return params, nil
}

func (p *tracerProviderParams) parseURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrInvalidURLScheme, u.Scheme)
	}

	p.proto = "http"
	p.endpoint = u.Host
	p.urlPath = u.Path
	p.insecure = u.Scheme == "http"

	return nil
}
