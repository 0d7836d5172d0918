package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/protobound/gateway/internal/eventbus"
	"github.com/protobound/gateway/internal/gateway"
	"github.com/protobound/gateway/internal/grpctp"
	"github.com/protobound/gateway/internal/otel"
	"github.com/protobound/gateway/internal/server"
)

const rootUsage = `gateway — gRPC ↔ GraphQL bridge

USAGE:
  gateway serve [flags]

FLAGS:
  -descriptorset <file>          Serialized FileDescriptorSet (required)
  -service <fqName>=<host:port>  Map a protobuf service to its gRPC backend.
                                  Repeatable.
  -service.insecure               Dial all -service backends without TLS
  -federation                    Enable Apollo Federation v2 hookup
  -server.addr <addr>            HTTP listen address (default: :8080)
  -server.pretty                 Pretty-print JSON responses
  -server.timeout <duration>     Per-request timeout, e.g. 10s (default: 10s)
  -server.metadata-header <name> Forward HTTP header to gRPC metadata. Repeatable
  -otel.endpoint <addr>          OTLP collector endpoint
  -otel.service <name>           OpenTelemetry service name (default: gateway)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] != "serve" {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}
	return cmdServe(args[1:])
}

type serviceFlag struct {
	specs []string
}

func (s *serviceFlag) String() string { return "" }

func (s *serviceFlag) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("invalid -service %q, want fqName=host:port", v)
	}
	s.specs = append(s.specs, v)
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func cmdServe(args []string) error {
	descriptorSetPath := ""
	addr := ":8080"
	pretty := false
	timeout := 10 * time.Second
	insecure := false
	enableFederation := false
	otelEndpoint := ""
	otelService := "gateway"
	var services serviceFlag
	var metadataHeaders stringListFlag

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&descriptorSetPath, "descriptorset", descriptorSetPath, "Serialized FileDescriptorSet")
	fs.Var(&services, "service", "Map a protobuf service to its gRPC backend")
	fs.BoolVar(&insecure, "service.insecure", insecure, "Dial all -service backends without TLS")
	fs.BoolVar(&enableFederation, "federation", enableFederation, "Enable Apollo Federation v2 hookup")
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.Var(&metadataHeaders, "server.metadata-header", "Forward HTTP header to gRPC metadata")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	if descriptorSetPath == "" {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("-descriptorset is required")
	}
	if len(services.specs) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("at least one -service mapping is required")
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	b := gateway.NewBuilder().WithDescriptorSetFile(descriptorSetPath)
	if enableFederation {
		b = b.EnableFederation()
	}
	for _, spec := range services.specs {
		parts := strings.SplitN(spec, "=", 2)
		name, endpoint := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		var opts []grpctp.ClientOption
		if insecure {
			opts = append(opts, grpctp.Insecure())
		}
		b = b.AddGRPCClient(name, endpoint, opts...)
	}

	var sopts []server.Option
	if pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if timeout > 0 {
		sopts = append(sopts, server.WithTimeout(timeout))
	}
	if len(metadataHeaders) > 0 {
		sopts = append(sopts, server.WithMetadataHeaders(metadataHeaders...))
	}
	b = b.WithServerOptions(sopts...)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("gateway listening on %s", addr)
	return b.Serve(ctx, addr)
}
