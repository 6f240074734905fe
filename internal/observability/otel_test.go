package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tbourn/go-chat-store/internal/config"
)

func keepGlobals(t *testing.T) {
	t.Helper()
	tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func enabledConfig(name string, insecure bool) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    insecure,
		Endpoint:    "localhost:4317",
		ServiceName: name,
		SampleRatio: 1.0,
	}
}

func TestSetupOTel_DisabledLeavesGlobals(t *testing.T) {
	keepGlobals(t)
	prev := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Endpoint: "ignored:4317"}, "dev")
	if err != nil || shutdown == nil {
		t.Fatalf("SetupOTel disabled: shutdown=%v err=%v", shutdown != nil, err)
	}
	if otel.GetTracerProvider() != prev {
		t.Fatalf("disabled setup replaced the tracer provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown: %v", err)
	}
}

func TestSetupOTel_InstallsProvider(t *testing.T) {
	for _, insecure := range []bool{true, false} {
		keepGlobals(t)

		shutdown, err := SetupOTel(context.Background(), enabledConfig("chatcore-test", insecure), "v1.2.3")
		if err != nil {
			t.Fatalf("insecure=%v: %v", insecure, err)
		}
		if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
			t.Fatalf("insecure=%v: provider is %T", insecure, otel.GetTracerProvider())
		}

		// the store's spans must propagate through W3C trace context
		ctx, span := otel.Tracer("services/message_store").Start(context.Background(), "MessageStore.Store")
		carrier := propagation.MapCarrier{}
		otel.GetTextMapPropagator().Inject(ctx, carrier)
		span.End()
		if carrier.Get("traceparent") == "" {
			t.Fatalf("insecure=%v: traceparent not injected", insecure)
		}

		// no collector is listening; shutdown must still return in time
		sctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		_ = shutdown(sctx)
		cancel()
	}
}

func TestClientOptions(t *testing.T) {
	if got := len(clientOptions(enabledConfig("x", true))); got != 2 {
		t.Fatalf("insecure options = %d; want endpoint + insecure", got)
	}
	if got := len(clientOptions(enabledConfig("x", false))); got != 2 {
		t.Fatalf("tls options = %d; want endpoint + credentials", got)
	}
}

func TestResourceCarriesStoreEngine(t *testing.T) {
	res, err := newResource(context.Background(), "chatcore", "v9")
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	found := map[string]string{}
	for _, kv := range res.Attributes() {
		found[string(kv.Key)] = kv.Value.Emit()
	}
	if found["service.name"] != "chatcore" || found["service.version"] != "v9" {
		t.Fatalf("service attributes = %v", found)
	}
	if found["db.system"] != StoreEngine {
		t.Fatalf("db.system = %q", found["db.system"])
	}
}

func TestSetupOTel_FailuresKeepGlobals(t *testing.T) {
	cases := map[string]func(){
		"exporter": func() {
			newTraceExporter = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
				return nil, errors.New("exporter down")
			}
		},
		"resource": func() {
			newResource = func(context.Context, string, string) (*resource.Resource, error) {
				return nil, errors.New("bad resource")
			}
		},
	}
	for name, breakIt := range cases {
		keepGlobals(t)
		origExp, origRes := newTraceExporter, newResource
		breakIt()

		prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
		_, err := SetupOTel(context.Background(), enabledConfig("svc", true), "v0")
		newTraceExporter, newResource = origExp, origRes

		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if otel.GetTracerProvider() != prevTP || otel.GetTextMapPropagator() != prevProp {
			t.Fatalf("%s: globals changed on failure", name)
		}
	}
}

func TestSetupOTel_CanceledContext(t *testing.T) {
	keepGlobals(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the gRPC client connects lazily
	shutdown, err := SetupOTel(ctx, enabledConfig("svc-canceled", true), "v0")
	if err != nil {
		t.Fatalf("canceled ctx: %v", err)
	}
	_ = shutdown(context.Background())
}
