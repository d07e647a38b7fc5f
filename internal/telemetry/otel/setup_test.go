package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		p, err := NewProviders(ctx, endpoint, "inclusion-test", false)
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if p.TracerProvider == nil || p.MeterProvider == nil || p.LoggerProvider == nil {
			t.Fatalf("providers not all set: %+v", p)
		}
		if err := p.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in           string
		override     bool
		wantHostPort string
		wantInsecure bool
		wantErr      bool
	}{
		{"localhost:4317", false, "localhost:4317", true, false},
		{"http://collector:4317/v1/traces", false, "collector:4317", true, false},
		{"https://collector:4317", false, "collector:4317", false, false},
		{"https://collector:4317", true, "collector:4317", true, false},
		{"http://collector:4317?x=1", false, "collector:4317", true, false},
		{"http://", false, "", false, true},
		{"://invalid", false, "", false, true},
		{"http://[invalid", false, "", false, true},
	}
	for _, tt := range tests {
		got, err := ParseEndpoint(tt.in, tt.override)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseEndpoint(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseEndpoint(%q): %v", tt.in, err)
			continue
		}
		if got.HostPort != tt.wantHostPort || got.Insecure != tt.wantInsecure {
			t.Errorf("ParseEndpoint(%q) = %+v", tt.in, got)
		}
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	if _, err := NewProviders(context.Background(), "http://", "inclusion-test", false); err == nil {
		t.Fatal("NewProviders should reject an endpoint without host")
	}
}

func TestSetGlobal(t *testing.T) {
	p, err := NewProviders(context.Background(), "", "inclusion-test", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	oldTP, oldMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(oldTP)
		otel.SetMeterProvider(oldMP)
	}()
	p.SetGlobal()
	if otel.GetTracerProvider() != p.TracerProvider {
		t.Error("global tracer provider not installed")
	}
	if otel.GetMeterProvider() != p.MeterProvider {
		t.Error("global meter provider not installed")
	}

	empty := &Providers{}
	empty.SetGlobal()
}
