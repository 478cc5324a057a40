package telemetry

import (
	"context"
	"testing"

	"github.com/quantfabric/mmpolicy/config"
)

func TestInitWithoutEndpointUsesNoop(t *testing.T) {
	mp, shutdown, err := Init(context.Background(), config.Telemetry{OTLPEndpoint: "", ServiceName: ""})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if mp == nil {
		t.Fatal("expected meter provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		raw      string
		host     string
		insecure bool
	}{
		{"http://collector:4318", "collector:4318", true},
		{"https://collector:4318", "collector:4318", false},
		{"collector:4318", "collector:4318", true},
	}
	for _, tc := range cases {
		host, insecure, err := parseEndpoint(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if host != tc.host || insecure != tc.insecure {
			t.Fatalf("parse %q: got (%s,%v) want (%s,%v)", tc.raw, host, insecure, tc.host, tc.insecure)
		}
	}
}
