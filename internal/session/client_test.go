package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectClientType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		query  string
		want   ClientType
	}{
		{name: "standalone header", header: "standalone", want: ClientStandalone},
		{name: "standalone header mixed case", header: "Standalone", want: ClientStandalone},
		{name: "web header", header: "web", want: ClientWeb},
		{name: "unknown header falls back to web", header: "mobile", want: ClientWeb},
		{name: "query parameter", query: "standalone", want: ClientStandalone},
		{name: "header wins over query", header: "web", query: "standalone", want: ClientWeb},
		{name: "nothing", want: ClientWeb},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			url := "/ws"
			if tt.query != "" {
				url += "?client_type=" + tt.query
			}
			r := httptest.NewRequest(http.MethodGet, url, nil)
			if tt.header != "" {
				r.Header.Set("X-Client-Type", tt.header)
			}
			if got := DetectClientType(r); got != tt.want {
				t.Errorf("DetectClientType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCapabilitiesFor(t *testing.T) {
	t.Parallel()

	caps := CapabilitiesFor(ClientStandalone, false, "token_missing")
	if !caps.SupportsVADEvents || !caps.SupportsPreview {
		t.Errorf("standalone capabilities = %+v, want VAD events and preview", caps)
	}
	if caps.Diarization.Available || caps.Diarization.Reason != "token_missing" {
		t.Errorf("diarization = %+v", caps.Diarization)
	}

	caps = CapabilitiesFor(ClientWeb, true, "")
	if caps.SupportsVADEvents || caps.SupportsPreview {
		t.Errorf("web capabilities = %+v, want no VAD events or preview", caps)
	}
	if !caps.Diarization.Available {
		t.Errorf("diarization = %+v, want available", caps.Diarization)
	}
}
