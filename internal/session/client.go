package session

import (
	"net/http"
	"strings"

	"github.com/lmikkelsen/parlance/internal/protocol"
)

// ClientType classifies a connection by the kind of client behind it.
type ClientType string

const (
	// ClientStandalone is the interactive desktop app; it understands VAD
	// lifecycle events and live previews.
	ClientStandalone ClientType = "standalone"

	// ClientWeb is a browser client that controls start/stop explicitly.
	// Unknown client types fall back to web.
	ClientWeb ClientType = "web"
)

// DetectClientType classifies the connection. The X-Client-Type header is
// authoritative when present; a client_type query parameter is the fallback.
func DetectClientType(r *http.Request) ClientType {
	v := r.Header.Get("X-Client-Type")
	if v == "" {
		v = r.URL.Query().Get("client_type")
	}
	if strings.EqualFold(strings.TrimSpace(v), string(ClientStandalone)) {
		return ClientStandalone
	}
	return ClientWeb
}

// CapabilitiesFor derives the capability record echoed back in auth_ok so
// the client never has to guess server behaviour.
func CapabilitiesFor(ct ClientType, diarAvailable bool, diarReason string) protocol.Capabilities {
	standalone := ct == ClientStandalone
	return protocol.Capabilities{
		SupportsVADEvents: standalone,
		SupportsPreview:   standalone,
		Diarization: protocol.DiarizationCapability{
			Available: diarAvailable,
			Reason:    diarReason,
		},
	}
}
