package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/lmikkelsen/parlance/internal/archive"
	"github.com/lmikkelsen/parlance/internal/auth"
	"github.com/lmikkelsen/parlance/internal/jobs"
	"github.com/lmikkelsen/parlance/internal/models"
	"github.com/lmikkelsen/parlance/pkg/audio"
	"github.com/lmikkelsen/parlance/pkg/provider/asr"
	asrmock "github.com/lmikkelsen/parlance/pkg/provider/asr/mock"
	"github.com/lmikkelsen/parlance/pkg/provider/diarize"
	diarmock "github.com/lmikkelsen/parlance/pkg/provider/diarize/mock"
)

type stubFactory struct {
	file *asrmock.Engine
	diar *diarmock.Engine
}

func (f *stubFactory) NewFileEngine() (asr.Engine, error) { return f.file, nil }
func (f *stubFactory) NewLiveEngine() (asr.Engine, error) { return &asrmock.Engine{}, nil }
func (f *stubFactory) NewDiarizationEngine() (diarize.Engine, error) {
	return f.diar, nil
}
func (f *stubFactory) DiarizationConfigured() bool { return f.diar != nil }

type testServer struct {
	srv     *Server
	tracker *jobs.Tracker
	store   *archive.MemoryStore
	file    *asrmock.Engine
	handler http.Handler
}

func newTestServer(t *testing.T, tokens map[string]auth.Identity) *testServer {
	t.Helper()

	file := &asrmock.Engine{Result: asr.Result{
		Text:     "the quick brown fox",
		Language: "en",
		Segments: []asr.Segment{{Text: "the quick brown fox", Start: 0, End: 1.5}},
	}}
	tracker := jobs.NewTracker()
	modelMgr, err := models.NewManager(models.Config{MainModel: "base"},
		&stubFactory{file: file}, tracker)
	if err != nil {
		t.Fatalf("models.NewManager: %v", err)
	}

	authStore := auth.NewStore()
	if tokens != nil {
		authStore = storeWith(tokens)
	}

	store := archive.NewMemoryStore()
	srv := New(Config{
		ListenAddr: ":0",
		Store:      authStore,
		Models:     modelMgr,
		Tracker:    tracker,
		Archive:    store,
		EngineName: "whisper-native",
	})
	return &testServer{
		srv:     srv,
		tracker: tracker,
		store:   store,
		file:    file,
		handler: srv.Handler(),
	}
}

func storeWith(tokens map[string]auth.Identity) *auth.Store {
	s := auth.NewStore()
	for tok, id := range tokens {
		s.Add(tok, id)
	}
	return s
}

// wavUpload builds a multipart body carrying one second of 16 kHz WAV audio.
func wavUpload(t *testing.T, extraFields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	pcm := make([]byte, 16000*2)
	wav := audio.EncodeWAV(pcm, 16000)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "clip.wav")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(wav); err != nil {
		t.Fatalf("writing wav: %v", err)
	}
	for k, v := range extraFields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField(%s): %v", k, err)
		}
	}
	mw.Close()
	return &body, mw.FormDataContentType()
}

func localRequest(method, target string, body *bytes.Buffer) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, body)
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.RemoteAddr = "127.0.0.1:52000"
	return r
}

func TestTranscribeAudio(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)
	body, contentType := wavUpload(t, map[string]string{
		"language":        "en",
		"word_timestamps": "true",
	})

	r := localRequest(http.MethodPost, "/api/transcribe/audio", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res TranscriptionResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Text != "the quick brown fox" {
		t.Errorf("text = %q", res.Text)
	}
	if res.Duration != 1 {
		t.Errorf("duration = %v, want 1", res.Duration)
	}

	calls := ts.file.Calls()
	if len(calls) != 1 {
		t.Fatalf("transcribe calls = %d, want 1", len(calls))
	}
	if !calls[0].Opts.WordTimestamps || calls[0].Opts.Language != "en" {
		t.Errorf("options = %+v", calls[0].Opts)
	}
	if len(calls[0].PCM) != 16000*2 {
		t.Errorf("pcm bytes = %d, want %d", len(calls[0].PCM), 16000*2)
	}

	if ts.tracker.Status().Busy {
		t.Error("job slot still occupied")
	}
	if recs := ts.store.Recordings(); len(recs) != 1 || recs[0].Source != "http" {
		t.Errorf("archived recordings = %+v", recs)
	}
}

func TestTranscribeAudioBusy(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)
	if ok, _, _ := ts.tracker.TryStart("alice"); !ok {
		t.Fatal("seeding tracker failed")
	}

	body, contentType := wavUpload(t, nil)
	r := localRequest(http.MethodPost, "/api/transcribe/audio", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if want := "A transcription is already running for alice"; resp.Detail != want {
		t.Errorf("detail = %q, want %q", resp.Detail, want)
	}
}

func TestTranscribeAudioCancelled(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)
	var once sync.Once
	ts.file.TranscribeFunc = func(ctx context.Context, pcm []byte, opts asr.Options) (asr.Result, error) {
		// Simulate a cancel arriving mid-decode.
		once.Do(func() { ts.tracker.Cancel() })
		if opts.Cancelled != nil && opts.Cancelled() {
			return asr.Result{}, asr.ErrCancelled
		}
		return asr.Result{Text: "finished"}, nil
	}

	body, contentType := wavUpload(t, nil)
	r := localRequest(http.MethodPost, "/api/transcribe/audio", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)

	if w.Code != StatusClientClosedRequest {
		t.Fatalf("status = %d, want %d", w.Code, StatusClientClosedRequest)
	}
}

func TestTranscribeAudioRejectsGarbage(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "noise.bin")
	fw.Write([]byte("this is not audio"))
	mw.Close()

	r := localRequest(http.MethodPost, "/api/transcribe/audio", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCancelEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)

	r := localRequest(http.MethodPost, "/api/transcribe/cancel", &bytes.Buffer{})
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Success       bool   `json:"success"`
		CancelledUser string `json:"cancelled_user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success {
		t.Error("cancel succeeded with no job running")
	}

	ts.tracker.TryStart("bob")
	r = localRequest(http.MethodPost, "/api/transcribe/cancel", &bytes.Buffer{})
	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.CancelledUser != "bob" {
		t.Errorf("response = %+v", resp)
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)

	r := localRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var status models.Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Transcription.Loaded {
		t.Error("model reported loaded before first use")
	}
}

func TestAPIRequiresToken(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, map[string]auth.Identity{
		"secret": {ClientName: "carol"},
	})

	r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	r.RemoteAddr = "203.0.113.9:41000"
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	r.RemoteAddr = "203.0.113.9:41000"
	r.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestAPIRejectsNonBearerSchemes(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, map[string]auth.Identity{
		"secret": {ClientName: "carol"},
	})

	for _, header := range []string{
		"secret",                 // bare token, no scheme
		"Basic c2VjcmV0",         // wrong scheme
		"bearer secret",          // scheme is case-sensitive
		"Bearer",                 // scheme without a token
		"Bearer  secret extras ", // mangled value
	} {
		r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		r.RemoteAddr = "203.0.113.9:41000"
		r.Header.Set("Authorization", header)
		w := httptest.NewRecorder()
		ts.handler.ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("Authorization %q: status = %d, want 401", header, w.Code)
		}
	}
}

func TestModelEndpointsRequireAdmin(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, map[string]auth.Identity{
		"user-token":  {ClientName: "dave"},
		"admin-token": {ClientName: "erin", IsAdmin: true},
	})

	r := httptest.NewRequest(http.MethodPost, "/api/models/load", nil)
	r.RemoteAddr = "203.0.113.9:41000"
	r.Header.Set("Authorization", "Bearer user-token")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-admin load status = %d, want 403", w.Code)
	}

	r = httptest.NewRequest(http.MethodPost, "/api/models/load", nil)
	r.RemoteAddr = "203.0.113.9:41000"
	r.Header.Set("Authorization", "Bearer admin-token")
	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("admin load status = %d, body = %s", w.Code, w.Body.String())
	}

	r = httptest.NewRequest(http.MethodPost, "/api/models/unload", nil)
	r.RemoteAddr = "203.0.113.9:41000"
	r.Header.Set("Authorization", "Bearer admin-token")
	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("admin unload status = %d, body = %s", w.Code, w.Body.String())
	}

	// Unloading again reports the empty slot.
	r = httptest.NewRequest(http.MethodPost, "/api/models/unload", nil)
	r.RemoteAddr = "203.0.113.9:41000"
	r.Header.Set("Authorization", "Bearer admin-token")
	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	if w.Code != http.StatusConflict {
		t.Fatalf("double unload status = %d, want 409", w.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("healthz status = %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("readyz status = %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)

	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("metrics status = %d", w.Code)
	}
}
