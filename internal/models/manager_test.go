package models

import (
	"errors"
	"sync"
	"testing"

	"github.com/lmikkelsen/parlance/internal/jobs"
	"github.com/lmikkelsen/parlance/pkg/provider/asr"
	asrmock "github.com/lmikkelsen/parlance/pkg/provider/asr/mock"
	"github.com/lmikkelsen/parlance/pkg/provider/diarize"
	diarmock "github.com/lmikkelsen/parlance/pkg/provider/diarize/mock"
)

// fakeFactory hands out fresh mock engines and counts constructions.
type fakeFactory struct {
	mu         sync.Mutex
	fileCalls  int
	liveCalls  int
	diarCalls  int
	fileErr    error
	diarModels bool

	lastFile *asrmock.Engine
	lastLive *asrmock.Engine
	lastDiar *diarmock.Engine
}

func (f *fakeFactory) NewFileEngine() (asr.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fileCalls++
	if f.fileErr != nil {
		return nil, f.fileErr
	}
	f.lastFile = &asrmock.Engine{}
	return f.lastFile, nil
}

func (f *fakeFactory) NewLiveEngine() (asr.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liveCalls++
	f.lastLive = &asrmock.Engine{}
	return f.lastLive, nil
}

func (f *fakeFactory) NewDiarizationEngine() (diarize.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diarCalls++
	f.lastDiar = &diarmock.Engine{}
	return f.lastDiar, nil
}

func (f *fakeFactory) DiarizationConfigured() bool { return f.diarModels }

func newTestManager(t *testing.T, cfg Config, f *fakeFactory) *Manager {
	t.Helper()
	m, err := NewManager(cfg, f, jobs.NewTracker())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestFileEngineLazySingleton(t *testing.T) {
	t.Parallel()

	f := &fakeFactory{}
	m := newTestManager(t, Config{MainModel: "base"}, f)

	if f.fileCalls != 0 {
		t.Fatal("engine constructed before first use")
	}
	e1, err := m.FileEngine()
	if err != nil {
		t.Fatalf("FileEngine: %v", err)
	}
	e2, err := m.FileEngine()
	if err != nil {
		t.Fatalf("FileEngine: %v", err)
	}
	if e1 != e2 {
		t.Error("FileEngine returned different instances")
	}
	if f.fileCalls != 1 {
		t.Errorf("fileCalls = %d, want 1", f.fileCalls)
	}
}

func TestRealtimeAliasesEquivalentModel(t *testing.T) {
	t.Parallel()

	f := &fakeFactory{}
	m := newTestManager(t, Config{
		MainModel: "large-v2",
		LiveModel: "Systran/Faster-Whisper-Large-v2",
	}, f)

	file, err := m.FileEngine()
	if err != nil {
		t.Fatalf("FileEngine: %v", err)
	}
	live, err := m.GetOrCreateRealtimeEngine("s1")
	if err != nil {
		t.Fatalf("GetOrCreateRealtimeEngine: %v", err)
	}
	if live != file {
		t.Error("equivalent live model should alias the file engine")
	}
	if f.liveCalls != 0 {
		t.Errorf("liveCalls = %d, want 0", f.liveCalls)
	}

	// Releasing the aliased engine must not close the file engine.
	m.ReleaseRealtimeEngine("s1")
	if f.lastFile.CloseCallCount != 0 {
		t.Error("file engine closed by releasing an aliased realtime engine")
	}
}

func TestRealtimeDistinctModelRefcounted(t *testing.T) {
	t.Parallel()

	f := &fakeFactory{}
	m := newTestManager(t, Config{MainModel: "large-v2", LiveModel: "tiny"}, f)

	e1, err := m.GetOrCreateRealtimeEngine("s1")
	if err != nil {
		t.Fatalf("GetOrCreateRealtimeEngine: %v", err)
	}
	e2, err := m.GetOrCreateRealtimeEngine("s2")
	if err != nil {
		t.Fatalf("GetOrCreateRealtimeEngine: %v", err)
	}
	if e1 != e2 {
		t.Error("two sessions should share one realtime engine")
	}
	if f.liveCalls != 1 {
		t.Errorf("liveCalls = %d, want 1", f.liveCalls)
	}

	m.ReleaseRealtimeEngine("s1")
	if f.lastLive.CloseCallCount != 0 {
		t.Error("engine closed while still referenced")
	}
	m.ReleaseRealtimeEngine("s2")
	if f.lastLive.CloseCallCount != 1 {
		t.Errorf("CloseCallCount = %d, want 1 after last release", f.lastLive.CloseCallCount)
	}

	// Double release is a no-op.
	m.ReleaseRealtimeEngine("s2")
	if f.lastLive.CloseCallCount != 1 {
		t.Error("double release closed the engine again")
	}
}

func TestUnloadTranscriptionModel(t *testing.T) {
	t.Parallel()

	f := &fakeFactory{}
	m := newTestManager(t, Config{MainModel: "base"}, f)

	if err := m.UnloadTranscriptionModel(); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("unload of empty slot = %v, want ErrNotLoaded", err)
	}

	if _, err := m.FileEngine(); err != nil {
		t.Fatalf("FileEngine: %v", err)
	}
	if err := m.UnloadTranscriptionModel(); err != nil {
		t.Fatalf("UnloadTranscriptionModel: %v", err)
	}
	if f.lastFile.CloseCallCount != 1 {
		t.Errorf("CloseCallCount = %d, want 1", f.lastFile.CloseCallCount)
	}

	// A later FileEngine call reloads.
	if _, err := m.FileEngine(); err != nil {
		t.Fatalf("FileEngine after unload: %v", err)
	}
	if f.fileCalls != 2 {
		t.Errorf("fileCalls = %d, want 2", f.fileCalls)
	}
}

func TestLoadTranscriptionModelProgress(t *testing.T) {
	t.Parallel()

	f := &fakeFactory{fileErr: errors.New("no weights")}
	m := newTestManager(t, Config{MainModel: "base"}, f)

	var stages []string
	err := m.LoadTranscriptionModel(func(s string) { stages = append(stages, s) })
	if err == nil {
		t.Fatal("expected load error")
	}
	if len(stages) != 2 || stages[0] != "loading" || stages[1] != "failed" {
		t.Errorf("stages = %v, want [loading failed]", stages)
	}
}

func TestUnloadAllOrderAndStatus(t *testing.T) {
	t.Parallel()

	f := &fakeFactory{diarModels: true}
	m := newTestManager(t, Config{MainModel: "large-v2", LiveModel: "tiny", Device: "cuda"}, f)

	if _, err := m.FileEngine(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetOrCreateRealtimeEngine("s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.DiarizationEngine(); err != nil {
		t.Fatal(err)
	}
	m.NotifyStandaloneConnect()

	st := m.Status()
	if !st.Transcription.Loaded || !st.Diarization.Loaded {
		t.Errorf("status before unload = %+v", st)
	}
	if st.Realtime.Active != 1 || st.Realtime.SharedWithFile {
		t.Errorf("realtime status = %+v", st.Realtime)
	}
	if !st.GPUAvailable || st.Device != "cuda" {
		t.Errorf("gpu status = %+v", st)
	}
	if st.Standalone != 1 {
		t.Errorf("standalone = %d, want 1", st.Standalone)
	}

	m.UnloadAll()

	st = m.Status()
	if st.Transcription.Loaded || st.Diarization.Loaded || st.Realtime.Active != 0 {
		t.Errorf("status after UnloadAll = %+v", st)
	}
	if f.lastFile.CloseCallCount != 1 || f.lastLive.CloseCallCount != 1 || f.lastDiar.CloseCallCount != 1 {
		t.Errorf("close counts: file=%d live=%d diar=%d, want 1 each",
			f.lastFile.CloseCallCount, f.lastLive.CloseCallCount, f.lastDiar.CloseCallCount)
	}
}

func TestDiarizationCapabilityGating(t *testing.T) {
	f := &fakeFactory{diarModels: true}
	m := newTestManager(t, Config{}, f)

	t.Setenv("HF_TOKEN", "")
	if ok, reason := m.DiarizationCapability(); ok || reason != "token_missing" {
		t.Errorf("capability without token = (%v, %q)", ok, reason)
	}

	t.Setenv("HF_TOKEN", "hf_test")
	if ok, reason := m.DiarizationCapability(); !ok || reason != "" {
		t.Errorf("capability with token = (%v, %q)", ok, reason)
	}

	f.diarModels = false
	if ok, reason := m.DiarizationCapability(); ok || reason != "not_configured" {
		t.Errorf("capability without models = (%v, %q)", ok, reason)
	}
}
