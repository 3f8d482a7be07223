package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lmikkelsen/parlance/internal/archive"
	"github.com/lmikkelsen/parlance/internal/models"
	"github.com/lmikkelsen/parlance/internal/observe"
	"github.com/lmikkelsen/parlance/pkg/audio"
	"github.com/lmikkelsen/parlance/pkg/provider/asr"
	"github.com/lmikkelsen/parlance/pkg/provider/diarize"
)

// StatusClientClosedRequest mirrors nginx's non-standard code for a request
// abandoned by the client, reported when a transcription is cancelled.
const StatusClientClosedRequest = 499

// maxUploadMemory bounds the in-memory part of multipart parsing; larger
// uploads spill to disk.
const maxUploadMemory = 32 << 20

// TranscriptionResult is the response body of POST /api/transcribe/audio.
type TranscriptionResult struct {
	Text     string           `json:"text"`
	Language string           `json:"language,omitempty"`
	Duration float64          `json:"duration"`
	Words    []asr.Word       `json:"words,omitempty"`
	Segments []labeledSegment `json:"segments,omitempty"`
}

// labeledSegment is an asr.Segment plus the speaker label assigned by
// diarization. Speaker is omitted unless diarization ran.
type labeledSegment struct {
	asr.Segment
	Speaker *int `json:"speaker,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func (s *Server) handleTranscribeAudio(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identify(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	language := r.FormValue("language")
	wordTimestamps := r.FormValue("word_timestamps") != "false"
	diarizeRequested := r.FormValue("diarize") == "true"

	// The decoder works on paths (ffmpeg wants a seekable input), so the
	// upload goes through a temp file named after the original extension.
	tmp, err := os.CreateTemp("", "parlance-upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storing upload failed")
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		writeError(w, http.StatusInternalServerError, "storing upload failed")
		return
	}
	tmp.Close()

	ctx, span := observe.StartSpan(r.Context(), "transcribe.file",
		trace.WithAttributes(attribute.String("engine", s.cfg.EngineName)))
	defer span.End()

	pcm, err := audio.DecodeFile(ctx, tmpPath)
	if err != nil {
		s.log.Warn("decoding upload failed", "file", header.Filename, "err", err)
		writeError(w, http.StatusBadRequest, "could not decode audio: "+err.Error())
		return
	}
	if len(pcm) == 0 {
		writeError(w, http.StatusBadRequest, "audio file contains no samples")
		return
	}

	ok, jobID, activeUser := s.cfg.Tracker.TryStart(identity.ClientName)
	s.metrics.RecordJobAdmission(ctx, ok)
	if !ok {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("A transcription is already running for %s", activeUser))
		return
	}
	defer s.cfg.Tracker.End(jobID)

	engine, err := s.cfg.Models.FileEngine()
	if err != nil {
		s.log.Error("file engine unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "transcription engine unavailable")
		return
	}

	start := time.Now()
	res, err := engine.Transcribe(ctx, pcm, asr.Options{
		Language:       language,
		WordTimestamps: wordTimestamps || diarizeRequested,
		Cancelled:      s.cfg.Tracker.CancelToken(jobID),
	})
	s.metrics.RecordTranscription(ctx, s.cfg.EngineName, "http", time.Since(start).Seconds())

	switch {
	case errors.Is(err, asr.ErrCancelled):
		writeError(w, StatusClientClosedRequest, "transcription cancelled")
		return
	case err != nil:
		s.log.Error("transcription failed", "file", header.Filename, "err", err)
		writeError(w, http.StatusInternalServerError, "transcription failed")
		return
	}

	out := TranscriptionResult{
		Text:     res.Text,
		Language: res.Language,
		Duration: audio.PCMDuration(len(pcm), audio.TargetRate).Seconds(),
		Segments: make([]labeledSegment, len(res.Segments)),
	}
	if wordTimestamps {
		out.Words = res.Words
	}
	for i, seg := range res.Segments {
		out.Segments[i] = labeledSegment{Segment: seg}
	}

	if diarizeRequested {
		s.applySpeakerLabels(r, pcm, out.Segments)
	}

	if s.cfg.Archive != nil {
		err := s.cfg.Archive.SaveRecording(ctx, archive.Recording{
			ClientName: identity.ClientName,
			Source:     "http",
			Text:       res.Text,
			Language:   res.Language,
			Duration:   audio.PCMDuration(len(pcm), audio.TargetRate),
		})
		if err != nil {
			s.log.Warn("archiving recording", "err", err)
		}
	}

	writeJSON(w, http.StatusOK, out)
}

// applySpeakerLabels runs diarization and attaches the dominant speaker to
// each segment. Diarization failures degrade to an unlabeled result.
func (s *Server) applySpeakerLabels(r *http.Request, pcm []byte, segments []labeledSegment) {
	available, reason := s.cfg.Models.DiarizationCapability()
	if !available {
		s.log.Info("diarization requested but unavailable", "reason", reason)
		return
	}
	engine, err := s.cfg.Models.DiarizationEngine()
	if err != nil {
		s.log.Warn("diarization engine unavailable", "err", err)
		return
	}
	speakers, err := engine.Diarize(r.Context(), pcm)
	if err != nil {
		s.log.Warn("diarization failed", "err", err)
		return
	}
	for i := range segments {
		sp := diarize.SpeakerFor(segments[i].Start, segments[i].End, speakers)
		segments[i].Speaker = &sp
	}
}

func (s *Server) handleTranscribeCancel(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(r); !ok {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}

	ok, user := s.cfg.Tracker.Cancel()
	resp := struct {
		Success       bool   `json:"success"`
		CancelledUser string `json:"cancelled_user,omitempty"`
		Message       string `json:"message"`
	}{Success: ok, CancelledUser: user}
	if ok {
		resp.Message = "cancellation requested"
	} else {
		resp.Message = "no transcription running"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(r); !ok {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Models.Status())
}

func (s *Server) handleModelLoad(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identify(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}
	if !identity.IsAdmin {
		writeError(w, http.StatusForbidden, "admin privileges required")
		return
	}

	if err := s.cfg.Models.LoadTranscriptionModel(nil); err != nil {
		s.log.Error("loading transcription model", "err", err)
		writeError(w, http.StatusInternalServerError, "model load failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded"})
}

func (s *Server) handleModelUnload(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identify(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}
	if !identity.IsAdmin {
		writeError(w, http.StatusForbidden, "admin privileges required")
		return
	}

	err := s.cfg.Models.UnloadTranscriptionModel()
	switch {
	case errors.Is(err, models.ErrNotLoaded):
		writeError(w, http.StatusConflict, "no model loaded")
		return
	case err != nil:
		s.log.Error("unloading transcription model", "err", err)
		writeError(w, http.StatusInternalServerError, "model unload failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unloaded"})
}
