package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"realtime-call-translator/internal/asr"
	"realtime-call-translator/internal/audio"
	"realtime-call-translator/internal/call"
	"realtime-call-translator/internal/storage"
	"realtime-call-translator/internal/tts"
)

const defaultConfidence = 1.0

type createSessionRequest struct {
	Name            string `json:"name"`
	MaxParticipants int    `json:"max_participants"`
}

type translateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

type translateResponse struct {
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

type speakRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Voice    string `json:"voice"`
}

type transcriptionResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	ObjectKey  string  `json:"object_key,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		sendNotFound(w, "Not found")
		return
	}
	if r.Method != http.MethodGet {
		sendMethodNotAllowed(w)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sendJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": h.deps.Sessions.ListAvailableSessions(),
		})
	case http.MethodPost:
		if _, ok := h.authenticate(w, r); !ok {
			return
		}
		req, err := parseCreateSession(r)
		if err != nil {
			sendBadRequest(w, err.Error())
			return
		}
		sum := h.deps.Sessions.CreateSession(req.Name, req.MaxParticipants)
		sendJSON(w, http.StatusOK, map[string]any{"status": "ok", "session": sum})
	default:
		sendMethodNotAllowed(w)
	}
}

// parseCreateSession accepts query parameters or a JSON body.
func parseCreateSession(r *http.Request) (createSessionRequest, error) {
	req := createSessionRequest{Name: r.URL.Query().Get("name")}
	if v := r.URL.Query().Get("max_participants"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("max_participants must be an integer")
		}
		req.MaxParticipants = n
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return req, fmt.Errorf("invalid JSON body")
		}
	}
	return req, nil
}

func (h *Handler) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendMethodNotAllowed(w)
		return
	}
	if h.deps.History == nil {
		sendNotFound(w, "Call history is not enabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.deps.History.ListTranscripts(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		h.logger.Error("list transcripts", zap.Error(err))
		sendInternalError(w, "Failed to load transcripts")
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"status": "ok", "transcripts": records})
}

func (h *Handler) handleSpeechToText(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.deps.MaxUploadBytes); err != nil {
		sendBadRequest(w, "Invalid multipart form")
		return
	}
	file, header, err := r.FormFile("audio_file")
	if err != nil {
		sendBadRequest(w, "audio_file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		sendBadRequest(w, "Failed to read audio_file")
		return
	}
	if len(data) == 0 {
		sendBadRequest(w, "audio_file is empty")
		return
	}
	h.logger.Info("received audio file", zap.String("filename", header.Filename), zap.Int("bytes", len(data)))

	wav := data
	if !isWAV(data) {
		if wav, err = audio.EncodeMonoWAV(data); err != nil {
			sendBadRequest(w, "audio_file must be WAV or 16-bit PCM")
			return
		}
	}

	start := time.Now()
	res, err := h.deps.Recognizer.Transcribe(r.Context(), wav, r.FormValue("language"))
	h.deps.Metrics.RecognitionDone(time.Since(start), err)
	if err != nil {
		h.logger.Error("speech-to-text", zap.Error(err))
		sendInternalError(w, "Speech recognition error: "+err.Error())
		return
	}

	resp := transcriptionResponse{Text: res.Text, Confidence: confidenceOf(res)}
	resp.ObjectKey = h.storeArtifact(r, "speech-to-text", wav, "audio/wav")
	sendJSON(w, http.StatusOK, resp)
}

func isWAV(b []byte) bool {
	return len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE"))
}

func confidenceOf(res asr.Result) float64 {
	if res.Confidence == nil {
		return defaultConfidence
	}
	return *res.Confidence
}

func (h *Handler) handleTranslate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendMethodNotAllowed(w)
		return
	}
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendBadRequest(w, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		sendBadRequest(w, "text is required")
		return
	}
	if req.TargetLanguage == "" {
		sendBadRequest(w, "target_language is required")
		return
	}

	res, err := h.deps.Translator.TranslateWithSource(r.Context(), req.Text, req.SourceLanguage, req.TargetLanguage)
	h.deps.Metrics.TranslationDone(err)
	if err != nil {
		h.logger.Error("translate", zap.Error(err))
		sendInternalError(w, "Translation error: "+err.Error())
		return
	}
	sendJSON(w, http.StatusOK, translateResponse{
		OriginalText:   req.Text,
		TranslatedText: res.Text,
		SourceLanguage: res.DetectedSource,
		TargetLanguage: req.TargetLanguage,
	})
}

func (h *Handler) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendMethodNotAllowed(w)
		return
	}
	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendBadRequest(w, "Invalid JSON body")
		return
	}
	if req.Language == "" {
		req.Language = call.DefaultSourceLanguage
	}

	data, mimeType, err := h.deps.Synthesizer.Synthesize(r.Context(), req.Text, req.Language, req.Voice)
	if errors.Is(err, tts.ErrEmptyText) {
		sendBadRequest(w, "text is required")
		return
	}
	if err != nil {
		h.logger.Error("speak", zap.Error(err))
		sendInternalError(w, "Text-to-speech error: "+err.Error())
		return
	}
	if len(data) == 0 {
		sendInternalError(w, "Failed to generate speech audio")
		return
	}

	if key := h.storeArtifact(r, "speak", data, mimeType); key != "" {
		w.Header().Set("X-Object-Key", key)
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", "attachment; filename=speech.mp3")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// storeArtifact uploads data when artifact storage is enabled and returns the
// object key, or "" when nothing was stored.
func (h *Handler) storeArtifact(r *http.Request, kind string, data []byte, contentType string) string {
	if h.deps.Artifacts == nil {
		return ""
	}
	key := storage.ArtifactKey(kind, uuid.NewString(), contentType, time.Now())
	if _, _, err := h.deps.Artifacts.UploadBytes(r.Context(), key, data, contentType); err != nil {
		h.logger.Warn("artifact upload failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	return key
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	r, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.deps.Calls.HandleConn(conn, call.Identity{Username: identityFrom(r.Context()).Username})
}
