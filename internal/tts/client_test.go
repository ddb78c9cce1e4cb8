package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultVoice(t *testing.T) {
	assert.Equal(t, "es-ES-ElviraNeural", DefaultVoice("es"))
	assert.Equal(t, "fr-FR-DeniseNeural", DefaultVoice("FR-ca"))
	assert.Equal(t, "en-US-AriaNeural", DefaultVoice("xx"))
	assert.Equal(t, "en-US-AriaNeural", DefaultVoice(""))
}

func TestSynthesize(t *testing.T) {
	var got synthesizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/synthesize", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3mp3"))
	}))
	defer srv.Close()

	audio, mime, err := New(srv.URL+"/").Synthesize(context.Background(), "hola", "es", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3mp3"), audio)
	assert.Equal(t, "audio/mpeg", mime)
	assert.Equal(t, synthesizeRequest{Text: "hola", Language: "es", Voice: "es-ES-ElviraNeural"}, got)
}

func TestSynthesize_ExplicitVoiceAndMimeFallback(t *testing.T) {
	var got synthesizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{1, 2, 3})
	}))
	defer srv.Close()

	_, mime, err := New(srv.URL).Synthesize(context.Background(), "hi", "en", "custom")
	require.NoError(t, err)
	assert.Equal(t, "custom", got.Voice)
	assert.Equal(t, "audio/mpeg", mime)
}

func TestSynthesize_Errors(t *testing.T) {
	_, _, err := New("http://unused").Synthesize(context.Background(), "  ", "en", "")
	assert.ErrorIs(t, err, ErrEmptyText)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, _, err = New(srv.URL).Synthesize(context.Background(), "hi", "en", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
