package asr

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-call-translator/internal/audio"
)

func TestClient_Transcribe(t *testing.T) {
	var gotLang, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcribe", r.URL.Path)
		gotLang = r.Header.Get("x-language")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "  hola mundo  ", "confidence": 0.8})
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	res, err := c.Transcribe(context.Background(), []byte("RIFFdata"), "es")
	require.NoError(t, err)

	assert.Equal(t, "es", gotLang)
	assert.Equal(t, "audio/wav", gotType)
	assert.Equal(t, []byte("RIFFdata"), gotBody)
	assert.Equal(t, "hola mundo", res.Text)
	assert.Equal(t, "es", res.Language)
	require.NotNil(t, res.Confidence)
	assert.InDelta(t, 0.8, *res.Confidence, 1e-9)
}

func TestClient_TranscribeWithoutConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("x-language"))
		_, _ = w.Write([]byte(`{"text":"hello","language":"en"}`))
	}))
	defer srv.Close()

	wav, err := audio.EncodeMonoWAV(make([]byte, 320))
	require.NoError(t, err)
	res, err := New(srv.URL).Transcribe(context.Background(), wav, "")
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
	assert.Equal(t, "en", res.Language)
	assert.Nil(t, res.Confidence)
}

func TestClient_TranscribeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Transcribe(context.Background(), nil, "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestClient_TranscribeCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.URL).Transcribe(ctx, nil, "en")
	assert.ErrorIs(t, err, context.Canceled)
}
