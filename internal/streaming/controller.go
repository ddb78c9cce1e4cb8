// Package streaming runs periodic recognition over buffered call audio.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"realtime-call-translator/internal/asr"
	"realtime-call-translator/internal/audio"
	"realtime-call-translator/internal/metrics"
)

// ErrStopped is returned by Start once the controller has been stopped.
var ErrStopped = errors.New("streaming: controller stopped")

const (
	DefaultInterval     = 500 * time.Millisecond
	DefaultMinBytes     = 8000
	DefaultStopTimeout  = 2 * time.Second
	DefaultResultBuffer = 32
	DefaultConfidence   = 1.0
	DefaultLanguage     = "en"
)

type Config struct {
	Interval time.Duration
	// MinBytes is the smallest buffered payload worth a recognition pass.
	MinBytes          int
	StopTimeout       time.Duration
	ResultBuffer      int
	DefaultConfidence float64
	Language          string
	Logger            *zap.Logger
	Metrics           *metrics.Collector
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MinBytes <= 0 {
		c.MinBytes = DefaultMinBytes
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.ResultBuffer <= 0 {
		c.ResultBuffer = DefaultResultBuffer
	}
	if c.DefaultConfidence <= 0 {
		c.DefaultConfidence = DefaultConfidence
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Transcript is one non-empty recognition result.
type Transcript struct {
	Text       string
	Language   string
	Confidence float64
	At         time.Time
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// Controller owns one connection's audio buffer and recognition loop.
type Controller struct {
	cfg        Config
	recognizer asr.Recognizer
	logger     *zap.Logger
	buf        *audio.Buffer
	results    chan Transcript

	// half is a trailing byte held back from the last cycle; loop goroutine only
	half    byte
	hasHalf bool

	mu       sync.Mutex
	state    state
	language string
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewController(recognizer asr.Recognizer, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:        cfg,
		recognizer: recognizer,
		logger:     cfg.Logger.With(zap.String("component", "streaming")),
		buf:        audio.NewBuffer(),
		results:    make(chan Transcript, cfg.ResultBuffer),
		language:   cfg.Language,
	}
}

// Start launches the recognition loop. It is a no-op while running.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateRunning:
		c.logger.Debug("start ignored, already running")
		return nil
	case stateStopped:
		return ErrStopped
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = stateRunning
	go c.loop(ctx, c.done)
	c.logger.Debug("recognition loop started", zap.String("language", c.language))
	return nil
}

// AddAudioChunk buffers audio for the next cycle. Chunks are ignored once stopped.
func (c *Controller) AddAudioChunk(chunk []byte) {
	c.mu.Lock()
	stopped := c.state == stateStopped
	c.mu.Unlock()
	if stopped {
		return
	}
	c.buf.AddChunk(chunk)
}

// SetLanguage takes effect from the next recognition call.
func (c *Controller) SetLanguage(code string) {
	if code == "" {
		return
	}
	c.mu.Lock()
	c.language = code
	c.mu.Unlock()
}

func (c *Controller) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

// Results yields transcripts in recognition order. It is closed after Stop.
func (c *Controller) Results() <-chan Transcript {
	return c.results
}

func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateRunning
}

// Buffered reports how many audio bytes are waiting for the next cycle.
func (c *Controller) Buffered() int {
	return c.buf.Len()
}

// Stop cancels the loop, waits up to StopTimeout for it to exit and discards
// buffered audio. Safe to call more than once.
func (c *Controller) Stop() {
	c.mu.Lock()
	switch c.state {
	case stateStopped:
		c.mu.Unlock()
		return
	case stateIdle:
		c.state = stateStopped
		close(c.results)
		c.mu.Unlock()
		c.buf.Clear()
		return
	}
	c.state = stateStopped
	c.cancel()
	done := c.done
	c.mu.Unlock()

	t := time.NewTimer(c.cfg.StopTimeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		c.logger.Warn("recognition loop did not exit in time", zap.Duration("timeout", c.cfg.StopTimeout))
	}
	c.buf.Clear()
}

func (c *Controller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer close(c.results)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runCycle(ctx)
		}
	}
}

// runCycle performs one take-and-recognize step.
func (c *Controller) runCycle(ctx context.Context) {
	data, ok := c.buf.TakeAll()
	if !ok {
		return
	}
	data = c.alignSamples(data)
	if len(data) < c.cfg.MinBytes {
		c.logger.Debug("discarding short audio", zap.Int("bytes", len(data)))
		return
	}

	wav, err := audio.EncodeMonoWAV(data)
	if err != nil {
		c.logger.Warn("wav encode failed", zap.Error(err))
		return
	}

	lang := c.Language()
	start := time.Now()
	res, err := c.recognize(ctx, wav, lang)
	c.cfg.Metrics.RecognitionDone(time.Since(start), err)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("recognition failed", zap.Error(err), zap.String("language", lang))
		}
		return
	}
	if res.Text == "" {
		return
	}

	t := Transcript{
		Text:       res.Text,
		Language:   res.Language,
		Confidence: c.cfg.DefaultConfidence,
		At:         time.Now(),
	}
	if t.Language == "" {
		t.Language = lang
	}
	if res.Confidence != nil {
		t.Confidence = *res.Confidence
	}
	c.publish(ctx, t)
}

// alignSamples keeps recognition input on whole 16-bit samples. A trailing
// odd byte is prepended to the next cycle's audio.
func (c *Controller) alignSamples(data []byte) []byte {
	if c.hasHalf {
		data = append([]byte{c.half}, data...)
		c.hasHalf = false
	}
	if n := len(data); n%2 != 0 {
		c.half, c.hasHalf = data[n-1], true
		data = data[:n-1]
	}
	return data
}

func (c *Controller) recognize(ctx context.Context, wav []byte, lang string) (res asr.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recognizer panic: %v", r)
		}
	}()
	return c.recognizer.Transcribe(ctx, wav, lang)
}

// publish never blocks: when the consumer lags, the oldest transcript is dropped.
func (c *Controller) publish(ctx context.Context, t Transcript) {
	if ctx.Err() != nil {
		return
	}
	for {
		select {
		case c.results <- t:
			return
		default:
		}
		select {
		case old := <-c.results:
			c.logger.Debug("dropping stale transcript", zap.String("text", old.Text))
		default:
		}
	}
}
