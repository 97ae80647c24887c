// Package playback drives sentence-by-sentence audio playback with
// word-boundary highlight events. The orchestrator owns the session state
// machine; transport (the websocket handler) only forwards events.
package playback

import (
	"context"
	"sync"
	"time"

	"readecho/core/pregen"
	"readecho/core/textsegment"
	"readecho/logger"
	"readecho/model"
)

// State is the session lifecycle.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateEnded   State = "ended"
	StateError   State = "error"
)

// Event types emitted to the client.
const (
	EventState    = "state"
	EventSentence = "sentence"
	EventWord     = "word"
)

// Event is one playback notification. Sentence events carry the audio URL
// and full timing list so the client can start buffering; word events fire
// on highlight boundaries.
type Event struct {
	Type          string               `json:"type"`
	State         State                `json:"state,omitempty"`
	SentenceIndex int                  `json:"sentenceIndex"`
	Text          string               `json:"text,omitempty"`
	AudioURL      string               `json:"audioUrl,omitempty"`
	Duration      float64              `json:"duration,omitempty"`
	TimingMethod  string               `json:"timingMethod,omitempty"`
	Timings       model.WordTimingList `json:"timings,omitempty"`
	WordIndex     int                  `json:"wordIndex,omitempty"`
	Word          string               `json:"word,omitempty"`
	Timestamp     float64              `json:"timestamp"`
	Message       string               `json:"message,omitempty"`
}

// Options tune the highlight clock.
type Options struct {
	TickInterval time.Duration
	// LeadOffset shifts highlighting earlier than the audio clock, useful
	// when client audio pipelines add fixed latency.
	LeadOffset    time.Duration
	PrefetchAhead int
}

// Orchestrator creates playback sessions over the shared pipeline. Cache
// misses fall back to synchronous rendering, so the first listener of a
// never-generated chunk still gets audio.
type Orchestrator struct {
	pipeline *pregen.Pipeline
	opts     Options
}

// NewOrchestrator creates the orchestrator.
func NewOrchestrator(pipeline *pregen.Pipeline, opts Options) *Orchestrator {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 40 * time.Millisecond
	}
	if opts.PrefetchAhead < 0 {
		opts.PrefetchAhead = 0
	}
	return &Orchestrator{pipeline: pipeline, opts: opts}
}

// Session is one playback run over a chunk. Not safe for reuse after Stop.
type Session struct {
	orch     *Orchestrator
	bookID   string
	level    string
	chunk    int
	provider string
	voiceID  string

	mu     sync.Mutex
	state  State
	paused bool
	closed bool

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession prepares a session; Play starts it.
func (o *Orchestrator) NewSession(bookID, level string, chunkIndex int, provider, voiceID string) *Session {
	return &Session{
		orch:     o,
		bookID:   bookID,
		level:    level,
		chunk:    chunkIndex,
		provider: provider,
		voiceID:  voiceID,
		state:    StateIdle,
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
	}
}

// Events is the stream the transport forwards to the client. Closed when the
// session ends or is stopped.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Play starts the session run loop from the given sentence.
func (s *Session) Play(ctx context.Context, startSentence int) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx, startSentence)
}

// Pause freezes the highlight clock. The current word stays highlighted.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePlaying {
		s.paused = true
		s.state = StatePaused
		s.emitLocked(Event{Type: EventState, State: StatePaused})
	}
}

// Resume continues a paused session.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePaused {
		s.paused = false
		s.state = StatePlaying
		s.emitLocked(Event{Type: EventState, State: StatePlaying})
	}
}

// Stop cancels the session. In-flight synthesis is aborted through the
// context; the run loop closes the event channel on exit.
func (s *Session) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.emitLocked(Event{Type: EventState, State: state})
}

// emitLocked drops events when the consumer stalls; highlight events are
// advisory and must never block the clock.
func (s *Session) emitLocked(ev Event) {
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(ev)
}

func (s *Session) run(ctx context.Context, startSentence int) {
	defer close(s.done)
	defer func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	}()

	s.setState(StateLoading)

	units, err := s.orch.pipeline.Sentences(ctx, s.bookID, s.level, s.chunk)
	if err != nil {
		logger.Warn("playback failed to load chunk",
			logger.String("bookId", s.bookID),
			logger.Int("chunk", s.chunk),
			logger.ErrorField(err))
		s.mu.Lock()
		s.state = StateError
		s.emitLocked(Event{Type: EventState, State: StateError, Message: "chunk unavailable"})
		s.mu.Unlock()
		return
	}
	if startSentence < 0 {
		startSentence = 0
	}

	s.setState(StatePlaying)

	played := false
	for i := startSentence; i < len(units); i++ {
		if ctx.Err() != nil {
			return
		}

		asset := s.resolveSentence(ctx, i, units[i].Text)
		if asset == nil {
			// One bad sentence must not kill the chapter.
			logger.Warn("skipping unplayable sentence",
				logger.String("bookId", s.bookID),
				logger.Int("chunk", s.chunk),
				logger.Int("sentence", i))
			continue
		}
		played = true

		s.prefetch(ctx, i+1, units)

		s.emit(Event{
			Type:          EventSentence,
			SentenceIndex: i,
			Text:          asset.SentenceText,
			AudioURL:      asset.AudioURL,
			Duration:      asset.Duration,
			TimingMethod:  asset.TimingMethod,
			Timings:       asset.Timings,
		})

		if !s.playSentence(ctx, i, asset) {
			return
		}
	}

	if !played {
		// Every sentence failed to resolve; the client must see an error,
		// not a clean end.
		logger.Warn("no playable audio in chunk",
			logger.String("bookId", s.bookID),
			logger.Int("chunk", s.chunk))
		s.mu.Lock()
		s.state = StateError
		s.emitLocked(Event{Type: EventState, State: StateError, Message: "audio unavailable"})
		s.mu.Unlock()
		return
	}

	s.setState(StateEnded)
}

// resolveSentence returns the asset for a sentence, rendering on demand when
// the cache misses. A render that lands while another writer raced is fine;
// the upsert collapses them.
func (s *Session) resolveSentence(ctx context.Context, index int, text string) *model.AudioAsset {
	key := model.AssetKey{
		BookID:        s.bookID,
		ReadingLevel:  s.level,
		ChunkIndex:    s.chunk,
		SentenceIndex: index,
		Provider:      s.provider,
		VoiceID:       s.voiceID,
	}
	if asset := s.orch.pipeline.Store().Get(ctx, key); asset != nil {
		return asset
	}

	asset, err := s.orch.pipeline.RenderSentence(ctx, key, text)
	if err != nil {
		logger.Warn("on-demand render failed",
			logger.String("key", key.String()),
			logger.ErrorField(err))
		return nil
	}
	return asset
}

// prefetch warms the next sentences while the current one plays.
func (s *Session) prefetch(ctx context.Context, from int, units []textsegment.SentenceUnit) {
	for i := from; i < from+s.orch.opts.PrefetchAhead && i < len(units); i++ {
		index, text := i, units[i].Text
		go func() {
			key := model.AssetKey{
				BookID:        s.bookID,
				ReadingLevel:  s.level,
				ChunkIndex:    s.chunk,
				SentenceIndex: index,
				Provider:      s.provider,
				VoiceID:       s.voiceID,
			}
			if s.orch.pipeline.Store().Get(ctx, key) != nil {
				return
			}
			if _, err := s.orch.pipeline.RenderSentence(ctx, key, text); err != nil {
				logger.Debug("prefetch render failed",
					logger.String("key", key.String()),
					logger.ErrorField(err))
			}
		}()
	}
}

// playSentence runs the highlight clock over one sentence. Word events are
// strictly monotonic: a late tick never rewinds the highlight. Returns false
// when the session was canceled.
func (s *Session) playSentence(ctx context.Context, index int, asset *model.AudioAsset) bool {
	ticker := time.NewTicker(s.orch.opts.TickInterval)
	defer ticker.Stop()

	var elapsed time.Duration
	total := time.Duration(asset.Duration * float64(time.Second))
	lastWord := -1

	for elapsed < total {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}

		s.mu.Lock()
		paused := s.paused
		s.mu.Unlock()
		if paused {
			continue
		}
		elapsed += s.orch.opts.TickInterval

		position := (elapsed + s.orch.opts.LeadOffset).Seconds()
		for wi, wt := range asset.Timings {
			if wi > lastWord && position >= wt.Start {
				lastWord = wi
				s.emit(Event{
					Type:          EventWord,
					SentenceIndex: index,
					WordIndex:     wt.WordIndex,
					Word:          wt.Word,
					Timestamp:     wt.Start,
				})
			}
		}
	}
	return true
}
