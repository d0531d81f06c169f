package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/antoniostano/lumen/internal/brain"
	"github.com/antoniostano/lumen/internal/emotion"
	"github.com/antoniostano/lumen/internal/memory"
	"github.com/antoniostano/lumen/internal/observability"
	"github.com/antoniostano/lumen/internal/policy"
	"github.com/antoniostano/lumen/internal/prompt"
	"github.com/antoniostano/lumen/internal/reliability"
)

// ApologyText replaces the reply when the language model cannot answer.
const ApologyText = "Lo siento, estoy teniendo problemas para conectarme en este momento."

var (
	// ErrInvalidRequest marks caller errors. Nothing is persisted.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNoSpeech is returned when the audio transcribes to blank text.
	ErrNoSpeech = fmt.Errorf("%w: no speech detected", ErrInvalidRequest)
	// ErrServiceUnavailable is returned before any stage runs when a required
	// collaborator is missing.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Profiling keys, in seconds.
const (
	ProfileDecode           = "decode_duration_s"
	ProfileTranscription    = "transcription_duration_s"
	ProfileVocalAnalysis    = "vocal_analysis_duration_s"
	ProfileUserPersist      = "user_persist_duration_s"
	ProfileLLMResponse      = "llm_response_duration_s"
	ProfileMemoryExtraction = "memory_extraction_duration_s"
	ProfileAssistantPersist = "assistant_persist_duration_s"
	ProfileTTSSynthesis     = "tts_synthesis_duration_s"
	ProfileTotal            = "total_interaction_duration_s"
)

// DefaultStageTargets returns the p95 budget per profiling key used by the
// latency window.
func DefaultStageTargets() map[string]time.Duration {
	return map[string]time.Duration{
		ProfileDecode:           50 * time.Millisecond,
		ProfileTranscription:    2500 * time.Millisecond,
		ProfileVocalAnalysis:    2500 * time.Millisecond,
		ProfileUserPersist:      100 * time.Millisecond,
		ProfileLLMResponse:      4 * time.Second,
		ProfileMemoryExtraction: 4 * time.Second,
		ProfileAssistantPersist: 100 * time.Millisecond,
		ProfileTTSSynthesis:     3 * time.Second,
		ProfileTotal:            12 * time.Second,
	}
}

const previewMaxRunes = 80

// Store is the persistence surface used by the orchestrator.
type Store interface {
	CreateSession(ctx context.Context, modelID string, settings map[string]any) (int64, error)
	AppendTurn(ctx context.Context, sessionID int64, turn memory.Turn) (int64, error)
	UpsertMemoryFact(ctx context.Context, key, value string) error
	AllMemory(ctx context.Context) (map[string]string, error)
	Interactions(ctx context.Context, sessionID int64) ([]memory.Interaction, error)
	Ping(ctx context.Context) error
}

// Timeouts bound each external call of a turn. A timed-out call is handled
// like a failed one and is never retried within the turn.
type Timeouts struct {
	STT   time.Duration
	Vocal time.Duration
	LLM   time.Duration
	TTS   time.Duration
	Store time.Duration
}

type Deps struct {
	Store         Store
	Brain         brain.Client
	Providers     Providers
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
	Timeouts      Timeouts
	MaxAudioBytes int
}

// TurnInput is one user utterance plus the client-side context that came with it.
type TurnInput struct {
	SessionID   int64
	AudioBase64 string
	Facial      emotion.Facial
	History     []prompt.Message
	Memory      map[string]string
}

// TurnResult is the composed answer. Audio is nil when synthesis failed.
type TurnResult struct {
	TurnID         string
	Text           string
	Audio          []byte
	ExtractedFacts map[string]string
	History        []prompt.Message
	Vocal          []emotion.Score
	Profiling      map[string]float64
	// Degraded lists collaborators whose result was substituted: "llm", "tts".
	Degraded []string
}

// Orchestrator runs the per-turn pipeline. It holds no per-turn state and is
// safe for concurrent use.
type Orchestrator struct {
	store         Store
	brain         brain.Client
	providers     Providers
	metrics       *observability.Metrics
	log           zerolog.Logger
	timeouts      Timeouts
	maxAudioBytes int
}

func NewOrchestrator(deps Deps) *Orchestrator {
	t := deps.Timeouts
	t.STT = orDefault(t.STT, 30*time.Second)
	t.Vocal = orDefault(t.Vocal, 15*time.Second)
	t.LLM = orDefault(t.LLM, 30*time.Second)
	t.TTS = orDefault(t.TTS, 30*time.Second)
	t.Store = orDefault(t.Store, 5*time.Second)

	p := deps.Providers
	if p.TranscriberName == "" {
		p.TranscriberName = "stt"
	}
	if p.RecognizerName == "" {
		p.RecognizerName = "vocal_emotion"
	}
	if p.SynthesizerName == "" {
		p.SynthesizerName = "tts"
	}

	return &Orchestrator{
		store:         deps.Store,
		brain:         deps.Brain,
		providers:     p,
		metrics:       deps.Metrics,
		log:           deps.Logger.With().Str("component", "orchestrator").Logger(),
		timeouts:      t,
		maxAudioBytes: deps.MaxAudioBytes,
	}
}

// CreateSession allocates a new session tagged with the configured model.
func (o *Orchestrator) CreateSession(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Store)
	defer cancel()

	settings := map[string]any{
		"stt":           o.providers.TranscriberName,
		"vocal_emotion": o.providers.RecognizerName,
		"tts":           o.providers.SynthesizerName,
	}
	id, err := o.store.CreateSession(ctx, o.brain.Model(), settings)
	if err != nil {
		o.observeStorageError(err)
		return 0, err
	}
	o.metrics.ObserveSessionCreated()
	o.log.Info().Int64("session_id", id).Msg("session created")
	return id, nil
}

// Memory returns the decrypted long-term memory.
func (o *Orchestrator) Memory(ctx context.Context) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Store)
	defer cancel()
	facts, err := o.store.AllMemory(ctx)
	if err != nil {
		o.observeStorageError(err)
	}
	return facts, err
}

// Interactions returns a session's decrypted interactions in write order.
func (o *Orchestrator) Interactions(ctx context.Context, sessionID int64) ([]memory.Interaction, error) {
	if sessionID <= 0 {
		return nil, fmt.Errorf("%w: session_id must be positive", ErrInvalidRequest)
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Store)
	defer cancel()
	out, err := o.store.Interactions(ctx, sessionID)
	if err != nil {
		o.observeStorageError(err)
	}
	return out, err
}

// Ready reports whether the store answers.
func (o *Orchestrator) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Store)
	defer cancel()
	return o.store.Ping(ctx)
}

// RunTurn executes one turn: decode, analyze, persist the user turn, reply,
// extract facts, persist the assistant turn, synthesize.
func (o *Orchestrator) RunTurn(ctx context.Context, in TurnInput) (TurnResult, error) {
	start := time.Now()
	turnID := uuid.NewString()
	log := o.log.With().Str("turn_id", turnID).Int64("session_id", in.SessionID).Logger()

	res := TurnResult{
		TurnID:         turnID,
		ExtractedFacts: map[string]string{},
		Profiling:      map[string]float64{},
	}

	if o.providers.Transcriber == nil || o.providers.Recognizer == nil {
		o.metrics.ObserveTurnOutcome("unavailable")
		return TurnResult{}, fmt.Errorf("%w: speech analysis is not initialized", ErrServiceUnavailable)
	}
	if in.SessionID <= 0 {
		o.metrics.ObserveTurnOutcome("invalid_request")
		return TurnResult{}, fmt.Errorf("%w: session_id must be positive", ErrInvalidRequest)
	}
	if err := prompt.ValidateHistory(in.History); err != nil {
		o.metrics.ObserveTurnOutcome("invalid_request")
		return TurnResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// Decoded
	stageStart := time.Now()
	clip, err := decodeAudio(in.AudioBase64, o.maxAudioBytes)
	o.record(res.Profiling, ProfileDecode, stageStart)
	if err != nil {
		o.metrics.ObserveTurnOutcome("invalid_request")
		return TurnResult{}, err
	}

	// Analyzed
	text, vocal, err := o.analyze(ctx, log, clip, res.Profiling)
	if err != nil {
		o.metrics.ObserveTurnOutcome("error")
		return TurnResult{}, err
	}
	if text == "" {
		o.metrics.ObserveTurnOutcome("no_speech")
		return TurnResult{}, ErrNoSpeech
	}
	res.Vocal = vocal
	log.Debug().Str("transcript_preview", policy.Preview(text, previewMaxRunes)).Msg("transcribed")

	// UserPersisted
	stageStart = time.Now()
	o.persist(ctx, log, in.SessionID, memory.UserTurn{Text: text, Facial: in.Facial, Vocal: vocal})
	o.record(res.Profiling, ProfileUserPersist, stageStart)

	// Prompted
	history := make([]prompt.Message, 0, len(in.History)+2)
	history = append(history, in.History...)
	history = append(history, prompt.Message{Role: prompt.RoleUser, Content: text})
	msgs, err := prompt.BuildReplyMessages(history, prompt.EmotionalContext{
		FacialDominant: in.Facial.Dominant,
		Vocal:          vocal,
	}, in.Memory)
	if err != nil {
		o.metrics.ObserveTurnOutcome("invalid_request")
		return TurnResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// Replied
	stageStart = time.Now()
	reply, err := o.reply(ctx, msgs)
	o.record(res.Profiling, ProfileLLMResponse, stageStart)
	if err != nil {
		o.metrics.ObserveProviderError("llm", reliability.Classify(err))
		log.Warn().Err(err).Msg("language model failed; answering with apology")
		reply = ApologyText
		res.Degraded = append(res.Degraded, "llm")
	}
	res.Text = reply

	// MemoryExtracted
	stageStart = time.Now()
	res.ExtractedFacts = o.extractFacts(ctx, log, text, reply)
	o.upsertFacts(ctx, log, res.ExtractedFacts)
	o.record(res.Profiling, ProfileMemoryExtraction, stageStart)

	// AssistantPersisted
	stageStart = time.Now()
	o.persist(ctx, log, in.SessionID, memory.AssistantTurn{Text: reply})
	o.record(res.Profiling, ProfileAssistantPersist, stageStart)

	// Synthesized
	stageStart = time.Now()
	res.Audio, err = o.synthesize(ctx, reply)
	o.record(res.Profiling, ProfileTTSSynthesis, stageStart)
	if err != nil {
		o.metrics.ObserveProviderError(o.providers.SynthesizerName, reliability.Classify(err))
		log.Warn().Err(err).Msg("speech synthesis failed; returning text only")
		res.Audio = nil
		res.Degraded = append(res.Degraded, "tts")
	}

	// Completed
	res.History = append(history, prompt.Message{Role: prompt.RoleAssistant, Content: reply})
	o.record(res.Profiling, ProfileTotal, start)

	outcome := "ok"
	if len(res.Degraded) > 0 {
		outcome = "degraded"
	}
	o.metrics.ObserveTurnOutcome(outcome)
	o.metrics.ObserveTurnProfile(outcome, res.Profiling)

	ev := log.Info().Str("outcome", outcome).Int("facts", len(res.ExtractedFacts)).Bool("audio", res.Audio != nil)
	for _, k := range sortedKeys(res.Profiling) {
		ev = ev.Float64(k, res.Profiling[k])
	}
	ev.Msg("turn completed")

	return res, nil
}

func (o *Orchestrator) analyze(ctx context.Context, log zerolog.Logger, clip []byte, profiling map[string]float64) (string, []emotion.Score, error) {
	var (
		wg               sync.WaitGroup
		text             string
		sttErr           error
		vocal            []emotion.Score
		vocalErr         error
		sttDur, vocalDur time.Duration
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		began := time.Now()
		cctx, cancel := context.WithTimeout(ctx, o.timeouts.STT)
		defer cancel()
		text, sttErr = o.providers.Transcriber.Transcribe(cctx, clip)
		sttDur = time.Since(began)
	}()
	go func() {
		defer wg.Done()
		began := time.Now()
		cctx, cancel := context.WithTimeout(ctx, o.timeouts.Vocal)
		defer cancel()
		vocal, vocalErr = o.providers.Recognizer.Recognize(cctx, clip)
		vocalDur = time.Since(began)
	}()
	wg.Wait()

	o.recordDuration(profiling, ProfileTranscription, sttDur)
	o.recordDuration(profiling, ProfileVocalAnalysis, vocalDur)

	if vocalErr != nil {
		o.metrics.ObserveProviderError(o.providers.RecognizerName, reliability.Classify(vocalErr))
		log.Warn().Err(vocalErr).Msg("vocal emotion analysis failed; continuing without it")
		vocal = nil
	}
	if sttErr != nil {
		o.metrics.ObserveProviderError(o.providers.TranscriberName, reliability.Classify(sttErr))
		return "", nil, fmt.Errorf("transcription: %w", sttErr)
	}
	return strings.TrimSpace(text), vocal, nil
}

func (o *Orchestrator) reply(ctx context.Context, msgs []prompt.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.LLM)
	defer cancel()
	raw, err := o.brain.Complete(ctx, msgs, brain.Options{})
	if err != nil {
		return "", err
	}
	text := brain.CleanReply(raw)
	if text == "" {
		return "", brain.ErrEmptyResponse
	}
	return text, nil
}

func (o *Orchestrator) extractFacts(ctx context.Context, log zerolog.Logger, userText, reply string) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.LLM)
	defer cancel()
	raw, err := o.brain.Complete(ctx, []prompt.Message{
		{Role: prompt.RoleUser, Content: prompt.BuildExtractionPrompt(userText, reply)},
	}, brain.Options{JSON: true})
	if err != nil {
		o.metrics.ObserveProviderError("llm_extraction", reliability.Classify(err))
		log.Warn().Err(err).Msg("memory extraction failed")
		return map[string]string{}
	}
	return prompt.ParseFacts(raw)
}

func (o *Orchestrator) upsertFacts(ctx context.Context, log zerolog.Logger, facts map[string]string) {
	// Writes outlive a client disconnect so the transcript stays complete.
	ctx = context.WithoutCancel(ctx)
	for _, key := range sortedKeys(facts) {
		sctx, cancel := context.WithTimeout(ctx, o.timeouts.Store)
		err := o.store.UpsertMemoryFact(sctx, key, facts[key])
		cancel()
		if err != nil {
			o.observeStorageError(err)
			log.Error().Err(err).Str("fact_key", key).Msg("memory upsert failed")
			continue
		}
		o.metrics.ObserveMemoryUpsert()
	}
}

func (o *Orchestrator) persist(ctx context.Context, log zerolog.Logger, sessionID int64, turn memory.Turn) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeouts.Store)
	defer cancel()
	if _, err := o.store.AppendTurn(ctx, sessionID, turn); err != nil {
		o.observeStorageError(err)
		log.Error().Err(err).Str("role", string(turn.Role())).Msg("interaction write failed; continuing turn")
	}
}

func (o *Orchestrator) synthesize(ctx context.Context, text string) ([]byte, error) {
	if o.providers.Synthesizer == nil {
		return nil, errors.New("no synthesizer configured")
	}
	if spoken := speakableText(text); spoken != "" {
		text = spoken
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.TTS)
	defer cancel()
	out, err := o.providers.Synthesizer.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("synthesizer returned no audio")
	}
	return out, nil
}

func (o *Orchestrator) observeStorageError(err error) {
	var se *memory.StorageError
	if errors.As(err, &se) {
		o.metrics.ObserveStorageError(se.Op)
		return
	}
	o.metrics.ObserveStorageError("other")
}

func (o *Orchestrator) record(profiling map[string]float64, key string, since time.Time) {
	o.recordDuration(profiling, key, time.Since(since))
}

func (o *Orchestrator) recordDuration(profiling map[string]float64, key string, d time.Duration) {
	profiling[key] = math.Round(d.Seconds()*1e4) / 1e4
	o.metrics.ObserveTurnStage(strings.TrimSuffix(key, "_duration_s"), d)
}

// decodeAudio accepts standard base64, optionally as a data URL.
func decodeAudio(encoded string, maxBytes int) ([]byte, error) {
	s := strings.TrimSpace(encoded)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	if s == "" {
		return nil, fmt.Errorf("%w: audio_b64 is empty", ErrInvalidRequest)
	}
	clip, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: audio_b64 is not valid base64: %v", ErrInvalidRequest, err)
	}
	if len(clip) == 0 {
		return nil, fmt.Errorf("%w: audio is empty", ErrInvalidRequest)
	}
	if maxBytes > 0 && len(clip) > maxBytes {
		return nil, fmt.Errorf("%w: audio exceeds %d bytes", ErrInvalidRequest, maxBytes)
	}
	return clip, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
