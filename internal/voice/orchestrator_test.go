package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/lumen/internal/brain"
	"github.com/antoniostano/lumen/internal/cipher"
	"github.com/antoniostano/lumen/internal/emotion"
	"github.com/antoniostano/lumen/internal/memory"
	"github.com/antoniostano/lumen/internal/observability"
	"github.com/antoniostano/lumen/internal/prompt"
)

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, _ []byte) (string, error) {
	return f.text, f.err
}

type fakeRecognizer struct {
	scores []emotion.Score
	err    error
}

func (f *fakeRecognizer) Recognize(ctx context.Context, _ []byte) ([]emotion.Score, error) {
	return f.scores, f.err
}

type fakeSynthesizer struct {
	mu    sync.Mutex
	audio []byte
	err   error
	text  string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
	return f.audio, f.err
}

// fakeBrain answers reply calls with reply and JSON calls with facts.
type fakeBrain struct {
	mu       sync.Mutex
	reply    string
	replyErr error
	facts    string
	factsErr error
	block    bool
	calls    [][]prompt.Message
}

func (b *fakeBrain) Model() string { return "fake-llm" }

func (b *fakeBrain) Complete(ctx context.Context, msgs []prompt.Message, opts brain.Options) (string, error) {
	b.mu.Lock()
	b.calls = append(b.calls, msgs)
	b.mu.Unlock()
	if b.block && !opts.JSON {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if opts.JSON {
		return b.facts, b.factsErr
	}
	return b.reply, b.replyErr
}

type harness struct {
	orch    *Orchestrator
	store   *memory.Store
	backend *memory.InMemoryBackend
	brain   *fakeBrain
	stt     *fakeTranscriber
	vocal   *fakeRecognizer
	tts     *fakeSynthesizer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key, err := cipher.GenerateKey()
	require.NoError(t, err)
	c, err := cipher.New(key)
	require.NoError(t, err)

	h := &harness{
		backend: memory.NewInMemoryBackend(),
		brain:   &fakeBrain{reply: "Suena a un día pesado. ¿Qué te hizo sentir así?", facts: "{}"},
		stt:     &fakeTranscriber{text: "me siento triste hoy"},
		vocal:   &fakeRecognizer{scores: []emotion.Score{{Label: "sad", Score: 0.8}, {Label: "neutral", Score: 0.2}}},
		tts:     &fakeSynthesizer{audio: []byte("mp3-bytes")},
	}
	h.store = memory.NewStore(h.backend, c, zerolog.Nop())
	h.orch = NewOrchestrator(Deps{
		Store: h.store,
		Brain: h.brain,
		Providers: Providers{
			Transcriber: h.stt,
			Recognizer:  h.vocal,
			Synthesizer: h.tts,
		},
		Metrics: observability.NewMetrics("lumen_test"),
		Logger:  zerolog.Nop(),
	})
	return h
}

func (h *harness) session(t *testing.T) int64 {
	t.Helper()
	id, err := h.orch.CreateSession(context.Background())
	require.NoError(t, err)
	return id
}

func (h *harness) rows(t *testing.T, sessionID int64) []memory.Interaction {
	t.Helper()
	rows, err := h.store.Interactions(context.Background(), sessionID)
	require.NoError(t, err)
	return rows
}

func audioB64() string {
	return base64.StdEncoding.EncodeToString([]byte("RIFF....WAVEfake"))
}

func TestRunTurnEndToEnd(t *testing.T) {
	h := newHarness(t)
	id := h.session(t)
	require.Equal(t, int64(1), id)

	res, err := h.orch.RunTurn(context.Background(), TurnInput{
		SessionID:   id,
		AudioBase64: audioB64(),
		Facial:      emotion.Facial{Dominant: "sad"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.TurnID)
	assert.Equal(t, h.brain.reply, res.Text)
	assert.LessOrEqual(t, strings.Count(res.Text, "?"), 1)
	assert.Equal(t, []byte("mp3-bytes"), res.Audio)
	assert.Equal(t, h.vocal.scores, res.Vocal)
	assert.Empty(t, res.Degraded)

	require.Len(t, res.History, 2)
	assert.Equal(t, prompt.Message{Role: prompt.RoleUser, Content: "me siento triste hoy"}, res.History[0])
	assert.Equal(t, prompt.Message{Role: prompt.RoleAssistant, Content: h.brain.reply}, res.History[1])

	rows := h.rows(t, id)
	require.Len(t, rows, 2)
	assert.Equal(t, memory.RoleUser, rows[0].Role)
	assert.Equal(t, "me siento triste hoy", rows[0].Text)
	assert.Equal(t, "sad", rows[0].FacialDominant)
	assert.Equal(t, h.vocal.scores, rows[0].Vocal)
	assert.Equal(t, memory.RoleAssistant, rows[1].Role)
	assert.Equal(t, h.brain.reply, rows[1].Text)

	raw, err := h.backend.ListInteractions(context.Background(), id)
	require.NoError(t, err)
	for _, r := range raw {
		assert.NotContains(t, r.TextCipher, "triste")
	}

	for _, key := range []string{
		ProfileDecode, ProfileTranscription, ProfileVocalAnalysis, ProfileUserPersist,
		ProfileLLMResponse, ProfileMemoryExtraction, ProfileAssistantPersist,
		ProfileTTSSynthesis, ProfileTotal,
	} {
		assert.Contains(t, res.Profiling, key)
	}
	assert.Equal(t, h.brain.reply, h.tts.text)
}

func TestRunTurnPromptCarriesContext(t *testing.T) {
	h := newHarness(t)
	id := h.session(t)

	_, err := h.orch.RunTurn(context.Background(), TurnInput{
		SessionID:   id,
		AudioBase64: audioB64(),
		Facial:      emotion.Facial{Dominant: "angry"},
		History:     []prompt.Message{{Role: prompt.RoleUser, Content: "hola"}, {Role: prompt.RoleAssistant, Content: "hola"}},
		Memory:      map[string]string{"nombre": "Ana"},
	})
	require.NoError(t, err)

	require.Len(t, h.brain.calls, 2)
	reply := h.brain.calls[0]
	require.Len(t, reply, 4)
	assert.Contains(t, reply[0].Content, "- Nombre: Ana")
	assert.Contains(t, reply[0].Content, "Expresión facial predominante: angry")
	assert.Contains(t, reply[0].Content, "Tono de voz principal: sad")
	assert.Equal(t, "me siento triste hoy", reply[3].Content)

	extraction := h.brain.calls[1]
	require.Len(t, extraction, 1)
	assert.Contains(t, extraction[0].Content, `Usuario: "me siento triste hoy"`)
}

func TestRunTurnModelFailureUsesApology(t *testing.T) {
	h := newHarness(t)
	h.brain.replyErr = errors.New("upstream 500")
	id := h.session(t)

	res, err := h.orch.RunTurn(context.Background(), TurnInput{SessionID: id, AudioBase64: audioB64()})
	require.NoError(t, err)
	assert.Equal(t, ApologyText, res.Text)
	assert.Contains(t, res.Degraded, "llm")
	assert.Equal(t, ApologyText, h.tts.text)

	rows := h.rows(t, id)
	require.Len(t, rows, 2)
	assert.Equal(t, "me siento triste hoy", rows[0].Text)
	assert.Equal(t, ApologyText, rows[1].Text)
}

func TestRunTurnBlankReplyUsesApology(t *testing.T) {
	h := newHarness(t)
	h.brain.reply = `  ""  `
	id := h.session(t)

	res, err := h.orch.RunTurn(context.Background(), TurnInput{SessionID: id, AudioBase64: audioB64()})
	require.NoError(t, err)
	assert.Equal(t, ApologyText, res.Text)
}

func TestRunTurnModelTimeoutUsesApology(t *testing.T) {
	h := newHarness(t)
	h.brain.block = true
	h.orch.timeouts.LLM = 20 * time.Millisecond
	id := h.session(t)

	res, err := h.orch.RunTurn(context.Background(), TurnInput{SessionID: id, AudioBase64: audioB64()})
	require.NoError(t, err)
	assert.Equal(t, ApologyText, res.Text)
	// One reply attempt plus one extraction call: no retry.
	assert.Len(t, h.brain.calls, 2)
}

func TestRunTurnClientDisconnectStillPersistsBothTurns(t *testing.T) {
	key, err := cipher.GenerateKey()
	require.NoError(t, err)
	c, err := cipher.New(key)
	require.NoError(t, err)
	backend, err := memory.NewSQLiteBackend(context.Background(), t.TempDir()+"/lumen.db")
	require.NoError(t, err)
	store := memory.NewStore(backend, c, zerolog.Nop())
	t.Cleanup(func() { _ = store.Close() })

	b := &fakeBrain{block: true, facts: `{"nombre": "Ana"}`}
	orch := NewOrchestrator(Deps{
		Store: store,
		Brain: b,
		Providers: Providers{
			Transcriber: &fakeTranscriber{text: "me llamo Ana"},
			Recognizer:  &fakeRecognizer{},
			Synthesizer: &fakeSynthesizer{audio: []byte("mp3-bytes")},
		},
		Logger: zerolog.Nop(),
	})
	id, err := orch.CreateSession(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	res, err := orch.RunTurn(ctx, TurnInput{SessionID: id, AudioBase64: audioB64()})
	require.NoError(t, err)
	assert.Equal(t, ApologyText, res.Text)

	rows, err := store.Interactions(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, memory.RoleUser, rows[0].Role)
	assert.Equal(t, memory.RoleAssistant, rows[1].Role)
	assert.Equal(t, ApologyText, rows[1].Text)

	facts, err := store.AllMemory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ana", facts["nombre"])
}

func TestRunTurnFeedsLatencyWindow(t *testing.T) {
	h := newHarness(t)
	id := h.session(t)

	_, err := h.orch.RunTurn(context.Background(), TurnInput{SessionID: id, AudioBase64: audioB64()})
	require.NoError(t, err)

	snap := h.orch.metrics.LatencySnapshot()
	assert.Equal(t, 1, snap.Turns)
	assert.Equal(t, 1, snap.Outcomes["ok"])
	stages := map[string]int{}
	for _, st := range snap.Stages {
		stages[st.Stage] = st.Samples
	}
	assert.Equal(t, 1, stages[ProfileTotal])
	assert.Equal(t, 1, stages[ProfileLLMResponse])
}

func TestRunTurnSynthesisFailureReturnsNilAudio(t *testing.T) {
	h := newHarness(t)
	h.tts.err = errors.New("tts down")
	id := h.session(t)

	res, err := h.orch.RunTurn(context.Background(), TurnInput{SessionID: id, AudioBase64: audioB64()})
	require.NoError(t, err)
	assert.Nil(t, res.Audio)
	assert.Equal(t, h.brain.reply, res.Text)
	assert.Contains(t, res.Degraded, "tts")
	assert.Len(t, h.rows(t, id), 2)
}

func TestRunTurnBlankTranscriptionWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.stt.text = "   \n"
	id := h.session(t)

	_, err := h.orch.RunTurn(context.Background(), TurnInput{SessionID: id, AudioBase64: audioB64()})
	require.ErrorIs(t, err, ErrNoSpeech)
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, h.rows(t, id))
	assert.Empty(t, h.brain.calls)
}

func TestRunTurnUndecodableAudio(t *testing.T) {
	h := newHarness(t)
	id := h.session(t)

	for _, in := range []string{"%%%not-base64%%%", "", "data:audio/webm;base64,"} {
		_, err := h.orch.RunTurn(context.Background(), TurnInput{SessionID: id, AudioBase64: in})
		require.ErrorIs(t, err, ErrInvalidRequest, "input %q", in)
	}
	assert.Empty(t, h.rows(t, id))
}

func TestRunTurnAcceptsDataURL(t *testing.T) {
	h := newHarness(t)
	id := h.session(t)

	_, err := h.orch.RunTurn(context.Background(), TurnInput{
		SessionID:   id,
		AudioBase64: "data:audio/webm;codecs=opus;base64," + audioB64(),
	})
	require.NoError(t, err)
}

func TestRunTurnOversizedAudio(t *testing.T) {
	h := newHarness(t)
	h.orch.maxAudioBytes = 4
	id := h.session(t)

	_, err := h.orch.RunTurn(context.Background(), TurnInput{SessionID: id, AudioBase64: audioB64()})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRunTurnMissingRecognizerIsUnavailable(t *testing.T) {
	h := newHarness(t)
	h.orch.providers.Recognizer = nil
	id := h.session(t)

	_, err := h.orch.RunTurn(context.Background(), TurnInput{SessionID: id, AudioBase64: "%%%"})
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Empty(t, h.rows(t, id))
}

func TestRunTurnRejectsBadHistoryAndSession(t *testing.T) {
	h := newHarness(t)
	id := h.session(t)

	_, err := h.orch.RunTurn(context.Background(), TurnInput{
		SessionID:   id,
		AudioBase64: audioB64(),
		History:     []prompt.Message{{Role: "narrator", Content: "x"}},
	})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.orch.RunTurn(context.Background(), TurnInput{SessionID: 0, AudioBase64: audioB64()})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, h.rows(t, id))
}

func TestRunTurnTranscriptionFailureIsServerError(t *testing.T) {
	h := newHarness(t)
	h.stt.err = errors.New("deepgram unreachable")
	id := h.session(t)

	_, err := h.orch.RunTurn(context.Background(), TurnInput{SessionID: id, AudioBase64: audioB64()})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidRequest)
	assert.NotErrorIs(t, err, ErrServiceUnavailable)
	assert.Empty(t, h.rows(t, id))
}

func TestRunTurnVocalFailureContinues(t *testing.T) {
	h := newHarness(t)
	h.vocal.err = errors.New("classifier down")
	id := h.session(t)

	res, err := h.orch.RunTurn(context.Background(), TurnInput{SessionID: id, AudioBase64: audioB64()})
	require.NoError(t, err)
	assert.Nil(t, res.Vocal)
	assert.Contains(t, h.brain.calls[0][0].Content, "Tono de voz principal: No detectado")
}

func TestRunTurnUpsertsExtractedFacts(t *testing.T) {
	h := newHarness(t)
	h.brain.facts = "```json\n{\"nombre\": \"Ana\", \"edad\": 31, \"color\": \"azul\"}\n```"
	id := h.session(t)

	res, err := h.orch.RunTurn(context.Background(), TurnInput{SessionID: id, AudioBase64: audioB64()})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"nombre": "Ana", "edad": "31"}, res.ExtractedFacts)

	facts, err := h.orch.Memory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"nombre": "Ana", "edad": "31"}, facts)
}

func TestRunTurnMalformedExtractionYieldsNoFacts(t *testing.T) {
	h := newHarness(t)
	h.brain.facts = "Claro, el usuario se llama Ana."
	id := h.session(t)

	res, err := h.orch.RunTurn(context.Background(), TurnInput{SessionID: id, AudioBase64: audioB64()})
	require.NoError(t, err)
	assert.Empty(t, res.ExtractedFacts)

	facts, err := h.orch.Memory(context.Background())
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestRunTurnStorageFailureMidTurnContinues(t *testing.T) {
	h := newHarness(t)

	// Session 42 does not exist, so both interaction writes fail.
	res, err := h.orch.RunTurn(context.Background(), TurnInput{SessionID: 42, AudioBase64: audioB64()})
	require.NoError(t, err)
	assert.Equal(t, h.brain.reply, res.Text)
	assert.Len(t, res.History, 2)
}

func TestRunTurnConcurrentSessions(t *testing.T) {
	h := newHarness(t)
	const n = 8
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = h.session(t)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := h.orch.RunTurn(context.Background(), TurnInput{SessionID: id, AudioBase64: audioB64()})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	for _, id := range ids {
		assert.Len(t, h.rows(t, id), 2)
	}
}

func TestCreateSessionAssignsSequentialIDs(t *testing.T) {
	h := newHarness(t)
	a := h.session(t)
	b := h.session(t)
	assert.Equal(t, a+1, b)
}

func TestInteractionsRejectsBadSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Interactions(context.Background(), 0)
	require.ErrorIs(t, err, ErrInvalidRequest)
}
