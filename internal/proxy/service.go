package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"speechkit-bot/internal/account"
	"speechkit-bot/internal/gpt"
	"speechkit-bot/internal/quota"
	"speechkit-bot/internal/speechkit"
)

// Synthesizer converts text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, token, text string, voice speechkit.Voice) ([]byte, error)
}

// Recognizer transcribes audio.
type Recognizer interface {
	Recognize(ctx context.Context, token string, audio []byte) (string, error)
}

// Completer answers chat requests and counts their tokens.
type Completer interface {
	Complete(ctx context.Context, token, modelURI string, messages []gpt.Message) (string, error)
	CountCompletion(ctx context.Context, token, modelURI string, messages []gpt.Message) (int, error)
	CountText(ctx context.Context, token, modelURI, text string) (int, error)
	MaxTokens() int
}

// TokenSource hands out the upstream bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ModelResolver maps a model alias to a model URI.
type ModelResolver interface {
	ModelURI(alias string) string
}

// Limits bounds the input of the metered operations.
type Limits struct {
	MaxTextLength   int
	MaxAudioSeconds int
	STTBlockSeconds int
}

// Deps are the collaborators of a Service.
type Deps struct {
	Accounts *account.Manager
	Meter    *quota.Meter
	Tokens   TokenSource
	TTS      Synthesizer
	STT      Recognizer
	LLM      Completer
	Models   ModelResolver
	Counter  *quota.TokenCounter
}

// Service runs the three metered operations. Each one holds the user's lock
// from the quota check until the spend is persisted, and spends only after
// the upstream call succeeded.
type Service struct {
	Deps
	limits       Limits
	systemPrompt string
	log          *slog.Logger
}

func NewService(deps Deps, limits Limits, systemPrompt string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		Deps:         deps,
		limits:       limits,
		systemPrompt: systemPrompt,
		log:          log.With("component", "proxy"),
	}
}

// SynthesisResult is the outcome of a successful synthesis.
type SynthesisResult struct {
	Audio     []byte
	Spent     int64
	Remaining int64
}

// RecognitionResult is the outcome of a successful recognition.
type RecognitionResult struct {
	Text      string
	Spent     int64
	Remaining int64
}

// ChatResult is the outcome of a successful chat completion.
type ChatResult struct {
	Answer    string
	Spent     int64
	Remaining int64
}

// admit registers the user on first contact and rejects banned accounts.
func (s *Service) admit(ctx context.Context, userID int64) (*account.Account, error) {
	a, _, err := s.Accounts.RegisterIfAbsent(ctx, userID)
	if err != nil {
		return nil, err
	}
	if a.Banned {
		return nil, fmt.Errorf("%w: user %d", account.ErrBanned, userID)
	}
	return a, nil
}

// Synthesize voices text with the user's voice settings. The cost is the
// number of characters.
func (s *Service) Synthesize(ctx context.Context, userID int64, text string) (res *SynthesisResult, err error) {
	start := time.Now()
	var units int64
	defer func() { s.logRequest(ctx, userID, account.KindTTS, units, start, err) }()

	unlock := s.Accounts.Lock(userID)
	defer unlock()

	a, err := s.admit(ctx, userID)
	if err != nil {
		return nil, err
	}

	n := utf8.RuneCountInString(text)
	units = int64(n)
	switch {
	case strings.TrimSpace(text) == "":
		return nil, ErrTextTooShort
	case n > s.limits.MaxTextLength:
		return nil, fmt.Errorf("%w: %d > %d", ErrTextTooLong, n, s.limits.MaxTextLength)
	}
	if err := s.Meter.Check(ctx, a, account.KindTTS, units); err != nil {
		return nil, err
	}

	token, err := s.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	audio, err := s.TTS.Synthesize(ctx, token, text, speechkit.Voice{Name: a.Voice, Emotion: a.Emotion, Speed: a.Speed})
	if err != nil {
		return nil, err
	}

	remaining, err := s.Accounts.Spend(ctx, userID, account.KindTTS, units)
	if err != nil {
		return nil, err
	}
	return &SynthesisResult{Audio: audio, Spent: units, Remaining: remaining}, nil
}

// Recognize transcribes a voice message of the given duration. The cost is
// the number of started blocks.
func (s *Service) Recognize(ctx context.Context, userID int64, audio []byte, seconds int) (res *RecognitionResult, err error) {
	start := time.Now()
	blocks := quota.STTBlocks(seconds, s.limits.STTBlockSeconds)
	defer func() { s.logRequest(ctx, userID, account.KindSTT, blocks, start, err) }()

	unlock := s.Accounts.Lock(userID)
	defer unlock()

	a, err := s.admit(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch {
	case seconds <= 0 || len(audio) == 0:
		return nil, ErrAudioTooShort
	case seconds > s.limits.MaxAudioSeconds:
		return nil, fmt.Errorf("%w: %ds > %ds", ErrAudioTooLong, seconds, s.limits.MaxAudioSeconds)
	}
	if err := s.Meter.Check(ctx, a, account.KindSTT, blocks); err != nil {
		return nil, err
	}

	token, err := s.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	text, err := s.STT.Recognize(ctx, token, audio)
	if err != nil {
		return nil, err
	}

	remaining, err := s.Accounts.Spend(ctx, userID, account.KindSTT, blocks)
	if err != nil {
		return nil, err
	}
	return &RecognitionResult{Text: text, Spent: blocks, Remaining: remaining}, nil
}

// Chat answers text in the context of the retained history. The pre-check
// reserves the prompt tokens plus the answer limit; the spend is the prompt
// plus the actual answer.
func (s *Service) Chat(ctx context.Context, userID int64, text, model string) (res *ChatResult, err error) {
	start := time.Now()
	var units int64
	defer func() { s.logRequest(ctx, userID, account.KindGPT, units, start, err) }()

	unlock := s.Accounts.Lock(userID)
	defer unlock()

	a, err := s.admit(ctx, userID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrTextTooShort
	}

	messages := s.messages(a.ChatHistory, text)
	modelURI := s.Models.ModelURI(model)

	token, err := s.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	promptTokens, err := s.LLM.CountCompletion(ctx, token, modelURI, messages)
	if err != nil {
		return nil, err
	}
	reserve := int64(promptTokens + s.LLM.MaxTokens())
	units = reserve
	if err := s.Meter.Check(ctx, a, account.KindGPT, reserve); err != nil {
		return nil, err
	}

	answer, err := s.LLM.Complete(ctx, token, modelURI, messages)
	if err != nil {
		return nil, err
	}

	spend := reserve
	if answerTokens, err := s.LLM.CountText(ctx, token, modelURI, answer); err != nil {
		s.log.WarnContext(ctx, "answer token count failed, charging the reservation", "user_id", userID, "error", err)
	} else if n := int64(promptTokens + answerTokens); n < reserve {
		spend = n
	}
	units = spend

	remaining, err := s.Accounts.Spend(ctx, userID, account.KindGPT, spend)
	if err != nil {
		return nil, err
	}
	if s.Counter != nil {
		if _, err := s.Counter.Add(spend); err != nil {
			s.log.ErrorContext(ctx, "token counter update failed", "error", err)
		}
	}

	// the spend is already committed
	if _, err := s.Accounts.AppendHistory(ctx, userID,
		account.Turn{Role: account.RoleUser, Text: text},
		account.Turn{Role: account.RoleAssistant, Text: answer},
	); err != nil {
		s.log.ErrorContext(ctx, "chat history update failed", "user_id", userID, "error", err)
	}
	return &ChatResult{Answer: answer, Spent: spend, Remaining: remaining}, nil
}

func (s *Service) messages(history account.History, text string) []gpt.Message {
	messages := make([]gpt.Message, 0, len(history)+2)
	if s.systemPrompt != "" {
		messages = append(messages, gpt.Message{Role: gpt.RoleSystem, Text: s.systemPrompt})
	}
	for _, turn := range history {
		messages = append(messages, gpt.Message{Role: string(turn.Role), Text: turn.Text})
	}
	return append(messages, gpt.Message{Role: gpt.RoleUser, Text: text})
}

// ClearHistory forgets the user's chat history.
func (s *Service) ClearHistory(ctx context.Context, userID int64) error {
	if _, err := s.admit(ctx, userID); err != nil {
		return err
	}
	return s.Accounts.ClearHistory(ctx, userID)
}

// Voices lists the voice catalog.
func (s *Service) Voices() map[string][]string {
	catalog := s.Accounts.Catalog()
	voices := make(map[string][]string)
	for _, v := range catalog.Voices() {
		voices[v] = catalog.Emotions(v)
	}
	return voices
}

// SetVoice changes the user's synthesis voice.
func (s *Service) SetVoice(ctx context.Context, userID int64, voice string) (*account.Account, error) {
	if _, err := s.admit(ctx, userID); err != nil {
		return nil, err
	}
	return s.Accounts.SetVoice(ctx, userID, voice)
}

// SetEmotion changes the user's synthesis emotion.
func (s *Service) SetEmotion(ctx context.Context, userID int64, emotion string) (*account.Account, error) {
	if _, err := s.admit(ctx, userID); err != nil {
		return nil, err
	}
	return s.Accounts.SetEmotion(ctx, userID, emotion)
}

// SetSpeed changes the user's synthesis speed.
func (s *Service) SetSpeed(ctx context.Context, userID int64, raw string) (float64, error) {
	if _, err := s.admit(ctx, userID); err != nil {
		return 0, err
	}
	return s.Accounts.SetSpeed(ctx, userID, raw)
}

func (s *Service) logRequest(ctx context.Context, userID int64, kind account.Kind, units int64, start time.Time, err error) {
	status := http.StatusOK
	if err != nil {
		status = StatusCode(err)
		if errors.Is(err, context.Canceled) {
			status = 499
		}
	}

	// the row is written even when the caller went away
	logErr := s.Accounts.GetStorage().LogRequest(context.WithoutCancel(ctx), account.RequestLog{
		UserID:     userID,
		Kind:       kind,
		Units:      units,
		Latency:    time.Since(start),
		StatusCode: status,
		RequestID:  RequestIDFrom(ctx),
	})
	if logErr != nil {
		s.log.WarnContext(ctx, "request log failed", "error", logErr)
	}
}
