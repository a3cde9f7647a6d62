package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"speechkit-bot/internal/metrics"
)

// Options configures a Manager
type Options struct {
	Ceilings        Ceilings
	Defaults        Preferences
	MaxUsers        int
	MinSpeed        float64
	MaxSpeed        float64
	MaxHistoryTurns int
}

// Manager handles account operations
type Manager struct {
	storage *Storage
	catalog *Catalog
	opts    Options
	locks   *Locks
	log     *slog.Logger

	// regMu makes count -> insert of the registration gate atomic
	regMu sync.Mutex
}

// NewManager creates a new account manager
func NewManager(storage *Storage, catalog *Catalog, opts Options, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		storage: storage,
		catalog: catalog,
		opts:    opts,
		locks:   NewLocks(),
		log:     log.With("component", "account"),
	}
}

// RegisterIfAbsent resolves the caller's account, creating it on first
// contact. While fewer than MaxUsers accounts exist the new account is
// admitted unrestricted, otherwise it is created banned. The count is taken
// before the insert, so MaxUsers is the exact number of unrestricted users.
func (m *Manager) RegisterIfAbsent(ctx context.Context, userID int64) (*Account, bool, error) {
	if a, err := m.storage.Get(ctx, userID); err == nil {
		return a, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	m.regMu.Lock()
	defer m.regMu.Unlock()

	count, err := m.storage.Count(ctx)
	if err != nil {
		return nil, false, err
	}
	banned := count >= m.opts.MaxUsers

	created, err := m.storage.Create(ctx, Account{
		UserID:       userID,
		TTSRemaining: m.opts.Ceilings.TTS,
		STTRemaining: m.opts.Ceilings.STT,
		GPTRemaining: m.opts.Ceilings.GPT,
		ChatHistory:  History{},
		Banned:       banned,
		Voice:        m.opts.Defaults.Voice,
		Emotion:      m.opts.Defaults.Emotion,
		Speed:        m.opts.Defaults.Speed,
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		m.log.InfoContext(ctx, "user registered", "user_id", userID, "banned", banned, "registered", count+1)
		metrics.Registrations.WithLabelValues(strconv.FormatBool(banned)).Inc()
	}

	a, err := m.storage.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return a, created, nil
}

// Get returns an account by chat user id
func (m *Manager) Get(ctx context.Context, userID int64) (*Account, error) {
	return m.storage.Get(ctx, userID)
}

// List returns all accounts
func (m *Manager) List(ctx context.Context) ([]Account, error) {
	return m.storage.List(ctx)
}

// UserIDs returns all registered user ids
func (m *Manager) UserIDs(ctx context.Context) ([]int64, error) {
	return m.storage.UserIDs(ctx)
}

// SetField updates a single column of an account
func (m *Manager) SetField(ctx context.Context, userID int64, field Field, value any) error {
	return m.storage.SetField(ctx, userID, field, value)
}

// Delete deletes an account
func (m *Manager) Delete(ctx context.Context, userID int64) error {
	if err := m.storage.Delete(ctx, userID); err != nil {
		return err
	}
	m.log.InfoContext(ctx, "user deleted", "user_id", userID)
	return nil
}

// SetBanned updates the ban flag
func (m *Manager) SetBanned(ctx context.Context, userID int64, banned bool) error {
	return m.storage.SetField(ctx, userID, FieldBanned, banned)
}

// Spend decrements a quota pool by the consumed amount
func (m *Manager) Spend(ctx context.Context, userID int64, kind Kind, amount int64) (int64, error) {
	remaining, err := m.storage.Spend(ctx, userID, kind, amount)
	if err != nil {
		return remaining, err
	}
	metrics.UnitsSpent.WithLabelValues(string(kind)).Add(float64(amount))
	return remaining, nil
}

// Catalog returns the voice catalog
func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

// SetVoice switches the synthesis voice. An emotion the new voice does not
// support is replaced by the first emotion of that voice.
func (m *Manager) SetVoice(ctx context.Context, userID int64, voice string) (*Account, error) {
	if !m.catalog.HasVoice(voice) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVoice, voice)
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	a, err := m.storage.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := m.storage.SetField(ctx, userID, FieldVoice, voice); err != nil {
		return nil, err
	}
	a.Voice = voice

	if !m.catalog.HasEmotion(voice, a.Emotion) {
		emotion := ""
		if emotions := m.catalog.Emotions(voice); len(emotions) > 0 {
			emotion = emotions[0]
		}
		if err := m.storage.SetField(ctx, userID, FieldEmotion, emotion); err != nil {
			return nil, err
		}
		a.Emotion = emotion
	}
	return a, nil
}

// SetEmotion switches the emotion; it must be valid for the current voice.
func (m *Manager) SetEmotion(ctx context.Context, userID int64, emotion string) (*Account, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	a, err := m.storage.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !m.catalog.HasEmotion(a.Voice, emotion) {
		return nil, fmt.Errorf("%w: %q for voice %q", ErrUnknownEmotion, emotion, a.Voice)
	}
	if err := m.storage.SetField(ctx, userID, FieldEmotion, emotion); err != nil {
		return nil, err
	}
	a.Emotion = emotion
	return a, nil
}

// SetSpeed parses and stores the synthesis speed. Both "1.5" and "1,5" are accepted.
func (m *Manager) SetSpeed(ctx context.Context, userID int64, raw string) (float64, error) {
	speed, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(raw), ",", ".", 1), 64)
	if err != nil || !(speed >= m.opts.MinSpeed && speed <= m.opts.MaxSpeed) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSpeed, raw)
	}
	if err := m.storage.SetField(ctx, userID, FieldSpeed, speed); err != nil {
		return 0, err
	}
	return speed, nil
}

// AppendHistory adds turns to the chat history and applies the retention
// cap. Callers hold the user's lock.
func (m *Manager) AppendHistory(ctx context.Context, userID int64, turns ...Turn) (History, error) {
	a, err := m.storage.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	h := append(a.ChatHistory, turns...).Trim(m.opts.MaxHistoryTurns)
	if err := m.storage.SetField(ctx, userID, FieldChatHistory, h); err != nil {
		return nil, err
	}
	return h, nil
}

// ClearHistory resets the chat history to an empty sequence
func (m *Manager) ClearHistory(ctx context.Context, userID int64) error {
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.storage.SetField(ctx, userID, FieldChatHistory, History{})
}

// Lock acquires the per-user operation lock
func (m *Manager) Lock(userID int64) func() {
	return m.locks.Lock(userID)
}

// MaxHistoryTurns returns the retention cap of the chat history
func (m *Manager) MaxHistoryTurns() int {
	return m.opts.MaxHistoryTurns
}

// Ceilings returns the configured pool ceilings
func (m *Manager) Ceilings() Ceilings {
	return m.opts.Ceilings
}

// GetStorage returns the underlying storage
func (m *Manager) GetStorage() *Storage {
	return m.storage
}
