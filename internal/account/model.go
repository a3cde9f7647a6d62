package account

import (
	"encoding/json"
	"fmt"
)

// Kind identifies one of the three independently metered quota pools.
type Kind string

const (
	KindTTS Kind = "tts"
	KindSTT Kind = "stt"
	KindGPT Kind = "gpt"
)

// Kinds lists every quota pool in a stable order.
var Kinds = []Kind{KindTTS, KindSTT, KindGPT}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTTS, KindSTT, KindGPT:
		return Kind(s), nil
	}
	return "", fmt.Errorf("account: unknown quota kind %q", s)
}

// Account is one ledger row per chat-platform user.
type Account struct {
	ID           int64   `json:"id"`
	UserID       int64   `json:"user_id"`
	TTSRemaining int64   `json:"tts_remaining"`
	STTRemaining int64   `json:"stt_remaining"`
	GPTRemaining int64   `json:"gpt_remaining"`
	ChatHistory  History `json:"chat_history"`
	Banned       bool    `json:"banned"`
	Voice        string  `json:"voice"`
	Emotion      string  `json:"emotion"`
	Speed        float64 `json:"speed"`
	Debt         float64 `json:"debt"`
}

// Remaining returns the balance of the given pool.
func (a *Account) Remaining(kind Kind) int64 {
	switch kind {
	case KindTTS:
		return a.TTSRemaining
	case KindSTT:
		return a.STTRemaining
	case KindGPT:
		return a.GPTRemaining
	}
	return 0
}

// Role tags a chat turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single role-tagged text message of the chat history.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// History is the ordered chat history, stored as a JSON array in gpt_chat.
type History []Turn

// Encode serializes the history. A nil history encodes as "[]".
func (h History) Encode() (string, error) {
	if h == nil {
		h = History{}
	}
	data, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeHistory parses the stored blob. An empty blob is an empty history.
func DecodeHistory(blob string) (History, error) {
	h := History{}
	if blob == "" {
		return h, nil
	}
	if err := json.Unmarshal([]byte(blob), &h); err != nil {
		return nil, fmt.Errorf("account: decode chat history: %w", err)
	}
	return h, nil
}

// Trim keeps at most the last max turns. max <= 0 keeps everything.
func (h History) Trim(max int) History {
	if max <= 0 || len(h) <= max {
		return h
	}
	return append(History{}, h[len(h)-max:]...)
}

// Field names a mutable ledger column.
type Field string

const (
	FieldTTSRemaining Field = "tts_limit"
	FieldSTTRemaining Field = "stt_limit"
	FieldGPTRemaining Field = "gpt_limit"
	FieldChatHistory  Field = "gpt_chat"
	FieldBanned       Field = "ban"
	FieldVoice        Field = "voice"
	FieldEmotion      Field = "emotion"
	FieldSpeed        Field = "speed"
	FieldDebt         Field = "debt"
)

var fields = map[Field]bool{
	FieldTTSRemaining: true,
	FieldSTTRemaining: true,
	FieldGPTRemaining: true,
	FieldChatHistory:  true,
	FieldBanned:       true,
	FieldVoice:        true,
	FieldEmotion:      true,
	FieldSpeed:        true,
	FieldDebt:         true,
}

// FieldFor returns the balance column of a quota pool.
func FieldFor(kind Kind) (Field, error) {
	switch kind {
	case KindTTS:
		return FieldTTSRemaining, nil
	case KindSTT:
		return FieldSTTRemaining, nil
	case KindGPT:
		return FieldGPTRemaining, nil
	}
	return "", fmt.Errorf("account: unknown quota kind %q", kind)
}

// Ceilings holds the initial allowance of every pool.
type Ceilings struct {
	TTS int64
	STT int64
	GPT int64
}

// Of returns the ceiling of the given pool.
func (c Ceilings) Of(kind Kind) int64 {
	switch kind {
	case KindTTS:
		return c.TTS
	case KindSTT:
		return c.STT
	case KindGPT:
		return c.GPT
	}
	return 0
}

// Preferences are the synthesis settings a new account starts with.
type Preferences struct {
	Voice   string
	Emotion string
	Speed   float64
}
