package account

import "errors"

var (
	ErrNotFound       = errors.New("account: not found")
	ErrBanned         = errors.New("account: banned")
	ErrUnknownField   = errors.New("account: unknown field")
	ErrUnknownVoice   = errors.New("account: unknown voice")
	ErrUnknownEmotion = errors.New("account: unknown emotion")
	ErrInvalidSpeed   = errors.New("account: invalid speed")
	ErrQuotaExceeded  = errors.New("account: quota exceeded")
)
