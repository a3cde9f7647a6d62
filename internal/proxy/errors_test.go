package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"speechkit-bot/internal/account"
	"speechkit-bot/internal/credential"
	"speechkit-bot/internal/gpt"
	"speechkit-bot/internal/quota"
	"speechkit-bot/internal/speechkit"
)

func TestStatusCodeAndMessage(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"too long", fmt.Errorf("%w: 300 > 250", ErrTextTooLong), http.StatusBadRequest, "Проблема с запросом. Cлишком длинный текст"},
		{"quota", fmt.Errorf("%w: tts", quota.ErrQuotaExceeded), http.StatusPaymentRequired, "Проблема с запросом. У вас закончился лимит"},
		{"banned", account.ErrBanned, http.StatusForbidden, "Доступ к боту закрыт: достигнуто максимальное число пользователей"},
		{"voice", account.ErrUnknownVoice, http.StatusBadRequest, "Неверный выбор. Попробуй ещё раз."},
		{"tts upstream", &speechkit.UpstreamError{Op: "tts", StatusCode: 401}, http.StatusBadGateway, "При запросе в SpeechKit возникла ошибка c кодом: 401"},
		{"gpt upstream", fmt.Errorf("wrapped: %w", &gpt.UpstreamError{Op: "gpt", StatusCode: 500}), http.StatusBadGateway, "При запросе в SpeechKit возникла ошибка c кодом: 500"},
		{"tts no response", fmt.Errorf("wrapped: %w", &speechkit.UpstreamError{Op: "tts", Err: errors.New("connection refused")}), http.StatusBadGateway, "При запросе в SpeechKit возникла ошибка c кодом: 502"},
		{"gpt deadline", &gpt.UpstreamError{Op: "gpt", Err: context.DeadlineExceeded}, http.StatusBadGateway, "При запросе в SpeechKit возникла ошибка c кодом: 504"},
		{"credential", fmt.Errorf("%w: timeout", credential.ErrUnavailable), http.StatusServiceUnavailable, "При запросе в SpeechKit возникла ошибка c кодом: 503"},
		{"not found", account.ErrNotFound, http.StatusNotFound, "Пользователь не найден"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "Произошла внутренняя ошибка. Попробуй позже."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, StatusCode(tt.err))
			assert.Equal(t, tt.message, UserMessage(tt.err))
		})
	}
	assert.Empty(t, UserMessage(nil))
}
