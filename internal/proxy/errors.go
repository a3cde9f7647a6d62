package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"speechkit-bot/internal/account"
	"speechkit-bot/internal/credential"
	"speechkit-bot/internal/gpt"
	"speechkit-bot/internal/quota"
	"speechkit-bot/internal/speechkit"
)

var (
	ErrTextTooLong   = errors.New("proxy: text too long")
	ErrTextTooShort  = errors.New("proxy: text is empty")
	ErrAudioTooLong  = errors.New("proxy: audio too long")
	ErrAudioTooShort = errors.New("proxy: audio is empty")
)

// errorClass groups errors by how the caller should treat them.
type errorClass string

const (
	classInput      errorClass = "invalid_request_error"
	classQuota      errorClass = "quota_exceeded"
	classBanned     errorClass = "permission_error"
	classNotFound   errorClass = "not_found_error"
	classUpstream   errorClass = "api_error"
	classCredential errorClass = "authentication_error"
	classInternal   errorClass = "internal_error"
)

func classify(err error) errorClass {
	switch {
	case errors.Is(err, ErrTextTooLong), errors.Is(err, ErrTextTooShort),
		errors.Is(err, ErrAudioTooLong), errors.Is(err, ErrAudioTooShort),
		errors.Is(err, account.ErrUnknownVoice), errors.Is(err, account.ErrUnknownEmotion),
		errors.Is(err, account.ErrInvalidSpeed):
		return classInput
	case errors.Is(err, quota.ErrQuotaExceeded):
		return classQuota
	case errors.Is(err, account.ErrBanned):
		return classBanned
	case errors.Is(err, account.ErrNotFound):
		return classNotFound
	case errors.Is(err, credential.ErrUnavailable):
		return classCredential
	}

	var sk *speechkit.UpstreamError
	var llm *gpt.UpstreamError
	if errors.As(err, &sk) || errors.As(err, &llm) {
		return classUpstream
	}
	return classInternal
}

// StatusCode maps an operation error to the HTTP status of the transport API.
func StatusCode(err error) int {
	switch classify(err) {
	case classInput:
		return http.StatusBadRequest
	case classQuota:
		return http.StatusPaymentRequired
	case classBanned:
		return http.StatusForbidden
	case classNotFound:
		return http.StatusNotFound
	case classUpstream:
		return http.StatusBadGateway
	case classCredential:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// upstreamCode is the code shown to the user for an upstream failure.
func upstreamCode(err error) string {
	var sk *speechkit.UpstreamError
	if errors.As(err, &sk) {
		if sk.Code != "" {
			return sk.Code
		}
		return statusOrTransport(sk.StatusCode, err)
	}
	var llm *gpt.UpstreamError
	if errors.As(err, &llm) {
		return statusOrTransport(llm.StatusCode, err)
	}
	// no token: reported like an upstream outage
	return fmt.Sprint(http.StatusServiceUnavailable)
}

// statusOrTransport reports 504 for a call that timed out and 502 for any
// other call that produced no usable response.
func statusOrTransport(status int, err error) string {
	if status != 0 {
		return fmt.Sprint(status)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Sprint(http.StatusGatewayTimeout)
	}
	return fmt.Sprint(http.StatusBadGateway)
}

// UserMessage is the text the chat transport shows for an error.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTextTooLong):
		return "Проблема с запросом. Cлишком длинный текст"
	case errors.Is(err, ErrTextTooShort):
		return "Проблема с запросом. Пустой текст"
	case errors.Is(err, ErrAudioTooLong):
		return "Проблема с запросом. Слишком длинное голосовое сообщение"
	case errors.Is(err, ErrAudioTooShort):
		return "Проблема с запросом. Пустое голосовое сообщение"
	case errors.Is(err, quota.ErrQuotaExceeded):
		return "Проблема с запросом. У вас закончился лимит"
	case errors.Is(err, account.ErrBanned):
		return "Доступ к боту закрыт: достигнуто максимальное число пользователей"
	case errors.Is(err, account.ErrUnknownVoice), errors.Is(err, account.ErrUnknownEmotion),
		errors.Is(err, account.ErrInvalidSpeed):
		return "Неверный выбор. Попробуй ещё раз."
	}

	switch classify(err) {
	case classUpstream, classCredential:
		return "При запросе в SpeechKit возникла ошибка c кодом: " + upstreamCode(err)
	case classNotFound:
		return "Пользователь не найден"
	}
	return "Произошла внутренняя ошибка. Попробуй позже."
}
