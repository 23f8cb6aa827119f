// Package apierr describes failures of upstream HTTP services and turns them
// into short messages that are safe to show to end users.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

// UpstreamError is returned when a remote service answers with a non-2xx
// status.
type UpstreamError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Service, e.StatusCode, msg)
}

// Temporary reports whether retrying later may succeed.
func (e *UpstreamError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type messageKey int

const (
	msgGeneric messageKey = iota
	msgBadRequest
	msgUnauthorized
	msgPaymentRequired
	msgRejected
	msgRateLimited
	msgUnavailable
)

var supported = []language.Tag{language.English, language.Indonesian}

var matcher = language.NewMatcher(supported)

var catalog = map[language.Tag]map[messageKey]string{
	language.English: {
		msgGeneric:         "Something went wrong while generating your image. Please try again.",
		msgBadRequest:      "The image request was invalid. Please check your prompt and settings.",
		msgUnauthorized:    "The image service rejected our credentials. Please try again later.",
		msgPaymentRequired: "The image service quota has been used up. Please try again later.",
		msgRejected:        "Your prompt was rejected by the content safety filter. Please revise it.",
		msgRateLimited:     "Too many requests right now. Please wait a moment and try again.",
		msgUnavailable:     "The image service is temporarily unavailable. Please try again later.",
	},
	language.Indonesian: {
		msgGeneric:         "Terjadi kesalahan saat membuat gambar. Silakan coba lagi.",
		msgBadRequest:      "Permintaan gambar tidak valid. Periksa prompt dan pengaturan Anda.",
		msgUnauthorized:    "Layanan gambar menolak kredensial kami. Silakan coba lagi nanti.",
		msgPaymentRequired: "Kuota layanan gambar telah habis. Silakan coba lagi nanti.",
		msgRejected:        "Prompt Anda ditolak oleh filter keamanan konten. Silakan ubah prompt.",
		msgRateLimited:     "Terlalu banyak permintaan. Tunggu sebentar lalu coba lagi.",
		msgUnavailable:     "Layanan gambar sedang tidak tersedia. Silakan coba lagi nanti.",
	},
}

// UserMessage maps err to a localized user-safe message. Upstream HTTP
// failures get a status-specific text; everything else gets the generic one.
func UserMessage(err error, locale string) string {
	texts := catalog[resolve(locale)]
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		return texts[msgGeneric]
	}
	return texts[classify(upstream.StatusCode)]
}

func classify(status int) messageKey {
	switch {
	case status == http.StatusBadRequest:
		return msgBadRequest
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return msgUnauthorized
	case status == http.StatusPaymentRequired:
		return msgPaymentRequired
	case status == http.StatusUnprocessableEntity:
		return msgRejected
	case status == http.StatusTooManyRequests:
		return msgRateLimited
	case status >= 500:
		return msgUnavailable
	default:
		return msgGeneric
	}
}

func resolve(locale string) language.Tag {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return language.English
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return language.English
	}
	return supported[idx]
}
