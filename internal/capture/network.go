package capture

import (
	"encoding/base64"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/captrace/captrace/internal/rules"
	"github.com/captrace/captrace/pkg/models"
)

// NetworkMinBytes filters UI icons and tracking pixels out of the
// interception channel.
const NetworkMinBytes = 1000

var (
	ErrNotAllowlisted  = errors.New("url not on interception allowlist")
	ErrTooSmall        = errors.New("payload below size floor")
	ErrUnknownFormat   = errors.New("no known image signature")
	ErrMalformedBase64 = errors.New("malformed base64 body")
)

// RuleSource yields the rule table in service. Satisfied by *rules.Watcher.
type RuleSource interface {
	Current() *rules.Set
}

// Interceptor admits intercepted network responses as captured images.
// The declared content type is recorded but never trusted: classification
// comes from magic-byte sniffing alone.
type Interceptor struct {
	rules  RuleSource
	logger *zap.SugaredLogger
}

func NewInterceptor(rules RuleSource, logger *zap.SugaredLogger) *Interceptor {
	return &Interceptor{rules: rules, logger: logger}
}

// Admit validates one intercepted response body. The body arrives base64
// encoded from the privileged context. Rejections are logged and returned
// as errors; callers treat them as drops, not failures.
func (it *Interceptor) Admit(url, declaredMIME, body string) (models.CapturedImage, error) {
	if !it.rules.Current().MatchNetworkURL(url) {
		return models.CapturedImage{}, ErrNotAllowlisted
	}

	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		it.logger.Debugw("network image dropped", "url", url, "reason", "bad base64")
		return models.CapturedImage{}, ErrMalformedBase64
	}
	if len(raw) < NetworkMinBytes {
		it.logger.Debugw("network image dropped", "url", url, "reason", "below size floor", "bytes", len(raw))
		return models.CapturedImage{}, ErrTooSmall
	}

	mime, ok := SniffImageType(raw)
	if !ok {
		it.logger.Debugw("network image dropped", "url", url,
			"reason", "unknown signature", "declaredMime", declaredMIME)
		return models.CapturedImage{}, ErrUnknownFormat
	}

	return models.CapturedImage{
		Timestamp: time.Now(),
		URL:       url,
		Size:      len(raw),
		MIMEType:  mime,
		DataURL:   "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw),
		Source:    models.SourceNetwork,
	}, nil
}
