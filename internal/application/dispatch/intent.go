package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/concert-notifier/internal/domain"
	"github.com/concert-notifier/internal/pkg/validate"
)

// ParseIntent decodes a queue message body. The kind comes from the message
// attribute when present, then from the body, and falls back to custom.
// Every failure wraps domain.ErrMalformedIntent.
func ParseIntent(body, kindAttr string) (domain.NotificationIntent, error) {
	var intent domain.NotificationIntent
	if err := json.Unmarshal([]byte(body), &intent); err != nil {
		return intent, fmt.Errorf("decode body: %v: %w", err, domain.ErrMalformedIntent)
	}
	if k := strings.TrimSpace(kindAttr); k != "" {
		intent.Kind = domain.NotificationKind(k)
	}
	if intent.Kind == "" {
		intent.Kind = domain.KindCustom
	}
	if err := validate.Struct(intent); err != nil {
		return intent, fmt.Errorf("%v: %w", err, domain.ErrMalformedIntent)
	}

	if intent.Kind == domain.KindCustom {
		if intent.EventID == "" && intent.Body == "" {
			return intent, fmt.Errorf("custom notification needs an event_id or a body: %w", domain.ErrMalformedIntent)
		}
	} else if intent.EventID == "" {
		return intent, fmt.Errorf("%s notification needs an event_id: %w", intent.Kind, domain.ErrMalformedIntent)
	}
	return intent, nil
}
