package sns

import (
	"encoding/json"
	"fmt"

	"github.com/concert-notifier/internal/domain"
)

type apsAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type aps struct {
	Alert    apsAlert `json:"alert"`
	Sound    string   `json:"sound,omitempty"`
	ThreadID string   `json:"thread-id,omitempty"`
}

type apnsPayload struct {
	Aps aps `json:"aps"`
}

type gcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
}

type gcmPayload struct {
	Notification gcmNotification `json:"notification"`
}

// BuildEnvelope renders msg as an SNS MessageStructure=json document: a plain
// "default" body plus the vendor field, which itself holds a JSON string.
func BuildEnvelope(platform string, msg domain.PushMessage) (string, error) {
	var vendor any
	switch platform {
	case "APNS", "APNS_SANDBOX":
		vendor = apnsPayload{Aps: aps{
			Alert:    apsAlert{Title: msg.Title, Body: msg.Body},
			Sound:    "default",
			ThreadID: msg.ThreadID,
		}}
	case "GCM":
		vendor = gcmPayload{Notification: gcmNotification{Title: msg.Title, Body: msg.Body, Tag: msg.ThreadID}}
	default:
		return "", fmt.Errorf("unsupported push platform %q", platform)
	}
	inner, err := json.Marshal(vendor)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", platform, err)
	}
	outer, err := json.Marshal(map[string]string{
		"default": msg.Body,
		platform:  string(inner),
	})
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(outer), nil
}
