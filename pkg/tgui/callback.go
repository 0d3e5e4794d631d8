package tgui

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's byte limit for the whole
// "plugin:action:payload" string.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats callback data as "plugin:action:payload". The payload is not
// escaped; structured values go through PackJSON.
func Data(plugin, action, payload string) string {
	plugin = strings.TrimSpace(plugin)
	action = strings.TrimSpace(action)
	if payload == "" {
		return plugin + ":" + action
	}
	return plugin + ":" + action + ":" + payload
}

// PackJSON encodes v as unpadded base64url JSON.
func PackJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func UnpackJSON(payload string, v any) error {
	b, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// ActionDataWithStore packs v into "plugin:action:payload". When the result
// exceeds MaxCallbackDataLen the JSON is parked in store and the payload
// becomes a "~token" instead.
func ActionDataWithStore(plugin, action string, v any, store *TokenStore) (string, error) {
	packed, err := PackJSON(v)
	if err != nil {
		return "", err
	}
	if data := Data(plugin, action, packed); len(data) <= MaxCallbackDataLen {
		return data, nil
	}
	if store == nil {
		return "", ErrCallbackDataTooLong
	}
	tok, err := store.PutJSON(v)
	if err != nil {
		return "", err
	}
	data := Data(plugin, action, tok)
	if len(data) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return data, nil
}
