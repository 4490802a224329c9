package session

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"botdash/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MessageType - тип сообщения между вкладками
type MessageType string

const (
	MessageLogout     MessageType = "logout"
	MessageAuthUpdate MessageType = "auth_update"
)

// BroadcastMessage - сообщение между вкладками
//
//	{ "type": "logout" }
//	{ "type": "auth_update", "authData": { ... } }
type BroadcastMessage struct {
	Type     MessageType `json:"type"`
	AuthData *AuthData   `json:"authData,omitempty"`
}

// AuthData - состояние сессии на проводе; время в unix миллисекундах
type AuthData struct {
	Token        string                 `json:"token"`
	RefreshToken string                 `json:"refreshToken,omitempty"`
	User         map[string]interface{} `json:"user,omitempty"`
	ExpiresAt    int64                  `json:"expiresAt"`
	LastActivity int64                  `json:"lastActivity"`
}

func newAuthData(s State) *AuthData {
	return &AuthData{
		Token:        s.Token,
		RefreshToken: s.RefreshToken,
		User:         s.User,
		ExpiresAt:    utils.ToMillis(s.ExpiresAt),
		LastActivity: utils.ToMillis(s.LastActivity),
	}
}

func (a *AuthData) state() State {
	return State{
		Token:        a.Token,
		RefreshToken: a.RefreshToken,
		User:         a.User,
		ExpiresAt:    utils.FromMillis(a.ExpiresAt),
		LastActivity: utils.FromMillis(a.LastActivity),
	}
}

// EncodeMessage сериализует сообщение
func EncodeMessage(msg BroadcastMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage разбирает сообщение и проверяет его форму
func DecodeMessage(data []byte) (BroadcastMessage, error) {
	var msg BroadcastMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode broadcast message: %w", err)
	}

	switch msg.Type {
	case MessageLogout:
		return msg, nil
	case MessageAuthUpdate:
		if msg.AuthData == nil || msg.AuthData.Token == "" {
			return msg, fmt.Errorf("auth_update without token")
		}
		return msg, nil
	default:
		return msg, fmt.Errorf("unknown broadcast message type %q", msg.Type)
	}
}
