// ABOUTME: Telegram platform adapter over the Bot API
// ABOUTME: Shared-secret header verification, Update parsing via tgbotapi types

package platform

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/halcyon-health/relay/internal/store"
)

// secretTokenHeader carries Telegram's webhook shared secret.
const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// TelegramAdapter implements Adapter for Telegram bots. The account's
// access token is the bot token; the webhook secret is the secret_token
// registered with setWebhook.
type TelegramAdapter struct {
	client *Client
}

// NewTelegramAdapter creates the Telegram adapter.
func NewTelegramAdapter(client *Client) Adapter {
	return &TelegramAdapter{client: client}
}

func (a *TelegramAdapter) Platform() string { return Telegram }

// VerifyWebhook compares the secret token header against the account secret.
// Telegram sends the exact configured token rather than a signature.
func (a *TelegramAdapter) VerifyWebhook(_ []byte, header http.Header, secret string) bool {
	got := header.Get(secretTokenHeader)
	if got == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

// ParseWebhook translates a Telegram Update into a normalized message.
// Non-message updates and malformed payloads yield zero messages.
func (a *TelegramAdapter) ParseWebhook(account *store.Account, payload []byte) ([]*store.NormalizedMessage, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return nil, nil
	}
	if update.Message == nil || update.Message.From == nil {
		return nil, nil
	}

	msg := update.Message
	normalized := &store.NormalizedMessage{
		Platform:          Telegram,
		ExternalMessageID: strconv.Itoa(msg.MessageID),
		ExternalUserID:    strconv.FormatInt(msg.From.ID, 10),
		AccountID:         account.ID,
		ClinicID:          account.ClinicID,
		Content:           msg.Text,
		ContentType:       store.ContentText,
		Timestamp:         time.Unix(int64(msg.Date), 0),
		RawPayload:        payload,
		SenderName:        strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
	}

	if len(msg.Photo) > 0 {
		normalized.ContentType = store.ContentImage
		if msg.Caption != "" {
			normalized.Content = msg.Caption
		}
	} else if msg.Document != nil {
		normalized.ContentType = store.ContentFile
		normalized.Attachments = append(normalized.Attachments, store.Attachment{
			Type: store.ContentFile,
			Name: msg.Document.FileName,
		})
		if msg.Caption != "" {
			normalized.Content = msg.Caption
		}
	}

	return []*store.NormalizedMessage{normalized}, nil
}

// SendMessage delivers text via the Bot API sendMessage method.
func (a *TelegramAdapter) SendMessage(ctx context.Context, account *store.Account, recipientID, text string, _ []store.Attachment) (string, error) {
	chatID, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", recipientID, err)
	}

	body := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	respBody, err := a.client.PostJSON(ctx, Telegram, a.method(account, "sendMessage"), "", body)
	if err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}

	var resp struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int `json:"message_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil || !resp.OK {
		return "", fmt.Errorf("telegram send: unexpected response %q", respBody)
	}
	return strconv.Itoa(resp.Result.MessageID), nil
}

// SendTyping shows the "typing..." chat action.
func (a *TelegramAdapter) SendTyping(ctx context.Context, account *store.Account, recipientID string) error {
	body := map[string]any{
		"chat_id": recipientID,
		"action":  "typing",
	}
	_, err := a.client.PostJSON(ctx, Telegram, a.method(account, "sendChatAction"), "", body)
	return err
}

// GetUserProfile fetches chat details for the user.
func (a *TelegramAdapter) GetUserProfile(ctx context.Context, account *store.Account, userID string) (*Profile, error) {
	respBody, err := a.client.GetJSON(ctx, Telegram, a.method(account, "getChat")+"?chat_id="+userID, "")
	if err != nil {
		return nil, fmt.Errorf("telegram profile: %w", err)
	}

	var resp struct {
		OK     bool `json:"ok"`
		Result struct {
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil || !resp.OK {
		return nil, fmt.Errorf("telegram profile: unexpected response %q", respBody)
	}
	return &Profile{Name: strings.TrimSpace(resp.Result.FirstName + " " + resp.Result.LastName)}, nil
}

// method builds a Bot API method URL for the account's bot token.
func (a *TelegramAdapter) method(account *store.Account, name string) string {
	return fmt.Sprintf(tgbotapi.APIEndpoint, account.AccessToken, name)
}
