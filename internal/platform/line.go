// ABOUTME: LINE Messaging API adapter
// ABOUTME: HMAC-SHA256 signature verification and push-message sends

package platform

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/halcyon-health/relay/internal/store"
)

const (
	lineSignatureHeader = "X-Line-Signature"
	lineAPIBase         = "https://api.line.me/v2/bot"
)

// LineAdapter implements Adapter for LINE official accounts. The webhook
// secret is the channel secret; the access token is the channel token.
type LineAdapter struct {
	client *Client
}

// NewLineAdapter creates the LINE adapter.
func NewLineAdapter(client *Client) Adapter {
	return &LineAdapter{client: client}
}

func (a *LineAdapter) Platform() string { return Line }

// VerifyWebhook checks the base64 HMAC-SHA256 signature over the raw body.
func (a *LineAdapter) VerifyWebhook(body []byte, header http.Header, secret string) bool {
	signature := header.Get(lineSignatureHeader)
	if signature == "" || secret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// lineWebhook mirrors the LINE webhook envelope.
type lineWebhook struct {
	Events []struct {
		Type      string `json:"type"`
		Timestamp int64  `json:"timestamp"` // milliseconds
		Source    struct {
			UserID string `json:"userId"`
		} `json:"source"`
		Message struct {
			ID   string `json:"id"`
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"message"`
	} `json:"events"`
}

// ParseWebhook translates LINE message events into normalized messages.
// One webhook may carry several events; non-message events are skipped.
func (a *LineAdapter) ParseWebhook(account *store.Account, payload []byte) ([]*store.NormalizedMessage, error) {
	var hook lineWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, nil
	}

	var messages []*store.NormalizedMessage
	for _, event := range hook.Events {
		if event.Type != "message" || event.Source.UserID == "" {
			continue
		}

		normalized := &store.NormalizedMessage{
			Platform:          Line,
			ExternalMessageID: event.Message.ID,
			ExternalUserID:    event.Source.UserID,
			AccountID:         account.ID,
			ClinicID:          account.ClinicID,
			Content:           event.Message.Text,
			ContentType:       store.ContentText,
			Timestamp:         time.UnixMilli(event.Timestamp),
			RawPayload:        payload,
		}
		switch event.Message.Type {
		case "image":
			normalized.ContentType = store.ContentImage
		case "file":
			normalized.ContentType = store.ContentFile
		}
		messages = append(messages, normalized)
	}
	return messages, nil
}

// SendMessage pushes a text message to the user.
func (a *LineAdapter) SendMessage(ctx context.Context, account *store.Account, recipientID, text string, _ []store.Attachment) (string, error) {
	body := map[string]any{
		"to": recipientID,
		"messages": []map[string]any{
			{"type": "text", "text": text},
		},
	}
	respBody, err := a.client.PostJSON(ctx, Line, lineAPIBase+"/message/push", account.AccessToken, body)
	if err != nil {
		return "", fmt.Errorf("line send: %w", err)
	}

	var resp struct {
		SentMessages []struct {
			ID string `json:"id"`
		} `json:"sentMessages"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil || len(resp.SentMessages) == 0 {
		// Older API versions return an empty object on success
		return "", nil
	}
	return resp.SentMessages[0].ID, nil
}

// SendTyping starts LINE's loading animation for the chat.
func (a *LineAdapter) SendTyping(ctx context.Context, account *store.Account, recipientID string) error {
	body := map[string]any{
		"chatId":         recipientID,
		"loadingSeconds": 20,
	}
	_, err := a.client.PostJSON(ctx, Line, lineAPIBase+"/chat/loading/start", account.AccessToken, body)
	return err
}

// GetUserProfile fetches the user's LINE profile.
func (a *LineAdapter) GetUserProfile(ctx context.Context, account *store.Account, userID string) (*Profile, error) {
	respBody, err := a.client.GetJSON(ctx, Line, lineAPIBase+"/profile/"+userID, account.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("line profile: %w", err)
	}

	var resp struct {
		DisplayName string `json:"displayName"`
		PictureURL  string `json:"pictureUrl"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("line profile: decoding response: %w", err)
	}
	return &Profile{Name: resp.DisplayName, AvatarURL: resp.PictureURL}, nil
}
