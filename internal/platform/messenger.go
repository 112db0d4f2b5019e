// ABOUTME: Facebook Messenger adapter over the Graph API
// ABOUTME: Hex HMAC signature verification plus the GET challenge handshake

package platform

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/halcyon-health/relay/internal/store"
)

const (
	hubSignatureHeader = "X-Hub-Signature-256"
	graphAPIBase       = "https://graph.facebook.com/v18.0"
)

// MessengerAdapter implements Adapter for Facebook pages. The webhook
// secret doubles as the app secret for signatures and the verify token for
// the subscription handshake; the access token is the page token.
type MessengerAdapter struct {
	client *Client
}

// NewMessengerAdapter creates the Messenger adapter.
func NewMessengerAdapter(client *Client) Adapter {
	return &MessengerAdapter{client: client}
}

func (a *MessengerAdapter) Platform() string { return Messenger }

// VerifyWebhook checks the sha256= hex HMAC signature over the raw body.
func (a *MessengerAdapter) VerifyWebhook(body []byte, header http.Header, secret string) bool {
	signature := header.Get(hubSignatureHeader)
	if !strings.HasPrefix(signature, "sha256=") || secret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// HandleChallenge echoes the hub.challenge string when the caller's verify
// token matches the configured secret.
func (a *MessengerAdapter) HandleChallenge(query url.Values, secret string) (string, bool) {
	if query.Get("hub.mode") != "subscribe" {
		return "", false
	}
	token := query.Get("hub.verify_token")
	if token == "" || secret == "" {
		return "", false
	}
	if hmac.Equal([]byte(token), []byte(secret)) {
		return query.Get("hub.challenge"), true
	}
	return "", false
}

// messengerWebhook mirrors the page webhook envelope.
type messengerWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Timestamp int64 `json:"timestamp"` // milliseconds
			Message   *struct {
				MID         string `json:"mid"`
				Text        string `json:"text"`
				Attachments []struct {
					Type    string `json:"type"`
					Payload struct {
						URL string `json:"url"`
					} `json:"payload"`
				} `json:"attachments"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// ParseWebhook translates page messaging events into normalized messages.
func (a *MessengerAdapter) ParseWebhook(account *store.Account, payload []byte) ([]*store.NormalizedMessage, error) {
	var hook messengerWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, nil
	}
	if hook.Object != "page" {
		return nil, nil
	}

	var messages []*store.NormalizedMessage
	for _, entry := range hook.Entry {
		for _, event := range entry.Messaging {
			if event.Message == nil || event.Sender.ID == "" {
				continue
			}

			normalized := &store.NormalizedMessage{
				Platform:          Messenger,
				ExternalMessageID: event.Message.MID,
				ExternalUserID:    event.Sender.ID,
				AccountID:         account.ID,
				ClinicID:          account.ClinicID,
				Content:           event.Message.Text,
				ContentType:       store.ContentText,
				Timestamp:         time.UnixMilli(event.Timestamp),
				RawPayload:        payload,
			}
			for _, att := range event.Message.Attachments {
				kind := store.ContentFile
				if att.Type == "image" {
					kind = store.ContentImage
				}
				if normalized.Content == "" {
					normalized.ContentType = kind
				}
				normalized.Attachments = append(normalized.Attachments, store.Attachment{
					Type: kind,
					URL:  att.Payload.URL,
				})
			}
			messages = append(messages, normalized)
		}
	}
	return messages, nil
}

// SendMessage delivers text through the Send API.
func (a *MessengerAdapter) SendMessage(ctx context.Context, account *store.Account, recipientID, text string, _ []store.Attachment) (string, error) {
	body := map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": text},
	}
	respBody, err := a.client.PostJSON(ctx, Messenger, graphAPIBase+"/me/messages", account.AccessToken, body)
	if err != nil {
		return "", fmt.Errorf("messenger send: %w", err)
	}

	var resp struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("messenger send: decoding response: %w", err)
	}
	return resp.MessageID, nil
}

// SendTyping sends the typing_on sender action.
func (a *MessengerAdapter) SendTyping(ctx context.Context, account *store.Account, recipientID string) error {
	body := map[string]any{
		"recipient":     map[string]string{"id": recipientID},
		"sender_action": "typing_on",
	}
	_, err := a.client.PostJSON(ctx, Messenger, graphAPIBase+"/me/messages", account.AccessToken, body)
	return err
}

// GetUserProfile fetches the user's name from the Graph API.
func (a *MessengerAdapter) GetUserProfile(ctx context.Context, account *store.Account, userID string) (*Profile, error) {
	u := fmt.Sprintf("%s/%s?fields=first_name,last_name,profile_pic", graphAPIBase, userID)
	respBody, err := a.client.GetJSON(ctx, Messenger, u, account.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("messenger profile: %w", err)
	}

	var resp struct {
		FirstName  string `json:"first_name"`
		LastName   string `json:"last_name"`
		ProfilePic string `json:"profile_pic"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("messenger profile: decoding response: %w", err)
	}
	return &Profile{
		Name:      strings.TrimSpace(resp.FirstName + " " + resp.LastName),
		AvatarURL: resp.ProfilePic,
	}, nil
}
