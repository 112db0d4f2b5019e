// ABOUTME: Platform adapter contract translating chat platform wire formats
// ABOUTME: Defines webhook verification, parsing, and outbound send operations

package platform

import (
	"context"
	"net/http"
	"net/url"

	"github.com/halcyon-health/relay/internal/store"
)

// Platform names
const (
	Telegram  = "telegram"
	Line      = "line"
	Messenger = "messenger"
)

// Profile is the subset of a platform user profile the relay cares about.
type Profile struct {
	Name      string
	AvatarURL string
}

// Adapter translates one chat platform's wire format to and from normalized
// messages and performs that platform's outbound sends. One implementation
// exists per platform; the Registry resolves them by name.
type Adapter interface {
	// Platform returns the adapter's platform discriminator.
	Platform() string

	// VerifyWebhook checks webhook authenticity against the account secret.
	// A missing or invalid signature fails closed; callers must not parse
	// an unverified body.
	VerifyWebhook(body []byte, header http.Header, secret string) bool

	// ParseWebhook translates a verified webhook payload into zero or more
	// normalized messages. A malformed payload yields zero messages, not an
	// error; errors are reserved for internal failures.
	ParseWebhook(account *store.Account, payload []byte) ([]*store.NormalizedMessage, error)

	// SendMessage delivers text (and optional attachments) to a recipient
	// and returns the platform's message ID for the send.
	SendMessage(ctx context.Context, account *store.Account, recipientID, text string, attachments []store.Attachment) (string, error)

	// SendTyping shows a typing/loading indicator where the platform
	// supports one. Best-effort.
	SendTyping(ctx context.Context, account *store.Account, recipientID string) error

	// GetUserProfile fetches display information for a platform user.
	GetUserProfile(ctx context.Context, account *store.Account, userID string) (*Profile, error)
}

// Challenger is implemented by adapters whose platform requires a GET
// challenge/response handshake at webhook registration time. The challenge
// string is echoed only when the caller-supplied token matches the secret.
type Challenger interface {
	HandleChallenge(query url.Values, secret string) (challenge string, ok bool)
}
