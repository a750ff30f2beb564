package gdrive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/gdrive-replicate/internal/tokenfile"
)

// DriveScope grants full access to the user's Drive files.
const DriveScope = "https://www.googleapis.com/auth/drive"

// ErrNotLoggedIn is returned when no token file exists.
var ErrNotLoggedIn = fmt.Errorf("%w: no saved token", ErrUnauthorized)

// googleEndpoint is Google's OAuth2 endpoint.
var googleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.google.com/o/oauth2/auth",
	TokenURL:  "https://oauth2.googleapis.com/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Credentials overrides the OAuth client stored in the token file when set.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string // tests only
}

// TokenSourceFromPath loads the token file at tokenPath and returns a
// TokenSource that refreshes silently and writes refreshed tokens back.
//
// ctx must outlive the TokenSource; it is bound to refresh requests.
func TokenSourceFromPath(
	ctx context.Context, tokenPath string, creds Credentials, logger *slog.Logger,
) (TokenSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tf, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	if tf == nil {
		return nil, ErrNotLoggedIn
	}

	if creds.ClientID != "" {
		tf.ClientID = creds.ClientID
		tf.ClientSecret = creds.ClientSecret
	}

	scopes := tf.Scopes
	if len(scopes) == 0 {
		scopes = []string{DriveScope}
	}

	endpoint := googleEndpoint
	if creds.TokenURL != "" {
		endpoint.TokenURL = creds.TokenURL
	}

	cfg := &oauth2.Config{
		ClientID:     tf.ClientID,
		ClientSecret: tf.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}

	expired := !tf.Token.Expiry.IsZero() && tf.Token.Expiry.Before(time.Now())
	logger.Info("loaded saved token",
		slog.String("path", tokenPath),
		slog.Time("expiry", tf.Token.Expiry),
		slog.Bool("expired", expired),
	)

	return &tokenBridge{
		src:    cfg.TokenSource(ctx, tf.Token),
		path:   tokenPath,
		file:   tf,
		last:   tf.Token.AccessToken,
		logger: logger,
	}, nil
}

// tokenBridge adapts oauth2.TokenSource to TokenSource and persists every
// token the library refreshes.
type tokenBridge struct {
	src    oauth2.TokenSource
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	file *tokenfile.File
	last string
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", tokenError(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if t.AccessToken != b.last {
		b.last = t.AccessToken
		b.file = b.file.WithToken(t)

		if saveErr := tokenfile.Save(b.path, b.file); saveErr != nil {
			b.logger.Warn("failed to persist refreshed token",
				slog.String("path", b.path),
				slog.String("error", saveErr.Error()),
			)
		} else {
			b.logger.Info("persisted refreshed token",
				slog.String("path", b.path),
				slog.Time("new_expiry", t.Expiry),
			)
		}
	}

	return t.AccessToken, nil
}

// tokenError maps a refresh failure onto the client's sentinels. Only a
// grant the token endpoint rejects is ErrUnauthorized; throttling, 5xx and
// network failures stay retryable.
func tokenError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("gdrive: obtaining token: %w", err)
	}

	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return fmt.Errorf("%w: obtaining token: %w", ErrTransport, err)
	}

	switch code := re.Response.StatusCode; {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: obtaining token: %w", ErrRateLimited, err)
	case code == http.StatusRequestTimeout:
		return fmt.Errorf("%w: obtaining token: %w", ErrTimeout, err)
	case code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: obtaining token: %w", ErrServerError, err)
	default:
		return fmt.Errorf("%w: obtaining token: %w", ErrUnauthorized, err)
	}
}
