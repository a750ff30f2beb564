package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/tonimelisma/gdrive-replicate/internal/gdrive"
	"github.com/tonimelisma/gdrive-replicate/internal/replicate"
)

// Session holds the authenticated Drive client and the engine built on it
// for one command invocation.
type Session struct {
	Client     *gdrive.Client
	Replicator *replicate.Replicator
}

// newSession loads the token file, builds the HTTP client from the network
// config, and wires a Replicator with opts.
func newSession(ctx context.Context, cc *CLIContext, opts replicate.Options) (*Session, error) {
	cfg := cc.Cfg

	ts, err := gdrive.TokenSourceFromPath(ctx, cfg.Auth.TokenFile, gdrive.Credentials{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
	}, cc.Logger)
	if err != nil {
		if errors.Is(err, gdrive.ErrNotLoggedIn) {
			return nil, fmt.Errorf("no token file at %s: create one with an OAuth2 client and set auth.token_file", cfg.Auth.TokenFile)
		}

		return nil, err
	}

	client := gdrive.NewClient(gdrive.DefaultBaseURL, gdrive.DefaultUploadURL, newHTTPClient(cc), ts, cc.Logger)

	opts.Logger = cc.Logger

	r, err := replicate.New(client, opts)
	if err != nil {
		return nil, err
	}

	return &Session{Client: client, Replicator: r}, nil
}

// newHTTPClient applies network.connect_timeout to dialing and
// network.request_timeout to whole requests.
func newHTTPClient(cc *CLIContext) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // stdlib default

	transport.DialContext = (&net.Dialer{
		Timeout: cc.Cfg.Network.ConnectTimeoutDuration(),
	}).DialContext

	return &http.Client{
		Transport: transport,
		Timeout:   cc.Cfg.Network.RequestTimeoutDuration(),
	}
}

// engineOptions maps the resolved config onto replicate.Options.
func engineOptions(cc *CLIContext, dryRun bool) replicate.Options {
	cfg := cc.Cfg

	return replicate.Options{
		DryRun:          dryRun,
		Workers:         cfg.Transfer.Workers,
		MaxItems:        cfg.Transfer.MaxItems,
		CreateRoot:      cfg.Transfer.CreateRoot,
		ChunkSize:       cfg.Transfer.ChunkBytes(),
		BandwidthLimit:  cfg.Transfer.BandwidthBytes(),
		Exclude:         cfg.Filter.Exclude,
		SpecialPatterns: cfg.Filter.SpecialPatterns,
		Retry:           cfg.Retry.Policy(),
		Logger:          cc.Logger,
	}
}
