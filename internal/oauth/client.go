package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

const maxUserInfoBytes = 1 << 20

// ProviderConfig holds one provider's client registration. Endpoint and
// UserInfoURL default to the provider's public URLs when empty.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Endpoint     oauth2.Endpoint
	UserInfoURL  string
}

func defaultScopes(p Provider) []string {
	switch p {
	case GitHub:
		return []string{"read:user", "user:email"}
	case Google:
		return []string{"openid", "email", "profile"}
	case Facebook:
		return []string{"email", "public_profile"}
	case Apple:
		return []string{"name", "email"}
	}
	return nil
}

func defaultEndpoint(p Provider) oauth2.Endpoint {
	switch p {
	case GitHub:
		return github.Endpoint
	case Google:
		return google.Endpoint
	case Facebook:
		return facebook.Endpoint
	case Apple:
		return oauth2.Endpoint{AuthURL: appleAuthURL, TokenURL: appleTokenURL, AuthStyle: oauth2.AuthStyleInParams}
	}
	return oauth2.Endpoint{}
}

func defaultUserInfoURL(p Provider) string {
	switch p {
	case GitHub:
		return "https://api.github.com/user"
	case Google:
		return "https://www.googleapis.com/oauth2/v3/userinfo"
	case Facebook:
		return "https://graph.facebook.com/v17.0/me?fields=id,name,email,picture"
	}
	return ""
}

type provider struct {
	conf        *oauth2.Config
	userInfoURL string
	breaker     *gobreaker.CircuitBreaker
}

// Client runs the authorization code grant against the configured providers.
// Calls to each provider go through their own circuit breaker.
type Client struct {
	providers  map[Provider]*provider
	apple      *AppleSigner
	httpClient *http.Client
}

func NewClient(configs map[Provider]ProviderConfig, apple *AppleSigner, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	c := &Client{providers: make(map[Provider]*provider), apple: apple, httpClient: httpClient}

	for p, cfg := range configs {
		if cfg.ClientID == "" {
			continue
		}
		if p == Apple && apple == nil {
			continue
		}
		endpoint := cfg.Endpoint
		if endpoint.AuthURL == "" {
			endpoint = defaultEndpoint(p)
		}
		scopes := cfg.Scopes
		if len(scopes) == 0 {
			scopes = defaultScopes(p)
		}
		userInfo := cfg.UserInfoURL
		if userInfo == "" {
			userInfo = defaultUserInfoURL(p)
		}
		c.providers[p] = &provider{
			conf: &oauth2.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				RedirectURL:  cfg.RedirectURL,
				Scopes:       scopes,
				Endpoint:     endpoint,
			},
			userInfoURL: userInfo,
			breaker:     newBreaker(p),
		}
	}
	return c
}

func newBreaker(p Provider) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "oauth2-" + string(p),
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	})
}

// Enabled returns the configured providers in display order.
func (c *Client) Enabled() []Provider {
	out := make([]Provider, 0, len(c.providers))
	for _, p := range Providers {
		if _, ok := c.providers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (c *Client) get(p Provider) (*provider, error) {
	pr, ok := c.providers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, p)
	}
	return pr, nil
}

func (c *Client) AuthCodeURL(p Provider, state string) (string, error) {
	pr, err := c.get(p)
	if err != nil {
		return "", err
	}
	var opts []oauth2.AuthCodeOption
	if p == Apple {
		// Apple only returns the email scope with form_post.
		opts = append(opts, oauth2.SetAuthURLParam("response_mode", "form_post"))
	}
	return pr.conf.AuthCodeURL(state, opts...), nil
}

// FetchAttributes exchanges code for a token and returns the provider's view
// of the user.
func (c *Client) FetchAttributes(ctx context.Context, p Provider, code string) (Attributes, error) {
	pr, err := c.get(p)
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	out, err := pr.breaker.Execute(func() (interface{}, error) {
		conf := *pr.conf
		if p == Apple {
			secret, err := c.apple.ClientSecret()
			if err != nil {
				return nil, err
			}
			conf.ClientSecret = secret
		}

		tok, err := conf.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("exchange: %w", err)
		}

		if p == Apple {
			idToken, _ := tok.Extra("id_token").(string)
			if idToken == "" {
				return nil, ErrMissingIDToken
			}
			return appleAttributes(idToken)
		}
		return c.userInfo(ctx, &conf, tok, pr.userInfoURL)
	})
	if err != nil {
		return nil, providerErr(p, "fetch_identity", err)
	}
	return out.(Attributes), nil
}

func (c *Client) userInfo(ctx context.Context, conf *oauth2.Config, tok *oauth2.Token, url string) (Attributes, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := conf.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo: status %d", resp.StatusCode)
	}

	attrs := Attributes{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes)).Decode(&attrs); err != nil {
		return nil, fmt.Errorf("userinfo: decode: %w", err)
	}
	return attrs, nil
}
