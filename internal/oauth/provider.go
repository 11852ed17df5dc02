package oauth

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Provider string

const (
	GitHub   Provider = "github"
	Google   Provider = "google"
	Facebook Provider = "facebook"
	Apple    Provider = "apple"
)

// Providers lists every supported provider in display order.
var Providers = []Provider{GitHub, Google, Facebook, Apple}

func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case GitHub, Google, Facebook, Apple:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, s)
}

// Attributes is a provider's decoded userinfo payload.
type Attributes map[string]any

// String returns the attribute as a string. JSON numbers are formatted
// without exponent so numeric ids survive.
func (a Attributes) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// Adapter knows where one provider puts the fields used to link accounts.
type Adapter interface {
	Email(a Attributes) string
	ProviderID(a Attributes) string
	Username(a Attributes) string
	Name(a Attributes) string
}

func AdapterFor(p Provider) (Adapter, error) {
	switch p {
	case GitHub:
		return githubAdapter{}, nil
	case Google:
		return googleAdapter{}, nil
	case Facebook:
		return facebookAdapter{}, nil
	case Apple:
		return appleAdapter{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, p)
}

// githubAdapter reads the public profile. A private email is absent from
// /user and federation fails; /user/emails is not consulted.
type githubAdapter struct{}

func (githubAdapter) Email(a Attributes) string      { return a.String("email") }
func (githubAdapter) ProviderID(a Attributes) string { return a.String("id") }
func (githubAdapter) Name(a Attributes) string       { return a.String("name") }
func (githubAdapter) Username(a Attributes) string {
	if login := a.String("login"); login != "" {
		return login
	}
	return localPart(a.String("email"))
}

type googleAdapter struct{}

func (googleAdapter) Email(a Attributes) string      { return a.String("email") }
func (googleAdapter) ProviderID(a Attributes) string { return a.String("sub") }
func (googleAdapter) Name(a Attributes) string       { return a.String("name") }
func (googleAdapter) Username(a Attributes) string   { return localPart(a.String("email")) }

type facebookAdapter struct{}

func (facebookAdapter) Email(a Attributes) string      { return a.String("email") }
func (facebookAdapter) ProviderID(a Attributes) string { return a.String("id") }
func (facebookAdapter) Name(a Attributes) string       { return a.String("name") }
func (facebookAdapter) Username(a Attributes) string {
	if id := a.String("id"); id != "" {
		return "fb_user_" + id
	}
	return ""
}

type appleAdapter struct{}

func (appleAdapter) Email(a Attributes) string      { return a.String("email") }
func (appleAdapter) ProviderID(a Attributes) string { return a.String("sub") }
func (appleAdapter) Name(a Attributes) string       { return a.String("name") }
func (appleAdapter) Username(a Attributes) string {
	sub := a.String("sub")
	if sub == "" {
		return ""
	}
	return "apple_user_" + sub[:min(8, len(sub))]
}

func localPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// Identity is the provider-neutral view of an external account.
type Identity struct {
	Provider   Provider
	ProviderID string
	Email      string
	Username   string
	Name       string
	Attributes Attributes
}

// Extract applies the provider's adapter. An identity without an email
// cannot be linked and fails with ErrEmailUnavailable.
func Extract(p Provider, attrs Attributes) (*Identity, error) {
	ad, err := AdapterFor(p)
	if err != nil {
		return nil, err
	}
	id := &Identity{
		Provider:   p,
		ProviderID: ad.ProviderID(attrs),
		Email:      ad.Email(attrs),
		Username:   ad.Username(attrs),
		Name:       ad.Name(attrs),
		Attributes: attrs,
	}
	if id.Email == "" {
		return nil, fmt.Errorf("%w from %s", ErrEmailUnavailable, p)
	}
	if id.ProviderID == "" {
		return nil, fmt.Errorf("%w from %s", ErrMissingProviderID, p)
	}
	if id.Username == "" {
		id.Username = string(p) + "_user"
	}
	return id, nil
}
