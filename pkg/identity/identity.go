// Package identity carries the authenticated caller from the gateway to
// downstream services as plain request headers.
package identity

import (
	"net/http"
	"strings"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserName  = "X-User-Name"
	HeaderUserRoles = "X-User-Roles"
)

type Identity struct {
	UserID   string
	Username string
	Roles    []string
}

func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Strip removes identity headers. The gateway calls it on every inbound
// request so clients cannot assert an identity themselves.
func Strip(h http.Header) {
	h.Del(HeaderUserID)
	h.Del(HeaderUserName)
	h.Del(HeaderUserRoles)
}

func Apply(h http.Header, id Identity) {
	Strip(h)
	h.Set(HeaderUserID, id.UserID)
	h.Set(HeaderUserName, id.Username)
	h.Set(HeaderUserRoles, strings.Join(id.Roles, ","))
}

// FromHeaders reads the identity set by the gateway. ok is false when no
// user id is present.
func FromHeaders(h http.Header) (id Identity, ok bool) {
	id.UserID = h.Get(HeaderUserID)
	if id.UserID == "" {
		return Identity{}, false
	}
	id.Username = h.Get(HeaderUserName)
	for _, r := range strings.Split(h.Get(HeaderUserRoles), ",") {
		if r = strings.TrimSpace(r); r != "" {
			id.Roles = append(id.Roles, r)
		}
	}
	return id, true
}
