package model

import (
	"net/url"
	"slices"
	"strings"

	"puzzlepass/internal/domain"
)

// SessionIDPlaceholder is substituted by the provider on redirect.
const SessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// RedirectPolicy restricts where the provider may send the user back to.
type RedirectPolicy struct {
	AppBaseURL     string
	AllowedSchemes []string
}

func (p RedirectPolicy) DefaultSuccessURL() string {
	return strings.TrimRight(p.AppBaseURL, "/") + "/purchase?purchase=success&session_id=" + SessionIDPlaceholder
}

func (p RedirectPolicy) DefaultCancelURL() string {
	return strings.TrimRight(p.AppBaseURL, "/") + "/purchase?purchase=cancel"
}

// Resolve returns raw after validation, or the fallback when raw is empty.
func (p RedirectPolicy) Resolve(raw, fallback, kind string) (string, error) {
	if raw == "" {
		return fallback, nil
	}
	if err := p.Validate(raw, kind); err != nil {
		return "", err
	}
	return raw, nil
}

// Validate accepts web URLs on the app origin and URLs with an allow-listed custom scheme.
func (p RedirectPolicy) Validate(raw, kind string) error {
	filled := strings.Replace(raw, SessionIDPlaceholder, "cs_placeholder", 1)
	u, err := url.Parse(filled)
	if err != nil || u.Scheme == "" {
		return domain.Errorf(domain.CodeInvalidArgument, "Invalid %s.", kind)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "http" || scheme == "https" {
		if u.Host == "" {
			return domain.Errorf(domain.CodeInvalidArgument, "Invalid %s.", kind)
		}
		app, err := url.Parse(p.AppBaseURL)
		if err != nil || app.Host == "" {
			return domain.Errorf(domain.CodeInvalidArgument, "%s origin not allowed.", kind)
		}
		if origin(u) != origin(app) {
			return domain.Errorf(domain.CodeInvalidArgument, "%s origin not allowed. Expected %s", kind, origin(app))
		}
		return nil
	}
	if !slices.Contains(p.AllowedSchemes, scheme) {
		return domain.Errorf(domain.CodeInvalidArgument, "%s scheme not allowed: %s", kind, scheme)
	}
	return nil
}

func origin(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	scheme := strings.ToLower(u.Scheme)
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host
}
