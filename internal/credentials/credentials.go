// Package credentials resolves authentication profiles from deployment
// target properties.
package credentials

import (
	"fmt"
	"sort"
	"strings"
)

// AuthType is the authentication scheme used against a remote endpoint.
type AuthType string

const (
	AuthTypeNone    AuthType = "NONE"
	AuthTypeBasic   AuthType = "BASIC"
	AuthTypeOAuth2  AuthType = "OAUTH2"
	AuthTypeSession AuthType = "SESSION"
)

// Property keys read from a deployment target.
const (
	PropertyAuthenticationType = "authenticationType"
	PropertyUsername           = "username"
	PropertyPassword           = "password"
	PropertyAccessTokenURI     = "accessTokenUri"
	PropertyClientID           = "client_id"
	PropertyClientSecret       = "client_secret"
	PropertyScope              = "scope"
	PropertyGrantType          = "grant_type"
	PropertyAuthenticationURL  = "authenticationUrl"
	PropertyUsernameTokenName  = "usernameTokenName"
	PropertyPasswordTokenName  = "passwordTokenName"
)

const (
	DefaultGrantType         = "client_credentials"
	DefaultUsernameTokenName = "IDToken1"
	DefaultPasswordTokenName = "IDToken2"
)

var requiredFields = map[AuthType][]string{
	AuthTypeNone:    nil,
	AuthTypeBasic:   {PropertyUsername, PropertyPassword},
	AuthTypeOAuth2:  {PropertyAccessTokenURI, PropertyClientID, PropertyClientSecret},
	AuthTypeSession: {PropertyAuthenticationURL, PropertyUsername, PropertyPassword},
}

// ConfigError reports an unusable credential configuration. It is never
// retried.
type ConfigError struct {
	AuthType AuthType
	Missing  []string
	Reason   string
}

func (e *ConfigError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("invalid %s authentication configuration: missing required properties [%s]",
			e.AuthType, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("invalid authentication configuration: %s", e.Reason)
}

// Profile is a validated set of credentials. It is derived on demand and
// never stored by the resolver.
type Profile struct {
	AuthType AuthType
	Fields   map[string]string
}

// Get returns a field value.
func (p Profile) Get(name string) string {
	return p.Fields[name]
}

// Scopes splits the comma separated scope field.
func (p Profile) Scopes() []string {
	raw := p.Fields[PropertyScope]
	if raw == "" {
		return nil
	}
	var scopes []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// GrantType returns the OAuth2 grant type, defaulting to client_credentials.
func (p Profile) GrantType() string {
	if gt := p.Fields[PropertyGrantType]; gt != "" {
		return gt
	}
	return DefaultGrantType
}

// UsernameTokenName is the form field carrying the username on session login.
func (p Profile) UsernameTokenName() string {
	if n := p.Fields[PropertyUsernameTokenName]; n != "" {
		return n
	}
	return DefaultUsernameTokenName
}

// PasswordTokenName is the form field carrying the password on session login.
func (p Profile) PasswordTokenName() string {
	if n := p.Fields[PropertyPasswordTokenName]; n != "" {
		return n
	}
	return DefaultPasswordTokenName
}

// ParseAuthType maps a property value to an AuthType. An empty value means
// no authentication; COOKIE is accepted as an alias for SESSION.
func ParseAuthType(value string) (AuthType, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", string(AuthTypeNone):
		return AuthTypeNone, nil
	case string(AuthTypeBasic):
		return AuthTypeBasic, nil
	case string(AuthTypeOAuth2):
		return AuthTypeOAuth2, nil
	case string(AuthTypeSession), "COOKIE":
		return AuthTypeSession, nil
	default:
		return "", &ConfigError{Reason: fmt.Sprintf("unknown authentication type %q", value)}
	}
}

// Resolve extracts and validates a Profile from target properties.
func Resolve(properties map[string]string) (Profile, error) {
	authType, err := ParseAuthType(properties[PropertyAuthenticationType])
	if err != nil {
		return Profile{}, err
	}

	var missing []string
	for _, field := range requiredFields[authType] {
		if strings.TrimSpace(properties[field]) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Profile{}, &ConfigError{AuthType: authType, Missing: missing}
	}

	fields := make(map[string]string, len(properties))
	for k, v := range properties {
		fields[k] = v
	}
	return Profile{AuthType: authType, Fields: fields}, nil
}

// ResolveRestricted resolves a Profile and rejects auth types outside allowed.
func ResolveRestricted(properties map[string]string, allowed ...AuthType) (Profile, error) {
	profile, err := Resolve(properties)
	if err != nil {
		return Profile{}, err
	}
	for _, a := range allowed {
		if profile.AuthType == a {
			return profile, nil
		}
	}
	return Profile{}, &ConfigError{
		AuthType: profile.AuthType,
		Reason:   fmt.Sprintf("authentication type %s is not supported here", profile.AuthType),
	}
}
