// Package wellknown holds the discovery documents served under /.well-known/.
package wellknown

import "slices"

// ProtectedResourcePath is where the protected resource metadata document is served.
const ProtectedResourcePath = "/.well-known/oauth-protected-resource"

// ProtectedResourceMetadata is the OAuth 2.0 Protected Resource Metadata
// document (RFC 9728) advertised to clients of the drinks API.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	JwksURI                string   `json:"jwks_uri,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
}

// NewProtectedResourceMetadata describes resource as accepting header bearer
// tokens minted by issuer. Tokens are expected to carry one of scopes in
// their permissions claim.
func NewProtectedResourceMetadata(resource, issuer, jwksURI string, scopes []string) ProtectedResourceMetadata {
	md := ProtectedResourceMetadata{
		Resource:               resource,
		JwksURI:                jwksURI,
		ScopesSupported:        slices.Clone(scopes),
		BearerMethodsSupported: []string{"header"},
		ResourceName:           "drinks",
	}
	if issuer != "" {
		md.AuthorizationServers = []string{issuer}
	}
	return md
}
