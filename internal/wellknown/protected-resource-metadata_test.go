package wellknown

import (
	"encoding/json"
	"testing"
)

func TestNewProtectedResourceMetadata(t *testing.T) {
	scopes := []string{"post:drinks"}
	md := NewProtectedResourceMetadata("https://api.example.test", "https://issuer.example.test/", "", scopes)
	scopes[0] = "mutated"

	raw, err := json.Marshal(md)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["resource"] != "https://api.example.test" {
		t.Fatalf("unexpected resource %v", got["resource"])
	}
	if _, ok := got["jwks_uri"]; ok {
		t.Fatalf("empty jwks_uri must be omitted")
	}
	if _, ok := got["resource_signing_alg_values_supported"]; ok {
		t.Fatalf("the resource does not sign responses, got %v", got["resource_signing_alg_values_supported"])
	}
	if s := got["scopes_supported"].([]any); len(s) != 1 || s[0] != "post:drinks" {
		t.Fatalf("scopes must be copied, got %v", s)
	}
	if as := got["authorization_servers"].([]any); len(as) != 1 || as[0] != "https://issuer.example.test/" {
		t.Fatalf("unexpected authorization servers %v", as)
	}
	if bm := got["bearer_methods_supported"].([]any); len(bm) != 1 || bm[0] != "header" {
		t.Fatalf("unexpected bearer methods %v", bm)
	}
}
