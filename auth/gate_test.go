package auth

import (
	"errors"
	"testing"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		claims   *Claims
		required string
		want     error
	}{
		{name: "granted", claims: &Claims{Permissions: []string{"get:drinks-detail", "post:drinks"}}, required: "post:drinks"},
		{name: "nil claims", claims: nil, required: "post:drinks", want: ErrNoPermissionsClaim},
		{name: "claim absent", claims: &Claims{Subject: "u"}, required: "post:drinks", want: ErrNoPermissionsClaim},
		{name: "empty claim", claims: &Claims{Permissions: []string{}}, required: "post:drinks", want: ErrMissingPermission},
		{name: "not granted", claims: &Claims{Permissions: []string{"get:drinks-detail"}}, required: "post:drinks", want: ErrMissingPermission},
		{name: "case sensitive", claims: &Claims{Permissions: []string{"POST:drinks"}}, required: "post:drinks", want: ErrMissingPermission},
		{name: "no prefix match", claims: &Claims{Permissions: []string{"post:drinks-all"}}, required: "post:drinks", want: ErrMissingPermission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.claims, tt.required)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
}
