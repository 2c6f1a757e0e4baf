package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/ggoodman/drinkshop/auth"
	"github.com/ggoodman/drinkshop/auth/authtest"
	"github.com/ggoodman/drinkshop/drinks"
	"github.com/ggoodman/drinkshop/drinks/memory"
	"github.com/ggoodman/drinkshop/internal/wellknown"
)

type apiBody struct {
	Success bool              `json:"success"`
	Error   int               `json:"error"`
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Delete  int64             `json:"delete"`
	Drinks  []json.RawMessage `json:"drinks"`
}

type testServer struct {
	srv   *httptest.Server
	iss   *authtest.Issuer
	store drinks.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	iss := authtest.NewIssuer(t, "drinks")
	p, err := auth.SecurityConfig{Issuer: iss.URL, Audience: iss.Audience, JWKSURL: iss.JWKSURL()}.NewProvider(auth.WithHTTPClient(iss.Client()))
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	store := memory.New()
	h, err := New(store, auth.NewAuthorizer(p, auth.WithRealm("drinks")))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, iss: iss, store: store}
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) (*http.Response, apiBody) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var out apiBody
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode body %q: %v", raw, err)
		}
	}
	return res, out
}

func (ts *testServer) seed(t *testing.T, d drinks.Drink) drinks.Drink {
	t.Helper()
	created, err := ts.store.Create(context.Background(), d)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return created
}

func expectStatus(t *testing.T, res *http.Response, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("want status %d, got %d", want, res.StatusCode)
	}
}

func expectError(t *testing.T, res *http.Response, body apiBody, want int) {
	t.Helper()
	expectStatus(t, res, want)
	if body.Success || body.Error != want || body.Message == "" {
		t.Fatalf("unexpected error envelope: %+v", body)
	}
}

func TestEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, drinks.Sample())

	// Public listing uses the short form.
	res, body := ts.do(t, http.MethodGet, "/drinks", "", "")
	expectStatus(t, res, http.StatusOK)
	if !body.Success || len(body.Drinks) != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
	if strings.Contains(string(body.Drinks[0]), `"name"`) {
		t.Fatalf("short form leaked ingredient names: %s", body.Drinks[0])
	}

	res, body = ts.do(t, http.MethodGet, "/drinks-detail", "", "")
	expectError(t, res, body, http.StatusUnauthorized)
	if body.Code != string(auth.CodeMissingToken) {
		t.Fatalf("want missing_token, got %q", body.Code)
	}
	if res.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("missing challenge")
	}

	res, body = ts.do(t, http.MethodGet, "/drinks-detail", ts.iss.Token(t, PermPostDrinks), "")
	expectError(t, res, body, http.StatusUnauthorized)
	if body.Code != string(auth.CodeMissingPermission) {
		t.Fatalf("want missing_permission, got %q", body.Code)
	}

	res, body = ts.do(t, http.MethodGet, "/drinks-detail", ts.iss.Token(t, PermGetDrinksDetail), "")
	expectStatus(t, res, http.StatusOK)
	if len(body.Drinks) != 1 || !strings.Contains(string(body.Drinks[0]), `"name":"water"`) {
		t.Fatalf("detail should use the long form: %+v", body)
	}

	res, body = ts.do(t, http.MethodPost, "/drinks", ts.iss.Token(t, PermPostDrinks),
		`{"title":"Latte","recipe":[{"name":"espresso","color":"brown","parts":1},{"name":"milk","color":"white","parts":3}]}`)
	expectStatus(t, res, http.StatusOK)
	if !body.Success || len(body.Drinks) != 1 {
		t.Fatalf("unexpected create body: %+v", body)
	}
	var created drinks.Drink
	if err := json.Unmarshal(body.Drinks[0], &created); err != nil {
		t.Fatalf("decode created drink: %v", err)
	}
	if created.ID == 0 || created.Title != "Latte" || len(created.Recipe) != 2 || created.Recipe[0].Name != "espresso" {
		t.Fatalf("unexpected created drink: %+v", created)
	}

	res, body = ts.do(t, http.MethodGet, "/drinks", "", "")
	expectStatus(t, res, http.StatusOK)
	if len(body.Drinks) != 2 {
		t.Fatalf("want 2 drinks, got %d", len(body.Drinks))
	}
}

func TestCreateDrink_Rejections(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, drinks.Sample())
	tok := ts.iss.Token(t, PermPostDrinks)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "not json", body: `{oops`, want: http.StatusUnprocessableEntity},
		{name: "missing title", body: `{"recipe":[{"name":"a","color":"b","parts":1}]}`, want: http.StatusUnprocessableEntity},
		{name: "empty recipe", body: `{"title":"x","recipe":[]}`, want: http.StatusUnprocessableEntity},
		{name: "zero parts", body: `{"title":"x","recipe":[{"name":"a","color":"b","parts":0}]}`, want: http.StatusUnprocessableEntity},
		{name: "duplicate title", body: `{"title":"water","recipe":[{"name":"a","color":"b","parts":1}]}`, want: http.StatusUnprocessableEntity},
		{name: "wrong field type", body: `{"title":1,"recipe":[]}`, want: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, body := ts.do(t, http.MethodPost, "/drinks", tok, tt.body)
			expectError(t, res, body, tt.want)
		})
	}

	all, err := ts.store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("rejected creates must not persist, have %d drinks", len(all))
	}
}

func TestCreateDrink_ContentType(t *testing.T) {
	ts := newTestServer(t)
	req, _ := http.NewRequest(http.MethodPost, ts.srv.URL+"/drinks", strings.NewReader(`{"title":"x"}`))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+ts.iss.Token(t, PermPostDrinks))
	res, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	expectStatus(t, res, http.StatusUnsupportedMediaType)
}

func TestCreateDrink_BodyTooLarge(t *testing.T) {
	iss := authtest.NewIssuer(t, "drinks")
	p, err := auth.SecurityConfig{Issuer: iss.URL, Audience: iss.Audience, JWKSURL: iss.JWKSURL()}.NewProvider(auth.WithHTTPClient(iss.Client()))
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	h, err := New(memory.New(), auth.NewAuthorizer(p), WithMaxBodyBytes(16))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/drinks", strings.NewReader(`{"title":"a much longer title than sixteen bytes","recipe":[]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+iss.Token(t, PermPostDrinks))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("want 413, got %d", rec.Code)
	}
}

func TestUpdateDrink(t *testing.T) {
	ts := newTestServer(t)
	d := ts.seed(t, drinks.Sample())
	tok := ts.iss.Token(t, PermPatchDrinks)
	path := "/drinks/" + strconv.FormatInt(d.ID, 10)

	res, body := ts.do(t, http.MethodPatch, path, tok, `{"title":"sparkling water"}`)
	expectStatus(t, res, http.StatusOK)
	var updated drinks.Drink
	if err := json.Unmarshal(body.Drinks[0], &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.ID != d.ID || updated.Title != "sparkling water" {
		t.Fatalf("unexpected update: %+v", updated)
	}
	if len(updated.Recipe) != 1 || updated.Recipe[0] != d.Recipe[0] {
		t.Fatalf("patch without recipe must keep recipe: %+v", updated.Recipe)
	}

	res, body = ts.do(t, http.MethodPatch, path, tok, `{"recipe":[{"name":"ice","color":"white","parts":3}]}`)
	expectStatus(t, res, http.StatusOK)
	if err := json.Unmarshal(body.Drinks[0], &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Title != "sparkling water" || updated.Recipe[0].Name != "ice" {
		t.Fatalf("unexpected update: %+v", updated)
	}

	res, body = ts.do(t, http.MethodPatch, "/drinks/999", tok, `{"title":"ghost"}`)
	expectError(t, res, body, http.StatusNotFound)

	res, body = ts.do(t, http.MethodPatch, path, tok, `{}`)
	expectError(t, res, body, http.StatusUnprocessableEntity)

	res, body = ts.do(t, http.MethodPatch, "/drinks/999", tok, `{}`)
	expectError(t, res, body, http.StatusNotFound)

	res, body = ts.do(t, http.MethodPatch, "/drinks/abc", tok, `{"title":"ghost"}`)
	expectError(t, res, body, http.StatusNotFound)

	res, body = ts.do(t, http.MethodPatch, path, tok, `{"recipe":[{"name":"","color":"white","parts":3}]}`)
	expectError(t, res, body, http.StatusUnprocessableEntity)

	res, body = ts.do(t, http.MethodPatch, path, ts.iss.Token(t, PermPostDrinks), `{"title":"nope"}`)
	expectError(t, res, body, http.StatusUnauthorized)
	if body.Code != string(auth.CodeMissingPermission) {
		t.Fatalf("want missing_permission, got %q", body.Code)
	}
}

func TestDeleteDrink(t *testing.T) {
	ts := newTestServer(t)
	d := ts.seed(t, drinks.Sample())
	tok := ts.iss.Token(t, PermDeleteDrinks)
	path := "/drinks/" + strconv.FormatInt(d.ID, 10)

	res, body := ts.do(t, http.MethodDelete, path, "", "")
	expectError(t, res, body, http.StatusUnauthorized)

	res, body = ts.do(t, http.MethodDelete, path, tok, "")
	expectStatus(t, res, http.StatusOK)
	if !body.Success || body.Delete != d.ID {
		t.Fatalf("unexpected delete body: %+v", body)
	}

	res, body = ts.do(t, http.MethodDelete, path, tok, "")
	expectError(t, res, body, http.StatusNotFound)

	res, body = ts.do(t, http.MethodGet, "/drinks", "", "")
	expectStatus(t, res, http.StatusOK)
	if len(body.Drinks) != 0 {
		t.Fatalf("want empty listing, got %d", len(body.Drinks))
	}
}

func TestRouting(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
		allow  string
	}{
		{name: "unknown path", method: http.MethodGet, path: "/cocktails", want: http.StatusNotFound},
		{name: "put drinks", method: http.MethodPut, path: "/drinks", want: http.StatusMethodNotAllowed, allow: "GET, POST, OPTIONS"},
		{name: "post detail", method: http.MethodPost, path: "/drinks-detail", want: http.StatusMethodNotAllowed, allow: "GET, OPTIONS"},
		{name: "get by id", method: http.MethodGet, path: "/drinks/1", want: http.StatusMethodNotAllowed, allow: "PATCH, DELETE, OPTIONS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, body := ts.do(t, tt.method, tt.path, "", "")
			expectError(t, res, body, tt.want)
			if got := res.Header.Get("Allow"); got != tt.allow {
				t.Fatalf("want Allow %q, got %q", tt.allow, got)
			}
		})
	}
}

func TestPreflight(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/drinks", "/drinks-detail", "/drinks/7"} {
		t.Run(path, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodOptions, ts.srv.URL+path, nil)
			req.Header.Set("Origin", "https://example.test")
			req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
			res, err := ts.srv.Client().Do(req)
			if err != nil {
				t.Fatalf("options: %v", err)
			}
			res.Body.Close()
			expectStatus(t, res, http.StatusNoContent)
			if got := res.Header.Get("Access-Control-Allow-Origin"); got != "*" {
				t.Fatalf("want wildcard origin, got %q", got)
			}
			if got := res.Header.Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Authorization") {
				t.Fatalf("allow headers missing Authorization: %q", got)
			}
			if got := res.Header.Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PATCH") {
				t.Fatalf("allow methods missing PATCH: %q", got)
			}
		})
	}
}

func TestResponseHeaders(t *testing.T) {
	ts := newTestServer(t)

	res, _ := ts.do(t, http.MethodGet, "/healthz", "", "")
	expectStatus(t, res, http.StatusOK)
	first := res.Header.Get(requestIDHeader)
	if first == "" {
		t.Fatalf("missing request id")
	}
	res, _ = ts.do(t, http.MethodGet, "/healthz", "", "")
	if second := res.Header.Get(requestIDHeader); second == "" || second == first {
		t.Fatalf("request ids must be unique, got %q and %q", first, second)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("missing CORS header on plain response")
	}
}

func TestNotAcceptable(t *testing.T) {
	ts := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/drinks", nil)
	req.Header.Set("Accept", "text/html")
	res, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	expectStatus(t, res, http.StatusNotAcceptable)

	req, _ = http.NewRequest(http.MethodGet, ts.srv.URL+"/drinks", nil)
	req.Header.Set("Accept", "text/html, application/*;q=0.5")
	res2, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res2.Body.Close()
	expectStatus(t, res2, http.StatusOK)
}

func TestNotAcceptable_AfterAuthorization(t *testing.T) {
	ts := newTestServer(t)
	get := func(token string) (*http.Response, apiBody) {
		t.Helper()
		req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/drinks-detail", nil)
		req.Header.Set("Accept", "text/plain")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		res, err := ts.srv.Client().Do(req)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer res.Body.Close()
		var body apiBody
		if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return res, body
	}

	res, body := get("")
	expectError(t, res, body, http.StatusUnauthorized)
	if body.Code != string(auth.CodeMissingToken) {
		t.Fatalf("want missing_token, got %q", body.Code)
	}

	res, body = get(ts.iss.Token(t, PermPostDrinks))
	expectError(t, res, body, http.StatusForbidden)

	res, body = get(ts.iss.Token(t, PermGetDrinksDetail))
	expectError(t, res, body, http.StatusNotAcceptable)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, auth.NewAuthorizer(nil)); err == nil {
		t.Fatalf("expected error for nil store")
	}
	if _, err := New(memory.New(), nil); err == nil {
		t.Fatalf("expected error for nil authorizer")
	}
}

func TestProtectedResourceMetadata(t *testing.T) {
	ts := newTestServer(t)
	res, _ := ts.do(t, http.MethodGet, wellknown.ProtectedResourcePath, "", "")
	expectStatus(t, res, http.StatusNotFound)

	md := wellknown.NewProtectedResourceMetadata("https://drinks.example.test", ts.iss.URL, ts.iss.JWKSURL(), Permissions())
	h, err := New(memory.New(), auth.NewAuthorizer(nil), WithProtectedResourceMetadata(md))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, wellknown.ProtectedResourcePath, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var got wellknown.ProtectedResourceMetadata
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Resource != md.Resource || got.JwksURI != ts.iss.JWKSURL() || len(got.ScopesSupported) != 4 {
		t.Fatalf("unexpected metadata: %+v", got)
	}
}
