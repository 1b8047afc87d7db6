package static

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

const indexHTML = `<!doctype html><html><head><title>Chat</title></head><body><div id="app"></div></body></html>`

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":           {Data: []byte(indexHTML)},
		"main.js":              {Data: []byte("console.log('chat')")},
		"styles/site.css":      {Data: []byte("body{}")},
		"docs/index.html":      {Data: []byte("<p>docs</p>")},
		"partials/header.html": {Data: []byte("<header></header>")},
	}
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestHandler(t *testing.T) {
	h := New(testFS(), "")

	tests := []struct {
		name         string
		path         string
		wantStatus   int
		wantContains string
		wantType     string
	}{
		{"root serves index", "/", http.StatusOK, `<div id="app">`, "text/html; charset=utf-8"},
		{"index by name", "/index.html", http.StatusOK, `<div id="app">`, "text/html; charset=utf-8"},
		{"script", "/main.js", http.StatusOK, "console.log", ""},
		{"nested asset", "/styles/site.css", http.StatusOK, "body{}", ""},
		{"client route falls back", "/rooms/42", http.StatusOK, `<div id="app">`, "text/html; charset=utf-8"},
		{"missing html falls back", "/about.html", http.StatusOK, `<div id="app">`, "text/html; charset=utf-8"},
		{"missing asset is 404", "/missing.js", http.StatusNotFound, "404", ""},
		{"directory index", "/docs/", http.StatusOK, "<p>docs</p>", "text/html; charset=utf-8"},
		{"other html file", "/partials/header.html", http.StatusOK, "<header>", "text/html; charset=utf-8"},
		{"traversal stays in root", "/../../etc/passwd", http.StatusOK, `<div id="app">`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(h, http.MethodGet, tt.path)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantContains)
			if tt.wantType != "" {
				assert.Equal(t, tt.wantType, w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestHandler_DirectoryRedirect(t *testing.T) {
	w := serve(New(testFS(), ""), http.MethodGet, "/docs")
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "/docs/", w.Header().Get("Location"))
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	w := serve(New(testFS(), ""), http.MethodPost, "/")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "GET, HEAD", w.Header().Get("Allow"))
}

func TestHandler_NoIndex(t *testing.T) {
	h := New(fstest.MapFS{"main.js": {Data: []byte("x")}}, "")
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/rooms").Code)
}

func TestHandler_DirectoryWithoutIndexIsNotListed(t *testing.T) {
	for _, target := range []string{"/styles/", "/styles"} {
		w := serve(New(testFS(), ""), http.MethodGet, target)
		assert.Equal(t, http.StatusOK, w.Code, target)
		assert.Contains(t, w.Body.String(), `<div id="app">`, target)
		assert.NotContains(t, w.Body.String(), "site.css", target)
	}

	noIndex := New(fstest.MapFS{"assets/app.js": {Data: []byte("x")}}, "")
	w := serve(noIndex, http.MethodGet, "/assets/")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, w.Body.String(), "app.js")
}

func TestHandler_InjectsSnippet(t *testing.T) {
	snippet := `<script src="/__devserver/client.js"></script>`
	h := New(testFS(), snippet)

	w := serve(h, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), snippet+"</head>")
	assert.Empty(t, w.Header().Get("Last-Modified"))

	// Non-HTML files are untouched.
	w = serve(h, http.MethodGet, "/main.js")
	assert.NotContains(t, w.Body.String(), snippet)
}

func TestInject(t *testing.T) {
	const s = "<x>"
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"before head close", "<html><head></head><body></body></html>", "<html><head><x></head><body></body></html>"},
		{"case insensitive", "<HTML><HEAD></HEAD></HTML>", "<HTML><HEAD><x></HEAD></HTML>"},
		{"before body close", "<body><p>hi</p></body>", "<body><p>hi</p><x></body>"},
		{"appended", "<p>fragment</p>", "<p>fragment</p><x>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(Inject([]byte(tt.doc), s)))
		})
	}
}
