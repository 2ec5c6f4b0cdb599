package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/resume-tailor/internal/config"
	"github.com/jonathan/resume-tailor/internal/db/sqlite"
	"github.com/jonathan/resume-tailor/internal/llm"
	"github.com/jonathan/resume-tailor/internal/server/ratelimit"
)

// stubLLM answers every prompt with reply.
type stubLLM struct {
	reply func(prompt string) (string, error)
}

func (m *stubLLM) GenerateContent(_ context.Context, prompt string, _ llm.ModelTier) (string, error) {
	if m.reply == nil {
		return "", errors.New("no reply configured")
	}
	return m.reply(prompt)
}

func (m *stubLLM) GenerateJSON(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
	return m.GenerateContent(ctx, prompt, tier)
}

func (m *stubLLM) GetModel(llm.ModelTier) string { return "gemma3:1b" }

func (m *stubLLM) Close() error { return nil }

// listingLLM is a stubLLM that can list installed models, as Ollama does.
type listingLLM struct {
	stubLLM
	models []string
	err    error
}

func (m *listingLLM) ListModels(context.Context) ([]string, error) {
	return m.models, m.err
}

type fakeUploader struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (u *fakeUploader) Upload(_ context.Context, name, _ string, _ []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	key := "exports/" + name
	u.keys = append(u.keys, key)
	return key, nil
}

func newTestServer(t *testing.T, mutate ...func(*Config)) *Server {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)

	cfg := Config{
		Store:     store,
		LLM:       &stubLLM{},
		Provider:  llm.ProviderOllama,
		JWT:       &config.JWTConfig{Secret: "test-secret-at-least-16", ExpirationHours: 1},
		RateLimit: &ratelimit.Config{Enabled: false},
		FS:        afero.NewMemMapFs(),
	}
	for _, m := range mutate {
		m(&cfg)
	}

	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func do(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

type viewBody struct {
	SessionID string          `json:"session_id"`
	Token     string          `json:"token"`
	State     json.RawMessage `json:"state"`
	Fragment  string          `json:"fragment"`
	Available []string        `json:"available"`
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) viewBody {
	t.Helper()
	var v viewBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func createSession(t *testing.T, s *Server) viewBody {
	t.Helper()
	w := do(t, s, http.MethodPost, "/sessions", "", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeView(t, w)
}

func advance(t *testing.T, s *Server, v viewBody, step string, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, s, http.MethodPost, "/sessions/"+v.SessionID+"/advance", v.Token,
		map[string]any{"step": step, "payload": payload})
}

func TestCreateSession(t *testing.T) {
	s := newTestServer(t)

	v := createSession(t, s)
	assert.NotEmpty(t, v.Token)
	assert.JSONEq(t, `{"step":"start"}`, string(v.State))
	assert.Equal(t, "", v.Fragment)
	assert.Equal(t, []string{"display"}, v.Available)

	w := do(t, s, http.MethodGet, "/sessions/"+v.SessionID, v.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeView(t, w)
	assert.Empty(t, got.Token, "token is only issued on create")
	assert.Equal(t, v.SessionID, got.SessionID)
}

func TestSessionAuth(t *testing.T) {
	s := newTestServer(t)
	a := createSession(t, s)
	b := createSession(t, s)

	w := do(t, s, http.MethodGet, "/sessions/"+a.SessionID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodGet, "/sessions/"+a.SessionID, "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodGet, "/sessions/"+a.SessionID, b.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdvanceAndRetreat(t *testing.T) {
	s := newTestServer(t)
	v := createSession(t, s)

	w := advance(t, s, v, "display", map[string]any{"resume_text": "Jane Roe\nGo developer"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decodeView(t, w)
	assert.Equal(t, "display", got.Fragment)
	assert.JSONEq(t, `{"step":"display","resume_text":"Jane Roe\nGo developer"}`, string(got.State))
	assert.ElementsMatch(t, []string{"processing", "job_description"}, got.Available)

	w = advance(t, s, v, "job_description", map[string]any{"job_description": "Go role"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = advance(t, s, v, "editor", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got = decodeView(t, w)
	assert.Equal(t, "main", got.Fragment)
	assert.Empty(t, got.Available)
	assert.NotNil(t, got.Available)

	// editor -> back skips ats_review, which has no gaps
	w = do(t, s, http.MethodPost, "/sessions/"+v.SessionID+"/retreat", v.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "job", decodeView(t, w).Fragment)

	w = do(t, s, http.MethodPost, "/sessions/"+v.SessionID+"/reset", v.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"step":"start"}`, string(decodeView(t, w).State))

	w = do(t, s, http.MethodPost, "/sessions/"+v.SessionID+"/retreat", v.Token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdvance_Rejected(t *testing.T) {
	s := newTestServer(t)
	v := createSession(t, s)

	w := advance(t, s, v, "editor", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "advance", body["op"])
	assert.Equal(t, "start", body["from"])
	assert.Equal(t, "editor", body["to"])
	assert.NotEmpty(t, body["reason"])

	w = advance(t, s, v, "display", map[string]any{"resume_text": ""})
	assert.Equal(t, http.StatusConflict, w.Code, "display requires resume text")

	w = advance(t, s, v, "summary", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/sessions/"+v.SessionID+"/advance", v.Token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// nothing was recorded
	w = do(t, s, http.MethodGet, "/sessions/"+v.SessionID+"/history", v.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Cursor  int               `json:"cursor"`
		Entries []json.RawMessage `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	assert.Equal(t, -1, hist.Cursor)
	assert.Empty(t, hist.Entries)
}

func TestNavigate(t *testing.T) {
	s := newTestServer(t)
	v := createSession(t, s)

	require.Equal(t, http.StatusOK, advance(t, s, v, "display", map[string]any{"resume_text": "Jane"}).Code)
	require.Equal(t, http.StatusOK, advance(t, s, v, "job_description", map[string]any{"job_description": "Go"}).Code)

	nav := func(delta int) viewBody {
		w := do(t, s, http.MethodPost, "/sessions/"+v.SessionID+"/navigate", v.Token, map[string]int{"delta": delta})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		return decodeView(t, w)
	}

	back := nav(-1)
	assert.JSONEq(t, `{"step":"display","resume_text":"Jane"}`, string(back.State))

	fwd := nav(1)
	assert.JSONEq(t, `{"step":"job_description","resume_text":"Jane","job_description":"Go"}`, string(fwd.State))

	// past the end of the log there is no entry: degrade to start
	past := nav(5)
	assert.JSONEq(t, `{"step":"start"}`, string(past.State))

	// the stored entry at the cursor agrees, so a rebuilt controller does too
	w := do(t, s, http.MethodGet, "/sessions/"+v.SessionID+"/history", v.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Cursor  int `json:"cursor"`
		Entries []struct {
			Fragment string `json:"fragment"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	require.Len(t, hist.Entries, 2)
	assert.Equal(t, 1, hist.Cursor)
	assert.Equal(t, "", hist.Entries[1].Fragment)

	s.sessions.remove(uuid.MustParse(v.SessionID))
	w = do(t, s, http.MethodGet, "/sessions/"+v.SessionID, v.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"step":"start"}`, string(decodeView(t, w).State))

	back = nav(-1)
	assert.JSONEq(t, `{"step":"display","resume_text":"Jane"}`, string(back.State))

	w = do(t, s, http.MethodPost, "/sessions/"+v.SessionID+"/navigate", v.Token, map[string]int{"delta": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFragmentAndLoad(t *testing.T) {
	s := newTestServer(t)
	v := createSession(t, s)
	require.Equal(t, http.StatusOK, advance(t, s, v, "display", map[string]any{"resume_text": "Jane"}).Code)

	// unknown fragments are ignored
	w := do(t, s, http.MethodPost, "/sessions/"+v.SessionID+"/fragment", v.Token, map[string]string{"fragment": "#nowhere"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "display", decodeView(t, w).Fragment)

	w = do(t, s, http.MethodPost, "/sessions/"+v.SessionID+"/fragment", v.Token, map[string]string{"fragment": ""})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"step":"start"}`, string(decodeView(t, w).State))

	// reload with the recorded entry replays it
	w = do(t, s, http.MethodPost, "/sessions/"+v.SessionID+"/load", v.Token, map[string]any{"fragment": "", "has_entry": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"step":"start"}`, string(decodeView(t, w).State))

	// a bookmarked deep link without an entry starts over
	w = do(t, s, http.MethodPost, "/sessions/"+v.SessionID+"/load", v.Token, map[string]any{"fragment": "#main"})
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeView(t, w)
	assert.JSONEq(t, `{"step":"start"}`, string(got.State))
	assert.Equal(t, "", got.Fragment)
}

func TestSessionReloadedAfterEviction(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.MaxSessions = 1 })

	a := createSession(t, s)
	require.Equal(t, http.StatusOK, advance(t, s, a, "display", map[string]any{"resume_text": "Jane"}).Code)

	b := createSession(t, s)
	assert.Equal(t, 1, s.sessions.len())

	w := do(t, s, http.MethodGet, "/sessions/"+a.SessionID, a.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"step":"display","resume_text":"Jane"}`, string(decodeView(t, w).State))

	w = do(t, s, http.MethodGet, "/sessions/"+b.SessionID, b.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"step":"start"}`, string(decodeView(t, w).State))

	// rebuilding a controller is not a navigation
	w = do(t, s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `op="replay"`)
}

func TestDeleteSession(t *testing.T) {
	s := newTestServer(t)
	v := createSession(t, s)

	w := do(t, s, http.MethodDelete, "/sessions/"+v.SessionID, v.Token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, s, http.MethodGet, "/sessions/"+v.SessionID, v.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = advance(t, s, v, "display", map[string]any{"resume_text": "Jane"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodGet, "/sessions/"+v.SessionID+"/history", v.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// openEvents opens the session's event stream on ts and returns a reader
// of (event, data) pairs.
func openEvents(t *testing.T, ts *httptest.Server, v viewBody) func() (string, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		ts.URL+"/sessions/"+v.SessionID+"/events?token="+url.QueryEscape(v.Token), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	return func() (string, string) {
		t.Helper()
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				if name != "" {
					return name, data
				}
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}
}

func TestSessionEvents(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	v := createSession(t, s)

	readEvent := openEvents(t, ts, v)
	name, data := readEvent()
	assert.Equal(t, "state", name)
	assert.Contains(t, data, `"step":"start"`)

	require.Equal(t, http.StatusOK, advance(t, s, v, "display", map[string]any{"resume_text": "Jane"}).Code)
	// rejected transitions are not streamed
	require.Equal(t, http.StatusConflict, advance(t, s, v, "editor", nil).Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/sessions/"+v.SessionID+"/retreat", v.Token, nil).Code)

	name, data = readEvent()
	assert.Equal(t, "advance", name)
	assert.Contains(t, data, `"to":"display"`)

	name, _ = readEvent()
	assert.Equal(t, "retreat", name)
}

func TestSessionEvents_OutliveWriteTimeout(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewUnstartedServer(s.Handler())
	ts.Config.WriteTimeout = 100 * time.Millisecond
	ts.Start()
	t.Cleanup(ts.Close)
	v := createSession(t, s)

	readEvent := openEvents(t, ts, v)
	name, _ := readEvent()
	require.Equal(t, "state", name)

	time.Sleep(300 * time.Millisecond)
	require.Equal(t, http.StatusOK, advance(t, s, v, "display", map[string]any{"resume_text": "Jane"}).Code)

	name, data := readEvent()
	assert.Equal(t, "advance", name)
	assert.Contains(t, data, `"to":"display"`)
}

func TestSessionEvents_ShutdownSendsError(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	v := createSession(t, s)

	readEvent := openEvents(t, ts, v)
	name, _ := readEvent()
	require.Equal(t, "state", name)

	s.streams.closeAll()

	name, data := readEvent()
	assert.Equal(t, "error", name)
	assert.Contains(t, data, "server shutting down")
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name        string
		client      llm.Client
		wantOK      bool
		wantPresent bool
		wantError   bool
	}{
		{name: "hosted provider", client: &stubLLM{}, wantOK: true, wantPresent: true},
		{name: "model installed", client: &listingLLM{models: []string{"llama3:latest", "gemma3:1b"}}, wantOK: true, wantPresent: true},
		{name: "model missing", client: &listingLLM{models: []string{"llama3:latest"}}, wantOK: true},
		{name: "runtime down", client: &listingLLM{err: errors.New("connection refused")}, wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, func(c *Config) { c.LLM = tt.client })

			w := do(t, s, http.MethodGet, "/health", "", nil)
			require.Equal(t, http.StatusOK, w.Code)
			var resp HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "gemma3:1b", resp.Model)
			assert.Equal(t, tt.wantOK, resp.LLMOK)
			assert.Equal(t, tt.wantPresent, resp.ModelPresent)
			assert.Equal(t, tt.wantError, resp.Error != "")
		})
	}
}

func TestTailor(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.LLM = &stubLLM{reply: func(string) (string, error) { return "Tailored Jane", nil }}
	})

	w := do(t, s, http.MethodPost, "/tailor", "", map[string]string{"resume_text": "Jane", "jd_text": "Go"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"tailored":"Tailored Jane","model":"gemma3:1b"}`, w.Body.String())

	w = do(t, s, http.MethodPost, "/tailor", "", map[string]string{"resume_text": " ", "jd_text": "Go"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "resume_text is empty")

	w = do(t, s, http.MethodPost, "/tailor", "", map[string]string{"resume_text": "Jane", "jd_text": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "jd_text is empty")
}

func TestTailor_ProviderDown(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.LLM = &stubLLM{reply: func(string) (string, error) {
			return "", &llm.ProviderError{Provider: llm.ProviderOllama, Message: "connection refused"}
		}}
	})

	w := do(t, s, http.MethodPost, "/tailor", "", map[string]string{"resume_text": "Jane", "jd_text": "Go"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestInferCompany(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.LLM = &stubLLM{reply: func(string) (string, error) { return "Acme Corp.\n", nil }}
	})

	form := url.Values{"jd_text": {"Acme Corp is hiring a Go developer"}}
	req := httptest.NewRequest(http.MethodPost, "/infer-company", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"company":"Acme Corp"}`, w.Body.String())
}

func TestExport(t *testing.T) {
	uploader := &fakeUploader{}
	s := newTestServer(t, func(c *Config) { c.Uploader = uploader })

	w := do(t, s, http.MethodPost, "/export", "", map[string]any{"text": "Jane Roe\nGo developer", "label": "Acme Corp", "fmt": "docx"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, `attachment; filename="resume_acme_corp.docx"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "PK", string(w.Body.Bytes()[:2]), "docx is a zip archive")
	assert.Empty(t, w.Header().Get("X-Export-Key"))

	w = do(t, s, http.MethodPost, "/export", "", map[string]any{"text": "Jane Roe", "fmt": "pdf", "store": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, `attachment; filename="resume_draft.pdf"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF", string(w.Body.Bytes()[:4]))
	assert.Equal(t, "exports/resume_draft.pdf", w.Header().Get("X-Export-Key"))
	assert.Equal(t, []string{"exports/resume_draft.pdf"}, uploader.keys)

	w = do(t, s, http.MethodPost, "/export", "", map[string]any{"text": "Jane", "fmt": "odt"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParse(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "resume.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("Jane Roe\n\n\n• Built Go services\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/parse", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Text, "Jane Roe")
	assert.Contains(t, resp.Text, "Built Go services")

	req = httptest.NewRequest(http.MethodPost, "/parse", strings.NewReader("not multipart"))
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to parse file")
}

func TestParseLocal(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/home/jane/resume.txt", []byte("Jane Roe\nGo developer"), 0o644))
	s := newTestServer(t, func(c *Config) { c.FS = fs })

	w := do(t, s, http.MethodPost, "/parse-local", "", map[string]string{"path": "file:///home/jane/resume.txt"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Go developer")

	w = do(t, s, http.MethodPost, "/parse-local", "", map[string]string{"path": "/missing.pdf"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/parse-local", "", map[string]string{"path": " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseLocal_ConfinedToRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "resume.txt"), []byte("Jane Roe\nGo developer"), 0o644))
	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("top secret"), 0o644))

	s := newTestServer(t, func(c *Config) {
		c.FS = nil
		c.ParseRoot = root
	})

	for _, path := range []string{"resume.txt", filepath.Join(root, "resume.txt"), "file://" + filepath.Join(root, "resume.txt")} {
		w := do(t, s, http.MethodPost, "/parse-local", "", map[string]string{"path": path})
		require.Equal(t, http.StatusOK, w.Code, "path %q: %s", path, w.Body.String())
		assert.Contains(t, w.Body.String(), "Go developer")
	}

	rel, err := filepath.Rel(root, outside)
	require.NoError(t, err)
	for _, path := range []string{outside, rel, "/etc/passwd"} {
		w := do(t, s, http.MethodPost, "/parse-local", "", map[string]string{"path": path})
		assert.Equal(t, http.StatusBadRequest, w.Code, "path %q", path)
		assert.NotContains(t, w.Body.String(), "top secret")
	}
}

func TestParseLocal_DisabledWithoutRoot(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.FS = nil })

	w := do(t, s, http.MethodPost, "/parse-local", "", map[string]string{"path": "/etc/passwd"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "disabled")
}

func TestFetchJob_InvalidURL(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodPost, "/fetch-job", "", map[string]string{"url": "ftp://example.com/job"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/fetch-job", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	v := createSession(t, s)
	require.Equal(t, http.StatusOK, advance(t, s, v, "display", map[string]any{"resume_text": "Jane"}).Code)

	w := do(t, s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `wizard_operations_total{from="start",op="advance",result="ok",to="display"} 1`)
	assert.Contains(t, w.Body.String(), "wizard_active_sessions 1")
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.RateLimit = &ratelimit.Config{
			Enabled:       true,
			DefaultLimit:  1000,
			DefaultWindow: time.Minute,
			EndpointConfigs: []ratelimit.EndpointConfig{
				{Path: "/sessions", Method: http.MethodPost, Limit: 1, Window: time.Minute},
			},
		}
	})

	w := do(t, s, http.MethodPost, "/sessions", "", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w = do(t, s, http.MethodPost, "/sessions", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// health is never limited
	for range 3 {
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", "", nil).Code)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{LLM: &stubLLM{}, JWT: &config.JWTConfig{}})
	assert.ErrorContains(t, err, "store is required")
}

func TestCreateSession_TokenMatchesSession(t *testing.T) {
	s := newTestServer(t)
	v := createSession(t, s)

	getter, err := s.jwtService.ValidateToken(v.Token)
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse(v.SessionID), getter.SessionID)
}
