package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"echoes/core/echo"
	"echoes/core/player"
	"echoes/core/session"
	"echoes/repository"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type silentPlayer struct {
	mu      sync.Mutex
	playing bool
}

func (p *silentPlayer) set(v bool) {
	p.mu.Lock()
	p.playing = v
	p.mu.Unlock()
}

func (p *silentPlayer) Play(float64)                   { p.set(true) }
func (p *silentPlayer) Pause(time.Duration, bool)      { p.set(false) }
func (p *silentPlayer) Stop(time.Duration, bool)       { p.set(false) }
func (p *silentPlayer) SetGain(float64, time.Duration) {}
func (p *silentPlayer) ShouldPlay() bool               { return !p.IsPlaying() }
func (p *silentPlayer) ShouldStop(bool) bool           { return p.IsPlaying() }
func (p *silentPlayer) StartSeeking()                  {}
func (p *silentPlayer) StopSeeking(float64)            {}
func (p *silentPlayer) Unload()                        { p.set(false) }
func (p *silentPlayer) Duration() time.Duration        { return 0 }
func (p *silentPlayer) PlayedCount() int               { return 0 }

func (p *silentPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

type silentLoader struct{}

func (silentLoader) Load(context.Context, player.Request) (player.Player, error) {
	return &silentPlayer{}, nil
}

const testDefinitions = `{"collections":[{"_id":"tour","title":"Tour","lat":51.5,"lng":-0.12,"echoes":[
	{"_id":"bells","title":"Bells","shape":"circle","lat":51.5,"lng":-0.12,"radius":50,
	 "elements":[{"_id":"e1","media_href":"bells.mp3","size_bytes":2048}]}
]}]}`

func newTestServer(t *testing.T, secret string) (*httptest.Server, *Authenticator) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "defs.json")
	require.NoError(t, os.WriteFile(path, []byte(testDefinitions), 0o644))
	repo, err := repository.NewFileCollectionRepository(path)
	require.NoError(t, err)

	hub := session.NewHub()
	go hub.Run()
	manager := session.NewManager(context.Background(), repo, silentLoader{}, hub)
	auth := NewAuthenticator(secret)

	srv := httptest.NewServer(NewRouter(NewEchoHandler(manager, repo), auth))
	t.Cleanup(func() {
		srv.Close()
		manager.Close(context.Background())
		hub.Stop()
	})
	return srv, auth
}

func doJSON(t *testing.T, method, url, token, body string, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestLocationFlow(t *testing.T) {
	srv, _ := newTestServer(t, "")
	base := srv.URL + "/api/collections/tour"

	var res echo.Result
	code := doJSON(t, http.MethodPost, base+"/location", "", `{"lat":51.5,"lng":-0.12,"source":"location"}`, &res)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"bells"}, res.Triggered)

	var snaps []map[string]interface{}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, base+"/echoes", "", "", &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, "active", snaps[0]["activation"])
	assert.Equal(t, "inside", snaps[0]["location_status"])
	assert.EqualValues(t, 1, snaps[0]["triggered_count"])

	code = doJSON(t, http.MethodPost, base+"/location", "", `{"lat":51.6,"lng":-0.12}`, &res)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"bells"}, res.Detriggered)
}

func TestLocationErrors(t *testing.T) {
	srv, _ := newTestServer(t, "")

	assert.Equal(t, http.StatusBadRequest,
		doJSON(t, http.MethodPost, srv.URL+"/api/collections/tour/location", "", `{"lat":1,"lng":1,"source":"wifi"}`, nil))
	assert.Equal(t, http.StatusBadRequest,
		doJSON(t, http.MethodPost, srv.URL+"/api/collections/tour/location", "", `not json`, nil))
	assert.Equal(t, http.StatusNotFound,
		doJSON(t, http.MethodPost, srv.URL+"/api/collections/nope/location", "", `{"lat":1,"lng":1}`, nil))
	assert.Equal(t, http.StatusNotFound,
		doJSON(t, http.MethodPost, srv.URL+"/api/collections/tour/echoes/nope/select", "", "", nil))
}

func TestSelectAndUnload(t *testing.T) {
	srv, _ := newTestServer(t, "")
	base := srv.URL + "/api/collections/tour"

	require.Equal(t, http.StatusNoContent, doJSON(t, http.MethodPost, base+"/echoes/bells/select", "", "", nil))
	var snaps []map[string]interface{}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, base+"/echoes", "", "", &snaps))
	assert.Equal(t, true, snaps[0]["selected"])
	assert.Equal(t, echo.ColourSelected, snaps[0]["hint"].(map[string]interface{})["fill"])

	require.Equal(t, http.StatusNoContent, doJSON(t, http.MethodDelete, base+"/selection", "", "", nil))

	var out map[string]bool
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, base+"/unload", "", "", &out))
	assert.True(t, out["unloaded"])
}

func TestListCollectionsAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, "")

	var cols []CollectionSummary
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/collections", "", "", &cols))
	require.Len(t, cols, 1)
	assert.Equal(t, CollectionSummary{ID: "tour", Title: "Tour", Echoes: 1, SizeBytes: 2048}, cols[0])

	var health map[string]string
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/healthz", "", "", &health))
	assert.Equal(t, "ok", health["status"])

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/collections", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestBearerAuth(t *testing.T) {
	srv, auth := newTestServer(t, "s3cret")
	url := srv.URL + "/api/collections/tour/echoes"

	assert.Equal(t, http.StatusUnauthorized, doJSON(t, http.MethodGet, url, "", "", nil))
	assert.Equal(t, http.StatusUnauthorized, doJSON(t, http.MethodGet, url, "garbage", "", nil))

	other := NewAuthenticator("different")
	forged, err := other.IssueToken("mallory", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, doJSON(t, http.MethodGet, url, forged, "", nil))

	expired, err := auth.IssueToken("alice", -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, doJSON(t, http.MethodGet, url, expired, "", nil))

	token, err := auth.IssueToken("alice", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, url, token, "", nil))

	listener, err := auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", listener)
}

func readWS(t *testing.T, conn *websocket.Conn, want session.MessageType) session.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg session.WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == want {
			return msg
		}
	}
}

func TestWebSocketPushesEvents(t *testing.T) {
	srv, auth := newTestServer(t, "s3cret")
	token, err := auth.IssueToken("alice", time.Hour)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/collections/tour?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readWS(t, conn, session.MsgTypeSnapshot)
	assert.Equal(t, "tour/alice", first.Session)

	require.NoError(t, conn.WriteJSON(session.WSMessage{Type: session.MsgTypePing}))
	readWS(t, conn, session.MsgTypePong)

	code := doJSON(t, http.MethodPost, srv.URL+"/api/collections/tour/location", token, `{"lat":51.5,"lng":-0.12}`, nil)
	require.Equal(t, http.StatusOK, code)

	for {
		msg := readWS(t, conn, session.MsgTypeEcho)
		var ev echo.Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		if ev.Kind == echo.EventTriggered {
			assert.Equal(t, "bells", ev.EchoID)
			assert.Equal(t, echo.ColourActive, ev.Hint.Fill)
			break
		}
	}
}

func TestWatchFileCallsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defs.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 4)
	require.NoError(t, WatchFile(ctx, path, func() { changed <- struct{}{} }))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte(`{"collections":[]}`), 0o644))

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("no change notification")
	}
}
