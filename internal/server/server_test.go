package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmorel/visio/internal/config"
	"github.com/jmorel/visio/internal/domain"
)

func testConfig() *config.ServerConfig {
	return &config.ServerConfig{Mode: "release", Secret: "test-secret", ReadLimit: 32768}
}

type testServer struct {
	t     *testing.T
	srv   *httptest.Server
	store *MessageStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "visio.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	auth := NewAuth()
	hub := NewHub(store)
	srv := httptest.NewServer(SetupRouter(testConfig(), auth, hub, store))
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, store: store}
}

func (s *testServer) postJSON(path string, v any) *http.Response {
	s.t.Helper()
	body, _ := json.Marshal(v)
	resp, err := http.Post(s.srv.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		s.t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

// signup registers and logs a user in, returning the bearer token.
func (s *testServer) signup(username string) string {
	s.t.Helper()
	resp := s.postJSON("/api/auth/register", credentials{Username: username, Password: "hunter2"})
	if resp.StatusCode != http.StatusCreated {
		s.t.Fatalf("register %s: status %d", username, resp.StatusCode)
	}
	resp.Body.Close()

	resp = s.postJSON("/api/auth/login", credentials{Username: username, Password: "hunter2"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.t.Fatalf("login %s: status %d", username, resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		s.t.Fatalf("decode login response: %v", err)
	}
	return out.Token
}

// dial opens the websocket endpoint and subscribes to the given destinations.
func (s *testServer) dial(token string, destinations ...string) *websocket.Conn {
	s.t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/ws"
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		s.t.Fatalf("dial ws: %v", err)
	}
	s.t.Cleanup(func() { conn.Close() })
	for _, dest := range destinations {
		s.sendFrame(conn, domain.Frame{Command: domain.FrameSubscribe, Destination: dest})
	}
	// Subscriptions are applied by the read pump; give it a beat before any
	// peer publishes to them.
	time.Sleep(50 * time.Millisecond)
	return conn
}

func (s *testServer) sendFrame(conn *websocket.Conn, f domain.Frame) {
	s.t.Helper()
	if err := conn.WriteJSON(f); err != nil {
		s.t.Fatalf("write frame: %v", err)
	}
}

// readFrame reads frames until one arrives on the wanted destination.
func (s *testServer) readFrame(conn *websocket.Conn, destination string) domain.Frame {
	s.t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f domain.Frame
		if err := conn.ReadJSON(&f); err != nil {
			s.t.Fatalf("read frame on %s: %v", destination, err)
		}
		if f.Command == domain.FrameMessage && f.Destination == destination {
			return f
		}
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	ts := newTestServer(t)
	ts.signup("alice")

	resp := ts.postJSON("/api/auth/register", credentials{Username: "alice", Password: "other"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register: status %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	ts := newTestServer(t)
	ts.signup("alice")

	resp := ts.postJSON("/api/auth/login", credentials{Username: "alice", Password: "wrong"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password: status %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestWSRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake rejection, got %+v", resp)
	}
}

func TestSignalRoutedToAddressedPeerWithFromStamped(t *testing.T) {
	ts := newTestServer(t)
	aliceToken := ts.signup("alice")
	bobToken := ts.signup("bob")

	bob := ts.dial(bobToken, domain.QueueOffer)
	alice := ts.dial(aliceToken, domain.QueueOffer)

	offer, _ := json.Marshal(map[string]string{"type": "offer", "sdp": "v=0"})
	env, _ := json.Marshal(domain.Envelope{
		To: "bob",
		// A forged From must be overwritten by the server.
		From:   "mallory",
		Signal: offer,
	})
	ts.sendFrame(alice, domain.Frame{Command: domain.FrameSend, Destination: domain.DestOffer, Body: env})

	f := ts.readFrame(bob, domain.QueueOffer)
	var got domain.Envelope
	if err := json.Unmarshal(f.Body, &got); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if got.From != "alice" {
		t.Fatalf("from = %q, want alice", got.From)
	}
	if got.Type != domain.KindOffer {
		t.Fatalf("type = %q, want %q", got.Type, domain.KindOffer)
	}
	if string(got.Signal) != string(offer) {
		t.Fatalf("signal payload altered: %s", got.Signal)
	}
}

func TestChatBroadcastAndHistory(t *testing.T) {
	ts := newTestServer(t)
	aliceToken := ts.signup("alice")
	bobToken := ts.signup("bob")

	alice := ts.dial(aliceToken, domain.TopicMessages)
	bob := ts.dial(bobToken, domain.TopicMessages)

	body, _ := json.Marshal(domain.ChatMessage{
		Content: "hello room",
		RoomID:  "general",
		Type:    domain.MessageChat,
	})
	ts.sendFrame(alice, domain.Frame{Command: domain.FrameSend, Destination: domain.DestChatSend, Body: body})

	for _, conn := range []*websocket.Conn{alice, bob} {
		f := ts.readFrame(conn, domain.TopicMessages)
		var msg domain.ChatMessage
		if err := json.Unmarshal(f.Body, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if msg.Sender != "alice" || msg.Content != "hello room" {
			t.Fatalf("unexpected message %+v", msg)
		}
	}

	// The broadcast was persisted; the history endpoint serves it back.
	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/messages?room=general", nil)
	req.Header.Set("Authorization", "Bearer "+bobToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/messages: %v", err)
	}
	defer resp.Body.Close()
	var hist []domain.ChatMessage
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist) != 1 || hist[0].Sender != "alice" || hist[0].Content != "hello room" {
		t.Fatalf("unexpected history %+v", hist)
	}
}

func TestSignalForOfflineUserDropped(t *testing.T) {
	ts := newTestServer(t)
	aliceToken := ts.signup("alice")
	alice := ts.dial(aliceToken, domain.QueueAnswer)

	env, _ := json.Marshal(domain.Envelope{To: "nobody"})
	ts.sendFrame(alice, domain.Frame{Command: domain.FrameSend, Destination: domain.DestCandidate, Body: env})

	// The connection must stay healthy after the drop.
	body, _ := json.Marshal(domain.ChatMessage{Content: "still here", RoomID: "general", Type: domain.MessageChat})
	ts.sendFrame(alice, domain.Frame{Command: domain.FrameSend, Destination: domain.DestChatSend, Body: body})
	ts.sendFrame(alice, domain.Frame{Command: domain.FrameSubscribe, Destination: domain.TopicMessages})

	hist := waitForHistory(t, ts, 1)
	if hist[0].Content != "still here" {
		t.Fatalf("unexpected history %+v", hist)
	}
}

func TestPresenceNotifications(t *testing.T) {
	ts := newTestServer(t)
	aliceToken := ts.signup("alice")
	bobToken := ts.signup("bob")

	alice := ts.dial(aliceToken, domain.TopicNotifications)
	ts.dial(bobToken)

	f := ts.readFrame(alice, domain.TopicNotifications)
	var note struct {
		Username string `json:"username"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(f.Body, &note); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if note.Username != "bob" || note.Status != "ONLINE" {
		t.Fatalf("unexpected notification %+v", note)
	}
}

func waitForHistory(t *testing.T, ts *testServer, n int) []domain.ChatMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		hist, err := ts.store.Recent("general", historyLimit)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(hist) >= n {
			return hist
		}
		if time.Now().After(deadline) {
			t.Fatalf("history has %d messages, want %d", len(hist), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestIdleConnectionsKeptAliveWithPings(t *testing.T) {
	cfg := testConfig()
	cfg.PingPeriod = 50 * time.Millisecond
	auth := NewAuth()
	srv := httptest.NewServer(SetupRouter(cfg, auth, NewHub(nil), nil))
	t.Cleanup(srv.Close)
	ts := &testServer{t: t, srv: srv}

	token := ts.signup("alice")
	conn := ts.dial(token)

	pings := make(chan struct{}, 1)
	conn.SetPingHandler(func(appData string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})
	// Control frames are only processed while reading.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping from server on idle connection")
	}
}
