package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/manpreetbhatti/coderoom/internal/db"
	"github.com/manpreetbhatti/coderoom/internal/ratelimit"
	"github.com/manpreetbhatti/coderoom/internal/room"
	"github.com/manpreetbhatti/coderoom/internal/ws"
)

func setupTestAPI(t *testing.T, withStore bool) (*API, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "coderoom-api-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	publicDir := filepath.Join(tmpDir, "public")
	os.MkdirAll(publicDir, 0755)
	os.WriteFile(filepath.Join(publicDir, "index.html"), []byte("<h1>landing</h1>"), 0644)
	os.WriteFile(filepath.Join(publicDir, "room.html"), []byte("<h1>room</h1>"), 0644)

	var store db.Store
	var database *db.Database
	if withStore {
		database, err = db.New(filepath.Join(tmpDir, "test.db"))
		if err != nil {
			os.RemoveAll(tmpDir)
			t.Fatalf("Failed to create database: %v", err)
		}
		store = database
	}

	hub := ws.NewHub(room.NewRegistry())
	go hub.Run()

	limiter := ratelimit.NewClientLimiters(ratelimit.PerMinute(2), 2)

	api := New(hub, store, Options{
		PublicDir:         publicDir,
		PublicURL:         "http://coderoom.test/",
		CreateRoomLimiter: limiter,
		AutosaveKeep:      3,
	})

	cleanup := func() {
		hub.Stop()
		limiter.Stop()
		if database != nil {
			database.Close()
		}
		os.RemoveAll(tmpDir)
	}

	return api, cleanup
}

func doRequest(h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return response
}

func TestHealthHandler(t *testing.T) {
	api, cleanup := setupTestAPI(t, false)
	defer cleanup()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	api.HealthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	response := decode(t, w)
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", response["status"])
	}
}

func TestStatsHandler(t *testing.T) {
	api, cleanup := setupTestAPI(t, true)
	defer cleanup()

	roomID := api.registry.CreateRoom()
	doRequest(api.Handler(), "POST", "/api/create-room", nil)

	w := doRequest(api.Handler(), "GET", "/api/stats", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	response := decode(t, w)
	if response["active_rooms"] != float64(2) {
		t.Errorf("Expected 2 active rooms, got %v", response["active_rooms"])
	}
	rooms, _ := response["rooms"].(map[string]any)
	if n, ok := rooms[roomID]; !ok || n != float64(0) {
		t.Errorf("Expected room %s with 0 participants, got %v", roomID, response["rooms"])
	}
	if response["limited_addresses"] != float64(1) {
		t.Errorf("Expected 1 rate-limited address, got %v", response["limited_addresses"])
	}
	if _, ok := response["active_clients"]; !ok {
		t.Error("Response should include active_clients")
	}
	if _, ok := response["archived_versions"]; !ok {
		t.Error("Response should include archive stats when enabled")
	}
}

func TestCreateRoom(t *testing.T) {
	api, cleanup := setupTestAPI(t, false)
	defer cleanup()

	w := doRequest(api.Handler(), "POST", "/api/create-room", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	response := decode(t, w)
	roomID, _ := response["roomId"].(string)
	if roomID == "" {
		t.Fatal("Response should carry a roomId")
	}
	if !api.registry.RoomExists(roomID) {
		t.Error("Created room should exist in the registry")
	}

	w = doRequest(api.Handler(), "GET", "/api/create-room", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestCreateRoomRateLimit(t *testing.T) {
	api, cleanup := setupTestAPI(t, false)
	defer cleanup()

	for i := 0; i < 2; i++ {
		w := doRequest(api.Handler(), "POST", "/api/create-room", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i, w.Code)
		}
	}

	w := doRequest(api.Handler(), "POST", "/api/create-room", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", w.Code)
	}

	forwarded := func() int {
		req := httptest.NewRequest("POST", "/api/create-room", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		w := httptest.NewRecorder()
		api.Handler().ServeHTTP(w, req)
		return w.Code
	}

	if code := forwarded(); code != http.StatusTooManyRequests {
		t.Errorf("Untrusted X-Forwarded-For must not open a new budget, got %d", code)
	}

	api.opts.TrustProxy = true
	if code := forwarded(); code != http.StatusOK {
		t.Errorf("Forwarded address behind a trusted proxy should have its own budget, got %d", code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")

	if ip := clientIP(req, false); ip != "192.0.2.1" {
		t.Errorf("Expected peer address, got %s", ip)
	}
	if ip := clientIP(req, true); ip != "203.0.113.9" {
		t.Errorf("Expected first forwarded hop, got %s", ip)
	}
}

func TestRoomExists(t *testing.T) {
	api, cleanup := setupTestAPI(t, false)
	defer cleanup()

	roomID := api.registry.CreateRoom()

	tests := []struct {
		path   string
		exists bool
	}{
		{"/api/room-exists/" + roomID, true},
		{"/api/room-exists/" + roomID + "/", true},
		{"/api/room-exists/nope", false},
	}

	for _, tt := range tests {
		w := doRequest(api.Handler(), "GET", tt.path, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tt.path, w.Code)
		}
		if got := decode(t, w)["exists"]; got != tt.exists {
			t.Errorf("%s: expected exists=%v, got %v", tt.path, tt.exists, got)
		}
	}

	w := doRequest(api.Handler(), "GET", "/api/room-exists/", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without an id, got %d", w.Code)
	}
}

func TestListRooms(t *testing.T) {
	api, cleanup := setupTestAPI(t, false)
	defer cleanup()

	first := api.registry.CreateRoom()
	api.registry.CreateRoom()

	w := doRequest(api.Handler(), "GET", "/api/rooms", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Rooms []RoomResponse `json:"rooms"`
		Count int            `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Count != 2 || len(response.Rooms) != 2 {
		t.Fatalf("Expected 2 rooms, got %+v", response)
	}
	if response.Rooms[0].ID != first && response.Rooms[1].ID != first {
		t.Errorf("Room %s missing from %+v", first, response.Rooms)
	}
}

func TestGetRoom(t *testing.T) {
	api, cleanup := setupTestAPI(t, false)
	defer cleanup()

	roomID := api.registry.CreateRoom()
	rm, _ := api.registry.GetRoom(roomID)
	rm.SetDocument("hello")
	rm.AddParticipant(room.Participant{ID: "p1", Username: "alice", Color: "#ABCDEF"})

	w := doRequest(api.Handler(), "GET", "/api/rooms/"+roomID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response RoomResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.ID != roomID || response.ActiveUsers != 1 {
		t.Errorf("Unexpected room %+v", response)
	}
	if response.DocumentLength == nil || *response.DocumentLength != 5 {
		t.Errorf("Expected document length 5, got %v", response.DocumentLength)
	}
	if len(response.Participants) != 1 || response.Participants[0].Username != "alice" {
		t.Errorf("Unexpected participants %+v", response.Participants)
	}
}

func TestGetRoomNotFound(t *testing.T) {
	api, cleanup := setupTestAPI(t, false)
	defer cleanup()

	w := doRequest(api.Handler(), "GET", "/api/rooms/non-existent", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	w = doRequest(api.Handler(), "DELETE", "/api/rooms/non-existent", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestRoomQRCode(t *testing.T) {
	api, cleanup := setupTestAPI(t, false)
	defer cleanup()

	roomID := api.registry.CreateRoom()

	w := doRequest(api.Handler(), "GET", "/api/rooms/"+roomID+"/qr?size=200", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png, got %s", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("Body should be a PNG image")
	}

	w = doRequest(api.Handler(), "GET", "/api/rooms/missing/qr", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestRoomLink(t *testing.T) {
	api, cleanup := setupTestAPI(t, false)
	defer cleanup()

	if got := api.RoomLink("abc"); got != "http://coderoom.test/room?roomId=abc" {
		t.Errorf("Unexpected link %s", got)
	}
}

func createVersion(t *testing.T, h http.Handler, body map[string]any) VersionResponse {
	t.Helper()
	w := doRequest(h, "POST", "/api/versions", body)
	if w.Code != http.StatusCreated && w.Code != http.StatusOK {
		t.Fatalf("Failed to create version: %d %s", w.Code, w.Body.String())
	}
	var v VersionResponse
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode version: %v", err)
	}
	return v
}

func TestVersionLifecycle(t *testing.T) {
	api, cleanup := setupTestAPI(t, true)
	defer cleanup()
	h := api.Handler()

	v := createVersion(t, h, map[string]any{
		"room_id":    "archived-room",
		"name":       "Checkpoint",
		"content":    "x = 1",
		"created_by": "alice",
	})
	if v.ID == 0 || v.Name != "Checkpoint" || v.ContentHash != db.HashContent("x = 1") {
		t.Errorf("Unexpected version %+v", v)
	}
	if v.Content != nil {
		t.Error("Create response should not echo content")
	}

	w := doRequest(h, "GET", "/api/versions?room_id=archived-room", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	list := decode(t, w)
	if list["total"] != float64(1) {
		t.Errorf("Expected total 1, got %v", list["total"])
	}

	w = doRequest(h, "GET", fmt.Sprintf("/api/versions/%d", v.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := decode(t, w)["content"]; got != "x = 1" {
		t.Errorf("Expected full content, got %v", got)
	}

	w = doRequest(h, "DELETE", fmt.Sprintf("/api/versions/%d", v.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	w = doRequest(h, "GET", fmt.Sprintf("/api/versions/%d", v.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", w.Code)
	}
	w = doRequest(h, "DELETE", fmt.Sprintf("/api/versions/%d", v.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 deleting twice, got %d", w.Code)
	}
}

func TestCreateVersionFromLiveRoom(t *testing.T) {
	api, cleanup := setupTestAPI(t, true)
	defer cleanup()
	h := api.Handler()

	roomID := api.registry.CreateRoom()
	rm, _ := api.registry.GetRoom(roomID)
	rm.SetDocument("live text")

	v := createVersion(t, h, map[string]any{"room_id": roomID})
	if v.ContentHash != db.HashContent("live text") {
		t.Error("Version should snapshot the live document")
	}
	if !strings.HasPrefix(v.Name, "Version ") {
		t.Errorf("Expected a generated name, got %q", v.Name)
	}

	w := doRequest(h, "POST", "/api/versions", map[string]any{"room_id": "gone"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for a room that is not live, got %d", w.Code)
	}
}

func TestCreateAutoVersionSkipsDuplicates(t *testing.T) {
	api, cleanup := setupTestAPI(t, true)
	defer cleanup()
	h := api.Handler()

	body := map[string]any{"room_id": "auto-room", "content": "same", "is_auto": true}

	w := doRequest(h, "POST", "/api/versions", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	first := decode(t, w)

	w = doRequest(h, "POST", "/api/versions", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for a duplicate, got %d", w.Code)
	}
	if again := decode(t, w); again["id"] != first["id"] {
		t.Error("Duplicate auto-save should return the existing version")
	}
}

func TestDiffVersions(t *testing.T) {
	api, cleanup := setupTestAPI(t, true)
	defer cleanup()
	h := api.Handler()

	from := createVersion(t, h, map[string]any{"room_id": "r", "name": "a", "content": "a\nb\nc"})
	to := createVersion(t, h, map[string]any{"room_id": "r", "name": "b", "content": "a\nB\nc"})

	w := doRequest(h, "GET", fmt.Sprintf("/api/versions/diff?from=%d&to=%d", from.ID, to.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Diff []DiffLine `json:"diff"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Diff) != 4 {
		t.Fatalf("Expected 4 diff lines, got %+v", response.Diff)
	}

	w = doRequest(h, "GET", "/api/versions/diff?from=x&to=1", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	w = doRequest(h, "GET", fmt.Sprintf("/api/versions/diff?from=%d&to=9999", from.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestRestoreVersion(t *testing.T) {
	api, cleanup := setupTestAPI(t, true)
	defer cleanup()
	h := api.Handler()

	roomID := api.registry.CreateRoom()
	rm, _ := api.registry.GetRoom(roomID)

	v := createVersion(t, h, map[string]any{"room_id": roomID, "name": "good", "content": "good code"})
	rm.SetDocument("broken code")

	w := doRequest(h, "POST", fmt.Sprintf("/api/versions/%d/restore", v.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	response := decode(t, w)
	if response["applied"] != true {
		t.Error("Restore into a live room should be applied")
	}
	if response["new_version"] == float64(v.ID) {
		t.Error("Restore should record a new version")
	}
	if rm.Document() != "good code" {
		t.Errorf("Live document should be restored, got %q", rm.Document())
	}

	archived := createVersion(t, h, map[string]any{"room_id": "closed-room", "content": "old"})
	w = doRequest(h, "POST", fmt.Sprintf("/api/versions/%d/restore", archived.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if decode(t, w)["applied"] != false {
		t.Error("Restore for a closed room should only be archived")
	}

	w = doRequest(h, "GET", fmt.Sprintf("/api/versions/%d/restore", v.ID), nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
	w = doRequest(h, "POST", "/api/versions/9999/restore", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestVersionsDisabled(t *testing.T) {
	api, cleanup := setupTestAPI(t, false)
	defer cleanup()

	for _, path := range []string{"/api/versions?room_id=r", "/api/versions/1", "/api/versions/diff?from=1&to=2"} {
		w := doRequest(api.Handler(), "GET", path, nil)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected status 503, got %d", path, w.Code)
		}
	}
}

func TestInvalidVersionRequests(t *testing.T) {
	api, cleanup := setupTestAPI(t, true)
	defer cleanup()
	h := api.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"invalid json", "POST", "/api/versions", "invalid json", http.StatusBadRequest},
		{"missing room", "POST", "/api/versions", map[string]any{"content": "x"}, http.StatusBadRequest},
		{"list without room", "GET", "/api/versions", nil, http.StatusBadRequest},
		{"bad id", "GET", "/api/versions/abc", nil, http.StatusBadRequest},
		{"bad method", "PUT", "/api/versions", nil, http.StatusMethodNotAllowed},
		{"bad restore id", "POST", "/api/versions/abc/restore", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(h, tt.method, tt.path, tt.body)
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestStaticPages(t *testing.T) {
	api, cleanup := setupTestAPI(t, false)
	defer cleanup()

	tests := []struct {
		path     string
		contains string
	}{
		{"/", "landing"},
		{"/room?roomId=abc", "room"},
	}

	for _, tt := range tests {
		w := doRequest(api.Handler(), "GET", tt.path, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", tt.path, w.Code)
		}
		if !strings.Contains(w.Body.String(), tt.contains) {
			t.Errorf("%s: unexpected body %q", tt.path, w.Body.String())
		}
	}

	w := doRequest(api.Handler(), "GET", "/missing.js", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	api, cleanup := setupTestAPI(t, false)
	defer cleanup()

	w := doRequest(api.Handler(), "OPTIONS", "/api/create-room", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS headers should be set")
	}
	if api.registry.Count() != 0 {
		t.Error("Preflight must not create rooms")
	}
}

func TestComputeDiff(t *testing.T) {
	tests := []struct {
		name     string
		old      string
		new      string
		expected []string
	}{
		{"identical", "a\nb", "a\nb", []string{"unchanged a", "unchanged b"}},
		{"replace line", "a\nb\nc", "a\nB\nc", []string{"unchanged a", "removed b", "added B", "unchanged c"}},
		{"append", "a", "a\nb", []string{"unchanged a", "added b"}},
		{"delete", "a\nb\nc", "a\nc", []string{"unchanged a", "removed b", "unchanged c"}},
		{"from empty", "", "x", []string{"removed ", "added x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := computeDiff(tt.old, tt.new)
			got := make([]string, len(diff))
			for i, d := range diff {
				got[i] = d.Type + " " + d.Content
			}
			if strings.Join(got, "|") != strings.Join(tt.expected, "|") {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestComputeDiffLineNumbers(t *testing.T) {
	diff := computeDiff("a\nb\nc", "a\nB\nc")

	if diff[1].OldLine != 2 || diff[1].NewLine != 0 {
		t.Errorf("Removed line should only carry the old number, got %+v", diff[1])
	}
	if diff[2].NewLine != 2 || diff[2].OldLine != 0 {
		t.Errorf("Added line should only carry the new number, got %+v", diff[2])
	}
	if diff[3].OldLine != 3 || diff[3].NewLine != 3 {
		t.Errorf("Unchanged line should carry both numbers, got %+v", diff[3])
	}
}
