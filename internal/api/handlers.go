package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/manpreetbhatti/coderoom/internal/db"
	"github.com/manpreetbhatti/coderoom/internal/protocol"
	"github.com/manpreetbhatti/coderoom/internal/ratelimit"
	"github.com/manpreetbhatti/coderoom/internal/room"
	"github.com/manpreetbhatti/coderoom/internal/ws"
	"github.com/manpreetbhatti/coderoom/pkg/logger"
	qrcode "github.com/skip2/go-qrcode"
)

type Options struct {
	// PublicDir holds index.html, room.html and their assets
	PublicDir string
	// PublicURL is the externally visible base for share links
	PublicURL string
	// CreateRoomLimiter caps room creation per remote address. Nil means
	// unlimited.
	CreateRoomLimiter *ratelimit.ClientLimiters
	// TrustProxy keys the limiter by the first X-Forwarded-For hop instead
	// of the peer address. Only enable it behind a proxy that sets the header.
	TrustProxy bool
	// AutosaveKeep bounds auto versions created through the API
	AutosaveKeep int
}

type API struct {
	hub      *ws.Hub
	registry *room.Registry
	store    db.Store
	opts     Options
}

// New wires the HTTP surface. store may be nil, in which case the version
// endpoints answer 503.
func New(hub *ws.Hub, store db.Store, opts Options) *API {
	if opts.PublicDir == "" {
		opts.PublicDir = "./public"
	}
	return &API{
		hub:      hub,
		registry: hub.Registry(),
		store:    store,
		opts:     opts,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// clientIP is the peer address, or the first X-Forwarded-For hop when the
// proxy in front is trusted.
func clientIP(r *http.Request, trustProxy bool) string {
	if fwd := r.Header.Get("X-Forwarded-For"); trustProxy && fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"rooms":          a.hub.GetActiveRooms(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if limiter := a.opts.CreateRoomLimiter; limiter != nil {
		stats["limited_addresses"] = limiter.Len()
	}

	if a.store != nil {
		archive, err := a.store.GetStats(r.Context())
		if err != nil {
			logger.Warn("Failed to read archive stats: %v", err)
		} else {
			stats["archived_rooms"] = archive.RoomCount
			stats["archived_versions"] = archive.VersionCount
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Live room handlers

type RoomResponse struct {
	ID             string              `json:"id"`
	CreatedAt      time.Time           `json:"created_at"`
	ActiveUsers    int                 `json:"active_users"`
	DocumentLength *int                `json:"document_length,omitempty"`
	Participants   []protocol.UserInfo `json:"participants,omitempty"`
}

func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if limiter := a.opts.CreateRoomLimiter; limiter != nil {
		ip := clientIP(r, a.opts.TrustProxy)
		if !limiter.Allow(ip) {
			logger.Warn("⚠️ Room creation rate limit exceeded for %s", ip)
			errorResponse(w, http.StatusTooManyRequests, "Too many rooms created, try again later")
			return
		}
	}

	roomID := a.registry.CreateRoom()
	jsonResponse(w, http.StatusOK, map[string]string{"roomId": roomID})
}

func (a *API) RoomExistsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	roomID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/room-exists/"), "/")
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]bool{"exists": a.registry.RoomExists(roomID)})
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms := a.registry.Rooms()

	response := make([]RoomResponse, len(rooms))
	for i, rm := range rooms {
		response[i] = RoomResponse{
			ID:          rm.ID,
			CreatedAt:   rm.CreatedAt,
			ActiveUsers: rm.Len(),
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms": response,
		"count": len(response),
	})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	rm, ok := a.registry.GetRoom(roomID)
	if !ok {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	participants := protocol.UserList(rm.Participants())
	length := len(rm.Document())

	jsonResponse(w, http.StatusOK, RoomResponse{
		ID:             rm.ID,
		CreatedAt:      rm.CreatedAt,
		ActiveUsers:    len(participants),
		DocumentLength: &length,
		Participants:   participants,
	})
}

// RoomLink is the page a participant opens to join roomID.
func (a *API) RoomLink(roomID string) string {
	return strings.TrimSuffix(a.opts.PublicURL, "/") + "/room?roomId=" + url.QueryEscape(roomID)
}

// QRHandler renders the room link as a PNG so it can be scanned from a
// second device.
func (a *API) QRHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	if !a.registry.RoomExists(roomID) {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size < 128 || size > 1024 {
		size = 256
	}

	png, err := qrcode.Encode(a.RoomLink(roomID), qrcode.Medium, size)
	if err != nil {
		logger.Error("Failed to render QR code for room %s: %v", roomID, err)
		errorResponse(w, http.StatusInternalServerError, "Failed to render QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (a *API) RoomsRouter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/rooms"), "/")

	// /api/rooms
	if path == "" {
		a.ListRoomsHandler(w, r)
		return
	}

	// /api/rooms/{id}/qr
	if roomID, ok := strings.CutSuffix(path, "/qr"); ok {
		a.QRHandler(w, r, roomID)
		return
	}

	// /api/rooms/{id}
	if strings.Contains(path, "/") {
		errorResponse(w, http.StatusNotFound, fmt.Sprintf("Unknown path %s", r.URL.Path))
		return
	}
	a.GetRoomHandler(w, r, path)
}
