package api

import (
	"net/http"
	"path/filepath"

	"github.com/manpreetbhatti/coderoom/internal/ws"
)

// Endpoint describes one route for the startup banner.
type Endpoint struct {
	Name   string
	Method string
	Path   string
}

func Endpoints() []Endpoint {
	return []Endpoint{
		{"WebSocket", "GET", "/ws"},
		{"Landing page", "GET", "/"},
		{"Room page", "GET", "/room?roomId={id}"},
		{"Health", "GET", "/health"},
		{"Stats", "GET", "/api/stats"},
		{"Create room", "POST", "/api/create-room"},
		{"Room exists", "GET", "/api/room-exists/{id}"},
		{"Live rooms", "GET", "/api/rooms"},
		{"Live room", "GET", "/api/rooms/{id}"},
		{"Share QR code", "GET", "/api/rooms/{id}/qr"},
		{"Versions", "GET/POST", "/api/versions"},
		{"Version", "GET/DELETE", "/api/versions/{id}"},
		{"Diff", "GET", "/api/versions/diff?from=X&to=Y"},
		{"Restore", "POST", "/api/versions/{id}/restore"},
	}
}

// Handler returns the complete HTTP surface, websocket endpoint included,
// wrapped in CORS.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(a.hub, w, r)
	})

	mux.HandleFunc("/health", a.HealthHandler)
	mux.HandleFunc("/api/stats", a.StatsHandler)
	mux.HandleFunc("/api/create-room", a.CreateRoomHandler)
	mux.HandleFunc("/api/room-exists/", a.RoomExistsHandler)
	mux.HandleFunc("/api/rooms", a.RoomsRouter)
	mux.HandleFunc("/api/rooms/", a.RoomsRouter)
	mux.HandleFunc("/api/versions", a.VersionsRouter)
	mux.HandleFunc("/api/versions/", a.VersionsRouter)
	mux.Handle("/", a.StaticHandler())

	return corsMiddleware(mux)
}

// StaticHandler serves the landing and room pages plus their assets.
func (a *API) StaticHandler() http.Handler {
	files := http.FileServer(http.Dir(a.opts.PublicDir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			http.ServeFile(w, r, filepath.Join(a.opts.PublicDir, "index.html"))
		case "/room":
			http.ServeFile(w, r, filepath.Join(a.opts.PublicDir, "room.html"))
		default:
			files.ServeHTTP(w, r)
		}
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
