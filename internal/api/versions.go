package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/manpreetbhatti/coderoom/internal/db"
	"github.com/manpreetbhatti/coderoom/pkg/logger"
)

type CreateVersionRequest struct {
	RoomID      string `json:"room_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	// Nil snapshots the live room's current document
	Content   *string `json:"content"`
	CreatedBy string  `json:"created_by"`
	IsAuto    bool    `json:"is_auto"`
}

type VersionResponse struct {
	ID          int       `json:"id"`
	RoomID      string    `json:"room_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Content     *string   `json:"content,omitempty"` // Omitted in list view
	ContentHash string    `json:"content_hash"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	IsAuto      bool      `json:"is_auto"`
}

func summary(v *db.Version) VersionResponse {
	return VersionResponse{
		ID:          v.ID,
		RoomID:      v.RoomID,
		Name:        v.Name,
		Description: v.Description,
		ContentHash: v.ContentHash,
		CreatedBy:   v.CreatedBy,
		CreatedAt:   v.CreatedAt,
		IsAuto:      v.IsAuto,
	}
}

func withContent(v *db.Version) VersionResponse {
	resp := summary(v)
	content := v.Content
	resp.Content = &content
	return resp
}

func parseVersionID(raw string) (int, bool) {
	id, err := strconv.Atoi(strings.Trim(raw, "/"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (a *API) ListVersionsHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "room_id is required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	versions, err := a.store.ListVersions(r.Context(), roomID, limit, offset)
	if err != nil {
		logger.Error("Failed to list versions for room %s: %v", roomID, err)
		errorResponse(w, http.StatusInternalServerError, "Failed to list versions")
		return
	}

	response := make([]VersionResponse, len(versions))
	for i := range versions {
		response[i] = summary(&versions[i])
	}

	total, err := a.store.GetVersionCount(r.Context(), roomID)
	if err != nil {
		total = len(response)
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"versions": response,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func (a *API) CreateVersionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.RoomID == "" {
		errorResponse(w, http.StatusBadRequest, "room_id is required")
		return
	}

	var content string
	if req.Content != nil {
		content = *req.Content
	} else {
		rm, ok := a.registry.GetRoom(req.RoomID)
		if !ok {
			errorResponse(w, http.StatusBadRequest, "Room is not live, content is required")
			return
		}
		content = rm.Document()
	}

	nv := db.NewVersion{
		RoomID:      req.RoomID,
		Name:        req.Name,
		Description: req.Description,
		Content:     content,
		CreatedBy:   req.CreatedBy,
	}

	if req.IsAuto {
		version, created, err := db.SaveAutoVersion(r.Context(), a.store, nv, a.opts.AutosaveKeep)
		if err != nil && version == nil {
			logger.Error("Failed to auto-save room %s: %v", req.RoomID, err)
			errorResponse(w, http.StatusInternalServerError, "Failed to create version")
			return
		}
		if err != nil {
			logger.Warn("Auto-save for room %s stored but not pruned: %v", req.RoomID, err)
		}

		status := http.StatusCreated
		if !created {
			// Same content as the latest version
			status = http.StatusOK
		}
		jsonResponse(w, status, summary(version))
		return
	}

	if nv.Name == "" {
		nv.Name = fmt.Sprintf("Version %s", time.Now().Format("Jan 2, 3:04 PM"))
	}

	version, err := a.store.CreateVersion(r.Context(), nv)
	if err != nil {
		logger.Error("Failed to create version for room %s: %v", req.RoomID, err)
		errorResponse(w, http.StatusInternalServerError, "Failed to create version")
		return
	}

	jsonResponse(w, http.StatusCreated, summary(version))
}

func (a *API) GetVersionHandler(w http.ResponseWriter, r *http.Request, versionID int) {
	version, err := a.store.GetVersion(r.Context(), versionID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get version")
		return
	}
	if version == nil {
		errorResponse(w, http.StatusNotFound, "Version not found")
		return
	}

	jsonResponse(w, http.StatusOK, withContent(version))
}

func (a *API) DeleteVersionHandler(w http.ResponseWriter, r *http.Request, versionID int) {
	version, err := a.store.GetVersion(r.Context(), versionID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get version")
		return
	}
	if version == nil {
		errorResponse(w, http.StatusNotFound, "Version not found")
		return
	}

	if err := a.store.DeleteVersion(r.Context(), versionID); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete version")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Version deleted"})
}

func (a *API) DiffVersionsHandler(w http.ResponseWriter, r *http.Request) {
	fromID, ok := parseVersionID(r.URL.Query().Get("from"))
	if !ok {
		errorResponse(w, http.StatusBadRequest, "Invalid 'from' version ID")
		return
	}

	toID, ok := parseVersionID(r.URL.Query().Get("to"))
	if !ok {
		errorResponse(w, http.StatusBadRequest, "Invalid 'to' version ID")
		return
	}

	from, err := a.store.GetVersion(r.Context(), fromID)
	if err != nil || from == nil {
		errorResponse(w, http.StatusNotFound, "From version not found")
		return
	}

	to, err := a.store.GetVersion(r.Context(), toID)
	if err != nil || to == nil {
		errorResponse(w, http.StatusNotFound, "To version not found")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"from": summary(from),
		"to":   summary(to),
		"diff": computeDiff(from.Content, to.Content),
	})
}

// RestoreVersionHandler records the restore as a new version and, when the
// room is live, pushes the content to everyone in it.
func (a *API) RestoreVersionHandler(w http.ResponseWriter, r *http.Request, versionID int) {
	version, err := a.store.GetVersion(r.Context(), versionID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get version")
		return
	}
	if version == nil {
		errorResponse(w, http.StatusNotFound, "Version not found")
		return
	}

	restored, err := a.store.CreateVersion(r.Context(), db.NewVersion{
		RoomID:      version.RoomID,
		Name:        fmt.Sprintf("Restored from: %s", version.Name),
		Description: fmt.Sprintf("Restored to version %d (%s)", version.ID, version.Name),
		Content:     version.Content,
		ContentHash: version.ContentHash,
	})
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create restore version")
		return
	}

	applied := a.hub.RestoreDocument(version.RoomID, version.Content)
	logger.Info("Version %d restored for room %s (live: %v)", version.ID, version.RoomID, applied)

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"message":       "Version restored",
		"restored_from": version.ID,
		"new_version":   restored.ID,
		"room_id":       version.RoomID,
		"applied":       applied,
		"content":       version.Content,
	})
}

func (a *API) VersionsRouter(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Version archive is disabled")
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/versions"), "/")

	// /api/versions
	if path == "" {
		switch r.Method {
		case http.MethodGet:
			a.ListVersionsHandler(w, r)
		case http.MethodPost:
			a.CreateVersionHandler(w, r)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	// /api/versions/diff
	if path == "diff" {
		if r.Method != http.MethodGet {
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.DiffVersionsHandler(w, r)
		return
	}

	// /api/versions/{id}/restore
	if raw, ok := strings.CutSuffix(path, "/restore"); ok {
		versionID, ok := parseVersionID(raw)
		if !ok {
			errorResponse(w, http.StatusBadRequest, "Invalid version ID")
			return
		}
		if r.Method != http.MethodPost {
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.RestoreVersionHandler(w, r, versionID)
		return
	}

	// /api/versions/{id}
	versionID, ok := parseVersionID(path)
	if !ok {
		errorResponse(w, http.StatusBadRequest, "Invalid version ID")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.GetVersionHandler(w, r, versionID)
	case http.MethodDelete:
		a.DeleteVersionHandler(w, r, versionID)
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
