package handlers

import (
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"mediaserve/pkg/types"
)

const statsPrefix = "/api/stats"

// StatsSource is the read side of the access statistics store
type StatsSource interface {
	Get(path string) (*types.AccessStats, error)
	All() ([]types.AccessStats, error)
}

type APIHandler struct {
	stats StatsSource
}

func NewAPIHandler(stats StatsSource) *APIHandler {
	return &APIHandler{
		stats: stats,
	}
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// StatsView adds human readable fields to AccessStats
type StatsView struct {
	types.AccessStats
	BytesServedHuman string `json:"bytes_served_human"`
}

type StatsListResponse struct {
	Files []StatsView `json:"files"`
	Total int         `json:"total"`
}

func newStatsView(stats types.AccessStats) StatsView {
	return StatsView{
		AccessStats:      stats,
		BytesServedHuman: humanize.IBytes(uint64(stats.BytesServed)),
	}
}

func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	rest, ok := strings.CutPrefix(r.URL.Path, statsPrefix)
	switch {
	case !ok || rest != "" && !strings.HasPrefix(rest, "/"):
		h.sendError(w, http.StatusNotFound, "Invalid API endpoint")
	case rest == "" || rest == "/":
		h.handleListStats(w, r)
	default:
		h.handleFileStats(w, r, path.Clean(rest))
	}
}

// GET /api/stats - statistics of every served file
func (h *APIHandler) handleListStats(w http.ResponseWriter, r *http.Request) {
	all, err := h.stats.All()
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "Failed to read stats: "+err.Error())
		return
	}

	response := StatsListResponse{
		Files: make([]StatsView, 0, len(all)),
		Total: len(all),
	}
	for _, stats := range all {
		response.Files = append(response.Files, newStatsView(stats))
	}

	h.sendSuccess(w, http.StatusOK, "Stats retrieved successfully", response)
}

// GET /api/stats/{path} - statistics of a single file
func (h *APIHandler) handleFileStats(w http.ResponseWriter, r *http.Request, filePath string) {
	stats, err := h.stats.Get(filePath)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "Failed to read stats: "+err.Error())
		return
	}
	if stats == nil {
		h.sendError(w, http.StatusNotFound, "No stats for "+filePath)
		return
	}

	h.sendSuccess(w, http.StatusOK, "Stats retrieved successfully", newStatsView(*stats))
}

func (h *APIHandler) sendSuccess(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	w.WriteHeader(statusCode)
	response := APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	}
	json.NewEncoder(w).Encode(response)
}

func (h *APIHandler) sendError(w http.ResponseWriter, statusCode int, errorMsg string) {
	w.WriteHeader(statusCode)
	response := APIResponse{
		Success: false,
		Error:   errorMsg,
	}
	json.NewEncoder(w).Encode(response)
}
