package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zombor/scanbot/internal/scan"
	"github.com/zombor/scanbot/internal/serrors"
	"github.com/zombor/scanbot/internal/store"
)

type statusResponse struct {
	Open     bool          `json:"open"`
	Device   string        `json:"device"`
	DPI      int           `json:"dpi"`
	Mode     string        `json:"mode"`
	Format   string        `json:"format"`
	Files    int           `json:"files"`
	LastScan *store.Record `json:"last_scan,omitempty"`
}

type scanResponse struct {
	Name         string    `json:"name"`
	Format       string    `json:"format"`
	SizeBytes    int64     `json:"size_bytes"`
	Recompressed bool      `json:"recompressed"`
	CreatedAt    time.Time `json:"created_at"`
}

type cleanupResponse struct {
	Deleted int `json:"deleted"`
}

// writeJSON encodes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

// handleStatus reports the device session and output directory
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	files, err := s.deps.Files.Count()
	if err != nil {
		slog.Error("Error counting scan files", "error", err)
		writeError(w, http.StatusInternalServerError, "Error reading scan directory")
		return
	}

	st := s.deps.Device.Status()
	resp := statusResponse{
		Open:   st.Open,
		Device: st.Device,
		DPI:    st.DPI,
		Mode:   st.Mode,
		Format: string(s.format),
		Files:  files,
	}

	last, err := s.deps.Ledger.LatestRecord()
	if err != nil {
		slog.Warn("Error reading scan history", "error", err)
	}
	resp.LastScan = last

	writeJSON(w, http.StatusOK, resp)
}

// handleListScans returns the scan history, newest first
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Ledger.ListRecords()
	if err != nil {
		slog.Error("Error listing scans", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Ensure we always return an array, not nil
	if records == nil {
		records = []*store.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetScanFile downloads the file of a recorded scan
func (s *Server) handleGetScanFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := s.deps.Ledger.GetRecord(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Scan not found")
		return
	}
	if err != nil {
		slog.Error("Error reading scan record", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.Filename))
	http.ServeFile(w, r, s.deps.Files.Path(record.Filename))
}

// handleCreateScan runs a scan and waits for it
func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	file, err := s.deps.Scanner.ScanDocument(r.Context(), 0)
	if err != nil {
		slog.Error("Scan requested over HTTP failed", "error", err)
		code := http.StatusInternalServerError
		if serrors.KindOf(err) == serrors.Scan {
			code = http.StatusServiceUnavailable
		}
		writeError(w, code, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, newScanResponse(file))
}

// handleCleanup runs the retention sweep with the configured window
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.deps.Sweeper.Sweep(r.Context(), s.window)
	if err != nil {
		slog.Error("Cleanup requested over HTTP failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, cleanupResponse{Deleted: deleted})
}

func newScanResponse(f *scan.File) scanResponse {
	return scanResponse{
		Name:         f.Name,
		Format:       string(f.Format),
		SizeBytes:    f.SizeBytes,
		Recompressed: f.Recompressed,
		CreatedAt:    f.CreatedAt,
	}
}
