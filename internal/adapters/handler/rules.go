package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"rulekeeper/internal/config"
	"rulekeeper/internal/core/domain"
	"rulekeeper/internal/core/services"
)

// RulesHandler exposes the rule listings and the rule file download
type RulesHandler struct {
	store   *services.RuleStore
	sender  *Sender
	manager config.ManagerConfig
}

// NewRulesHandler creates a new rules handler
func NewRulesHandler(store *services.RuleStore, sender *Sender, manager config.ManagerConfig) *RulesHandler {
	return &RulesHandler{
		store:   store,
		sender:  sender,
		manager: manager,
	}
}

// GetRules lists rules with the query filters applied
// GET /v1/rules?status=&group=&pci=&file=&id=&level=&offset=&limit=&sort=&search=
func (h *RulesHandler) GetRules(w http.ResponseWriter, r *http.Request) {
	q := services.RuleQuery{
		Status: r.URL.Query().Get("status"),
		Group:  r.URL.Query().Get("group"),
		PCI:    r.URL.Query().Get("pci"),
		File:   r.URL.Query().Get("file"),
		Level:  r.URL.Query().Get("level"),
		Sort:   r.URL.Query().Get("sort"),
		Search: r.URL.Query().Get("search"),
	}

	if raw := r.URL.Query().Get("id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			h.sender.BadRequest(w, r, 600, "id must be an integer")
			return
		}
		q.ID = id
	}

	var ok bool
	if q.Offset, ok = h.paginationParam(w, r, "offset", domain.ErrCodeInvalidOffset); !ok {
		return
	}
	if q.Limit, ok = h.paginationParam(w, r, "limit", domain.ErrCodeInvalidLimit); !ok {
		return
	}

	page, err := h.store.GetRules(r.Context(), q)
	if err != nil {
		h.sender.SendError(w, r, err)
		return
	}

	h.sender.Send(w, r, Success(page), http.StatusOK)
}

// GetRuleFiles lists the rule files with their enabled/disabled status
// GET /v1/rules/files
func (h *RulesHandler) GetRuleFiles(w http.ResponseWriter, r *http.Request) {
	q := services.FileQuery{
		Status: r.URL.Query().Get("status"),
		Sort:   r.URL.Query().Get("sort"),
		Search: r.URL.Query().Get("search"),
	}

	var ok bool
	if q.Offset, ok = h.paginationParam(w, r, "offset", domain.ErrCodeInvalidOffset); !ok {
		return
	}
	if q.Limit, ok = h.paginationParam(w, r, "limit", domain.ErrCodeInvalidLimit); !ok {
		return
	}

	page, err := h.store.GetRuleFiles(r.Context(), q)
	if err != nil {
		h.sender.SendError(w, r, err)
		return
	}

	h.sender.Send(w, r, Success(page), http.StatusOK)
}

// GetGroups lists the distinct rule groups
// GET /v1/rules/groups
func (h *RulesHandler) GetGroups(w http.ResponseWriter, r *http.Request) {
	h.distinctListing(w, r, h.store.GetGroups)
}

// GetPCI lists the distinct PCI-DSS requirements
// GET /v1/rules/pci
func (h *RulesHandler) GetPCI(w http.ResponseWriter, r *http.Request) {
	h.distinctListing(w, r, h.store.GetPCI)
}

func (h *RulesHandler) distinctListing(
	w http.ResponseWriter,
	r *http.Request,
	list func(context.Context, services.ListQuery) (*services.NamePage, error),
) {
	q := services.ListQuery{
		Sort:   r.URL.Query().Get("sort"),
		Search: r.URL.Query().Get("search"),
	}

	var ok bool
	if q.Offset, ok = h.paginationParam(w, r, "offset", domain.ErrCodeInvalidOffset); !ok {
		return
	}
	if q.Limit, ok = h.paginationParam(w, r, "limit", domain.ErrCodeInvalidLimit); !ok {
		return
	}

	page, err := list(r.Context(), q)
	if err != nil {
		h.sender.SendError(w, r, err)
		return
	}

	h.sender.Send(w, r, Success(page), http.StatusOK)
}

// DownloadRuleFile streams a raw XML rule file back to the client
// GET /v1/rules/files/{file}
//
// The file is resolved under <install>/rules. A missing file maps to
// error 700 / HTTP 404; any other stat failure maps to the generic
// internal error / HTTP 500.
func (h *RulesHandler) DownloadRuleFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "file")

	// Reject anything that could escape the rules directory
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		h.sender.BadRequest(w, r, domain.ErrCodeBadParameter, name)
		return
	}

	path := filepath.Join(h.manager.InstallPath, "rules", name)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			h.sender.Send(w, r, &Envelope{
				Error:   domain.ErrCodeFileNotFound,
				Message: fmt.Sprintf("%s: %s", domain.Describe(domain.ErrCodeFileNotFound), path),
			}, http.StatusNotFound)
			return
		}
		slog.Error("Failed to stat rule file", "error", err, "path", path)
		h.sender.Send(w, r, ErrorEnvelope(domain.ErrCodeInternal), http.StatusInternalServerError)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		slog.Error("Failed to open rule file", "error", err, "path", path)
		h.sender.Send(w, r, ErrorEnvelope(domain.ErrCodeInternal), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/xml")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		// Headers are on the wire; nothing left to do but log
		slog.Error("Failed to stream rule file", "error", err, "path", path)
		return
	}

	h.sender.LogSuccess(r)
}

// paginationParam parses a non-negative integer query parameter,
// sending a 400 envelope on bad input
func (h *RulesHandler) paginationParam(w http.ResponseWriter, r *http.Request, name string, code int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		h.sender.BadRequest(w, r, code, raw)
		return 0, false
	}
	return value, true
}
