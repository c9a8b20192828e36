package policy

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/privadome/privadome-api/internal/gateway"
	"github.com/privadome/privadome-api/internal/platform/httpx"
)

// errTileRequest marks a tile request without a usable name. It renders
// as a plain server error.
var errTileRequest = errors.New("policy: tile request lacks a string name")

// Handler serves the catalogue routes.
type Handler struct {
	logger    *slog.Logger
	forwarder gateway.Forwarder
	tiles     *Tiles
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, forwarder gateway.Forwarder, tiles *Tiles) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if tiles.Open() {
		logger.Warn("tile allowlist is empty; any well-formed tile name is forwarded to the core data port")
	}
	return &Handler{logger: logger, forwarder: forwarder, tiles: tiles}
}

// MountRoutes registers every catalogue route plus tile data. Callers
// must install the authentication middleware on r first.
func (h *Handler) MountRoutes(r chi.Router) {
	for _, op := range Catalogue {
		r.Method(op.Method, op.Path, h.forward(op))
	}
	r.Post(TilesPath, h.tileData)
}

func (h *Handler) forward(op Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		call := gateway.Call{Operation: op.RPC, Port: op.Port}
		if op.BodyRequired {
			body, err := httpx.ReadBody(r)
			if err != nil {
				h.fail(w, r, op.Name, err)
				return
			}
			call.Payload = body
		}
		out, err := h.forwarder.Forward(r.Context(), call)
		if err != nil {
			h.fail(w, r, op.Name, err)
			return
		}
		httpx.RawJSON(w, http.StatusOK, out)
	}
}

type tileRequest struct {
	Name json.RawMessage `json:"name"`
}

func (h *Handler) tileData(w http.ResponseWriter, r *http.Request) {
	name, err := tileName(r)
	if err != nil {
		h.fail(w, r, "tiles_data", err)
		return
	}
	if err := h.tiles.Check(name); err != nil {
		h.fail(w, r, "tiles_data", err)
		return
	}
	out, err := h.forwarder.Forward(r.Context(), gateway.Call{Operation: name, Port: gateway.PortData})
	if err != nil {
		h.fail(w, r, "tiles_data", err)
		return
	}
	httpx.RawJSON(w, http.StatusOK, out)
}

func tileName(r *http.Request) (string, error) {
	body, err := httpx.ReadBody(r)
	if err != nil {
		return "", err
	}
	var req tileRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", errTileRequest
	}
	var name string
	if len(req.Name) == 0 || req.Name[0] != '"' || json.Unmarshal(req.Name, &name) != nil {
		return "", errTileRequest
	}
	return name, nil
}

// fail renders err. Forwarding failures are already logged by the gateway.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ferr *gateway.ForwardingError
	if !errors.As(err, &ferr) && httpx.StatusOf(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
