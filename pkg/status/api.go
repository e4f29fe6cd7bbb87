package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/labrig/labrig-go/pkg/acquisition"
	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/model"
	"github.com/labrig/labrig-go/pkg/server"
	"github.com/labrig/labrig-go/pkg/trigger"
)

const (
	requestTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Source is what the API reports on. *server.Server implements it.
type Source interface {
	ServerID() string
	Devices() []device.Device
	Device(id string) (device.Device, bool)
	Sessions() []server.SessionInfo
}

// DeviceSummary is one entry of GET /api/devices.
type DeviceSummary struct {
	ID           string        `json:"id"`
	Kind         string        `json:"kind,omitempty"`
	Capabilities []string      `json:"capabilities"`
	State        trigger.State `json:"state"`
	Cause        string        `json:"cause,omitempty"`
}

// DeviceDetail is the body of GET /api/devices/{id}.
type DeviceDetail struct {
	model.Description
	Status   trigger.Status      `json:"status"`
	Buffer   acquisition.Stats   `json:"buffer"`
	Settings []model.SettingInfo `json:"settings,omitempty"`
}

// API serves a read-only JSON view of a server. It never changes device
// state.
type API struct {
	source Source
	logger *slog.Logger
	http   *http.Server
}

// New creates an API for source.
func New(source Source, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{source: source, logger: logger}
}

// Handler returns the HTTP routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", a.health)
	r.Route("/api", func(api chi.Router) {
		api.Get("/devices", a.listDevices)
		api.Get("/devices/{id}", a.getDevice)
		api.Get("/sessions", a.listSessions)
	})
	return r
}

// Start listens on addr and serves in the background. It returns the
// bound address.
func (a *API) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	a.http = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: requestTimeout,
	}
	go func() {
		if err := a.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("status api failed", "error", err)
		}
	}()
	a.logger.Info("status api listening", "addr", ln.Addr().String())
	return ln.Addr(), nil
}

// Shutdown stops the HTTP server.
func (a *API) Shutdown(ctx context.Context) error {
	if a.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return a.http.Shutdown(ctx)
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"serverId": a.source.ServerID(),
		"devices":  len(a.source.Devices()),
	})
}

func (a *API) listDevices(w http.ResponseWriter, r *http.Request) {
	devices := a.source.Devices()
	items := make([]DeviceSummary, 0, len(devices))
	for _, dev := range devices {
		desc, err := dev.DescribeCapabilities(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, model.KindOf(err).String(), err.Error())
			return
		}
		status, err := dev.State(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, model.KindOf(err).String(), err.Error())
			return
		}
		items = append(items, DeviceSummary{
			ID:           dev.ID(),
			Kind:         desc.Kind,
			Capabilities: desc.Capabilities.Names(),
			State:        status.State,
			Cause:        status.Cause,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dev, ok := a.source.Device(id)
	if !ok {
		writeError(w, http.StatusNotFound, model.KindUnknownDevice.String(), "device not found")
		return
	}

	ctx := r.Context()
	var (
		detail DeviceDetail
		err    error
	)
	if detail.Description, err = dev.DescribeCapabilities(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, model.KindOf(err).String(), err.Error())
		return
	}
	if detail.Status, err = dev.State(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, model.KindOf(err).String(), err.Error())
		return
	}
	if detail.Buffer, err = dev.BufferStats(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, model.KindOf(err).String(), err.Error())
		return
	}
	// A faulted device has no readable settings; the rest is still useful.
	detail.Settings, _ = dev.ListSettings(ctx)
	detail.Description.Settings = nil

	writeJSON(w, http.StatusOK, detail)
}

func (a *API) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.source.Sessions()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
