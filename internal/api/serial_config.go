package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/banshee-data/barcode.scanner/internal/db"
	"github.com/banshee-data/barcode.scanner/internal/httputil"
	"github.com/banshee-data/barcode.scanner/internal/monitoring"
	"github.com/banshee-data/barcode.scanner/internal/serialmux"
)

// SerialConfigRequest is the body for creating or updating a serial config.
type SerialConfigRequest struct {
	Name        string `json:"name"`
	PortPath    string `json:"port_path"`
	BaudRate    int    `json:"baud_rate"`
	DataBits    int    `json:"data_bits"`
	StopBits    int    `json:"stop_bits"`
	Parity      string `json:"parity"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// toConfig validates the request and normalizes its line settings.
func (req SerialConfigRequest) toConfig() (*db.SerialConfig, error) {
	if req.Name == "" {
		return nil, errors.New("name is required")
	}
	if req.PortPath == "" {
		return nil, errors.New("port_path is required")
	}
	if !isValidPortPath(req.PortPath) {
		return nil, errors.New("invalid port_path: must start with /dev/tty, /dev/serial or /dev/cu.")
	}
	opts, err := serialmux.PortOptions{
		BaudRate: req.BaudRate,
		DataBits: req.DataBits,
		StopBits: req.StopBits,
		Parity:   req.Parity,
	}.Normalize()
	if err != nil {
		return nil, err
	}
	return &db.SerialConfig{
		Name:        req.Name,
		PortPath:    req.PortPath,
		BaudRate:    opts.BaudRate,
		DataBits:    opts.DataBits,
		StopBits:    opts.StopBits,
		Parity:      opts.Parity,
		Enabled:     req.Enabled,
		Description: req.Description,
	}, nil
}

// handleSerialConfigsOrCreate handles GET and POST to /serial-configs
func (s *Server) handleSerialConfigsOrCreate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleSerialConfigs(w, r)
	case http.MethodPost:
		s.handleCreateSerialConfig(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// handleSerialConfigs lists configurations; ?enabled=true skips disabled ones.
func (s *Server) handleSerialConfigs(w http.ResponseWriter, r *http.Request) {
	enabledOnly, _ := strconv.ParseBool(r.URL.Query().Get("enabled"))
	configs, err := s.db.GetSerialConfigs(enabledOnly)
	if err != nil {
		monitoring.Logf("Error fetching serial configs: %v", err)
		httputil.InternalServerError(w, "Failed to fetch serial configurations")
		return
	}
	httputil.WriteJSONOK(w, configs)
}

// handleSerialConfigByID handles GET/PUT/DELETE /serial-configs/:id
func (s *Server) handleSerialConfigByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/serial-configs/"), "/")
	if rest == "" {
		httputil.BadRequest(w, "Missing config ID")
		return
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		httputil.BadRequest(w, "Invalid config ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetSerialConfig(w, id)
	case http.MethodPut:
		s.handleUpdateSerialConfig(w, r, id)
	case http.MethodDelete:
		s.handleDeleteSerialConfig(w, id)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleGetSerialConfig(w http.ResponseWriter, id int64) {
	config, err := s.db.GetSerialConfig(id)
	if errors.Is(err, db.ErrSerialConfigNotFound) {
		httputil.NotFound(w, "Configuration not found")
		return
	}
	if err != nil {
		monitoring.Logf("Error fetching serial config %d: %v", id, err)
		httputil.InternalServerError(w, "Failed to fetch serial configuration")
		return
	}
	httputil.WriteJSONOK(w, config)
}

func (s *Server) handleCreateSerialConfig(w http.ResponseWriter, r *http.Request) {
	var req SerialConfigRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	config, err := req.toConfig()
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	id, err := s.db.CreateSerialConfig(config)
	if err != nil {
		monitoring.Logf("Error creating serial config: %v", err)
		if isUniqueViolation(err) {
			httputil.WriteJSONError(w, http.StatusConflict, "Configuration with this name already exists")
			return
		}
		httputil.InternalServerError(w, "Failed to create serial configuration")
		return
	}

	// re-read for the timestamps set by the database
	created, err := s.db.GetSerialConfig(id)
	if err != nil {
		monitoring.Logf("Error fetching created config: %v", err)
		httputil.InternalServerError(w, "Configuration created but failed to fetch")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateSerialConfig(w http.ResponseWriter, r *http.Request, id int64) {
	var req SerialConfigRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	config, err := req.toConfig()
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	config.ID = id

	if err := s.db.UpdateSerialConfig(config); err != nil {
		monitoring.Logf("Error updating serial config %d: %v", id, err)
		switch {
		case errors.Is(err, db.ErrSerialConfigNotFound):
			httputil.NotFound(w, "Configuration not found")
		case isUniqueViolation(err):
			httputil.WriteJSONError(w, http.StatusConflict, "Configuration with this name already exists")
		default:
			httputil.InternalServerError(w, "Failed to update serial configuration")
		}
		return
	}

	updated, err := s.db.GetSerialConfig(id)
	if err != nil {
		monitoring.Logf("Error fetching updated config: %v", err)
		httputil.InternalServerError(w, "Configuration updated but failed to fetch")
		return
	}
	httputil.WriteJSONOK(w, updated)
}

func (s *Server) handleDeleteSerialConfig(w http.ResponseWriter, id int64) {
	if err := s.db.DeleteSerialConfig(id); err != nil {
		monitoring.Logf("Error deleting serial config %d: %v", id, err)
		if errors.Is(err, db.ErrSerialConfigNotFound) {
			httputil.NotFound(w, "Configuration not found")
			return
		}
		httputil.InternalServerError(w, "Failed to delete serial configuration")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// isValidPortPath validates that a port path is in an allowed format
func isValidPortPath(path string) bool {
	return strings.HasPrefix(path, "/dev/tty") ||
		strings.HasPrefix(path, "/dev/serial") ||
		strings.HasPrefix(path, "/dev/cu.")
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
