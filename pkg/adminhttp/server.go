// Package adminhttp exposes the admin surface (spec-level "external
// channel") over HTTP: one attribute read/write endpoint per instance plus
// a websocket that streams state snapshots, grounded on the noisefs web UI's
// gorilla/mux + gorilla/websocket wiring.
package adminhttp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/dory-project/dory/pkg/device"
	"github.com/dory-project/dory/pkg/logging"
	"github.com/dory-project/dory/pkg/registry"
)

// APIResponse wraps every JSON response, success or failure.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Server is the HTTP admin transport: one process serves the attribute
// surface for every instance currently in the registry.
type Server struct {
	log      *logging.Logger
	upgrader websocket.Upgrader

	wsMu      sync.RWMutex
	wsClients map[*websocket.Conn]chan string
}

// StateEvent is one "state changed" push over the websocket stream.
type StateEvent struct {
	State string `json:"state"`
}

// NewServer builds a Server.
func NewServer() *Server {
	return &Server{
		log: logging.GetGlobalLogger().WithComponent("adminhttp"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		wsClients: make(map[*websocket.Conn]chan string),
	}
}

// Router builds the gorilla/mux router. The caller embeds it in an
// *http.Server or serves it directly.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/dory", s.handleList).Methods("GET")
	r.HandleFunc("/dory/{instance}/attr/stream", s.handleStream).Methods("GET")
	r.HandleFunc("/dory/{instance}/attr/{name}", s.handleGetAttr).Methods("GET")
	r.HandleFunc("/dory/{instance}/attr/{name}", s.handlePutAttr).Methods("PUT")
	return r
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, APIResponse{Success: true, Data: registry.List()})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	name := mux.Vars(r)["instance"]
	dev := registry.Get(name)
	if dev == nil {
		sendError(w, fmt.Errorf("no such instance: %s", name), http.StatusNotFound)
		return nil, false
	}
	return dev, true
}

// handleGetAttr implements the read-only half of the admin surface's k/v
// contract: mode, state, statistics, cache, torn_mask, torn_modulus.
func (s *Server) handleGetAttr(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookup(w, r)
	if !ok {
		return
	}

	switch mux.Vars(r)["name"] {
	case "mode":
		writeText(w, dev.Mode())
	case "state":
		writeText(w, dev.State())
	case "statistics":
		sendJSON(w, APIResponse{Success: true, Data: dev.Statistics()})
	case "cache":
		writeText(w, dev.Cache(256))
	case "torn_mask":
		writeText(w, fmt.Sprintf("%d\n", dev.TornMask()))
	case "torn_modulus":
		writeText(w, fmt.Sprintf("%d\n", dev.TornModulus()))
	default:
		sendError(w, fmt.Errorf("attribute %q is write-only or unknown", mux.Vars(r)["name"]), http.StatusBadRequest)
	}
}

// handlePutAttr implements the write half: stop, returnEIO, torn_mask,
// torn_modulus.
func (s *Server) handlePutAttr(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookup(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		sendError(w, err, http.StatusBadRequest)
		return
	}
	value := string(body)

	switch mux.Vars(r)["name"] {
	case "stop":
		dev.Stop()
	case "returnEIO":
		code, err := strconv.Atoi(value)
		if err != nil {
			sendError(w, err, http.StatusBadRequest)
			return
		}
		if err := dev.SetReturnCode(code); err != nil {
			sendError(w, err, http.StatusBadRequest)
			return
		}
	case "torn_mask":
		mask, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			sendError(w, err, http.StatusBadRequest)
			return
		}
		if err := dev.SetTornMask(uint32(mask)); err != nil {
			sendError(w, err, http.StatusBadRequest)
			return
		}
	case "torn_modulus":
		modulus, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			sendError(w, err, http.StatusBadRequest)
			return
		}
		if err := dev.SetTornModulus(uint32(modulus)); err != nil {
			sendError(w, err, http.StatusBadRequest)
			return
		}
	default:
		sendError(w, fmt.Errorf("attribute %q is read-only or unknown", mux.Vars(r)["name"]), http.StatusBadRequest)
		return
	}

	sendJSON(w, APIResponse{Success: true})
}

// handleStream upgrades to a websocket and pushes a JSON StateEvent each
// time dev's state actually changes (a busy_count zero-crossing, a flush
// completing, or stopped flipping — see device.Device.StateChanged),
// rather than polling on a fixed interval.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookup(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	client := make(chan string, 8)
	s.wsMu.Lock()
	s.wsClients[conn] = client
	s.wsMu.Unlock()

	defer func() {
		s.wsMu.Lock()
		delete(s.wsClients, conn)
		s.wsMu.Unlock()
		close(client)
		conn.Close()
	}()

	go func() {
		for msg := range client {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	push := func() {
		buf, err := json.Marshal(StateEvent{State: dev.State()})
		if err != nil {
			return
		}
		select {
		case client <- string(buf):
		default:
		}
	}

	changed := dev.StateChanged()
	push()

	for {
		select {
		case <-done:
			return
		case <-changed:
			changed = dev.StateChanged()
			push()
		}
	}
}

func sendJSON(w http.ResponseWriter, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func sendError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: err.Error()})
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, text)
}
