// Package webstatus provides a small diagnostics web service for the
// feeder processes: a health check on / and a JSON snapshot of the
// feeder's in-memory world on /state.
package webstatus

import (
	"encoding/json"
	logger "log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// SnapshotFunc returns a view of the owning feeder's current state.
// Implementations must be safe to call from the serving goroutine.
type SnapshotFunc func() interface{}

// defaultHttpHandler simple default http handler for default route
type defaultHttpHandler struct {
}

// ServeHTTP implements defaultHttpHandler http.Handler interface
func (h *defaultHttpHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Application-Status", "OK")
}

// stateHandler serves the feeder snapshot as json
type stateHandler struct {
	log      *logger.Logger
	snapshot SnapshotFunc
}

// ServeHTTP implements stateHandler's http.Handler interface
func (s *stateHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	jsonData, err := json.Marshal(s.snapshot())
	if err != nil {
		s.log.Printf("Error marshaling feeder state to json: error:%v\n", err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(jsonData); err != nil {
		s.log.Printf("Error writing json response: %s", err)
	}
}

// CreateServer creates configured http.Server serving feeder diagnostics
func CreateServer(log *logger.Logger, httpPort int, snapshot SnapshotFunc) *http.Server {
	r := mux.NewRouter()
	r.Handle("/", &defaultHttpHandler{})
	r.Handle("/state", &stateHandler{log: log, snapshot: snapshot})
	srv := &http.Server{
		Addr: strings.Join([]string{"0.0.0.0", strconv.Itoa(httpPort)}, ":"),
		// Good practice to set timeouts to avoid Slowloris attacks.
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      r,
	}
	return srv
}

// Run starts the diagnostics server in the background and returns the
// server so callers can shut it down during process exit.
func Run(log *logger.Logger, httpPort int, snapshot SnapshotFunc) *http.Server {
	srv := CreateServer(log, httpPort, snapshot)
	log.Printf("Starting diagnostics server on port %d", httpPort)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Printf("diagnostics server ListenAndServe ended. %s", err)
		}
	}()
	return srv
}
