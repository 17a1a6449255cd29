package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SamatmaAB/thermoguard/internal/machine"
	"github.com/SamatmaAB/thermoguard/internal/sensor"
)

// Status is the read-only snapshot served over HTTP. The supervisor is
// not remotely controllable; this surface exists for inspection only.
type Status struct {
	State          machine.State   `json:"state"`
	EnteredAt      time.Time       `json:"enteredAt"`
	SensorFailures int             `json:"sensorFailures"`
	Worker         WorkerStatus    `json:"worker"`
	LastReading    *sensor.Reading `json:"lastReading,omitempty"`
}

// WorkerStatus describes the supervised session.
type WorkerStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
}

// Source provides the current status; implemented by the supervisor loop.
type Source interface {
	Status() Status
}

// Router provides embeddable read-only HTTP handlers.
// Endpoints:
//
//	GET {basePath}/status
//	GET {basePath}/healthz
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src      Source
	basePath string
}

// NewRouter constructs a Router with configurable basePath.
func NewRouter(src Source, basePath string) *Router {
	return &Router{src: src, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealthz)
	return g
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.src.Status())
}

func (r *Router) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// NewServer starts a standalone HTTP server on addr using this router.
// Close the returned server to stop it.
func NewServer(addr, basePath string, src Source) *http.Server {
	r := NewRouter(src, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

func sanitizeBase(basePath string) string {
	bp := strings.TrimSpace(basePath)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}
