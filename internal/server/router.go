// Package server exposes the supervisor over HTTP so the CLI (and any
// other operator tooling) can drive a long-running serve instance
// remotely. The API is a thin veneer: every handler delegates to the
// same supervisor methods the local CLI calls.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unitherd/unitherd/internal/metrics"
	"github.com/unitherd/unitherd/internal/supervisor"
	"github.com/unitherd/unitherd/internal/tlsconf"
)

// Router provides embeddable HTTP handlers for driving the supervisor.
// Endpoints (all under basePath):
//
//	GET  /status                     status rows for every known unit
//	POST /units/start?name=          start one unit, or all when name is empty
//	POST /units/stop?name=           stop one unit, or all when name is empty
//	POST /units/restart?name=        restart one unit, or all when name is empty
//	POST /reload                     reconcile declared vs. live units
//	GET  /logs?name=&lines=          tail of one unit's log stream
//
// /metrics is served at the engine root regardless of basePath.
type Router struct {
	sup      *supervisor.Supervisor
	basePath string
}

// NewRouter constructs a Router with a configurable basePath, e.g.
// "/unitherd" results in /unitherd/status and so on.
func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/units/start", r.handleStart)
	group.POST("/units/stop", r.handleStop)
	group.POST("/units/restart", r.handleRestart)
	group.POST("/reload", r.handleReload)
	group.GET("/logs", r.handleLogs)
	return g
}

// NewServer builds a standalone HTTP server on addr using this router.
// TLS is enabled when tc asks for it. The caller owns listening and
// shutdown.
func NewServer(addr, basePath string, sup *supervisor.Supervisor, tc *tlsconf.Config) (*http.Server, error) {
	tlsCfg, err := tlsconf.Setup(tc)
	if err != nil {
		return nil, err
	}
	r := NewRouter(sup, basePath)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	rows, err := r.sup.Status()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, rows)
}

func (r *Router) handleStart(c *gin.Context) {
	name, ok := unitSelector(c)
	if !ok {
		return
	}
	var err error
	if name == "" {
		err = r.sup.StartAll(c.Request.Context())
	} else {
		err = r.sup.Start(c.Request.Context(), name)
	}
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	name, ok := unitSelector(c)
	if !ok {
		return
	}
	var err error
	if name == "" {
		err = r.sup.StopAll(c.Request.Context())
	} else {
		err = r.sup.Stop(c.Request.Context(), name)
	}
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	name, ok := unitSelector(c)
	if !ok {
		return
	}
	var err error
	if name == "" {
		err = r.sup.RestartAll(c.Request.Context())
	} else {
		err = r.sup.Restart(c.Request.Context(), name)
	}
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleReload(c *gin.Context) {
	if err := r.sup.Reload(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// DefaultLogLines is returned by /logs when lines is absent.
const DefaultLogLines = 50

func (r *Router) handleLogs(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..'"})
		return
	}
	lines := DefaultLogLines
	if ls := c.Query("lines"); ls != "" {
		n, err := strconv.Atoi(ls)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "lines must be a positive integer"})
			return
		}
		lines = n
	}
	out, err := r.sup.TailLogs(name, lines)
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"unit": name, "lines": out})
}

// unitSelector reads and validates the optional name query param. An
// empty name selects every unit. On a bad name it writes the error and
// returns ok=false.
func unitSelector(c *gin.Context) (string, bool) {
	name := c.Query("name")
	if name == "" {
		return "", true
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..'"})
		return "", false
	}
	return name, true
}
