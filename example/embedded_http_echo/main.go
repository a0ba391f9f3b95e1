package main

import (
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/unitherd/unitherd/internal/config"
	"github.com/unitherd/unitherd/internal/server"
	"github.com/unitherd/unitherd/internal/supervisor"
)

// Mounts the lifecycle API inside an existing Echo application, for
// hosts that already serve HTTP and want the supervisor under a
// sub-path of their own server.
func main() {
	base := os.Getenv("API_BASE")
	if base == "" {
		base = "/api"
	}

	cfg := config.Default()
	if err := cfg.Normalize(); err != nil {
		log.Fatal(err)
	}
	sup, err := supervisor.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer sup.Close()

	r := server.NewRouter(sup, base)
	h := r.Handler()

	e := echo.New()
	e.Any(base, echo.WrapHandler(h))
	e.Any(base+"/*", echo.WrapHandler(h))

	log.Println("starting echo server on :8080 with base", base)
	if err := e.Start(":8080"); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
