// Package template scaffolds unit files for common service shapes so an
// operator can start from a working KEY=VALUE declaration instead of a
// blank page.
package template

import (
	"fmt"
	"strings"
)

// Type selects the preset to generate.
type Type string

const (
	TypeWeb      Type = "web"
	TypeWebapp   Type = "webapp"
	TypeAPI      Type = "api"
	TypeService  Type = "service"
	TypeWorker   Type = "worker"
	TypeDatabase Type = "database"
	TypeDB       Type = "db"
	TypeSimple   Type = "simple"
	TypeBasic    Type = "basic"
)

// Unit is a unit-file declaration about to be rendered.
type Unit struct {
	Name         string
	Kind         string // TYPE value: "simple" or "script"
	Command      string
	WaitFor      string
	Restart      bool
	RestartDelay int // seconds; emitted only when > 0
	EnvFile      string
	Env          []string
	StopPattern  string
	Comment      string // leading comment block, one line per entry
}

// Generator produces unit file presets.
type Generator struct{}

// NewGenerator creates a template generator.
func NewGenerator() *Generator { return &Generator{} }

// Generate builds the preset for the given type and name.
func (g *Generator) Generate(t Type, name string) (*Unit, error) {
	switch t {
	case TypeWeb, TypeWebapp:
		return g.web(name), nil
	case TypeAPI, TypeService:
		return g.api(name), nil
	case TypeWorker:
		return g.worker(name), nil
	case TypeDatabase, TypeDB:
		return g.database(name), nil
	case TypeSimple, TypeBasic:
		return g.simple(name), nil
	default:
		return nil, fmt.Errorf("unknown template type: %s (supported: web, api, worker, database, simple)", t)
	}
}

// SupportedTypes lists the canonical type names.
func (g *Generator) SupportedTypes() []string {
	return []string{string(TypeWeb), string(TypeAPI), string(TypeWorker), string(TypeDatabase), string(TypeSimple)}
}

// Render produces the unit file text for u.
func (u *Unit) Render() string {
	var b strings.Builder
	if u.Comment != "" {
		for _, line := range strings.Split(strings.TrimRight(u.Comment, "\n"), "\n") {
			fmt.Fprintf(&b, "# %s\n", line)
		}
	}
	fmt.Fprintf(&b, "NAME=%s\n", u.Name)
	if u.Kind != "" && u.Kind != "simple" {
		fmt.Fprintf(&b, "TYPE=%s\n", u.Kind)
	}
	fmt.Fprintf(&b, "CMD=%s\n", u.Command)
	if u.WaitFor != "" {
		fmt.Fprintf(&b, "WAIT_FOR=%s\n", u.WaitFor)
	}
	if u.Restart {
		b.WriteString("RESTART=always\n")
	} else {
		b.WriteString("RESTART=no\n")
	}
	if u.RestartDelay > 0 {
		fmt.Fprintf(&b, "RESTART_DELAY=%d\n", u.RestartDelay)
	}
	if u.EnvFile != "" {
		fmt.Fprintf(&b, "ENV_FILE=%s\n", u.EnvFile)
	}
	for _, kv := range u.Env {
		fmt.Fprintf(&b, "ENV=%s\n", kv)
	}
	if u.StopPattern != "" {
		fmt.Fprintf(&b, "STOP_PATTERN=%s\n", u.StopPattern)
	}
	return b.String()
}

func (g *Generator) web(name string) *Unit {
	return &Unit{
		Name:         name,
		Command:      "python -m http.server 8000",
		Restart:      true,
		RestartDelay: 5,
		Env:          []string{"PORT=8000", "ENV=production"},
		Comment:      "Web application server.\nAdjust CMD and PORT for your app.",
	}
}

func (g *Generator) api(name string) *Unit {
	return &Unit{
		Name:         name,
		Command:      "./api-server --listen :3000",
		WaitFor:      "tcp:localhost:5432",
		Restart:      true,
		RestartDelay: 5,
		Env:          []string{"PORT=3000", "LOG_LEVEL=info"},
		Comment:      "REST API service.\nWAIT_FOR holds the launch until the database port accepts connections.",
	}
}

func (g *Generator) worker(name string) *Unit {
	return &Unit{
		Name:         name,
		Command:      "./worker",
		WaitFor:      "service:" + name + "-broker",
		Restart:      true,
		RestartDelay: 10,
		Env:          []string{"WORKER_THREADS=4", "LOG_LEVEL=info"},
		Comment:      "Background worker.\nWAIT_FOR delays the launch until the named unit is alive.",
	}
}

func (g *Generator) database(name string) *Unit {
	return &Unit{
		Name:         name,
		Command:      "mongod --dbpath /data/db --port 27017",
		Restart:      true,
		RestartDelay: 5,
		StopPattern:  "mongod",
		Comment:      "Database service.\nGive databases a low filename prefix so they start before their clients.",
	}
}

func (g *Generator) simple(name string) *Unit {
	return &Unit{
		Name:    name,
		Command: "echo 'Hello from " + name + "'",
	}
}
