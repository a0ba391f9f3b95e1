package main

// DefaultLogLines is how much tail `logs` prints without -n.
const DefaultLogLines = 50

// GlobalFlags are the persistent flags shared by every subcommand.
// Directory flags override the config file, which overrides the
// defaults derived from the base directory.
type GlobalFlags struct {
	ConfigPath  string
	BaseDir     string
	ServicesDir string
	LogDir      string
	RunDir      string
	APIUrl      string // non-empty: drive a remote serve instance
}

// StatusFlags holds status output options.
type StatusFlags struct {
	JSON bool
}

// LogsFlags holds log tail/follow options. Following is the default;
// NoFollow prints the tail and exits.
type LogsFlags struct {
	NoFollow bool
	Lines    int
}

// ServeFlags holds serve-mode options.
type ServeFlags struct {
	Listen   string
	BasePath string
	Daemon   bool
}

// TemplateFlags holds unit-file scaffolding options.
type TemplateFlags struct {
	Type   string
	Name   string
	Output string
	Force  bool
}
