package internal

import "io"

// Command selects what Run does.
type Command string

// Commands.
const (
	CommandSync    Command = "sync"
	CommandPlan    Command = "plan"
	CommandHistory Command = "history"
	CommandMCP     Command = "mcp"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *Config
	command    Command
	out        io.Writer
	json       bool
	eventsAddr string
	limit      int
	version    string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithCommand sets the command to run. Defaults to sync.
func WithCommand(c Command) Option {
	return func(a *application) {
		a.command = c
	}
}

// WithOutput sets where reports are written. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(a *application) {
		a.out = w
	}
}

// WithJSON renders reports as JSON instead of text.
func WithJSON(enabled bool) Option {
	return func(a *application) {
		a.json = enabled
	}
}

// WithEventsAddr serves the progress stream on addr while the command runs.
func WithEventsAddr(addr string) Option {
	return func(a *application) {
		a.eventsAddr = addr
	}
}

// WithHistoryLimit bounds the number of runs listed by the history command.
func WithHistoryLimit(n int) Option {
	return func(a *application) {
		a.limit = n
	}
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}
