package traps

import (
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// handler is one registered cleanup action. The id keeps dispatch logs
// attributable when several helpers register under the same name.
type handler struct {
	id   string
	name string
	fn   func()
}

// Manager owns the process-wide signal handler chains. It is installed once
// against the OS signal API and dispatches to the registered handlers in
// reverse registration order. Registrations live for the process lifetime;
// there is no teardown.
type Manager struct {
	log  *log.Logger
	exit func(int)

	mu      sync.Mutex
	chains  map[os.Signal][]handler
	watched map[os.Signal]bool
	started bool
	sigCh   chan os.Signal

	exitOnce sync.Once
}

// NewManager creates a Manager. Nothing is installed against the OS until
// the first handler for a real signal is registered.
func NewManager(logger *log.Logger) *Manager {
	return &Manager{
		log:     logger,
		exit:    os.Exit,
		chains:  make(map[os.Signal][]handler),
		watched: make(map[os.Signal]bool),
		sigCh:   make(chan os.Signal, 8),
	}
}

// On appends fn to the chain for sig and returns the registration id.
// Prior handlers for the same signal are preserved; when the signal fires
// the chain runs newest-first, then the EXIT chain, then the process exits
// with the shell convention code 128+signum.
func (m *Manager) On(sig os.Signal, name string, fn func()) string {
	h := handler{id: uuid.New().String(), name: name, fn: fn}

	m.mu.Lock()
	m.chains[sig] = append(m.chains[sig], h)
	watch := sig != ExitSignal && !m.watched[sig]
	if watch {
		m.watched[sig] = true
	}
	start := watch && !m.started
	if start {
		m.started = true
	}
	depth := len(m.chains[sig])
	m.mu.Unlock()

	if watch {
		signal.Notify(m.sigCh, sig)
	}
	if start {
		go m.loop()
	}
	m.log.Debug("trap registered", "signal", sig.String(), "handler", name, "id", h.id, "depth", depth)
	return h.id
}

// OnExit appends fn to the EXIT chain.
func (m *Manager) OnExit(name string, fn func()) string {
	return m.On(ExitSignal, name, fn)
}

// Exit runs the EXIT chain and terminates the process with code.
// The chain runs at most once even when Exit is reentered from a handler.
func (m *Manager) Exit(code int) {
	m.exitOnce.Do(func() { m.runChain(ExitSignal) })
	m.exit(code)
}

func (m *Manager) loop() {
	for sig := range m.sigCh {
		m.log.Info("signal received", "signal", sig.String())
		m.runChain(sig)
		code := 1
		if s, ok := sig.(syscall.Signal); ok {
			code = 128 + int(s)
		}
		m.Exit(code)
	}
}

// runChain executes the chain for sig newest-first. A panicking handler is
// logged and the rest of the chain still runs.
func (m *Manager) runChain(sig os.Signal) {
	m.mu.Lock()
	chain := slices.Clone(m.chains[sig])
	m.mu.Unlock()

	for i := len(chain) - 1; i >= 0; i-- {
		h := chain[i]
		m.log.Debug("running trap handler", "signal", sig.String(), "handler", h.name, "id", h.id)
		m.runHandler(sig, h)
	}
}

func (m *Manager) runHandler(sig os.Signal, h handler) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("trap handler panicked", "signal", sig.String(), "handler", h.name, "err", r)
		}
	}()
	h.fn()
}
