package traps

import (
	"io"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() (*Manager, chan int) {
	exitCh := make(chan int, 4)
	m := NewManager(log.New(io.Discard))
	m.exit = func(code int) { exitCh <- code }
	return m, exitCh
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		want os.Signal
	}{
		{"EXIT", ExitSignal},
		{"exit", ExitSignal},
		{"0", ExitSignal},
		{"INT", syscall.SIGINT},
		{"SIGINT", syscall.SIGINT},
		{"sigterm", syscall.SIGTERM},
		{"TERM", syscall.SIGTERM},
		{"HUP", syscall.SIGHUP},
		{"QUIT", syscall.SIGQUIT},
		{"15", syscall.SIGTERM},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := Parse(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sig)
		})
	}
}

func TestParseUnknown(t *testing.T) {
	for _, name := range []string{"BOGUS", "SIGWAT", "", "-5", "99"} {
		_, err := Parse(name)
		assert.Error(t, err, "name %q", name)
	}
}

func TestExitChainRunsNewestFirst(t *testing.T) {
	m, _ := newTestManager()
	var order []string
	m.OnExit("a", func() { order = append(order, "a") })
	m.OnExit("b", func() { order = append(order, "b") })
	m.OnExit("c", func() { order = append(order, "c") })

	m.Exit(0)
	assert.Equal(t, []string{"c", "b", "a"}, order)
}

func TestRegisteringNeverReplacesPriorHandlers(t *testing.T) {
	m, exitCh := newTestManager()
	var order []string
	m.OnExit("first", func() { order = append(order, "first") })
	m.OnExit("second", func() { order = append(order, "second") })

	m.Exit(5)
	assert.Equal(t, []string{"second", "first"}, order)
	assert.Equal(t, 5, <-exitCh)
}

func TestExitChainRunsAtMostOnce(t *testing.T) {
	m, exitCh := newTestManager()
	runs := 0
	m.OnExit("count", func() { runs++ })

	m.Exit(3)
	m.Exit(4)
	assert.Equal(t, 1, runs)
	assert.Equal(t, 3, <-exitCh)
	assert.Equal(t, 4, <-exitCh)
}

func TestChainSurvivesPanickingHandler(t *testing.T) {
	m, _ := newTestManager()
	var order []string
	m.OnExit("a", func() { order = append(order, "a") })
	m.OnExit("boom", func() { panic("boom") })

	m.Exit(0)
	assert.Equal(t, []string{"a"}, order)
}

func TestHandlerIDsAreUnique(t *testing.T) {
	m, _ := newTestManager()
	id1 := m.OnExit("a", func() {})
	id2 := m.OnExit("a", func() {})
	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
}

func TestSignalDispatchRunsChainThenExitChain(t *testing.T) {
	m, exitCh := newTestManager()
	var mu sync.Mutex
	var order []string
	record := func(s string) func() {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, s)
		}
	}
	m.On(syscall.SIGUSR1, "first", record("first"))
	m.On(syscall.SIGUSR1, "second", record("second"))
	m.OnExit("cleanup", record("cleanup"))

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	select {
	case code := <-exitCh:
		assert.Equal(t, 128+int(syscall.SIGUSR1), code)
	case <-time.After(5 * time.Second):
		t.Fatal("signal was not dispatched")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"second", "first", "cleanup"}, order)
}
