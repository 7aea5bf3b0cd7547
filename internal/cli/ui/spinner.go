package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a message while an operation of unknown length runs
type Spinner struct {
	w        io.Writer
	message  string
	interval time.Duration
	noColor  bool

	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewSpinner creates a spinner; a zero interval animates every 100ms
func NewSpinner(w io.Writer, message string, interval time.Duration, noColor bool) *Spinner {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Spinner{
		w:        w,
		message:  message,
		interval: interval,
		noColor:  noColor,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the animation
func (s *Spinner) Start() {
	go s.animate()
}

// Stop ends the animation and clears the line. Safe to call more than once.
func (s *Spinner) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.mu.Lock()
		fmt.Fprint(s.w, "\r\033[K")
		s.mu.Unlock()
	})
}

func (s *Spinner) animate() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	frame := paint(s.noColor, color.FgCyan)
	for i := 0; ; i++ {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			frame.Fprintf(s.w, "\r%s %s", spinnerFrames[i%len(spinnerFrames)], s.message)
			s.mu.Unlock()
		}
	}
}

// WithSpinner runs fn behind a spinner and reports its outcome
func WithSpinner(w io.Writer, message string, noColor bool, fn func() error) error {
	s := NewSpinner(w, message, 0, noColor)
	s.Start()
	err := fn()
	s.Stop()

	if err != nil {
		paint(noColor, color.FgRed, color.Bold).Fprintf(w, "✗ %s failed\n", message)
		return err
	}
	Success(w, message, noColor)
	return nil
}
