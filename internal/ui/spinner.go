package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// SimpleSpinner provides a simple blocking spinner for CLI operations
type SimpleSpinner struct {
	message  string
	spinner  spinner.Spinner
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
	finished chan struct{}
}

func newSpinner(message string, s spinner.Spinner, interval time.Duration) *SimpleSpinner {
	return &SimpleSpinner{
		message:  message,
		spinner:  s,
		interval: interval,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// NewConnectionSpinner creates a spinner for network/connection operations (Globe style)
func NewConnectionSpinner(message string) *SimpleSpinner {
	return newSpinner(message, spinner.Globe, 180*time.Millisecond)
}

// NewWaitingSpinner creates a spinner for waiting on external events (Points style)
func NewWaitingSpinner(message string) *SimpleSpinner {
	return newSpinner(message, spinner.Points, 100*time.Millisecond)
}

func (s *SimpleSpinner) Start() {
	go func() {
		defer close(s.finished)
		frames := s.spinner.Frames
		for i := 0; ; i++ {
			fmt.Printf("\r%s %s", SpinnerStyle.Render(frames[i%len(frames)]), s.message)
			select {
			case <-s.done:
				return
			case <-time.After(s.interval):
			}
		}
	}()
}

func (s *SimpleSpinner) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		<-s.finished
		fmt.Print("\r\033[K") // Clear the line
	})
}

func (s *SimpleSpinner) Success(message string) {
	s.Stop()
	fmt.Printf("%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *SimpleSpinner) Error(message string) {
	s.Stop()
	fmt.Printf("%s %s\n", ErrorStyle.Render(IconError), message)
}
