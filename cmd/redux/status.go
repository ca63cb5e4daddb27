package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// status renders one refreshed line per in-flight target, the way
// internal/batch's scheduler overwrites its status block in place, but
// gated on isatty instead of a raw termios ioctl.
type status struct {
	mu    sync.Mutex
	lines map[string]string
	order []string
}

var isTerminal = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

func newStatus() *status {
	return &status{lines: map[string]string{}}
}

func (s *status) set(target, line string) {
	if !isTerminal {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lines[target]; !ok {
		s.order = append(s.order, target)
	}
	s.lines[target] = line
	s.redrawLocked()
}

func (s *status) clear(target string) {
	if !isTerminal {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lines, target)
	for i, t := range s.order {
		if t == target {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.redrawLocked()
}

func (s *status) redrawLocked() {
	var maxLen int
	for _, line := range s.lines {
		if len(line) > maxLen {
			maxLen = len(line)
		}
	}
	for _, t := range s.order {
		line := s.lines[t]
		if diff := maxLen - len(line); diff > 0 {
			line += strings.Repeat(" ", diff)
		}
		fmt.Println(line)
	}
	if len(s.order) > 0 {
		fmt.Printf("\033[%dA", len(s.order))
	}
}
