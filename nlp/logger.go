// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nlp

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogFailure print only failed callbacks
	LogFailure LogLevel = 0
	// LogEval print also the start and success of every callback
	LogEval LogLevel = 1
	// LogVerbose print also the primal point of every callback
	LogVerbose LogLevel = 101
)

// Logger handles logging output for the adapter.
// Clones of an adapter share its logger, so writes are serialized.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages, stderr when nil.
	mu    sync.Mutex
}

func (l *Logger) enable(level LogLevel) bool {
	return l != nil && l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.Msg
	if w == nil {
		w = os.Stderr
	}
	if len(a) > 0 {
		_, _ = fmt.Fprintf(w, format, a...)
	} else {
		_, _ = fmt.Fprint(w, format)
	}
}

// Logf writes a line when level is enabled.
func (l *Logger) Logf(level LogLevel, format string, a ...any) {
	if l.enable(level) {
		l.log(format+"\n", a...)
	}
}
