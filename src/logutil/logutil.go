package logutil

import (
	"fmt"
	"io"
	"log"
	"os"
)

const (
	logFileName  = "region_capture_debug.log"
	maxSizeBytes = 10 * 1024 * 1024 // 10 MB
	maxArchives  = 3
)

// Setup enables file logging with basic size-based rotation (10MB, max 3 files).
// When disabled, logs are discarded (keeps stdout clean) to match prior behavior.
func Setup(enableFileLogging bool) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if !enableFileLogging {
		log.SetOutput(io.Discard)
		return
	}
	w, err := newRotatingWriter(logFileName, maxSizeBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		return
	}
	log.SetOutput(w)
}

// SetupStderr routes logs to stderr when verbose, otherwise discards them.
// Command-line tools use it so stdout stays reserved for their output.
func SetupStderr(verbose bool) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if verbose {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(io.Discard)
	}
}

type rotatingWriter struct {
	name    string
	maxSize int64
	f       *os.File
}

func newRotatingWriter(name string, maxSize int64) (*rotatingWriter, error) {
	rotateIfNeeded(name, maxSize)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}
	return &rotatingWriter{name: name, maxSize: maxSize, f: f}, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	// naive rotation check per write
	if st, err := w.f.Stat(); err == nil && st.Size() > 0 && st.Size()+int64(len(p)) > w.maxSize {
		_ = w.f.Close()
		rotate(w.name)
		nf, err := os.OpenFile(w.name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return 0, err
		}
		w.f = nf
	}
	return w.f.Write(p)
}

func rotateIfNeeded(name string, maxSize int64) {
	if st, err := os.Stat(name); err == nil && st.Size() > maxSize {
		rotate(name)
	}
}

// rotate shifts name to .1, .2, .3 (oldest discarded).
func rotate(name string) {
	_ = os.Remove(archiveName(name, maxArchives))
	for i := maxArchives - 1; i >= 1; i-- {
		_ = os.Rename(archiveName(name, i), archiveName(name, i+1))
	}
	_ = os.Rename(name, archiveName(name, 1))
}

func archiveName(name string, n int) string { return fmt.Sprintf("%s.%d", name, n) }
