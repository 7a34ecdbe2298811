package monitoring

import (
	"io"
	"log"
)

// Logf is the package-level diagnostic logger used by the tracker's
// Logf-based observers and the run recorder's migrations. It defaults to
// log.Printf; drivers and tests redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetOutput routes Logf to w with standard timestamps. A nil writer mutes
// the logger.
func SetOutput(w io.Writer) {
	if w == nil {
		SetLogger(nil)
		return
	}
	SetLogger(log.New(w, "", log.LstdFlags|log.Lmicroseconds).Printf)
}
