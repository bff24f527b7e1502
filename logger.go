package meetsdk

import (
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

var logger = stdr.New(log.New(os.Stderr, "", log.LstdFlags))

// SetLogger overrides the default logger. By default a stdlib-backed
// logger writing to stderr is used.
func SetLogger(l logr.Logger) {
	logger = l
}
