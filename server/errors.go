package server

import (
	"fmt"

	"github.com/evanw/esbuild/pkg/api"
)

// BundleError is returned when esbuild fails to bundle a pathname, the import map is
// left untouched.
type BundleError struct {
	Pathname string
	Messages []api.Message
}

func (e *BundleError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("bundle '%s': unknown error", e.Pathname)
	}
	msg := e.Messages[0]
	if msg.Location != nil {
		return fmt.Sprintf("bundle '%s': %s:%d:%d: %s", e.Pathname, msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text)
	}
	return fmt.Sprintf("bundle '%s': %s", e.Pathname, msg.Text)
}
