package domain

import (
	"errors"
	"strings"
)

// DeepestMessage flattens a wrap chain to its most specific human message.
// Wrappers in this codebase either prefix the inner error ("run query: <inner>")
// or prefix a sentinel onto specific text ("execution error: ORA-00942...");
// walking the chain and trimming each layer's contribution leaves the leaf
// text, e.g. the driver's own "ORA-00942: table or view does not exist".
func DeepestMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for cur := err; ; {
		child := errors.Unwrap(cur)
		if child == nil {
			break
		}
		ctext := child.Error()
		switch {
		case ctext == "":
		case strings.HasSuffix(msg, ": "+ctext):
			// This layer added a prefix; the child's text is more specific.
			msg = ctext
		case strings.HasPrefix(msg, ctext+": "):
			// The child is a bare sentinel; the suffix is more specific.
			msg = strings.TrimPrefix(msg, ctext+": ")
		}
		cur = child
	}
	if strings.TrimSpace(msg) == "" {
		return err.Error()
	}
	return msg
}
