package common

import "time"

const (
	// DefaultTimeout is the timeout used for waits and navigations
	// when no other timeout is configured.
	DefaultTimeout = 30 * time.Second

	// XPathMarker prefixes wait targets that are XPath expressions.
	XPathMarker = "//"

	// evaluationScriptURL names the scripts sent by the frame tree so
	// they can be told apart in the remote stack traces.
	evaluationScriptURL = "__k6frames_evaluation_script__"
)
