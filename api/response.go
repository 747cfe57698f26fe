package api

// Response is the interface of the document response of a navigation.
type Response interface {
	FrameID() string
	Headers() map[string]string
	MimeType() string
	Ok() bool
	Status() int64
	StatusText() string
	URL() string
}
