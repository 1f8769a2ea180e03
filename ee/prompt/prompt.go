package prompt

// Request describes a confirmation prompt to show to the end user. The accept
// and reject labels are set by the caller; the presentation surface renders
// them as-is.
type Request struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	AcceptLabel string `json:"accept_label"`
	RejectLabel string `json:"reject_label"`
}

// Response carries the user's decision back from the presentation surface.
// A prompt dismissed without an explicit choice reports Approved as false.
type Response struct {
	Approved bool `json:"approved"`
}
