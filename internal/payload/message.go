// Package payload decodes WhatsApp Cloud API webhook envelopes into
// normalized messages. The envelope is untrusted input: every field is
// re-validated during extraction, and a malformed branch contributes zero
// messages instead of failing the decode.
package payload

// Message is one normalized inbound message. The core fields are always set;
// exactly one of the variant pointers may be populated, selected by Type.
type Message struct {
	From      string
	ID        string
	Timestamp string
	Type      string

	Text        *TextContent
	Media       *MediaContent
	Location    *LocationContent
	Interactive *InteractiveContent
}

// TextContent carries a plain text body.
type TextContent struct {
	Body string
}

// MediaContent carries a media attachment reference. Either field may be
// empty when the platform omitted it.
type MediaContent struct {
	ID       string
	MimeType string
}

// LocationContent carries geographic coordinates, stringified as received,
// with optional place metadata.
type LocationContent struct {
	Latitude  string
	Longitude string
	Name      string
	Address   string
}

// Interactive sub-types recognized by the decoder. Other values are recorded
// in InteractiveContent.Type with no reply fields.
const (
	InteractiveButtonReply = "button_reply"
	InteractiveListReply   = "list_reply"
)

// InteractiveContent carries a button or list reply.
type InteractiveContent struct {
	Type string

	ButtonID    string
	ButtonTitle string

	ListID          string
	ListTitle       string
	ListDescription string
}
