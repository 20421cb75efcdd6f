package notify

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/formrelay/formrelay/internal/intake"
)

// MaxAttachmentSize is the largest payload attached to a notification.
const MaxAttachmentSize = 5 * 1024 * 1024

// AllowedMIMETypes lists the attachment types that may be forwarded.
var AllowedMIMETypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
}

// Verdict is the outcome of checking an attachment.
type Verdict int

const (
	// NoAttachment means the submission carried no usable file.
	NoAttachment Verdict = iota
	// Attach means the file is forwarded with the mail.
	Attach
	// TooLarge means the file is dropped and the body is still sent.
	TooLarge
	// Unsupported means nothing is sent for the submission.
	Unsupported
)

func (v Verdict) String() string {
	switch v {
	case Attach:
		return "attach"
	case TooLarge:
		return "too_large"
	case Unsupported:
		return "unsupported_type"
	}
	return "none"
}

// CheckAttachment applies the size limit and then the type allow-list.
// The returned media type is only meaningful for Attach.
func CheckAttachment(att *intake.Attachment) (string, Verdict) {
	if att == nil || len(att.Data) == 0 || att.Name == "" {
		return "", NoAttachment
	}
	if len(att.Data) > MaxAttachmentSize {
		return "", TooLarge
	}
	mediaType := MediaType(att.Name)
	if !AllowedMIMETypes[mediaType] {
		return mediaType, Unsupported
	}
	return mediaType, Attach
}

// MediaType infers a media type from the filename extension.
// Unknown extensions yield "application/octet-stream".
func MediaType(name string) string {
	t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if t == "" {
		return "application/octet-stream"
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}
