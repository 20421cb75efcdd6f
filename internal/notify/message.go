package notify

import (
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/formrelay/formrelay/internal/intake"
	"gopkg.in/gomail.v2"
)

// Body renders one "name: value" line per field, leaving out the uploaded file.
func Body(fields []intake.Field) string {
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Name == intake.FieldUploadedFile {
			continue
		}
		lines = append(lines, f.Name+": "+f.Value)
	}
	return strings.Join(lines, "\n")
}

// newMessage builds the outgoing mail. att may be nil.
func newMessage(from string, to []string, subject string, fields []intake.Field, att *intake.Attachment, mediaType string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	// SetHeader encodes its values in place; give it a copy so messages
	// built concurrently never share the recipient list.
	m.SetHeader("To", append([]string(nil), to...)...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", Body(fields))

	if att != nil {
		data := att.Data
		name := attachmentName(att.Name)
		m.Attach(name,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
			gomail.SetHeader(map[string][]string{
				"Content-Type": {mediaType + `; name="` + mime.QEncoding.Encode("UTF-8", name) + `"`},
			}),
		)
	}
	return m
}

// attachmentName strips directories and quotes so the name is safe in a header.
func attachmentName(name string) string {
	return strings.ReplaceAll(filepath.Base(name), `"`, "")
}
