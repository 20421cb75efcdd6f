package intake

import (
	"fmt"
	"time"

	"github.com/formrelay/formrelay/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Extract copies the declared fields out of rec and pulls the optional uploaded
// file. Missing fields become Placeholder; it never fails on missing data.
func Extract(rec Record) ([]Field, *Attachment) {
	fields := make([]Field, 0, len(Fields))
	for _, name := range Fields {
		v, ok := rec[name]
		if !ok {
			fields = append(fields, Field{Name: name, Value: Placeholder})
			continue
		}
		fields = append(fields, Field{Name: name, Value: formatValue(v)})
	}
	return fields, extractAttachment(rec)
}

// ExtractSubmission is Extract plus the identifying values of rec.
func ExtractSubmission(rec Record) Submission {
	fields, att := Extract(rec)
	name := Placeholder
	if v, ok := rec[FieldName]; ok && v != nil {
		name = formatValue(v)
	}
	return Submission{
		ID:         IDString(rec[FieldID]),
		Name:       name,
		Fields:     fields,
		Attachment: att,
	}
}

func extractAttachment(rec Record) *Attachment {
	raw, ok := rec[FieldUploadedFile]
	if !ok {
		return nil
	}
	if raw == nil {
		logger.Info("No file uploaded")
		return nil
	}
	file, ok := asMap(raw)
	if !ok {
		logger.Warnf("Invalid uploaded file of type %T", raw)
		return nil
	}
	if len(file) == 0 {
		logger.Info("No file uploaded")
		return nil
	}
	data := asBytes(file["data"])
	name, _ := file["filename"].(string)
	if len(data) == 0 || name == "" {
		logger.Warnf("Invalid or unsupported file: %q", name)
		return nil
	}
	return &Attachment{Name: name, Data: data}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]any:
		return m, true
	case bson.D:
		return m.Map(), true
	default:
		return nil, false
	}
}

func asBytes(v any) []byte {
	switch b := v.(type) {
	case primitive.Binary:
		return b.Data
	case []byte:
		return b
	case string:
		return []byte(b)
	default:
		return nil
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case string:
		return t
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case primitive.ObjectID:
		return t.Hex()
	case bson.M, bson.D, map[string]any:
		return "[embedded document]"
	default:
		return fmt.Sprint(t)
	}
}
