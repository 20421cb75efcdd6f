package intake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func fieldMap(fields []Field) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		out[f.Name] = f.Value
	}
	return out
}

func TestExtractFillsMissingFields(t *testing.T) {
	rec := Record{"_id": 1, "name": "Ada", "email": "ada@example.com"}

	fields, att := Extract(rec)
	require.Nil(t, att)
	require.Len(t, fields, len(Fields))

	m := fieldMap(fields)
	require.Equal(t, "Ada", m["name"])
	require.Equal(t, "ada@example.com", m["email"])
	require.Equal(t, Placeholder, m["phone"])
	require.Equal(t, Placeholder, m["projectDescription"])
	require.Equal(t, Placeholder, m[FieldUploadedFile])
}

func TestExtractKeepsDeclaredOrder(t *testing.T) {
	fields, _ := Extract(Record{})
	for i, f := range fields {
		require.Equal(t, Fields[i], f.Name)
	}
}

func TestExtractFormatsValues(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	rec := Record{
		"phone":     int32(5551234),
		"createdAt": primitive.NewDateTimeFromTime(created),
	}
	m := fieldMap(mustFields(Extract(rec)))
	require.Equal(t, "5551234", m["phone"])
	require.Equal(t, "2024-03-01T09:30:00Z", m["createdAt"])
}

func mustFields(f []Field, _ *Attachment) []Field { return f }

func TestExtractAttachment(t *testing.T) {
	tests := []struct {
		name string
		file any
		want *Attachment
	}{
		{
			name: "binary payload",
			file: bson.M{"data": primitive.Binary{Data: []byte("png-bytes")}, "filename": "photo.png"},
			want: &Attachment{Name: "photo.png", Data: []byte("png-bytes")},
		},
		{
			name: "raw bytes in bson.D",
			file: bson.D{{Key: "data", Value: []byte("%PDF")}, {Key: "filename", Value: "brief.pdf"}},
			want: &Attachment{Name: "brief.pdf", Data: []byte("%PDF")},
		},
		{
			name: "missing payload",
			file: bson.M{"filename": "photo.png"},
		},
		{
			name: "empty payload",
			file: bson.M{"data": primitive.Binary{}, "filename": "photo.png"},
		},
		{
			name: "missing filename",
			file: bson.M{"data": []byte("x")},
		},
		{
			name: "null file",
			file: nil,
		},
		{
			name: "empty document",
			file: bson.M{},
		},
		{
			name: "not a document",
			file: "photo.png",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, att := Extract(Record{FieldUploadedFile: tt.file})
			require.Equal(t, tt.want, att)
		})
	}
}

func TestExtractNoFileField(t *testing.T) {
	_, att := Extract(Record{"name": "x"})
	require.Nil(t, att)
}

func TestExtractSubmission(t *testing.T) {
	oid := primitive.NewObjectID()
	sub := ExtractSubmission(Record{"_id": oid, "name": "Grace"})
	require.Equal(t, oid.Hex(), sub.ID)
	require.Equal(t, "Grace", sub.Name)
	require.Len(t, sub.Fields, len(Fields))

	anon := ExtractSubmission(Record{"_id": int64(7)})
	require.Equal(t, "7", anon.ID)
	require.Equal(t, Placeholder, anon.Name)
}

func TestExtractDecodedDocument(t *testing.T) {
	created := time.Date(2024, 6, 2, 14, 0, 0, 0, time.UTC)
	raw, err := bson.Marshal(bson.D{
		{Key: "_id", Value: primitive.NewObjectID()},
		{Key: "name", Value: "Lin"},
		{Key: "phone", Value: "555-0101"},
		{Key: "createdAt", Value: created},
		{Key: "uploadedFile", Value: bson.D{
			{Key: "data", Value: []byte("%PDF-1.7")},
			{Key: "filename", Value: "plan.pdf"},
		}},
	})
	require.NoError(t, err)

	// same shape a cursor decode into bson.M produces
	var rec Record
	require.NoError(t, bson.Unmarshal(raw, &rec))
	require.IsType(t, primitive.M{}, rec[FieldUploadedFile])
	require.IsType(t, primitive.DateTime(0), rec["createdAt"])

	fields, att := Extract(rec)
	m := fieldMap(fields)
	require.Equal(t, "Lin", m["name"])
	require.Equal(t, "555-0101", m["phone"])
	require.Equal(t, "2024-06-02T14:00:00Z", m["createdAt"])
	require.Equal(t, Placeholder, m["email"])
	require.Equal(t, &Attachment{Name: "plan.pdf", Data: []byte("%PDF-1.7")}, att)
}
