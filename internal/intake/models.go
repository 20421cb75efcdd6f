package intake

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Record is one raw submission document as written by the form backend.
type Record = bson.M

const (
	FieldID           = "_id"
	FieldName         = "name"
	FieldUploadedFile = "uploadedFile"

	// Placeholder is used for declared fields the submission does not carry.
	Placeholder = "N/A"
)

// Fields declared for every submission, in the order they appear in the mail body.
var Fields = []string{
	"name", "email", "phone", "communicationMethod", "contactTime",
	"projectType", "projectDescription", FieldUploadedFile, "createdAt",
}

// Field is one extracted name/value pair.
type Field struct {
	Name  string
	Value string
}

// Attachment is the optional file embedded in a submission.
type Attachment struct {
	Name string
	Data []byte
}

// Submission is a record after extraction.
type Submission struct {
	ID         string
	Name       string
	Fields     []Field
	Attachment *Attachment
}

// IDString renders a document id for logs, dedup keys and object keys.
func IDString(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
