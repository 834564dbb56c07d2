package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Fallback metadata used whenever AI annotation is unavailable or its
// response cannot be parsed.
const (
	DefaultTitle       = "Untitled Image"
	DefaultDescription = "No description available"
)

// ImageRecord is the catalog entry for an uploaded image. The blob itself
// and its optional JSON metadata sidecar live in S3; this record is the
// source of truth for ownership and logical existence.
type ImageRecord struct {
	ID          bson.ObjectID `json:"id" bson:"_id,omitempty"`
	Owner       string        `json:"owner" bson:"owner"`
	BlobName    string        `json:"blob_name" bson:"blob_name"` // <uuid>_<sanitized filename>
	URL         string        `json:"url" bson:"url"`             // access URL at write time; regenerated on read
	Title       string        `json:"title" bson:"title"`
	Description string        `json:"description" bson:"description"`
	UploadedAt  time.Time     `json:"uploaded_at" bson:"uploaded_at"`
}

// Metadata is the annotation pair stored in the sidecar object.
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// DefaultMetadata returns the placeholder annotation pair.
func DefaultMetadata() Metadata {
	return Metadata{Title: DefaultTitle, Description: DefaultDescription}
}
