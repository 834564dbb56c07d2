// Package catalog persists the owner-scoped index of uploaded images in
// MongoDB. The catalog record is the source of truth for which images
// logically exist and who owns them; the bytes themselves live in object
// storage.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"imagehub/models"
)

// ErrNotFound is returned when no catalog record matches the lookup.
var ErrNotFound = errors.New("record not found")

const collectionName = "images"

// Catalog wraps the images collection.
type Catalog struct {
	col *mongo.Collection
}

// New returns a Catalog backed by the images collection of the given
// database.
func New(client *mongo.Client, dbName string) *Catalog {
	return &Catalog{col: client.Database(dbName).Collection(collectionName)}
}

// Put inserts a new record. Records are never updated in place; each upload
// produces a fresh one.
func (c *Catalog) Put(ctx context.Context, rec *models.ImageRecord) error {
	if _, err := c.col.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert image record: %w", err)
	}
	return nil
}

// QueryByOwner returns all records belonging to owner, newest first.
func (c *Catalog) QueryByOwner(ctx context.Context, owner string) ([]models.ImageRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "uploaded_at", Value: -1}})
	cursor, err := c.col.Find(ctx, bson.M{"owner": owner}, opts)
	if err != nil {
		return nil, fmt.Errorf("query images for %s: %w", owner, err)
	}
	defer cursor.Close(ctx)

	var records []models.ImageRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode image records: %w", err)
	}
	return records, nil
}

// FindByOwnerAndName looks up a single record by owner and blob name.
// Returns ErrNotFound when the record does not exist or belongs to someone
// else.
func (c *Catalog) FindByOwnerAndName(ctx context.Context, owner, blobName string) (*models.ImageRecord, error) {
	rec := &models.ImageRecord{}
	err := c.col.FindOne(ctx, bson.M{"owner": owner, "blob_name": blobName}).Decode(rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find image record: %w", err)
	}
	return rec, nil
}
