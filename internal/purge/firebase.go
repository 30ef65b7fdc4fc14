package purge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"github.com/EvgenSuit/My-Speechy/internal/accounts"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const opConnect = "purge.connect"

// FirebaseClients holds the Database, Firestore and Storage clients opened on
// one Firebase app.
type FirebaseClients struct {
	Realtime  *RealtimeRef
	Documents *FirestoreDocuments
	Objects   *BucketObjects

	storage *gcs.Client
}

// OpenFirebase opens the purge clients on app. The Storage client is built
// from opts since the app does not expose a closable one. Close must be
// called when done.
func OpenFirebase(ctx context.Context, app *firebase.App, bucket string, opts ...option.ClientOption) (*FirebaseClients, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, accounts.Errorf(accounts.ConfigurationError, opConnect, "storage bucket is not configured")
	}
	database, err := app.Database(ctx)
	if err != nil {
		return nil, accounts.NewError(accounts.ConfigurationError, opConnect, fmt.Errorf("realtime database: %w", err))
	}
	storageClient, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, accounts.NewError(accounts.ConfigurationError, opConnect, fmt.Errorf("storage: %w", err))
	}
	firestoreClient, err := app.Firestore(ctx)
	if err != nil {
		_ = storageClient.Close()
		return nil, accounts.NewError(accounts.ConfigurationError, opConnect, fmt.Errorf("firestore: %w", err))
	}

	return &FirebaseClients{
		Realtime:  &RealtimeRef{client: database},
		Documents: &FirestoreDocuments{client: firestoreClient},
		Objects:   &BucketObjects{bucket: storageClient.Bucket(bucket)},
		storage:   storageClient,
	}, nil
}

// Purger builds a Purger over the clients.
func (c *FirebaseClients) Purger(logger *zap.Logger) (*Purger, error) {
	return New(Config{
		Realtime:  c.Realtime,
		Documents: c.Documents,
		Objects:   c.Objects,
		Logger:    logger,
	})
}

// Close releases the Firestore and Storage connections.
func (c *FirebaseClients) Close() error {
	return errors.Join(c.Documents.client.Close(), c.storage.Close())
}

// RealtimeRef adapts the Realtime Database client.
type RealtimeRef struct {
	client *db.Client
}

// Exists reports whether a value is stored at path.
func (r *RealtimeRef) Exists(ctx context.Context, path string) (bool, error) {
	var value interface{}
	if err := r.client.NewRef(path).Get(ctx, &value); err != nil {
		return false, err
	}
	return value != nil, nil
}

// Remove deletes the node at path. Removing a missing node succeeds.
func (r *RealtimeRef) Remove(ctx context.Context, path string) error {
	return r.client.NewRef(path).Delete(ctx)
}

// FirestoreDocuments adapts the Firestore client.
type FirestoreDocuments struct {
	client *firestore.Client
}

// DeleteCollection deletes every document in the collection at path.
// Subcollections of those documents are left alone.
func (f *FirestoreDocuments) DeleteCollection(ctx context.Context, path string) (int, error) {
	refs := f.client.Collection(path).DocumentRefs(ctx)
	return drain(refs.Next, func(ref *firestore.DocumentRef) error {
		_, err := ref.Delete(ctx)
		return err
	})
}

// drain calls remove for each item next yields until it reports iterator.Done.
func drain[T any](next func() (T, error), remove func(T) error) (int, error) {
	removed := 0
	for {
		item, err := next()
		if errors.Is(err, iterator.Done) {
			return removed, nil
		}
		if err != nil {
			return removed, err
		}
		if err := remove(item); err != nil {
			return removed, err
		}
		removed++
	}
}

// BucketObjects adapts a Cloud Storage bucket.
type BucketObjects struct {
	bucket *gcs.BucketHandle
}

// DeleteObject removes the named object, ignoring objects that do not exist.
func (b *BucketObjects) DeleteObject(ctx context.Context, name string) error {
	err := b.bucket.Object(name).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	return err
}
