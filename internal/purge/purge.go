// Package purge removes the application data a user owns outside the auth
// record: profile pictures, Firestore progress documents and the Realtime
// Database profile node.
package purge

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/EvgenSuit/My-Speechy/internal/accounts"
	"go.uber.org/zap"
)

const (
	opPictures  = "purge.profile_pictures"
	opDocuments = "purge.firestore_documents"
	opProfile   = "purge.realtime_profile"

	usersRoot          = "users"
	profilePicsRoot    = "profilePics"
	profilePicMarker   = "profilePicUpdated"
	profilePicFileType = ".jpg"
)

// ProgressCollections are the per-user Firestore subcollections the app writes.
var ProgressCollections = []string{"lessons", "meditation", "thoughtTracks"}

// profilePicQualities are the storage folders a profile picture is uploaded to.
var profilePicQualities = []string{"normalQuality", "lowQuality"}

var (
	errMissingRealtime  = errors.New("purge: realtime database dependency required")
	errMissingDocuments = errors.New("purge: document store dependency required")
	errMissingObjects   = errors.New("purge: object store dependency required")
)

// RealtimeDatabase is the subset of the Realtime Database the purge needs.
type RealtimeDatabase interface {
	Exists(ctx context.Context, path string) (bool, error)
	Remove(ctx context.Context, path string) error
}

// DocumentStore deletes every document of a collection and reports how many
// were removed.
type DocumentStore interface {
	DeleteCollection(ctx context.Context, path string) (int, error)
}

// ObjectStore deletes a single object. A missing object is not an error.
type ObjectStore interface {
	DeleteObject(ctx context.Context, name string) error
}

// Config wires the purger.
type Config struct {
	Realtime  RealtimeDatabase
	Documents DocumentStore
	Objects   ObjectStore
	Logger    *zap.Logger
}

// Purger implements accounts.DataPurger.
type Purger struct {
	realtime  RealtimeDatabase
	documents DocumentStore
	objects   ObjectStore
	logger    *zap.Logger
}

// New validates the configuration and constructs a Purger.
func New(cfg Config) (*Purger, error) {
	switch {
	case cfg.Realtime == nil:
		return nil, errMissingRealtime
	case cfg.Documents == nil:
		return nil, errMissingDocuments
	case cfg.Objects == nil:
		return nil, errMissingObjects
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Purger{
		realtime:  cfg.Realtime,
		documents: cfg.Documents,
		objects:   cfg.Objects,
		logger:    logger,
	}, nil
}

// PurgeUserData runs every step in order and stops at the first failure. Each
// step tolerates data that is already gone, so a failed purge can be rerun.
func (p *Purger) PurgeUserData(ctx context.Context, uid string) error {
	if uid == "" {
		return accounts.Errorf(accounts.InvalidInput, opProfile, "uid is required")
	}
	logger := p.logger.With(zap.String("uid", uid))

	if err := p.deleteProfilePictures(ctx, uid, logger); err != nil {
		return err
	}
	if err := p.deleteProgressDocuments(ctx, uid, logger); err != nil {
		return err
	}
	if err := p.realtime.Remove(ctx, UserPath(uid)); err != nil {
		return accounts.NewError(accounts.BackendUnavailable, opProfile, err)
	}
	logger.Info("user data purged")
	return nil
}

func (p *Purger) deleteProfilePictures(ctx context.Context, uid string, logger *zap.Logger) error {
	updated, err := p.realtime.Exists(ctx, path.Join(UserPath(uid), profilePicMarker))
	if err != nil {
		return accounts.NewError(accounts.BackendUnavailable, opPictures, err)
	}
	if !updated {
		logger.Debug("no uploaded profile picture")
		return nil
	}
	for _, object := range ProfilePictureObjects(uid) {
		if err := p.objects.DeleteObject(ctx, object); err != nil {
			return accounts.NewError(accounts.BackendUnavailable, opPictures, fmt.Errorf("%s: %w", object, err))
		}
	}
	logger.Debug("profile pictures removed")
	return nil
}

func (p *Purger) deleteProgressDocuments(ctx context.Context, uid string, logger *zap.Logger) error {
	for _, collection := range ProgressCollections {
		collectionPath := path.Join(UserPath(uid), collection)
		removed, err := p.documents.DeleteCollection(ctx, collectionPath)
		if err != nil {
			return accounts.NewError(accounts.BackendUnavailable, opDocuments, fmt.Errorf("%s: %w", collectionPath, err))
		}
		logger.Debug("collection cleared", zap.String("collection", collection), zap.Int("documents", removed))
	}
	return nil
}

// UserPath is the per-user root in both the Realtime Database and Firestore.
func UserPath(uid string) string {
	return path.Join(usersRoot, uid)
}

// ProfilePictureObjects lists the storage objects holding uid's profile picture.
func ProfilePictureObjects(uid string) []string {
	objects := make([]string, 0, len(profilePicQualities))
	for _, quality := range profilePicQualities {
		objects = append(objects, path.Join(profilePicsRoot, uid, quality, uid+profilePicFileType))
	}
	return objects
}
