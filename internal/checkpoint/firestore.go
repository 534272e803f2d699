package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollection はチェックポイントを保存する Firestore コレクション名です。
const DefaultCollection = "checkpoints"

// FirestoreStore はチェックポイントを Firestore のドキュメントとして保存します。
// ドキュメントIDはジョブIDです。
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	logger     *log.Logger
}

// NewFirestoreStore は FirestoreStore を作成します。
func NewFirestoreStore(client *firestore.Client, collection string, logger *log.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("firestore client is nil")
	}
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestoreStore{client: client, collection: collection, logger: logger}, nil
}

// Load はチェックポイントを取得します。
func (s *FirestoreStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get checkpoint doc: %w", err)
	}
	var cp Checkpoint
	if err := snap.DataTo(&cp); err != nil {
		logf(s.logger, "[job:%s] checkpoint doc corrupt, ignoring: %v", id, err)
		return nil, nil
	}
	return &cp, nil
}

// Save はチェックポイントを上書き保存します。
func (s *FirestoreStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil {
		return errors.New("checkpoint is nil")
	}
	if err := validateID(cp.Identity); err != nil {
		return err
	}
	cp.UpdatedAt = time.Now().UTC()
	if _, err := s.client.Collection(s.collection).Doc(cp.Identity).Set(ctx, cp); err != nil {
		return fmt.Errorf("set checkpoint doc: %w", err)
	}
	return nil
}

// Clear はチェックポイントを削除します。
func (s *FirestoreStore) Clear(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if _, err := s.client.Collection(s.collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("delete checkpoint doc: %w", err)
	}
	return nil
}
