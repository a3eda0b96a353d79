package phasebus

import (
	"context"
	"fmt"
	"time"

	driver "github.com/arangodb/go-driver"
	log "github.com/sirupsen/logrus"

	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/database"
)

// CollectionSnapshots is the snapshots collection name.
const CollectionSnapshots = "bus_snapshots"

// snapshotDocument is the persisted form of a Snapshot.
type snapshotDocument struct {
	Key      string    `json:"_key,omitempty"`
	Rev      string    `json:"_rev,omitempty"`
	Snapshot *Snapshot `json:"snapshot"`
	SavedAt  time.Time `json:"saved_at"`
}

// ArangoSnapshotRepository persists bus snapshots in ArangoDB.
type ArangoSnapshotRepository struct {
	db  *database.ArangoClient
	col driver.Collection
}

// NewArangoSnapshotRepository creates the repository, ensuring its
// collection exists.
func NewArangoSnapshotRepository(dbClient *database.ArangoClient) (*ArangoSnapshotRepository, error) {
	col, err := dbClient.EnsureCollection(dbClient.Context(), CollectionSnapshots)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure snapshots collection: %w", err)
	}

	return &ArangoSnapshotRepository{db: dbClient, col: col}, nil
}

// Save stores the snapshot as a new document.
func (r *ArangoSnapshotRepository) Save(ctx context.Context, snapshot *Snapshot) error {
	doc := snapshotDocument{
		Snapshot: snapshot,
		SavedAt:  time.Now().UTC(),
	}

	meta, err := r.col.CreateDocument(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	log.WithField("key", meta.Key).Debug("Bus snapshot persisted")
	return nil
}

// Latest returns the most recently saved snapshot, or nil when the
// collection is empty.
func (r *ArangoSnapshotRepository) Latest(ctx context.Context) (*Snapshot, error) {
	query := fmt.Sprintf("FOR doc IN %s SORT doc.saved_at DESC LIMIT 1 RETURN doc", CollectionSnapshots)

	cursor, err := r.db.Database().Query(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer cursor.Close()

	if !cursor.HasMore() {
		return nil, nil
	}

	var doc snapshotDocument
	if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return doc.Snapshot, nil
}
