package store

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/local/docpipeline/internal/document"
)

// ArtifactStore persists image artifact metadata plus a per-document
// index ordered by (page, index). Artifact values are whole-JSON; the
// enricher rewrites them as fields fill in.
type ArtifactStore struct {
	client *redis.Client
}

func NewArtifactStore(client *redis.Client) *ArtifactStore {
	return &ArtifactStore{client: client}
}

func (s *ArtifactStore) artifactKey(id string) string { return fmt.Sprintf("artifact:%s", id) }

func (s *ArtifactStore) indexKey(docID string) string { return fmt.Sprintf("doc:%s:artifacts", docID) }

func (s *ArtifactStore) blobMarkerKey(docID, sha string) string {
	return fmt.Sprintf("doc:%s:blob:%s", docID, sha)
}

// Save upserts the artifact value and its slot in the document index.
func (s *ArtifactStore) Save(ctx context.Context, a *document.Artifact) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.artifactKey(a.ID), b, keepTTL).Err(); err != nil {
		return err
	}
	idx := s.indexKey(a.DocumentID)
	if err := s.client.ZAdd(ctx, idx, redis.Z{Score: indexScore(a.PageNumber, a.Index), Member: a.ID}).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, idx, keepTTL).Err()
}

// Get loads one artifact by id.
func (s *ArtifactStore) Get(ctx context.Context, id string) (*document.Artifact, bool, error) {
	b, err := s.client.Get(ctx, s.artifactKey(id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var a document.Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, false, fmt.Errorf("artifact %s: %w", id, err)
	}
	return &a, true, nil
}

// ListByDocument returns a document's artifacts ordered by (page, index),
// unknown-page artifacts last. Index entries whose value has expired are
// skipped.
func (s *ArtifactStore) ListByDocument(ctx context.Context, docID string) ([]document.Artifact, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(docID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]document.Artifact, 0, len(ids))
	for _, id := range ids {
		a, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Debug().Str("artifact_id", id).Str("document_id", docID).Msg("dangling artifact index entry")
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

// DeleteByDocument removes every artifact of a document plus the index,
// returning how many artifact values were deleted.
func (s *ArtifactStore) DeleteByDocument(ctx context.Context, docID string) (int, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(docID), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		deleted, err := s.client.Del(ctx, s.artifactKey(id)).Result()
		if err != nil {
			return n, err
		}
		n += int(deleted)
	}
	if err := s.client.Del(ctx, s.indexKey(docID)).Err(); err != nil {
		return n, err
	}
	return n, nil
}

// MarkBlob records that the given content hash is already persisted
// under blobKey, making identical re-uploads a no-op.
func (s *ArtifactStore) MarkBlob(ctx context.Context, docID, sha256, blobKey string) error {
	return s.client.Set(ctx, s.blobMarkerKey(docID, sha256), blobKey, keepTTL).Err()
}

// BlobKeyForHash returns the blob key already holding this content hash,
// if any.
func (s *ArtifactStore) BlobKeyForHash(ctx context.Context, docID, sha256 string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.blobMarkerKey(docID, sha256)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// indexScore orders artifacts by page then intra-page index. Artifacts
// with no page number sort after every real page.
func indexScore(page *int, idx int) float64 {
	p := 1 << 20
	if page != nil {
		p = *page
	}
	return float64(p)*100000 + float64(idx)
}
