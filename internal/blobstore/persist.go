package blobstore

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/local/docpipeline/internal/document"
	"github.com/local/docpipeline/internal/store"
)

// blobWriter is the slice of the blob store the persister needs.
type blobWriter interface {
	Put(ctx context.Context, key string, data []byte, mime string) error
	Delete(ctx context.Context, key string) error
}

// artifactMetadata is the slice of the artifact store the persister needs.
type artifactMetadata interface {
	Save(ctx context.Context, a *document.Artifact) error
	MarkBlob(ctx context.Context, documentID, hash, key string) error
	BlobKeyForHash(ctx context.Context, documentID, hash string) (string, bool, error)
}

// Persister writes an artifact's bytes and metadata in a fixed order:
// blob first, then the metadata row. A metadata failure rolls the blob
// back best-effort and surfaces the error. A per-document content-hash
// marker makes re-persisting identical bytes skip the upload.
type Persister struct {
	blobs blobWriter
	meta  artifactMetadata
}

func NewPersister(blobs *Store, meta *store.ArtifactStore) *Persister {
	return &Persister{blobs: blobs, meta: meta}
}

// Persist stores one artifact. On success the artifact carries its blob
// key; the caller sees the updated record.
func (p *Persister) Persist(ctx context.Context, a *document.Artifact, data []byte) error {
	if key, ok, err := p.meta.BlobKeyForHash(ctx, a.DocumentID, a.SHA256); err == nil && ok {
		a.BlobKey = key
		log.Debug().
			Str("artifact_id", a.ID).
			Str("key", key).
			Msg("identical blob already stored, skipping upload")
		return p.meta.Save(ctx, a)
	}

	key := Key(a)
	if err := p.blobs.Put(ctx, key, data, a.MIME); err != nil {
		return err
	}
	a.BlobKey = key

	if err := p.meta.Save(ctx, a); err != nil {
		if delErr := p.blobs.Delete(ctx, key); delErr != nil {
			log.Warn().Err(delErr).Str("key", key).Msg("blob rollback failed after metadata error")
		}
		a.BlobKey = ""
		return err
	}

	if err := p.meta.MarkBlob(ctx, a.DocumentID, a.SHA256, key); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("blob marker write failed")
	}
	return nil
}
