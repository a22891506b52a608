package blobstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/docpipeline/internal/document"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name     string
		artifact document.Artifact
		want     string
	}{
		{
			name:     "page and index",
			artifact: document.Artifact{DocumentID: "doc-1", PageNumber: intPtr(5), Index: 2, MIME: "image/png"},
			want:     "doc-1/5_2.png",
		},
		{
			name:     "unknown page",
			artifact: document.Artifact{DocumentID: "doc-1", PageNumber: nil, Index: 0, MIME: "image/png"},
			want:     "doc-1/noPage_0.png",
		},
		{
			name:     "jpeg extension",
			artifact: document.Artifact{DocumentID: "doc-2", PageNumber: intPtr(1), Index: 0, MIME: "image/jpeg"},
			want:     "doc-2/1_0.jpg",
		},
		{
			name:     "unknown mime falls back to bin",
			artifact: document.Artifact{DocumentID: "doc-3", PageNumber: intPtr(1), Index: 4, MIME: "application/octet-stream"},
			want:     "doc-3/1_4.bin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(&tt.artifact))
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plain := []byte("not really a png but good enough")

	enc, err := encryptGCM(plain, "secret")
	require.NoError(t, err)
	assert.True(t, isEncrypted(enc))
	assert.NotContains(t, string(enc), string(plain))

	dec, err := decryptGCM(enc, "secret")
	require.NoError(t, err)
	assert.Equal(t, plain, dec)
}

func TestDecryptWrongPassword(t *testing.T) {
	enc, err := encryptGCM([]byte("payload"), "secret")
	require.NoError(t, err)

	_, err = decryptGCM(enc, "wrong")
	assert.Error(t, err)
}

func TestDecryptTamperedBody(t *testing.T) {
	enc, err := encryptGCM([]byte("payload"), "secret")
	require.NoError(t, err)

	enc[len(enc)-1] ^= 0xff
	_, err = decryptGCM(enc, "secret")
	assert.Error(t, err)
}

func TestDecryptTooShort(t *testing.T) {
	_, err := decryptGCM([]byte(gcmMagic+"short"), "secret")
	assert.Error(t, err)
}

func TestIsEncrypted(t *testing.T) {
	assert.False(t, isEncrypted([]byte("\x89PNG\r\n\x1a\nplain image bytes")))
	assert.False(t, isEncrypted([]byte("GCM")))

	enc, err := encryptGCM([]byte("x"), "pw")
	require.NoError(t, err)
	assert.True(t, isEncrypted(enc))
}

type fakeBlobs struct {
	puts    []string
	deletes []string
	putErr  error
}

func (f *fakeBlobs) Put(_ context.Context, key string, _ []byte, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.puts = append(f.puts, key)
	return nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	f.deletes = append(f.deletes, key)
	return nil
}

type fakeMeta struct {
	saved   []document.Artifact
	saveErr error
	markers map[string]string
}

func (f *fakeMeta) Save(_ context.Context, a *document.Artifact) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, *a)
	return nil
}

func (f *fakeMeta) MarkBlob(_ context.Context, _, hash, key string) error {
	if f.markers == nil {
		f.markers = map[string]string{}
	}
	f.markers[hash] = key
	return nil
}

func (f *fakeMeta) BlobKeyForHash(_ context.Context, _, hash string) (string, bool, error) {
	k, ok := f.markers[hash]
	return k, ok, nil
}

func testArtifact() *document.Artifact {
	return &document.Artifact{
		ID:         "art-1",
		DocumentID: "d1",
		PageNumber: intPtr(3),
		Index:      1,
		Origin:     document.OriginRegion,
		MIME:       "image/png",
		SHA256:     "abc123",
	}
}

func TestPersistBlobThenMetadata(t *testing.T) {
	blobs := &fakeBlobs{}
	meta := &fakeMeta{}
	p := &Persister{blobs: blobs, meta: meta}

	a := testArtifact()
	err := p.Persist(context.Background(), a, []byte("png bytes"))
	require.NoError(t, err)

	require.Equal(t, []string{"d1/3_1.png"}, blobs.puts)
	assert.Equal(t, "d1/3_1.png", a.BlobKey)
	require.Len(t, meta.saved, 1)
	assert.Equal(t, "d1/3_1.png", meta.saved[0].BlobKey)
	assert.Equal(t, "d1/3_1.png", meta.markers["abc123"])
	assert.Empty(t, blobs.deletes)
}

func TestPersistMetadataFailureDeletesBlob(t *testing.T) {
	blobs := &fakeBlobs{}
	meta := &fakeMeta{saveErr: errors.New("redis down")}
	p := &Persister{blobs: blobs, meta: meta}

	a := testArtifact()
	err := p.Persist(context.Background(), a, []byte("png bytes"))
	require.Error(t, err)

	assert.Equal(t, []string{"d1/3_1.png"}, blobs.puts)
	assert.Equal(t, []string{"d1/3_1.png"}, blobs.deletes)
	assert.Empty(t, a.BlobKey)
}

func TestPersistIdenticalBytesSkipsUpload(t *testing.T) {
	blobs := &fakeBlobs{}
	meta := &fakeMeta{markers: map[string]string{"abc123": "d1/3_0.png"}}
	p := &Persister{blobs: blobs, meta: meta}

	a := testArtifact()
	err := p.Persist(context.Background(), a, []byte("png bytes"))
	require.NoError(t, err)

	assert.Empty(t, blobs.puts)
	assert.Equal(t, "d1/3_0.png", a.BlobKey)
	require.Len(t, meta.saved, 1)
	assert.Equal(t, "d1/3_0.png", meta.saved[0].BlobKey)
}

func TestPersistUploadFailure(t *testing.T) {
	blobs := &fakeBlobs{putErr: errors.New("bucket gone")}
	meta := &fakeMeta{}
	p := &Persister{blobs: blobs, meta: meta}

	a := testArtifact()
	err := p.Persist(context.Background(), a, []byte("png bytes"))
	require.Error(t, err)

	assert.Empty(t, meta.saved)
	assert.Empty(t, a.BlobKey)
}

func intPtr(n int) *int { return &n }
