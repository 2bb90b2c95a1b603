package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard/internal/database"
)

type fakeObjectStore struct {
	uploads map[string][]byte
	objects []types.Object
	deleted []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{uploads: make(map[string][]byte)}
}

func (f *fakeObjectStore) Upload(ctx context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.uploads[key] = data
	return nil
}

func (f *fakeObjectStore) List(ctx context.Context, prefix string) ([]types.Object, error) {
	return f.objects, nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func snapshotObject(age time.Duration, size int64) types.Object {
	key := snapshotPrefix + time.Now().Add(-age).Format(timestampLayout) + snapshotSuffix
	return types.Object{Key: aws.String(key), Size: aws.Int64(size)}
}

func TestSnapshotService_CreateAndUploadSnapshot(t *testing.T) {
	db, err := database.New(database.Config{
		Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		Name: "analytics",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	store := newFakeObjectStore()
	service := NewSnapshotService(store, map[string]*database.DB{"analytics": db}, t.TempDir(), 30)

	require.NoError(t, service.CreateAndUploadSnapshot(context.Background()))
	require.Len(t, store.uploads, 1)

	var key string
	var payload []byte
	for k, v := range store.uploads {
		key, payload = k, v
	}
	assert.Contains(t, key, snapshotPrefix)
	assert.Contains(t, key, snapshotSuffix)

	// The archive carries the database copy and the metadata manifest.
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var names []string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, header.Name)
	}
	assert.ElementsMatch(t, []string{"analytics.db", "snapshot-metadata.json"}, names)
}

func TestSnapshotService_ListSnapshots(t *testing.T) {
	store := newFakeObjectStore()
	store.objects = []types.Object{
		snapshotObject(48*time.Hour, 100),
		snapshotObject(2*time.Hour, 200),
		{Key: aws.String("unrelated-object.txt"), Size: aws.Int64(1)},
	}

	service := NewSnapshotService(store, nil, t.TempDir(), 30)

	snapshots, err := service.ListSnapshots(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	// Newest first.
	assert.True(t, snapshots[0].Timestamp.After(snapshots[1].Timestamp))
	assert.Equal(t, int64(200), snapshots[0].SizeBytes)
}

func TestSnapshotService_RotateOldSnapshots(t *testing.T) {
	store := newFakeObjectStore()
	store.objects = []types.Object{
		snapshotObject(time.Hour, 1),
		snapshotObject(24*time.Hour, 1),
		snapshotObject(10*24*time.Hour, 1),
		snapshotObject(20*24*time.Hour, 1),
		snapshotObject(30*24*time.Hour, 1),
	}

	service := NewSnapshotService(store, nil, t.TempDir(), 7)

	require.NoError(t, service.RotateOldSnapshots(context.Background()))
	// Newest three are kept regardless; the two oldest beyond retention go.
	assert.Len(t, store.deleted, 2)

	t.Run("zero retention keeps everything", func(t *testing.T) {
		store.deleted = nil
		service := NewSnapshotService(store, nil, t.TempDir(), 0)
		require.NoError(t, service.RotateOldSnapshots(context.Background()))
		assert.Empty(t, store.deleted)
	})

	t.Run("too few snapshots to rotate", func(t *testing.T) {
		store := newFakeObjectStore()
		store.objects = []types.Object{
			snapshotObject(100*24*time.Hour, 1),
			snapshotObject(200*24*time.Hour, 1),
		}
		service := NewSnapshotService(store, nil, t.TempDir(), 7)
		require.NoError(t, service.RotateOldSnapshots(context.Background()))
		assert.Empty(t, store.deleted)
	})
}
