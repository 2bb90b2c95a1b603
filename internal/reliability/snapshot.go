package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pulseboard/pulseboard/internal/database"
)

const (
	snapshotPrefix  = "pulseboard-snapshot-"
	snapshotSuffix  = ".tar.gz"
	timestampLayout = "2006-01-02-150405"
	// minSnapshotsToKeep are retained regardless of age.
	minSnapshotsToKeep = 3
	// snapshotSchedule runs after the nightly pipelines have finished.
	snapshotSchedule = "0 4 * * *"
)

// ObjectStore is the subset of bucket operations the snapshot service uses.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]types.Object, error)
	Delete(ctx context.Context, key string) error
}

// SnapshotMetadata describes the databases inside a snapshot archive.
type SnapshotMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseSnapshot `json:"databases"`
}

// DatabaseSnapshot is one database file inside a snapshot.
type DatabaseSnapshot struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// SnapshotInfo describes a snapshot stored in the bucket.
type SnapshotInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// SnapshotService archives the databases nightly and uploads them to the
// snapshot bucket, pruning uploads past the retention window.
type SnapshotService struct {
	store         ObjectStore
	databases     map[string]*database.DB
	dataDir       string
	retentionDays int

	cron   *cron.Cron
	logger zerolog.Logger
}

// NewSnapshotService creates a snapshot service over the given databases.
func NewSnapshotService(store ObjectStore, databases map[string]*database.DB, dataDir string, retentionDays int) *SnapshotService {
	return &SnapshotService{
		store:         store,
		databases:     databases,
		dataDir:       dataDir,
		retentionDays: retentionDays,
		cron:          cron.New(),
		logger:        log.With().Str("component", "snapshot").Logger(),
	}
}

// Start schedules the nightly snapshot run.
func (s *SnapshotService) Start() error {
	_, err := s.cron.AddFunc(snapshotSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		s.runNightly(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule snapshots: %w", err)
	}

	s.cron.Start()
	s.logger.Info().Int("retention_days", s.retentionDays).Msg("Snapshot service started")
	return nil
}

// Stop halts the schedule; an in-flight snapshot finishes.
func (s *SnapshotService) Stop() {
	s.cron.Stop()
	s.logger.Info().Msg("Snapshot service stopped")
}

func (s *SnapshotService) runNightly(ctx context.Context) {
	if err := s.CreateAndUploadSnapshot(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Snapshot failed")
		return
	}
	if err := s.RotateOldSnapshots(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Snapshot rotation failed")
	}
}

// CreateAndUploadSnapshot checkpoints the databases, archives consistent
// copies with a metadata manifest, and uploads the archive.
func (s *SnapshotService) CreateAndUploadSnapshot(ctx context.Context) error {
	s.logger.Info().Msg("Starting snapshot")
	start := time.Now()

	stagingDir := filepath.Join(s.dataDir, "snapshot-staging")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := SnapshotMetadata{
		Timestamp: time.Now().UTC(),
		Databases: make([]DatabaseSnapshot, 0, len(s.databases)),
	}

	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		db := s.databases[name]
		copyPath := filepath.Join(stagingDir, name+".db")

		// Flush the WAL so the copy carries every committed write.
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			s.logger.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}
		if _, err := db.ExecContext(ctx, "VACUUM INTO ?", copyPath); err != nil {
			return fmt.Errorf("failed to copy %s: %w", name, err)
		}

		info, err := os.Stat(copyPath)
		if err != nil {
			return fmt.Errorf("failed to stat %s copy: %w", name, err)
		}
		checksum, err := fileChecksum(copyPath)
		if err != nil {
			return fmt.Errorf("failed to checksum %s copy: %w", name, err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseSnapshot{
			Name:      name,
			Filename:  name + ".db",
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	metadataPath := filepath.Join(stagingDir, "snapshot-metadata.json")
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return fmt.Errorf("failed to write snapshot metadata: %w", err)
	}

	key := snapshotPrefix + time.Now().Format(timestampLayout) + snapshotSuffix
	archivePath := filepath.Join(stagingDir, key)

	files := make([]string, 0, len(names)+1)
	for _, name := range names {
		files = append(files, name+".db")
	}
	files = append(files, "snapshot-metadata.json")

	if err := createArchive(archivePath, stagingDir, files); err != nil {
		return fmt.Errorf("failed to create snapshot archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open snapshot archive: %w", err)
	}
	defer archive.Close()

	if err := s.store.Upload(ctx, key, archive); err != nil {
		return err
	}

	archiveInfo, _ := os.Stat(archivePath)
	var sizeBytes int64
	if archiveInfo != nil {
		sizeBytes = archiveInfo.Size()
	}

	s.logger.Info().
		Str("key", key).
		Int64("size_bytes", sizeBytes).
		Dur("duration", time.Since(start)).
		Msg("Snapshot uploaded")
	return nil
}

// ListSnapshots returns the stored snapshots, newest first.
func (s *SnapshotService) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	objects, err := s.store.List(ctx, snapshotPrefix)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	snapshots := make([]SnapshotInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		key := *obj.Key
		if !strings.HasPrefix(key, snapshotPrefix) || !strings.HasSuffix(key, snapshotSuffix) {
			continue
		}

		stamp := strings.TrimSuffix(strings.TrimPrefix(key, snapshotPrefix), snapshotSuffix)
		timestamp, err := time.Parse(timestampLayout, stamp)
		if err != nil {
			s.logger.Warn().Str("key", key).Msg("Skipping snapshot with unparseable timestamp")
			continue
		}

		var sizeBytes int64
		if obj.Size != nil {
			sizeBytes = *obj.Size
		}

		snapshots = append(snapshots, SnapshotInfo{
			Key:       key,
			Timestamp: timestamp,
			SizeBytes: sizeBytes,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// RotateOldSnapshots deletes snapshots older than the retention window,
// always keeping the newest few. A zero retention keeps everything.
func (s *SnapshotService) RotateOldSnapshots(ctx context.Context) error {
	if s.retentionDays <= 0 {
		return nil
	}

	snapshots, err := s.ListSnapshots(ctx)
	if err != nil {
		return err
	}
	if len(snapshots) <= minSnapshotsToKeep {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for i, snapshot := range snapshots {
		if i < minSnapshotsToKeep || !snapshot.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, snapshot.Key); err != nil {
			s.logger.Error().Err(err).Str("key", snapshot.Key).Msg("Failed to delete old snapshot")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info().
			Int("deleted", deleted).
			Int("remaining", len(snapshots)-deleted).
			Msg("Snapshot rotation completed")
	}
	return nil
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, metadata SnapshotMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

// createArchive writes the named staging files into a tar.gz archive.
func createArchive(archivePath, sourceDir string, filenames []string) error {
	archive, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archive.Close()

	gz := gzip.NewWriter(archive)
	defer gz.Close()

	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, filename := range filenames {
		if err := addFileToArchive(tw, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}
	return nil
}

func addFileToArchive(tw *tar.Writer, path, nameInArchive string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}
