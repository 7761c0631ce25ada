// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot persists decoded class files in BadgerDB so a finder
// can be rebuilt without re-reading the archive's bytes.
//
// A snapshot stores the class files of every descriptor a finder holds,
// as gzip-compressed JSON, next to a metadata record used for listing and
// integrity checks. Restoring a snapshot replays the class files through
// finder.NewFromClassFiles; link edges are recomputed, not stored.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianScan/services/scan/archive"
	"github.com/AleutianAI/AleutianScan/services/scan/classfile"
	"github.com/AleutianAI/AleutianScan/services/scan/finder"
)

// SchemaVersion is the payload schema written by Save.
const SchemaVersion = "1"

// BadgerDB key layout.
const (
	keyPrefixSnap      = "scan:snap:"
	keyPrefixSnapIndex = "scan:snap:index:"
	keySuffixData      = ":data"
	keySuffixMeta      = ":meta"
	keySuffixLatest    = ":latest"
	defaultListLimit   = 100
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a snapshot or latest pointer is absent.
	ErrNotFound = errors.New("snapshot not found")

	// ErrIntegrity is returned when the stored payload hash does not match.
	ErrIntegrity = errors.New("snapshot integrity check failed")

	// ErrSchema is returned for payloads written with a different schema.
	ErrSchema = errors.New("unsupported snapshot schema")
)

// Metadata describes a saved snapshot.
type Metadata struct {
	// SnapshotID is SHA256(ArchivePath + CreatedAtNano)[:16].
	SnapshotID string `json:"snapshot_id"`

	// ArchivePath is the path the finder was built from.
	ArchivePath string `json:"archive_path"`

	// ArchiveHash is SHA256(ArchivePath)[:16], used for key grouping.
	ArchiveHash string `json:"archive_hash"`

	// Label is an optional human-readable label.
	Label string `json:"label,omitempty"`

	// CreatedAtMilli is when the snapshot was saved (Unix milliseconds UTC).
	CreatedAtMilli int64 `json:"created_at_milli"`

	ClassCount      int `json:"class_count"`
	AnnotationTypes int `json:"annotation_types"`

	SchemaVersion string `json:"schema_version"`

	// CompressedSize is the size of the gzip payload in bytes.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the SHA256 of the gzip payload.
	ContentHash string `json:"content_hash"`
}

// Payload is the decoded content of a snapshot.
type Payload struct {
	SchemaVersion string                 `json:"schema_version"`
	ArchivePath   string                 `json:"archive_path"`
	Classes       []*classfile.ClassFile `json:"classes"`
}

// Manager saves and loads snapshots in BadgerDB.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type Manager struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager over an opened BadgerDB.
//
// Inputs:
//
//	db - An opened BadgerDB instance. Must not be nil. The caller closes it.
//	logger - Logger for diagnostic output. Must not be nil.
//
// Outputs:
//
//	*Manager - The configured manager.
//	error - Non-nil if db or logger is nil.
func NewManager(db *badger.DB, logger *slog.Logger) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Manager{db: db, logger: logger, now: time.Now}, nil
}

// Save persists the class files behind every descriptor f holds.
//
// Description:
//
//	Serializes the class files to JSON, gzip-compresses them and writes
//	data, metadata, the latest pointer and the reverse index in one
//	transaction.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	archivePath - The path f was built from. Groups snapshots.
//	f - The finder to snapshot. Must not be nil.
//	label - Optional label.
//
// Outputs:
//
//	*Metadata - The saved snapshot's metadata.
//	error - Non-nil if serialization or storage fails.
//
// Key Schema:
//
//	scan:snap:{archiveHash}:{snapshotID}:data → gzip(JSON(Payload))
//	scan:snap:{archiveHash}:{snapshotID}:meta → JSON(Metadata)
//	scan:snap:{archiveHash}:latest            → snapshotID
//	scan:snap:index:{snapshotID}              → archiveHash
func (m *Manager) Save(ctx context.Context, archivePath string, f *finder.Finder, label string) (*Metadata, error) {
	if f == nil {
		return nil, fmt.Errorf("finder must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload := Payload{SchemaVersion: SchemaVersion, ArchivePath: archivePath}
	for _, name := range f.ClassNames() {
		ci, ok := f.ClassInfo(name)
		if !ok || ci.Source == nil {
			continue
		}
		payload.Classes = append(payload.Classes, ci.Source)
	}

	compressed, err := encode(&payload)
	if err != nil {
		return nil, err
	}

	created := m.now()
	archiveHash := ArchiveHash(archivePath)
	snapshotID := hashString(fmt.Sprintf("%s:%d", archivePath, created.UnixNano()))[:16]
	meta := &Metadata{
		SnapshotID:      snapshotID,
		ArchivePath:     archivePath,
		ArchiveHash:     archiveHash,
		Label:           label,
		CreatedAtMilli:  created.UnixMilli(),
		ClassCount:      len(payload.Classes),
		AnnotationTypes: f.Stats().AnnotationTypes,
		SchemaVersion:   SchemaVersion,
		CompressedSize:  int64(len(compressed)),
		ContentHash:     hashBytes(compressed),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataKey(archiveHash, snapshotID)), compressed); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set([]byte(metaKey(archiveHash, snapshotID)), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		if err := txn.Set([]byte(latestKey(archiveHash)), []byte(snapshotID)); err != nil {
			return fmt.Errorf("updating latest pointer: %w", err)
		}
		if err := txn.Set([]byte(keyPrefixSnapIndex+snapshotID), []byte(archiveHash)); err != nil {
			return fmt.Errorf("storing reverse index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing snapshot to badger: %w", err)
	}

	m.logger.Info("snapshot saved",
		slog.String("snapshot_id", snapshotID),
		slog.String("archive_path", archivePath),
		slog.Int("class_count", meta.ClassCount),
		slog.Int64("compressed_size", meta.CompressedSize),
	)
	return meta, nil
}

// Load retrieves a snapshot by ID.
//
// Outputs:
//
//	*Payload - The decoded class files.
//	*Metadata - The snapshot metadata.
//	error - ErrNotFound, ErrIntegrity, ErrSchema or a storage error.
func (m *Manager) Load(ctx context.Context, snapshotID string) (*Payload, *Metadata, error) {
	if snapshotID == "" {
		return nil, nil, fmt.Errorf("snapshot ID must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	archiveHash, err := m.getArchiveHash(snapshotID)
	if err != nil {
		return nil, nil, fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	return m.loadByKeys(archiveHash, snapshotID)
}

// LoadLatest loads the most recent snapshot saved for archivePath.
func (m *Manager) LoadLatest(ctx context.Context, archivePath string) (*Payload, *Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	archiveHash := ArchiveHash(archivePath)
	snapshotID, err := m.readString(latestKey(archiveHash))
	if err != nil {
		return nil, nil, fmt.Errorf("reading latest pointer for %s: %w", archivePath, err)
	}
	return m.loadByKeys(archiveHash, snapshotID)
}

// Restore rebuilds a finder from a payload.
//
// Description:
//
//	arc must be the archive the snapshot was taken from; it supplies runtime
//	views and any class the payload does not cover.
func Restore(ctx context.Context, p *Payload, arc archive.Archive, opts ...finder.Option) (*finder.Finder, error) {
	if p == nil {
		return nil, fmt.Errorf("payload must not be nil")
	}
	return finder.NewFromClassFiles(ctx, arc, p.Classes, opts...)
}

// List returns metadata for saved snapshots, newest first.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	archivePath - Optional filter. Empty lists every archive.
//	limit - Maximum results. Values <= 0 mean 100.
func (m *Manager) List(ctx context.Context, archivePath string, limit int) ([]*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	prefix := keyPrefixSnap
	if archivePath != "" {
		prefix = keyPrefixSnap + ArchiveHash(archivePath) + ":"
	}

	var results []*Metadata
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !isMetaKey(key) {
				continue
			}
			var meta Metadata
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				m.logger.Warn("skipping corrupt metadata", slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	slices.SortStableFunc(results, func(a, b *Metadata) int {
		switch {
		case a.CreatedAtMilli > b.CreatedAtMilli:
			return -1
		case a.CreatedAtMilli < b.CreatedAtMilli:
			return 1
		default:
			return 0
		}
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a snapshot and, when it was the latest, the latest pointer.
func (m *Manager) Delete(ctx context.Context, snapshotID string) error {
	if snapshotID == "" {
		return fmt.Errorf("snapshot ID must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	archiveHash, err := m.getArchiveHash(snapshotID)
	if err != nil {
		return fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		for _, key := range []string{
			dataKey(archiveHash, snapshotID),
			metaKey(archiveHash, snapshotID),
			keyPrefixSnapIndex + snapshotID,
		} {
			if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
		}

		item, err := txn.Get([]byte(latestKey(archiveHash)))
		if err != nil {
			return nil
		}
		var current string
		_ = item.Value(func(val []byte) error {
			current = string(val)
			return nil
		})
		if current == snapshotID {
			if err := txn.Delete([]byte(latestKey(archiveHash))); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("deleting latest pointer: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", snapshotID, err)
	}

	m.logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	return nil
}

func (m *Manager) loadByKeys(archiveHash, snapshotID string) (*Payload, *Metadata, error) {
	var compressed, metaJSON []byte
	err := m.db.View(func(txn *badger.Txn) error {
		dataItem, err := txn.Get([]byte(dataKey(archiveHash, snapshotID)))
		if err != nil {
			return notFound(err)
		}
		if compressed, err = dataItem.ValueCopy(nil); err != nil {
			return fmt.Errorf("copying data for %s: %w", snapshotID, err)
		}
		metaItem, err := txn.Get([]byte(metaKey(archiveHash, snapshotID)))
		if err != nil {
			return notFound(err)
		}
		if metaJSON, err = metaItem.ValueCopy(nil); err != nil {
			return fmt.Errorf("copying metadata for %s: %w", snapshotID, err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reading snapshot %s: %w", snapshotID, err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling metadata for %s: %w", snapshotID, err)
	}
	if actual := hashBytes(compressed); meta.ContentHash != "" && meta.ContentHash != actual {
		return nil, nil, fmt.Errorf("%w: %s: expected hash %s, got %s", ErrIntegrity, snapshotID, meta.ContentHash, actual)
	}

	payload, err := decode(compressed)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding snapshot %s: %w", snapshotID, err)
	}
	if payload.SchemaVersion != SchemaVersion {
		return nil, nil, fmt.Errorf("%w: %q", ErrSchema, payload.SchemaVersion)
	}
	return payload, &meta, nil
}

func (m *Manager) getArchiveHash(snapshotID string) (string, error) {
	return m.readString(keyPrefixSnapIndex + snapshotID)
}

func (m *Manager) readString(key string) (string, error) {
	var out string
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return notFound(err)
		}
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	return out, err
}

func notFound(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

func encode(p *Payload) ([]byte, error) {
	jsonData, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*Payload, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	defer gr.Close()
	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("reading decompressed data: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(jsonData, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling payload: %w", err)
	}
	return &p, nil
}

func dataKey(archiveHash, id string) string {
	return keyPrefixSnap + archiveHash + ":" + id + keySuffixData
}

func metaKey(archiveHash, id string) string {
	return keyPrefixSnap + archiveHash + ":" + id + keySuffixMeta
}

func latestKey(archiveHash string) string {
	return keyPrefixSnap + archiveHash + keySuffixLatest
}

// ArchiveHash returns SHA256(archivePath)[:16] for use as a key prefix.
func ArchiveHash(archivePath string) string {
	return hashString(archivePath)[:16]
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func isMetaKey(key string) bool {
	return len(key) > len(keySuffixMeta) && key[len(key)-len(keySuffixMeta):] == keySuffixMeta
}
