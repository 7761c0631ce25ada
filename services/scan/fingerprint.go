// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scan

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint returns a content fingerprint for an archive path.
//
// Description:
//
//	For a file, hashes the full contents. For a directory, hashes the
//	relative path, size and modification time of every .class file in
//	lexical order. Two fingerprints differ whenever a rescan could see
//	different classes.
//
// Outputs:
//
//	string - 16 hex digits.
//	error - Non-nil if the path cannot be read or ctx ends during a walk.
//
// Thread Safety: Safe for concurrent use (stateless function).
func Fingerprint(ctx context.Context, path string) (string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	d := xxhash.New()
	if !st.IsDir() {
		file, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", path, err)
		}
		defer file.Close()
		if _, err := io.Copy(d, file); err != nil {
			return "", fmt.Errorf("hash %s: %w", path, err)
		}
		return formatDigest(d.Sum64()), nil
	}

	var buf [8]byte
	count := 0
	err = filepath.WalkDir(path, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(p, ".class") {
			return nil
		}
		count++
		if count%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(path, p)
		_, _ = d.WriteString(filepath.ToSlash(rel))
		binary.LittleEndian.PutUint64(buf[:], uint64(info.Size()))
		_, _ = d.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(info.ModTime().UnixNano()))
		_, _ = d.Write(buf[:])
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", path, err)
	}
	return formatDigest(d.Sum64()), nil
}

func formatDigest(sum uint64) string {
	s := strconv.FormatUint(sum, 16)
	return strings.Repeat("0", 16-len(s)) + s
}
