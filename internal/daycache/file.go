package daycache

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/klauspost/compress/zstd"
)

// writeDayFile atomically persists meta + the gob-encoded, zstd-compressed
// payload to path: temp-file + Chmod + Sync + rename, with an EXDEV
// fallback copy, so readers never observe a torn file.
func writeDayFile(path string, meta Metadata, payload any) error {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(payload); err != nil {
		return fmt.Errorf("encode day-file payload: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	compressed := enc.EncodeAll(body.Bytes(), nil)
	if cerr := enc.Close(); cerr != nil {
		return fmt.Errorf("close zstd encoder: %w", cerr)
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal day-file metadata: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create day-file directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".daycache-*")
	if err != nil {
		return fmt.Errorf("create temp day-file: %w", err)
	}
	tmpName := f.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return fmt.Errorf("chmod temp day-file: %w", err)
	}

	var hdrLen [4]byte
	binary.BigEndian.PutUint32(hdrLen[:], uint32(len(metaBytes)))
	if _, err := f.Write(hdrLen[:]); err != nil {
		_ = f.Close()
		return fmt.Errorf("write day-file header length: %w", err)
	}
	if _, err := f.Write(metaBytes); err != nil {
		_ = f.Close()
		return fmt.Errorf("write day-file header: %w", err)
	}
	if _, err := f.Write(compressed); err != nil {
		_ = f.Close()
		return fmt.Errorf("write day-file body: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp day-file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp day-file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
			if cerr := copyFile(tmpName, path); cerr != nil {
				return fmt.Errorf("copy day-file across devices: %w", cerr)
			}
		} else {
			return fmt.Errorf("rename temp day-file: %w", err)
		}
	}
	tmpName = ""
	return syncDir(dir)
}

// readDayFile reads and validates the header, returning the metadata and the
// decompressed gob body bytes for the caller to decode.
func readDayFile(path string) (Metadata, []byte, Verdict, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path built entirely from internal cache layout
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, nil, VerdictNoFile, nil
		}
		return Metadata{}, nil, VerdictNoFile, fmt.Errorf("read day-file: %w", err)
	}
	if len(data) < 4 {
		return Metadata{}, nil, VerdictMissingMeta, nil
	}
	hdrLen := binary.BigEndian.Uint32(data[:4])
	if uint64(4+hdrLen) > uint64(len(data)) {
		return Metadata{}, nil, VerdictMissingMeta, nil
	}
	var meta Metadata
	if err := json.Unmarshal(data[4:4+hdrLen], &meta); err != nil {
		return Metadata{}, nil, VerdictMissingMeta, nil
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return Metadata{}, nil, VerdictMissingMeta, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()
	body, err := dec.DecodeAll(data[4+hdrLen:], nil)
	if err != nil {
		return Metadata{}, nil, VerdictMissingMeta, nil
	}
	return meta, body, ValidOk, nil
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src) // #nosec G304 -- src is a temp file created by this package
	if err != nil {
		return err
	}
	defer func() { _ = srcFile.Close() }()

	dstDir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dstDir, ".daycache-copy-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, srcFile); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return err
	}
	tmpName = ""
	return syncDir(dstDir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir) // #nosec G304 -- dir is internally constructed cache path
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}
