package sheetio

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

const snapshotVersion = 1

var xzMagic = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}

var (
	// ErrDigestMismatch means the document does not hash to the recorded digest
	ErrDigestMismatch = errors.New("snapshot digest mismatch")
	// ErrSnapshotVersion means the file was written by an unknown version
	ErrSnapshotVersion = errors.New("unsupported snapshot version")
)

// snapshotFile is the envelope written to disk. Digest is the BLAKE3 hash of
// the Document bytes.
type snapshotFile struct {
	Version  int             `json:"version"`
	Digest   string          `json:"digest"`
	Document json.RawMessage `json:"document"`
}

// Digest returns the hex BLAKE3 hash of the JSON encoding of doc.
func Digest(doc spreadsheet.Change) (string, error) {
	doc.Reset = true
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return blake3Hex(data), nil
}

func blake3Hex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WriteSnapshot writes doc as a JSON snapshot, xz compressed when compress is
// set.
func WriteSnapshot(w io.Writer, doc spreadsheet.Change, compress bool) error {
	doc.Reset = true
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	envelope, err := json.Marshal(snapshotFile{
		Version:  snapshotVersion,
		Digest:   blake3Hex(data),
		Document: data,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if !compress {
		_, err := w.Write(envelope)
		return err
	}
	xw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create xz writer: %w", err)
	}
	if _, err := xw.Write(envelope); err != nil {
		xw.Close()
		return fmt.Errorf("compress snapshot: %w", err)
	}
	return xw.Close()
}

// ReadSnapshot reads a snapshot written by WriteSnapshot, compressed or not,
// and verifies its digest.
func ReadSnapshot(r io.Reader) (spreadsheet.Change, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(xzMagic)); err == nil && bytes.Equal(head, xzMagic) {
		xr, err := xz.NewReader(br)
		if err != nil {
			return spreadsheet.Change{}, fmt.Errorf("open xz stream: %w", err)
		}
		r = xr
	} else {
		r = br
	}

	var file snapshotFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return spreadsheet.Change{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if file.Version != snapshotVersion {
		return spreadsheet.Change{}, fmt.Errorf("%w: %d", ErrSnapshotVersion, file.Version)
	}
	if got := blake3Hex(file.Document); got != file.Digest {
		return spreadsheet.Change{}, fmt.Errorf("%w: recorded %s, computed %s", ErrDigestMismatch, file.Digest, got)
	}

	var doc spreadsheet.Change
	if err := json.Unmarshal(file.Document, &doc); err != nil {
		return spreadsheet.Change{}, fmt.Errorf("decode document: %w", err)
	}
	doc.Reset = true
	if doc.Cells == nil {
		doc.Cells = spreadsheet.Grid{}
	}
	if doc.Styles == nil {
		doc.Styles = &spreadsheet.TierStyles{}
	}
	return doc, nil
}
