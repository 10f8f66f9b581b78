package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
)

// utf8BOM is stripped from sanitized files before line addressing.
const utf8BOM = "\xef\xbb\xbf"

// ReadSanitizedSlice returns the inclusive 1-indexed line range
// [startLine, endLine] from the work's sanitized file.
//
// If endLine exceeds the file length the slice is truncated at EOF;
// if startLine exceeds the file length an empty string is returned.
// A missing file or a content-hash mismatch fails with StaleSource:
// the ingestion subsystem owns these files and a changed hash means
// stored line ranges can no longer be trusted.
func (s *SQLiteStore) ReadSanitizedSlice(ctx context.Context, workID int64, startLine, endLine int) (string, error) {
	if startLine < 1 || endLine < startLine {
		return "", ragerr.New(ragerr.ErrCodeInvalidInput,
			fmt.Sprintf("invalid line range %d-%d", startLine, endLine), nil)
	}

	work, err := s.GetWork(ctx, workID)
	if err != nil {
		return "", err
	}
	file, ok := work.Sanitized()
	if !ok {
		return "", ragerr.StaleSource(fmt.Sprintf("work %d has no sanitized file", workID), nil)
	}

	content, err := readVerified(file)
	if err != nil {
		return "", err
	}

	return sliceLines(content, startLine, endLine), nil
}

// readVerified reads the sanitized file and verifies its SHA-256
// against the stored hash. The hash covers the raw bytes; the BOM,
// if any, is stripped afterwards so line addressing ignores it.
func readVerified(file SanitizedFile) (string, error) {
	raw, err := os.ReadFile(file.Path)
	if err != nil {
		return "", ragerr.StaleSource(file.Path, err)
	}

	sum := sha256.Sum256(raw)
	if file.Hash != "" && !strings.EqualFold(hex.EncodeToString(sum[:]), file.Hash) {
		return "", ragerr.StaleSource(file.Path, fmt.Errorf("content hash mismatch"))
	}

	content := strings.TrimPrefix(string(raw), utf8BOM)
	return content, nil
}

// sliceLines extracts the inclusive 1-indexed range without trailing
// newline artifacts: the result never ends with "\n" unless a kept
// line itself was empty.
func sliceLines(content string, startLine, endLine int) string {
	// Trailing newline terminates the last line, it does not start a new one.
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return ""
	}
	lines := strings.Split(content, "\n")

	if startLine > len(lines) {
		return ""
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}
	return strings.Join(lines[startLine-1:endLine], "\n")
}

// HashContent returns the SHA-256 hex digest used for sanitized file
// entries. Exposed for ingestion tooling and tests.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
