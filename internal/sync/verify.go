package sync

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schaermu/replicad/internal/config"
	"github.com/schaermu/replicad/internal/snapshot"
)

// VerificationResult is the audit record for one file present in both trees
// after convergence. A pair that could not be read is marked with Err and is
// never counted as matched.
type VerificationResult struct {
	Path          string `json:"path"`
	SourceDigest  string `json:"source_digest,omitempty"`
	ReplicaDigest string `json:"replica_digest,omitempty"`
	Matched       bool   `json:"matched"`
	Err           string `json:"error,omitempty"`
}

// Verifier recomputes content digests after the applier finishes. It is a
// read-only audit: mismatches are reported, never corrected, so verification
// can never feed back into another copy.
type Verifier struct {
	sourceRoot  string
	replicaRoot string
	algorithm   config.DigestAlgorithm
	logger      *slog.Logger
}

// NewVerifier creates a new verifier
func NewVerifier(sourceRoot, replicaRoot string, algorithm config.DigestAlgorithm, logger *slog.Logger) *Verifier {
	return &Verifier{
		sourceRoot:  sourceRoot,
		replicaRoot: replicaRoot,
		algorithm:   algorithm,
		logger:      logger,
	}
}

// Verify produces one result per source file whose replica counterpart
// exists. Files whose copy failed earlier in the cycle have no counterpart
// and are skipped here; they are already recorded as entry errors.
func (v *Verifier) Verify(source *snapshot.Inventory) []VerificationResult {
	var results []VerificationResult

	for _, file := range source.Files() {
		replicaPath := filepath.Join(v.replicaRoot, filepath.FromSlash(file.RelPath))
		if _, err := os.Stat(replicaPath); os.IsNotExist(err) {
			continue
		}

		result := VerificationResult{Path: file.RelPath}

		sourcePath := filepath.Join(v.sourceRoot, filepath.FromSlash(file.RelPath))
		sourceDigest, err := v.digestFile(sourcePath)
		if err != nil {
			result.Err = fmt.Sprintf("source unreadable: %v", err)
			results = append(results, result)
			continue
		}
		result.SourceDigest = sourceDigest

		replicaDigest, err := v.digestFile(replicaPath)
		if err != nil {
			result.Err = fmt.Sprintf("replica unreadable: %v", err)
			results = append(results, result)
			continue
		}
		result.ReplicaDigest = replicaDigest

		result.Matched = sourceDigest == replicaDigest
		if !result.Matched {
			v.logger.Warn("digest mismatch",
				"path", file.RelPath,
				"source", sourceDigest,
				"replica", replicaDigest)
		}
		results = append(results, result)
	}

	return results
}

// digestFile computes the hex digest of a file's content, streamed rather
// than loaded whole.
func (v *Verifier) digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	var h hash.Hash
	switch v.algorithm {
	case config.DigestMD5:
		h = md5.New()
	default:
		h = sha256.New()
	}

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
