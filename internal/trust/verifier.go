// Package trust verifies package archives and repository indexes before the
// database accepts them. Signature cryptography is delegated to a
// SignatureChecker.
package trust

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kilupskalvis/apkdb/internal/models"
)

var (
	ErrUntrusted    = errors.New("untrusted signature")
	ErrBadSignature = errors.New("bad signature")
	ErrBadArchive   = errors.New("bad archive")
	ErrNoMetadata   = errors.New("archive does not contain expected data")
)

// Metadata is what verification learned about an archive.
type Metadata struct {
	Package *models.Package
	Signed  bool
	KeyName string
	SHA256  string
	Files   map[string][]byte
}

// Verifier checks a package archive and returns its metadata.
type Verifier interface {
	Verify(ctx context.Context, archive []byte) (*Metadata, error)
}

// SignatureChecker decides whether a signature entry is acceptable.
type SignatureChecker interface {
	CheckSignature(ctx context.Context, sig Signature) error
}

type allowUntrustedKey struct{}

// AllowUntrusted returns a context under which unsigned archives and indexes
// are accepted.
func AllowUntrusted(ctx context.Context) context.Context {
	return context.WithValue(ctx, allowUntrustedKey{}, true)
}

func untrustedAllowed(ctx context.Context) bool {
	v, _ := ctx.Value(allowUntrustedKey{}).(bool)
	return v
}

// PkgInfoVerifier reads .PKGINFO metadata and checks signatures through a
// SignatureChecker. Archives without a signature are rejected unless the
// context allows untrusted content.
type PkgInfoVerifier struct {
	checker   SignatureChecker
	keepFiles bool
}

// NewPkgInfoVerifier creates a verifier. With keepFiles the payload entries are
// returned in Metadata.Files.
func NewPkgInfoVerifier(checker SignatureChecker, keepFiles bool) *PkgInfoVerifier {
	return &PkgInfoVerifier{checker: checker, keepFiles: keepFiles}
}

// Verify implements Verifier.
func (v *PkgInfoVerifier) Verify(ctx context.Context, archive []byte) (*Metadata, error) {
	c, err := readArchive(archive, v.keepFiles)
	if err != nil {
		return nil, err
	}

	meta := &Metadata{Files: c.entries}
	sum := sha256.Sum256(archive)
	meta.SHA256 = hex.EncodeToString(sum[:])

	if err := v.checkSignatures(ctx, c.signatures, meta); err != nil {
		return nil, err
	}

	if c.pkgInfo == nil {
		return nil, fmt.Errorf("missing %s: %w", pkgInfoName, ErrNoMetadata)
	}
	pkg, err := ParsePkgInfo(c.pkgInfo)
	if err != nil {
		return nil, err
	}
	pkg.Size = uint64(len(archive))
	meta.Package = pkg
	return meta, nil
}

// VerifyIndex checks the signature of an index archive.
func (v *PkgInfoVerifier) VerifyIndex(ctx context.Context, data []byte) error {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		if untrustedAllowed(ctx) {
			return nil
		}
		return fmt.Errorf("plain text index: %w", ErrUntrusted)
	}
	c, err := readArchive(data, false)
	if err != nil {
		return err
	}
	return v.checkSignatures(ctx, c.signatures, &Metadata{})
}

func (v *PkgInfoVerifier) checkSignatures(ctx context.Context, sigs []Signature, meta *Metadata) error {
	if len(sigs) == 0 {
		if untrustedAllowed(ctx) {
			return nil
		}
		return fmt.Errorf("no signature: %w", ErrUntrusted)
	}
	if v.checker == nil {
		return fmt.Errorf("no signature checker: %w", ErrUntrusted)
	}

	var lastErr error
	for _, sig := range sigs {
		if err := v.checker.CheckSignature(ctx, sig); err != nil {
			lastErr = err
			continue
		}
		meta.Signed = true
		meta.KeyName = sig.KeyName
		return nil
	}
	if untrustedAllowed(ctx) && errors.Is(lastErr, ErrUntrusted) {
		return nil
	}
	return lastErr
}

// KeyringChecker accepts signatures made with a key present in a keys
// directory, e.g. <root>/etc/apk/keys. It checks key presence and a
// non-empty signature only.
type KeyringChecker struct {
	dir string
}

// NewKeyringChecker creates a checker over dir.
func NewKeyringChecker(dir string) *KeyringChecker {
	return &KeyringChecker{dir: dir}
}

// CheckSignature implements SignatureChecker.
func (k *KeyringChecker) CheckSignature(_ context.Context, sig Signature) error {
	if sig.KeyName == "" || strings.ContainsAny(sig.KeyName, `/\`) || strings.HasPrefix(sig.KeyName, ".") {
		return fmt.Errorf("signature key %q: %w", sig.KeyName, ErrBadSignature)
	}
	if len(sig.Data) == 0 {
		return fmt.Errorf("empty signature for key %s: %w", sig.KeyName, ErrBadSignature)
	}
	if _, err := os.Stat(filepath.Join(k.dir, sig.KeyName)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("key %s not in keyring: %w", sig.KeyName, ErrUntrusted)
		}
		return fmt.Errorf("stat key %s: %w", sig.KeyName, err)
	}
	return nil
}

// Keys lists the key names in the keyring.
func (k *KeyringChecker) Keys() ([]string, error) {
	entries, err := os.ReadDir(k.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read keyring: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if !e.IsDir() {
			keys = append(keys, e.Name())
		}
	}
	return keys, nil
}
