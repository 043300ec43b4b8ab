package trust

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kilupskalvis/apkdb/internal/models"
)

const (
	pkgInfoName = ".PKGINFO"
	signPrefix  = ".SIGN."
)

// Signature is a signature entry of an archive, e.g. ".SIGN.RSA.alpine-devel@lists.alpinelinux.org-6165ee59.rsa.pub".
type Signature struct {
	Algorithm string
	KeyName   string
	Data      []byte
}

// contents is what the verifier extracts from an archive.
type contents struct {
	signatures []Signature
	pkgInfo    []byte
	entries    map[string][]byte
}

// readArchive walks a gzip tar stream (multi-member gzip allowed) and keeps
// signature entries, .PKGINFO and, if keep is set, every regular file.
func readArchive(data []byte, keep bool) (*contents, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return nil, ErrBadArchive
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrBadArchive)
	}
	defer zr.Close()

	c := &contents{}
	if keep {
		c.entries = make(map[string][]byte)
	}
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrBadArchive)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := hdr.Name
		switch {
		case strings.HasPrefix(name, signPrefix):
			body, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("%v: %w", err, ErrBadArchive)
			}
			c.signatures = append(c.signatures, parseSignatureName(name, body))
		case name == pkgInfoName:
			body, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("%v: %w", err, ErrBadArchive)
			}
			c.pkgInfo = body
		case keep:
			body, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("%v: %w", err, ErrBadArchive)
			}
			c.entries[name] = body
		}
	}
	return c, nil
}

// parseSignatureName splits ".SIGN.<ALG>.<keyname>" into its parts.
func parseSignatureName(name string, data []byte) Signature {
	rest := strings.TrimPrefix(name, signPrefix)
	alg, key, ok := strings.Cut(rest, ".")
	if !ok {
		return Signature{KeyName: rest, Data: data}
	}
	return Signature{Algorithm: alg, KeyName: key, Data: data}
}

// ParsePkgInfo decodes a .PKGINFO file ("key = value" lines).
func ParsePkgInfo(data []byte) (*models.Package, error) {
	p := &models.Package{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed .PKGINFO line %q: %w", line, ErrNoMetadata)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case "pkgname":
			p.Name = value
		case "pkgver":
			p.Version = value
		case "pkgdesc":
			p.Description = value
		case "url":
			p.URL = value
		case "arch":
			p.Arch = value
		case "license":
			p.License = value
		case "origin":
			p.Origin = value
		case "maintainer":
			p.Maintainer = value
		case "commit":
			p.Commit = value
		case "size":
			p.InstalledSize, err = strconv.ParseUint(value, 10, 64)
		case "builddate":
			var ts int64
			ts, err = strconv.ParseInt(value, 10, 64)
			p.BuildTime = time.Unix(ts, 0).UTC()
		case "provider_priority":
			p.ProviderPriority, err = strconv.Atoi(value)
		case "depend":
			var d models.Dependency
			if d, err = models.ParseDependency(value); err == nil {
				p.Depends = append(p.Depends, d)
			}
		case "provides":
			var d models.Dependency
			if d, err = models.ParseDependency(value); err == nil {
				p.Provides = append(p.Provides, d)
			}
		}
		if err != nil {
			return nil, fmt.Errorf(".PKGINFO %s: %v: %w", key, err, ErrNoMetadata)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read .PKGINFO: %w", err)
	}
	if p.Name == "" || p.Version == "" {
		return nil, fmt.Errorf(".PKGINFO lacks pkgname or pkgver: %w", ErrNoMetadata)
	}
	return p, nil
}

// FormatPkgInfo renders package metadata as .PKGINFO text.
func FormatPkgInfo(p *models.Package) []byte {
	var b bytes.Buffer
	field := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s = %s\n", k, v)
		}
	}
	field("pkgname", p.Name)
	field("pkgver", p.Version)
	field("pkgdesc", p.Description)
	field("url", p.URL)
	if !p.BuildTime.IsZero() {
		field("builddate", strconv.FormatInt(p.BuildTime.Unix(), 10))
	}
	if p.InstalledSize > 0 {
		field("size", strconv.FormatUint(p.InstalledSize, 10))
	}
	field("arch", p.Arch)
	field("origin", p.Origin)
	field("commit", p.Commit)
	field("maintainer", p.Maintainer)
	field("license", p.License)
	if p.ProviderPriority != 0 {
		field("provider_priority", strconv.Itoa(p.ProviderPriority))
	}
	for _, d := range p.Depends {
		field("depend", d.String())
	}
	for _, d := range p.Provides {
		field("provides", d.String())
	}
	return b.Bytes()
}

// BuildArchive packs a minimal package archive: an optional signature entry
// for keyName, the .PKGINFO of pkg and the given files.
func BuildArchive(pkg *models.Package, keyName string, files map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)

	write := func(name string, data []byte) error {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(data)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write %s header: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		return nil
	}

	if keyName != "" {
		if err := write(signPrefix+"RSA."+keyName, []byte("signature")); err != nil {
			return nil, err
		}
	}
	if err := write(pkgInfoName, FormatPkgInfo(pkg)); err != nil {
		return nil, err
	}
	for name, data := range files {
		if err := write(name, data); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}
