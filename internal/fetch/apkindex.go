package fetch

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kilupskalvis/apkdb/internal/models"
)

// ErrNoIndex is returned when an index archive has no APKINDEX entry.
var ErrNoIndex = errors.New("archive does not contain an APKINDEX")

// Index is a parsed repository index.
type Index struct {
	Description string
	Packages    []*models.Package
}

// ParseIndex decodes an index. data may be a gzip-compressed tar archive
// (optionally preceded by a signature segment) or plain APKINDEX text.
func ParseIndex(data []byte) (*Index, error) {
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		return parseIndexArchive(data)
	}
	pkgs, err := ParseIndexText(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &Index{Packages: pkgs}, nil
}

func parseIndexArchive(data []byte) (*Index, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open index archive: %w", err)
	}
	defer zr.Close()

	idx := &Index{}
	found := false
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read index archive: %w", err)
		}
		switch hdr.Name {
		case "DESCRIPTION":
			desc, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("read index description: %w", err)
			}
			idx.Description = strings.TrimSpace(string(desc))
		case "APKINDEX":
			pkgs, err := ParseIndexText(tr)
			if err != nil {
				return nil, err
			}
			idx.Packages = pkgs
			found = true
		}
	}
	if !found {
		return nil, ErrNoIndex
	}
	return idx, nil
}

// ParseIndexText parses APKINDEX text: blank-line separated records of
// "K:value" lines.
func ParseIndexText(r io.Reader) ([]*models.Package, error) {
	var pkgs []*models.Package
	var cur *models.Package
	lineNo := 0

	flush := func() error {
		if cur == nil {
			return nil
		}
		if cur.Name == "" || cur.Version == "" {
			return fmt.Errorf("index record ending at line %d has no name or version", lineNo)
		}
		pkgs = append(pkgs, cur)
		cur = nil
		return nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		if len(line) < 2 || line[1] != ':' {
			return nil, fmt.Errorf("index line %d: malformed field %q", lineNo, line)
		}
		if cur == nil {
			cur = &models.Package{}
		}
		if err := setIndexField(cur, line[0], line[2:]); err != nil {
			return nil, fmt.Errorf("index line %d: %w", lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return pkgs, nil
}

func setIndexField(p *models.Package, key byte, value string) error {
	var err error
	switch key {
	case 'P':
		p.Name = value
	case 'V':
		p.Version = value
	case 'A':
		p.Arch = value
	case 'T':
		p.Description = value
	case 'U':
		p.URL = value
	case 'L':
		p.License = value
	case 'o':
		p.Origin = value
	case 'm':
		p.Maintainer = value
	case 'c':
		p.Commit = value
	case 'C':
		p.Checksum = value
	case 'S':
		p.Size, err = strconv.ParseUint(value, 10, 64)
	case 'I':
		p.InstalledSize, err = strconv.ParseUint(value, 10, 64)
	case 't':
		var ts int64
		ts, err = strconv.ParseInt(value, 10, 64)
		p.BuildTime = time.Unix(ts, 0).UTC()
	case 'k':
		p.ProviderPriority, err = strconv.Atoi(value)
	case 'D':
		p.Depends, err = parseDependencyList(value)
	case 'p':
		p.Provides, err = parseDependencyList(value)
	default:
		// install_if, replaces and friends are not used by the solver
	}
	if err != nil {
		return fmt.Errorf("field %c: %w", key, err)
	}
	return nil
}

func parseDependencyList(s string) ([]models.Dependency, error) {
	fields := strings.Fields(s)
	deps := make([]models.Dependency, 0, len(fields))
	for _, f := range fields {
		d, err := models.ParseDependency(f)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", f, err)
		}
		deps = append(deps, d)
	}
	return deps, nil
}

// FormatIndexText renders packages as APKINDEX text, sorted by name and version.
func FormatIndexText(pkgs []*models.Package) []byte {
	sorted := make([]*models.Package, len(pkgs))
	copy(sorted, pkgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Version < sorted[j].Version
	})

	var b bytes.Buffer
	for _, p := range sorted {
		writeField(&b, 'C', p.Checksum)
		writeField(&b, 'P', p.Name)
		writeField(&b, 'V', p.Version)
		writeField(&b, 'A', p.Arch)
		if p.Size > 0 {
			writeField(&b, 'S', strconv.FormatUint(p.Size, 10))
		}
		if p.InstalledSize > 0 {
			writeField(&b, 'I', strconv.FormatUint(p.InstalledSize, 10))
		}
		writeField(&b, 'T', p.Description)
		writeField(&b, 'U', p.URL)
		writeField(&b, 'L', p.License)
		writeField(&b, 'o', p.Origin)
		writeField(&b, 'm', p.Maintainer)
		if !p.BuildTime.IsZero() {
			writeField(&b, 't', strconv.FormatInt(p.BuildTime.Unix(), 10))
		}
		writeField(&b, 'c', p.Commit)
		if p.ProviderPriority != 0 {
			writeField(&b, 'k', strconv.Itoa(p.ProviderPriority))
		}
		writeField(&b, 'D', joinDependencies(p.Depends))
		writeField(&b, 'p', joinDependencies(p.Provides))
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// BuildIndexArchive packs an unsigned index archive (gzip tar with
// DESCRIPTION and APKINDEX entries).
func BuildIndexArchive(description string, pkgs []*models.Package) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)

	entries := []struct {
		name string
		data []byte
	}{
		{"DESCRIPTION", []byte(description)},
		{"APKINDEX", FormatIndexText(pkgs)},
	}
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.data)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("write %s header: %w", e.name, err)
		}
		if _, err := tw.Write(e.data); err != nil {
			return nil, fmt.Errorf("write %s: %w", e.name, err)
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

func writeField(b *bytes.Buffer, key byte, value string) {
	if value == "" {
		return
	}
	b.WriteByte(key)
	b.WriteByte(':')
	b.WriteString(value)
	b.WriteByte('\n')
}

func joinDependencies(deps []models.Dependency) string {
	parts := make([]string, len(deps))
	for i, d := range deps {
		parts[i] = d.String()
	}
	return strings.Join(parts, " ")
}
