package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kilupskalvis/apkdb/internal/models"
)

// repoLine is one line of the repositories file. repo is nil for blank lines
// and comments.
type repoLine struct {
	raw  string
	repo *models.Repository
}

// Repositories is the parsed repositories file. It keeps every line as
// written so that saving an unmodified file reproduces it exactly.
type Repositories struct {
	source string
	lines  []repoLine
}

// ParseRepositories parses the content of a repositories file. source is
// recorded as the comment of every repository.
func ParseRepositories(source string, data []byte) *Repositories {
	r := &Repositories{source: source}
	if len(data) == 0 {
		return r
	}
	for _, raw := range strings.Split(string(data), "\n") {
		r.lines = append(r.lines, repoLine{raw: raw, repo: parseRepoLine(source, raw)})
	}
	return r
}

// parseRepoLine returns the repository on a line, or nil for blank lines and
// comments that are not a disabled repository.
func parseRepoLine(source, raw string) *models.Repository {
	line := strings.TrimSpace(raw)
	enabled := true
	if strings.HasPrefix(line, "#") {
		enabled = false
		line = strings.TrimSpace(line[1:])
	}
	if line == "" {
		return nil
	}

	fields := strings.Fields(line)
	var tag string
	if strings.HasPrefix(fields[0], "@") {
		tag = fields[0][1:]
		fields = fields[1:]
	}
	if len(fields) != 1 || !looksLikeURL(fields[0]) || (tag == "" && strings.HasPrefix(line, "@")) {
		return nil
	}
	return &models.Repository{URL: fields[0], Tag: tag, Comment: source, Enabled: enabled}
}

func looksLikeURL(s string) bool {
	return strings.Contains(s, "://") || strings.HasPrefix(s, "/")
}

func formatRepo(repo *models.Repository) string {
	line := repo.URL
	if repo.Tag != "" {
		line = "@" + repo.Tag + " " + line
	}
	if !repo.Enabled {
		line = "#" + line
	}
	return line
}

// List returns every repository in file order, enabled or not.
func (r *Repositories) List() []models.Repository {
	var out []models.Repository
	for _, l := range r.lines {
		if l.repo != nil {
			out = append(out, *l.repo)
		}
	}
	return out
}

// Enabled returns the enabled repositories in file order.
func (r *Repositories) Enabled() []models.Repository {
	var out []models.Repository
	for _, l := range r.lines {
		if l.repo != nil && l.repo.Enabled {
			out = append(out, *l.repo)
		}
	}
	return out
}

func (r *Repositories) find(url string) int {
	for i, l := range r.lines {
		if l.repo != nil && l.repo.URL == url {
			return i
		}
	}
	return -1
}

// SetEnabled enables or disables the repository at url. Only that line is
// rewritten.
func (r *Repositories) SetEnabled(url string, enabled bool) error {
	i := r.find(url)
	if i < 0 {
		return fmt.Errorf("repository %s not found", url)
	}
	l := &r.lines[i]
	if l.repo.Enabled == enabled {
		return nil
	}
	if enabled {
		l.raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l.raw), "#"))
	} else {
		l.raw = "#" + l.raw
	}
	l.repo.Enabled = enabled
	return nil
}

// Add appends a repository. Adding a URL that is already listed fails.
func (r *Repositories) Add(repo models.Repository) error {
	if r.find(repo.URL) >= 0 {
		return fmt.Errorf("repository %s already exists", repo.URL)
	}
	repo.Comment = r.source
	line := repoLine{raw: formatRepo(&repo), repo: &repo}

	// keep the trailing newline last
	if n := len(r.lines); n > 0 && r.lines[n-1].raw == "" {
		r.lines = append(r.lines[:n-1], line, r.lines[n-1])
		return nil
	}
	r.lines = append(r.lines, line, repoLine{})
	return nil
}

// Remove deletes the line of the repository at url.
func (r *Repositories) Remove(url string) error {
	i := r.find(url)
	if i < 0 {
		return fmt.Errorf("repository %s not found", url)
	}
	r.lines = append(r.lines[:i], r.lines[i+1:]...)
	return nil
}

// Bytes returns the file content.
func (r *Repositories) Bytes() []byte {
	raws := make([]string, len(r.lines))
	for i, l := range r.lines {
		raws[i] = l.raw
	}
	return []byte(strings.Join(raws, "\n"))
}

// LoadRepositories reads the repositories file of root. A missing file is an
// empty list.
func LoadRepositories(root string) (*Repositories, error) {
	path := filepath.Join(root, RepositoriesFile)
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read repositories: %w", err)
	}
	return ParseRepositories("/"+RepositoriesFile, data), nil
}

// SaveRepositories writes the repositories file of root atomically.
func SaveRepositories(root string, r *Repositories) error {
	path := filepath.Join(root, RepositoriesFile)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".repositories-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(r.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write repositories: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace repositories: %w", err)
	}
	return nil
}
