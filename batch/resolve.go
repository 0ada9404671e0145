package batch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrSameSourceAndDest is returned when directory mode would write
	// into the directory it reads from.
	ErrSameSourceAndDest = errors.New("can't read and write from the same directory")

	// ErrMalformedFilename is recorded for directory entries that do not
	// follow the <password>_<output name> convention.
	ErrMalformedFilename = errors.New("malformed file name")
)

// Request is one resolved work item.
type Request struct {
	Source      string
	Destination string
	// Password is the file name prefix in directory mode and empty in
	// manifest mode.
	Password string
}

// ResolveManifest reads "input output" pairs, one per line. Lines with
// any other number of fields are counted as skipped; blank lines are
// ignored.
func ResolveManifest(r io.Reader) ([]Request, int, error) {
	var requests []Request
	skipped := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			skipped++
			continue
		}
		requests = append(requests, Request{Source: fields[0], Destination: fields[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("failed to read manifest: %w", err)
	}
	return requests, skipped, nil
}

// ResolveManifestFile opens path and resolves it with ResolveManifest.
func ResolveManifestFile(path string) ([]Request, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return ResolveManifest(f)
}

// ResolveDirectory lists the PDF files directly inside src. A file named
// "<password>_<name>.pdf" is signed to dst/<name>.pdf with that password.
// Files that do not follow the convention are returned as failures.
func ResolveDirectory(src, dst string) ([]Request, []ItemFailure, error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read source directory: %w", err)
	}

	var requests []Request
	var failures []ItemFailure
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			continue
		}
		path := filepath.Join(src, name)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		password, rest, found := strings.Cut(name, "_")
		if !found || password == "" || rest == "" || strings.EqualFold(rest, ".pdf") {
			failures = append(failures, ItemFailure{
				Source: path,
				Err:    fmt.Errorf("%w: %q has no <password>_<name> prefix", ErrMalformedFilename, name),
			})
			continue
		}

		requests = append(requests, Request{
			Source:      path,
			Destination: filepath.Join(dst, rest),
			Password:    password,
		})
	}
	return requests, failures, nil
}

// CheckDirectories rejects a source and destination that refer to the
// same directory.
func CheckDirectories(src, dst string) error {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	absDst, err := filepath.Abs(dst)
	if err != nil {
		return err
	}
	if filepath.Clean(absSrc) == filepath.Clean(absDst) {
		return ErrSameSourceAndDest
	}

	srcInfo, srcErr := os.Stat(absSrc)
	dstInfo, dstErr := os.Stat(absDst)
	if srcErr == nil && dstErr == nil && os.SameFile(srcInfo, dstInfo) {
		return ErrSameSourceAndDest
	}
	return nil
}
