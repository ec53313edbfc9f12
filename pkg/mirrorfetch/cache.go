package mirrorfetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/archrepod/buildsvc/pkg/pkgdata"
)

// CachingSession batches package downloads into a disk cache directory
// ahead of a parsing pass (spec §4.6 steps 3-4: "if the mirror is a
// file:-URL, canonicalize; otherwise queue an HTTPS fetch into the cache
// dir... release the lock; if any downloads are queued, run the caching
// session and await completion").
type CachingSession struct {
	fetcher  *CircuitBreakerFetcher
	cacheDir string
	log      hclog.Logger

	mu      sync.Mutex
	pending []pendingDownload
}

type pendingDownload struct {
	fileName string
	mirrors  []string
	checksum string // expected blake3 digest, empty if unknown
}

// NewCachingSession returns a session that will place downloaded files
// under cacheDir.
func NewCachingSession(fetcher *CircuitBreakerFetcher, cacheDir string, l hclog.Logger) *CachingSession {
	return &CachingSession{fetcher: fetcher, cacheDir: cacheDir, log: l.Named("mirrorfetch.cache")}
}

// Resolve implements spec §4.6 step 3 for one package file: it tries
// localPkgDir, then every configured cache dir, then queues a download from
// the first mirror (or canonicalizes a file: mirror URL). Returns the final
// local path the package will be available at once the session completes.
// The bool is true when the file is available at that path now (local dir,
// cache dir, or file: mirror) and false when a download was queued; it
// returns ("", false) when there are no mirrors to fall back on.
func (s *CachingSession) Resolve(fileName, localPkgDir string, cacheDirs []string, mirrors []string) (string, bool) {
	return s.ResolveChecked(fileName, localPkgDir, cacheDirs, mirrors, "")
}

// ResolveChecked behaves like Resolve, but additionally records an expected
// blake3 checksum (if known) so Run can reject a download that doesn't
// match what the database claims it should be.
func (s *CachingSession) ResolveChecked(fileName, localPkgDir string, cacheDirs []string, mirrors []string, expectedChecksum string) (string, bool) {
	if localPkgDir != "" {
		p := filepath.Join(localPkgDir, fileName)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	for _, dir := range cacheDirs {
		p := filepath.Join(dir, fileName)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	if len(mirrors) == 0 {
		return "", false
	}
	if strings.HasPrefix(mirrors[0], "file://") {
		return strings.TrimPrefix(mirrors[0], "file://") + "/" + fileName, true
	}

	s.mu.Lock()
	s.pending = append(s.pending, pendingDownload{fileName: fileName, mirrors: mirrors, checksum: expectedChecksum})
	s.mu.Unlock()

	return filepath.Join(s.cacheDir, fileName), false
}

// Run downloads every file queued by Resolve, trying each of a file's
// mirrors in order until one succeeds. Errors for individual files are
// collected and returned together; a partial failure does not stop other
// downloads.
func (s *CachingSession) Run(ctx context.Context) []error {
	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return []error{fmt.Errorf("creating cache dir: %w", err)}
	}

	s.mu.Lock()
	downloads := s.pending
	s.pending = nil
	s.mu.Unlock()

	var errs []error
	for _, d := range downloads {
		if err := s.downloadOne(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.fileName, err))
		}
	}
	return errs
}

func (s *CachingSession) downloadOne(ctx context.Context, d pendingDownload) error {
	dest := filepath.Join(s.cacheDir, d.fileName)

	var lastErr error
	for _, mirror := range d.mirrors {
		fetchURL, err := joinMirrorURL(mirror, d.fileName)
		if err != nil {
			lastErr = err
			continue
		}

		artifact, err := s.fetcher.Fetch(ctx, fetchURL)
		if err != nil {
			lastErr = err
			s.log.Warn("mirror fetch failed", "mirror", mirror, "file", d.fileName, "error", err)
			continue
		}

		if err := writeArtifact(dest, artifact.Body); err != nil {
			lastErr = err
			continue
		}
		if d.checksum != "" {
			ok, err := pkgdata.VerifyChecksum(dest, d.checksum)
			if err != nil {
				lastErr = err
				continue
			}
			if !ok {
				lastErr = fmt.Errorf("checksum mismatch for %s from %s", d.fileName, mirror)
				os.Remove(dest)
				continue
			}
		}
		return nil
	}
	return lastErr
}

func joinMirrorURL(mirror, fileName string) (string, error) {
	u, err := url.Parse(mirror)
	if err != nil {
		return "", fmt.Errorf("parsing mirror URL: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + fileName
	return u.String(), nil
}

func writeArtifact(dest string, body io.ReadCloser) error {
	defer body.Close()
	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing cache file: %w", err)
	}
	f.Close()
	return os.Rename(tmp, dest)
}
