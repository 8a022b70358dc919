package flume

import (
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Rotation configures self-managed rotation for a BufFile sink. MaxSize and
// MaxAge may be combined; the file rotates when either threshold is
// crossed, whichever happens first.
type Rotation struct {
	// MaxSize rotates once the active file reaches this many bytes.
	// Zero disables size-based rotation.
	MaxSize int64

	// MaxAge rotates once the active file is older than this duration.
	// Zero disables age-based rotation.
	MaxAge time.Duration

	// ArchiveDir receives rotated files. Defaults to the log file's own
	// directory. Created on Open if missing.
	ArchiveDir string

	// MaxArchives bounds how many archived files are kept; the oldest
	// beyond the bound are deleted, compressed or not. Zero keeps all.
	MaxArchives int

	// Compression is applied to archives, except the CompressExclude most
	// recent ones.
	Compression CompressionType

	// CompressExclude leaves the N most recent archives uncompressed so
	// they can still be tailed cheaply.
	CompressExclude int

	// CompressWorkers is the number of compression goroutines. Defaults
	// to 1.
	CompressWorkers int
}

// RotateBySize returns a size-only rotation policy keeping maxArchives
// archived files.
func RotateBySize(maxSize int64, maxArchives int) Rotation {
	return Rotation{MaxSize: maxSize, MaxArchives: maxArchives}
}

// RotateByAge returns an age-only rotation policy keeping maxArchives
// archived files.
func RotateByAge(maxAge time.Duration, maxArchives int) Rotation {
	return Rotation{MaxAge: maxAge, MaxArchives: maxArchives}
}

func (r Rotation) enabled() bool {
	return r.MaxSize > 0 || r.MaxAge > 0
}

func (r Rotation) validate(sink string) error {
	if r.MaxSize < 0 {
		return configErr(sink, "Rotation.MaxSize", "must not be negative")
	}
	if r.MaxAge < 0 {
		return configErr(sink, "Rotation.MaxAge", "must not be negative")
	}
	if r.MaxSize == 0 && r.MaxAge == 0 {
		return configErr(sink, "Rotation", "at least one of MaxSize and MaxAge must be set")
	}
	if r.MaxArchives < 0 {
		return configErr(sink, "Rotation.MaxArchives", "must not be negative")
	}
	if r.CompressExclude < 0 {
		return configErr(sink, "Rotation.CompressExclude", "must not be negative")
	}
	if r.Compression != CompressionNone && r.Compression != CompressionGzip {
		return configErr(sink, "Rotation.Compression", "unsupported compression type")
	}
	return nil
}

func (r Rotation) checksum(h hash.Hash64) {
	hashInt(h, r.MaxSize)
	hashDuration(h, r.MaxAge)
	hashString(h, r.ArchiveDir)
	hashInt(h, int64(r.MaxArchives))
	hashInt(h, int64(r.Compression))
	hashInt(h, int64(r.CompressExclude))
	hashInt(h, int64(r.CompressWorkers))
}

// rotationState is the per-sink runtime side of a Rotation policy: resolved
// archive directory, archive name pattern, and upkeep bookkeeping.
type rotationState struct {
	cfg     Rotation
	base    string
	dir     string
	pattern *regexp.Regexp
}

func newRotationState(cfg Rotation, logPath string) (*rotationState, error) {
	dir := cfg.ArchiveDir
	if dir == "" {
		dir = filepath.Dir(logPath)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	base := filepath.Base(logPath)
	// Pattern: base.YYYYMMDD-HHMMSS.sss with optional .gz
	pattern := regexp.MustCompile(fmt.Sprintf(`^%s\.(\d{8}-\d{6}\.\d{3})(\.gz)?$`, regexp.QuoteMeta(base)))
	return &rotationState{cfg: cfg, base: base, dir: dir, pattern: pattern}, nil
}

// due reports whether the active file crossed a rotation threshold.
func (rs *rotationState) due(size int64, birth time.Time) bool {
	if rs.cfg.MaxSize > 0 && size >= rs.cfg.MaxSize {
		return true
	}
	if rs.cfg.MaxAge > 0 && !birth.IsZero() && time.Since(birth) >= rs.cfg.MaxAge {
		return true
	}
	return false
}

// archivePath returns the destination for the file being rotated out.
func (rs *rotationState) archivePath(now time.Time) string {
	return filepath.Join(rs.dir, fmt.Sprintf("%s.%s", rs.base, now.Format(ArchiveTimeFormat)))
}

type archiveFile struct {
	path  string
	stamp string
}

// archives lists archived files for this sink, newest first.
func (rs *rotationState) archives() ([]archiveFile, error) {
	entries, err := os.ReadDir(rs.dir)
	if err != nil {
		return nil, fmt.Errorf("reading archive directory: %w", err)
	}
	var files []archiveFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := rs.pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		files = append(files, archiveFile{
			path:  filepath.Join(rs.dir, e.Name()),
			stamp: m[1],
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].stamp > files[j].stamp
	})
	return files, nil
}

// upkeep enforces retention and queues compression after a rotation.
// Archives beyond MaxArchives are removed oldest-first; of the survivors,
// everything older than the CompressExclude newest is queued unless already
// compressed.
func (rs *rotationState) upkeep(queue func(path string)) error {
	files, err := rs.archives()
	if err != nil {
		return err
	}
	for i, f := range files {
		if rs.cfg.MaxArchives > 0 && i >= rs.cfg.MaxArchives {
			if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing old archive %s: %w", f.path, err)
			}
			continue
		}
		if rs.cfg.Compression == CompressionNone || queue == nil {
			continue
		}
		if i < rs.cfg.CompressExclude {
			continue
		}
		if strings.HasSuffix(f.path, ".gz") {
			continue
		}
		queue(f.path)
	}
	return nil
}
