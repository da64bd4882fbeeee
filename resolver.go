package fatfs

import (
	"errors"
	"path"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/aligator/fatfs/checkpoint"
)

// directoryCache maps the first cluster of a directory to its single live instance.
type directoryCache struct {
	dirs   map[uint32]*Directory
	logger *zap.Logger
}

func newDirectoryCache(logger *zap.Logger) *directoryCache {
	return &directoryCache{
		dirs:   make(map[uint32]*Directory),
		logger: logger,
	}
}

func (c *directoryCache) get(firstCluster uint32) (*Directory, bool) {
	d, ok := c.dirs[firstCluster]
	return d, ok
}

// put stores d. A different live instance for the same cluster is closed first.
func (c *directoryCache) put(d *Directory) {
	if old, ok := c.dirs[d.firstCluster]; ok && old != d {
		c.logger.Warn("replacing cached directory", zap.Uint32("cluster", d.firstCluster))
		_ = old.Close()
	}
	c.dirs[d.firstCluster] = d
}

// forget evicts and closes the directory starting at firstCluster.
func (c *directoryCache) forget(firstCluster uint32) error {
	d, ok := c.dirs[firstCluster]
	if !ok {
		return nil
	}

	delete(c.dirs, firstCluster)
	c.logger.Debug("evicted directory", zap.Uint32("cluster", firstCluster))
	return d.Close()
}

// close closes all cached directories.
func (c *directoryCache) close() error {
	var result *multierror.Error
	for cluster, d := range c.dirs {
		if err := d.Close(); err != nil {
			result = multierror.Append(result, checkpoint.Wrapf(err, "closing directory at cluster %d", cluster))
		}
	}
	c.dirs = make(map[uint32]*Directory)
	return result.ErrorOrNil()
}

// resolver walks paths from the root directory.
type resolver struct {
	vol  *volume
	root *Directory
}

// splitPath splits at "/" and "\" and drops empty components.
// "." is skipped and ".." removes the previous component.
func splitPath(p string) []string {
	var components []string
	for _, component := range strings.FieldsFunc(p, func(r rune) bool {
		return r == '/' || r == '\\'
	}) {
		switch component {
		case ".":
		case "..":
			if len(components) > 0 {
				components = components[:len(components)-1]
			}
		default:
			components = append(components, component)
		}
	}
	return components
}

// joinPath builds an absolute slash separated path.
func joinPath(components ...string) string {
	return path.Join(append([]string{"/"}, components...)...)
}

// isSubPath reports whether child is located below parent.
func isSubPath(parent, child []string) bool {
	if len(child) <= len(parent) {
		return false
	}
	for i := range parent {
		a, errA := NormalizeName(parent[i])
		b, errB := NormalizeName(child[i])
		if errA != nil || errB != nil || a != b {
			return false
		}
	}
	return true
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// directory returns the live Directory described by entry.
func (r *resolver) directory(entry DirectoryEntry) (*Directory, error) {
	if !entry.IsDirectory() {
		return nil, checkpoint.Wrapf(ErrNotADirectory, "%v", entry.Name)
	}

	if entry.FirstCluster == 0 || entry.FirstCluster == r.root.firstCluster {
		return r.root, nil
	}

	if d, ok := r.vol.cache.get(entry.FirstCluster); ok {
		return d, nil
	}

	r.vol.logger.Debug("loading directory", zap.Uint32("cluster", entry.FirstCluster))
	d, err := newChainDirectory(r.vol, entry.FirstCluster)
	if err != nil {
		return nil, checkpoint.Wrapf(err, "loading directory %v", entry.Name)
	}
	r.vol.cache.put(d)
	return d, nil
}

// walk resolves all components, each one except the last must be a directory.
// It returns the directory containing the last component.
func (r *resolver) walk(components []string) (*Directory, error) {
	dir := r.root
	for _, component := range components {
		name, err := NormalizeName(component)
		if err != nil {
			return nil, err
		}

		_, entry, err := dir.FindByNormalizedName(name)
		if err != nil {
			return nil, err
		}

		if !entry.IsDirectory() {
			return nil, checkpoint.Wrapf(ErrNotADirectory, "%v", component)
		}

		if dir, err = r.directory(entry); err != nil {
			return nil, err
		}
	}
	return dir, nil
}

// resolveParent returns the directory which contains the last component of path
// together with the normalized last component.
// It fails with ErrRootDirectory for the root path itself.
func (r *resolver) resolveParent(path string) (*Directory, NormalizedName, error) {
	components := splitPath(path)
	if len(components) == 0 {
		return nil, NormalizedName{}, checkpoint.From(ErrRootDirectory)
	}

	parent, err := r.walk(components[:len(components)-1])
	if err != nil {
		return nil, NormalizedName{}, err
	}

	name, err := NormalizeName(components[len(components)-1])
	if err != nil {
		return nil, NormalizedName{}, err
	}
	return parent, name, nil
}

// lookup resolves path to its parent directory, slot index and entry.
func (r *resolver) lookup(path string) (*Directory, int, DirectoryEntry, error) {
	parent, name, err := r.resolveParent(path)
	if err != nil {
		return nil, 0, DirectoryEntry{}, err
	}

	index, entry, err := parent.FindByNormalizedName(name)
	if err != nil {
		return nil, 0, DirectoryEntry{}, checkpoint.Wrapf(err, "%v", path)
	}
	return parent, index, entry, nil
}

// resolveDirectory returns the directory at path, the root for an empty path.
func (r *resolver) resolveDirectory(path string) (*Directory, error) {
	if len(splitPath(path)) == 0 {
		return r.root, nil
	}

	_, _, entry, err := r.lookup(path)
	if err != nil {
		return nil, err
	}
	return r.directory(entry)
}
