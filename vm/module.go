package vm

import (
	"io/fs"
	"strings"
)

// ModuleResolver rewrites import names before the loader sees them. The
// importer is the module containing the import statement, so relative
// schemes can be built on top. Returning ok=false fails the import.
type ModuleResolver interface {
	Resolve(importer, name string) (resolved string, ok bool)
}

// ModuleLoader supplies source for a resolved import name. Returning
// ok=false means the loader does not know the module and the import fails
// with a compile error script-side.
type ModuleLoader interface {
	Load(name string) (source string, ok bool)
}

// IdentityResolver passes import names through untouched. It is the default
// resolver.
type IdentityResolver struct{}

func (IdentityResolver) Resolve(_, name string) (string, bool) {
	return name, true
}

// FSLoader loads modules from a file system, mapping the import name
// "gears/engine" to the file "gears/engine.wren".
type FSLoader struct {
	fsys fs.FS
}

// NewFSLoader wraps any fs.FS, e.g. os.DirFS(root) or an embed.FS.
func NewFSLoader(fsys fs.FS) *FSLoader {
	return &FSLoader{fsys: fsys}
}

func (l *FSLoader) Load(name string) (string, bool) {
	if !fs.ValidPath(name) || strings.HasSuffix(name, "/") {
		return "", false
	}
	data, err := fs.ReadFile(l.fsys, name+".wren")
	if err != nil {
		return "", false
	}
	return string(data), true
}

// MapLoader serves modules from an in-memory name-to-source map.
type MapLoader map[string]string

func (l MapLoader) Load(name string) (string, bool) {
	src, ok := l[name]
	return src, ok
}
