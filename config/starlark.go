package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.starlark.net/starlark"
)

// ModuleCache is used to store loaded Starlark modules
type ModuleCache struct {
	modules map[string]starlark.StringDict
	mutex   sync.RWMutex
}

// NewModuleCache creates a new ModuleCache
func NewModuleCache() *ModuleCache {
	return &ModuleCache{
		modules: make(map[string]starlark.StringDict),
	}
}

// Get retrieves a module from the cache
func (mc *ModuleCache) Get(key string) (starlark.StringDict, bool) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	module, ok := mc.modules[key]
	return module, ok
}

// Set stores a module in the cache
func (mc *ModuleCache) Set(key string, module starlark.StringDict) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.modules[key] = module
}

// LoadModule is a custom load function for Starlark that implements caching.
// Relative module paths resolve against the directory of the loading file.
func LoadModule(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	cache := thread.Local("moduleCache").(*ModuleCache)

	filename := module
	if !filepath.IsAbs(filename) {
		filename = filepath.Join(filepath.Dir(thread.Name), filename)
	}

	if cachedModule, ok := cache.Get(filename); ok {
		return cachedModule, nil
	}

	child := &starlark.Thread{Name: filename, Load: LoadModule}
	child.SetLocal("moduleCache", cache)
	globals, err := starlark.ExecFile(child, filename, nil, predeclared())
	if err != nil {
		return nil, err
	}

	cache.Set(filename, globals)
	return globals, nil
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"numbered": starlark.NewBuiltin("numbered", numbered),
	}
}

// numbered(prefix, first, last) returns ["<prefix>01", ..., "<prefix><last>"]
// with two-digit zero padding.
func numbered(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		prefix      string
		first, last int
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "prefix", &prefix, "first", &first, "last", &last); err != nil {
		return nil, err
	}
	if last < first {
		return nil, fmt.Errorf("%s: last (%d) is smaller than first (%d)", b.Name(), last, first)
	}
	values := make([]starlark.Value, 0, last-first+1)
	for i := first; i <= last; i++ {
		values = append(values, starlark.String(fmt.Sprintf("%s%02d", prefix, i)))
	}
	return starlark.NewList(values), nil
}

// ParseStarlarkConfig executes filename and reads its global `config` dict.
func ParseStarlarkConfig(filename string) (*File, error) {
	cache := NewModuleCache()
	thread := &starlark.Thread{
		Name: filename,
		Load: LoadModule,
	}
	thread.SetLocal("moduleCache", cache)

	globals, err := starlark.ExecFile(thread, filename, nil, predeclared())
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Starlark script")
	}

	configValue, ok := globals["config"]
	if !ok {
		return nil, errors.New("global 'config' object not found in Starlark config")
	}

	configDict, ok := configValue.(*starlark.Dict)
	if !ok {
		return nil, errors.New("global 'config' object is not a dictionary")
	}

	return parseFile(configDict)
}

func parseFile(dict *starlark.Dict) (*File, error) {
	file := &File{}

	if semester, ok, err := getStringValue(dict, "activeSemester"); err != nil {
		return nil, err
	} else if ok {
		file.ActiveSemester = semester
	}

	if exercises, ok, err := getStringList(dict, "exercises"); err != nil {
		return nil, err
	} else if ok {
		file.Exercises = exercises
	}

	value, found, err := dict.Get(starlark.String("entryPoints"))
	if err != nil {
		return nil, err
	}
	if found {
		entryPoints, ok := value.(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("expected dict for key entryPoints, got %s", value.Type())
		}
		if exercise, ok, err := getStringValue(entryPoints, "exercise"); err != nil {
			return nil, err
		} else if ok {
			file.EntryPoints.Exercise = exercise
		}
		if lesson, ok, err := getStringValue(entryPoints, "lesson"); err != nil {
			return nil, err
		} else if ok {
			file.EntryPoints.Lesson = lesson
		}
	}

	return file, nil
}

func getStringValue(dict *starlark.Dict, key string) (string, bool, error) {
	value, found, err := dict.Get(starlark.String(key))
	if err != nil || !found {
		return "", false, err
	}

	strValue, ok := value.(starlark.String)
	if !ok {
		return "", false, fmt.Errorf("expected string for key %s, got %s", key, value.Type())
	}

	return strValue.GoString(), true, nil
}

func getStringList(dict *starlark.Dict, key string) ([]string, bool, error) {
	value, found, err := dict.Get(starlark.String(key))
	if err != nil || !found {
		return nil, false, err
	}

	iterable, ok := value.(starlark.Iterable)
	if !ok {
		return nil, false, fmt.Errorf("expected list for key %s, got %s", key, value.Type())
	}

	result := []string{}
	iter := iterable.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		str, ok := x.(starlark.String)
		if !ok {
			return nil, false, fmt.Errorf("expected string in list for key %s, got %s", key, x.Type())
		}
		result = append(result, str.GoString())
	}

	return result, true, nil
}
