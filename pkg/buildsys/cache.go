package buildsys

import (
	"context"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// CacheFile is the name of the parsed task cache in the project root
const CacheFile = ".task-cache"

func init() {
	gob.Register(ScriptCmd{})
	gob.Register(TaskRefCmd{})
}

type cacheHeader struct {
	Script  string
	ModTime int64
	Options map[string]string
}

func (h cacheHeader) matches(other cacheHeader) bool {
	if h.Script != other.Script || h.ModTime != other.ModTime || len(h.Options) != len(other.Options) {
		return false
	}

	for k, v := range h.Options {
		if ov, ok := other.Options[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func writeCache(file string, header cacheHeader, list TaskList) error {
	handle, err := os.Create(file)
	if err != nil {
		return err
	}
	defer handle.Close()

	encoder := gob.NewEncoder(handle)
	err = encoder.Encode(header)
	if err != nil {
		return err
	}

	return encoder.Encode(list)
}

func readCache(file string) (cacheHeader, TaskList, error) {
	var header cacheHeader

	handle, err := os.Open(file)
	if err != nil {
		return header, nil, err
	}
	defer handle.Close()

	decoder := gob.NewDecoder(handle)
	err = decoder.Decode(&header)
	if err != nil {
		return header, nil, err
	}

	var result TaskList
	err = decoder.Decode(&result)
	if err != nil {
		return header, nil, err
	}

	return header, result, nil
}

// Parse returns the tasks declared by the given script. The result is cached in
// projectRoot/.task-cache and reused as long as neither the script nor the passed options
// change.
func Parse(ctx context.Context, file, projectRoot string, options map[string]string) (TaskList, error) {
	absFile, err := filepath.Abs(file)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(absFile)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to check %s", file)
	}

	if options == nil {
		options = map[string]string{}
	}

	header := cacheHeader{
		Script:  absFile,
		ModTime: info.ModTime().UnixNano(),
		Options: options,
	}
	cachePath := filepath.Join(projectRoot, CacheFile)

	cached, list, err := readCache(cachePath)
	if err == nil && header.matches(cached) {
		log(ctx).Debug().Str("path", cachePath).Msg("Using cached task list")
		return list, nil
	}

	list, _, err = RunScript(ctx, absFile, projectRoot, options, true)
	if err != nil {
		return nil, err
	}

	err = writeCache(cachePath, header, list)
	if err != nil {
		log(ctx).Warn().Err(err).Msgf("Failed to write %s", cachePath)
	}

	return list, nil
}
