package postprocess

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/editorconfig/editorconfig-core-go/v2"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"
)

// Settings are the editor settings the processors honour.
type Settings struct {
	// UseTabs indents with tabs instead of IndentSize spaces.
	UseTabs                bool
	IndentSize             int
	TrimTrailingWhitespace bool
}

func DefaultSettings() Settings {
	return Settings{UseTabs: true, IndentSize: 4, TrimTrailingWhitespace: true}
}

// Indent returns one level of indentation.
func (me Settings) Indent() string {
	if me.UseTabs || me.IndentSize <= 0 {
		return "\t"
	}
	return strings.Repeat(" ", me.IndentSize)
}

// LoadSettings reads the settings for path from the nearest .editorconfig on fsys. Without
// one the defaults apply.
func LoadSettings(fsys afero.Fs, path string) (Settings, error) {
	settings := DefaultSettings()

	cfgPath, ok, err := findEditorConfig(fsys, filepath.Dir(path))
	if err != nil || !ok {
		return settings, err
	}

	f, err := fsys.Open(cfgPath)
	if err != nil {
		return settings, errors.Errorf("opening %s: %w", cfgPath, err)
	}
	defer f.Close()

	ec, err := editorconfig.Parse(f)
	if err != nil {
		return settings, errors.Errorf("parsing %s: %w", cfgPath, err)
	}

	rel, err := filepath.Rel(filepath.Dir(cfgPath), path)
	if err != nil {
		rel = filepath.Base(path)
	}
	def, err := ec.GetDefinitionForFilename(filepath.ToSlash(rel))
	if err != nil {
		return settings, errors.Errorf("resolving editorconfig for %s: %w", path, err)
	}

	switch def.IndentStyle {
	case "space":
		settings.UseTabs = false
	case "tab":
		settings.UseTabs = true
	}
	if n, err := strconv.Atoi(def.IndentSize); err == nil && n > 0 {
		settings.IndentSize = n
	} else if def.TabWidth > 0 {
		settings.IndentSize = def.TabWidth
	}
	if def.TrimTrailingWhitespace != nil {
		settings.TrimTrailingWhitespace = *def.TrimTrailingWhitespace
	}
	return settings, nil
}

func findEditorConfig(fsys afero.Fs, dir string) (string, bool, error) {
	for {
		candidate := filepath.Join(dir, ".editorconfig")
		ok, err := afero.Exists(fsys, candidate)
		if err != nil {
			return "", false, errors.Errorf("looking for %s: %w", candidate, err)
		}
		if ok {
			return candidate, true, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}
