package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Options are the display preferences shared with the desktop front end.
// oarwatch only reads them.
type Options struct {
	Language string `json:"language"`
	Theme    string `json:"theme"`
	FontSize int    `json:"font_size"`
}

func DefaultOptions() Options {
	return Options{Language: "en", Theme: "dark", FontSize: 14}
}

// DateLayout renders timestamps the way the chosen language writes them.
func (o Options) DateLayout() string {
	switch o.Language {
	case "fr", "de", "es", "it":
		return "02/01/2006 15:04"
	default:
		return "2006-01-02 15:04"
	}
}

// Color reports whether terminal output should carry ANSI colours.
func (o Options) Color() bool {
	return o.Theme != "none" && o.Theme != "plain"
}

// LoadOptions reads the options file. A missing file yields the defaults;
// fields absent from the file keep theirs.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	if path == "" {
		return opts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return opts, nil
		}
		return opts, fmt.Errorf("reading options: %w", err)
	}
	if err := json.Unmarshal(data, &opts); err != nil {
		return DefaultOptions(), fmt.Errorf("decoding options: %w", err)
	}
	return opts, nil
}
