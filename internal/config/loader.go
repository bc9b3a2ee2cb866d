package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is the kind of every configuration error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Error wraps a configuration failure with the offending document.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", ErrInvalidConfig, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrInvalidConfig, e.Path, e.Err)
}

func (e *Error) Unwrap() []error { return []error{ErrInvalidConfig, e.Err} }

var validate = validator.New(validator.WithRequiredStructEnabled())

// decoder reads one document format.
type decoder interface {
	Decode(r io.Reader, target any) error
}

type jsonDecoder struct{}

func (jsonDecoder) Decode(r io.Reader, target any) error {
	return json.NewDecoder(r).Decode(target)
}

type yamlDecoder struct{}

func (yamlDecoder) Decode(r io.Reader, target any) error {
	err := yaml.NewDecoder(r).Decode(target)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

var decoders = map[string]decoder{
	".json": jsonDecoder{},
	".yaml": yamlDecoder{},
	".yml":  yamlDecoder{},
}

// loadDocument decodes path onto target (which already holds defaults) and
// validates the result.
func loadDocument(path string, target any) error {
	if path == "" {
		return &Error{Err: errors.New("no path given")}
	}
	dec, ok := decoders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		dec = jsonDecoder{}
	}

	f, err := os.Open(path)
	if err != nil {
		return &Error{Path: path, Err: err}
	}
	defer f.Close()

	if err := dec.Decode(f, target); err != nil {
		return &Error{Path: path, Err: fmt.Errorf("parse: %w", err)}
	}
	if err := validate.Struct(target); err != nil {
		return &Error{Path: path, Err: err}
	}
	return nil
}

// LoadRules loads the rules document. On any failure the defaults are
// returned together with the error so the caller can warn and carry on.
func LoadRules(path string) (*RulesConfig, error) {
	cfg := DefaultRulesConfig()
	if err := loadDocument(path, cfg); err != nil {
		return DefaultRulesConfig(), err
	}
	return cfg, nil
}

// LoadLabeling loads the labeling (TaskSense) document, falling back to
// defaults on failure.
func LoadLabeling(path string) (*LabelingConfig, error) {
	cfg := DefaultLabelingConfig()
	if err := loadDocument(path, cfg); err != nil {
		return DefaultLabelingConfig(), err
	}
	return cfg, nil
}

// LoadRanking loads the ranking document, falling back to defaults on failure.
func LoadRanking(path string) (*RankingConfig, error) {
	cfg := DefaultRankingConfig()
	if err := loadDocument(path, cfg); err != nil {
		return DefaultRankingConfig(), err
	}
	return cfg, nil
}
