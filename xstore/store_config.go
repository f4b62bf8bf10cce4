package xstore

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// configFile is the parsed content of a config store file.
//
//	key=T{text value}
//	key=B{base64}
//	key=B{
//	base64 split
//	over lines
//	}
//
// Text is used when the value is printable ASCII without braces or line
// breaks; anything else is written as base64. Lines starting with # are
// comments.
type configFile map[string][]byte

const configLineWidth = 60

// isPlainText reports whether a value can be written in T{...} form.
func isPlainText(v []byte) bool {
	for _, b := range v {
		if b < 0x20 || b >= 0x7f || b == '{' || b == '}' {
			return false
		}
	}
	return true
}

func parseConfigFile(r io.Reader) (configFile, error) {
	cf := make(configFile)
	sc := bufio.NewScanner(r)

	var (
		openKey string
		body    strings.Builder
	)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		if openKey != "" {
			if line != "}" {
				body.WriteString(line)
				continue
			}
			v, err := base64.StdEncoding.DecodeString(body.String())
			if err != nil {
				return nil, fmt.Errorf("decode %q: %w", openKey, err)
			}
			cf[openKey] = v
			openKey = ""
			body.Reset()
			continue
		}

		if line == "" || line[0] == '#' {
			continue
		}
		key, raw, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		raw = strings.TrimSpace(raw)

		switch {
		case raw == "B{":
			openKey = key
		case strings.HasPrefix(raw, "T{") && strings.HasSuffix(raw, "}"):
			cf[key] = []byte(raw[2 : len(raw)-1])
		case strings.HasPrefix(raw, "B{") && strings.HasSuffix(raw, "}"):
			v, err := base64.StdEncoding.DecodeString(raw[2 : len(raw)-1])
			if err != nil {
				return nil, fmt.Errorf("decode %q: %w", key, err)
			}
			cf[key] = v
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if openKey != "" {
		return nil, fmt.Errorf("unterminated value for %q", openKey)
	}
	return cf, nil
}

func (cf configFile) writeTo(w io.Writer) error {
	keys := make([]string, 0, len(cf))
	for k := range cf {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bw := bufio.NewWriter(w)
	for _, k := range keys {
		v := cf[k]
		if isPlainText(v) {
			fmt.Fprintf(bw, "%s=T{%s}\n", k, v)
			continue
		}
		enc := base64.StdEncoding.EncodeToString(v)
		if len(enc) <= configLineWidth {
			fmt.Fprintf(bw, "%s=B{%s}\n", k, enc)
			continue
		}
		fmt.Fprintf(bw, "%s=B{\n", k)
		for len(enc) > 0 {
			n := min(configLineWidth, len(enc))
			fmt.Fprintf(bw, "%s\n", enc[:n])
			enc = enc[n:]
		}
		fmt.Fprintf(bw, "}\n")
	}
	return bw.Flush()
}

// ConfigDataStore implements DataStore using a single config file.
// Every write rewrites the file atomically.
type ConfigDataStore struct {
	path string

	mu     sync.Mutex
	values configFile
}

var _ DataStore = (*ConfigDataStore)(nil)

// NewConfigDataStore creates a config file-based data store.
// The path can start with ~ to indicate the user's home directory.
func NewConfigDataStore(configPath string) (*ConfigDataStore, error) {
	configPath = expandPath(configPath)
	if configPath == "" {
		return nil, fmt.Errorf("config path is required")
	}
	values := make(configFile)
	f, err := os.Open(configPath)
	switch {
	case err == nil:
		values, err = parseConfigFile(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	case !os.IsNotExist(err):
		return nil, err
	}
	return &ConfigDataStore{path: configPath, values: values}, nil
}

// expandPath expands ~ and environment variables in a path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.Expand(path, os.Getenv)
}

func (s *ConfigDataStore) Get(key string, decrypt bool) ([]byte, error) {
	s.mu.Lock()
	data := s.values[key]
	s.mu.Unlock()

	if len(data) == 0 {
		return nil, nil
	}
	if decrypt {
		plain, err := decryptValue(data)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", key, err)
		}
		return plain, nil
	}
	return bytes.Clone(data), nil
}

func (s *ConfigDataStore) Set(key string, encrypt bool, value []byte) error {
	data := bytes.Clone(value)
	if encrypt {
		enc, err := encryptValue(value)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", key, err)
		}
		data = enc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	s.values[key] = data
	if err := s.save(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *ConfigDataStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	if !had {
		return nil
	}
	delete(s.values, key)
	if err := s.save(); err != nil {
		s.values[key] = prev
		return err
	}
	return nil
}

func (s *ConfigDataStore) save() error {
	var buf bytes.Buffer
	if err := s.values.writeTo(&buf); err != nil {
		return err
	}
	return atomicWriteFile(s.path, buf.Bytes(), 0600)
}

func (s *ConfigDataStore) Path() string {
	return s.path
}

func (s *ConfigDataStore) Close() error { return nil }
