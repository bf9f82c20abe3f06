package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const ext = ".yaml"

// Store is a flat key/value record store scoped to one namespace.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, b []byte) error
	Delete(key string) error
	List() ([]string, error)
}

type Storage struct {
	mutex     sync.Mutex
	mutexes   map[string]*sync.Mutex
	dir       string
	log       *logrus.Entry
	namespace string
}

var _ Store = &Storage{}

// ErrNotFound is returned by Get and Delete for unknown keys.
var ErrNotFound = fmt.Errorf("record not found")

func New(log *logrus.Entry, dir, namespace string) (*Storage, error) {
	dir = filepath.Clean(dir)

	s := &Storage{
		dir:       dir,
		log:       log,
		mutexes:   make(map[string]*sync.Mutex),
		namespace: namespace,
	}

	if _, err := os.Stat(dir); err == nil {
		s.log.Debugf("using '%s' (database already exists)", dir)
		return s, nil
	}

	s.log.Debugf("creating database at '%s'", dir)
	return s, os.MkdirAll(dir, 0755)
}

func (s *Storage) Put(key string, b []byte) error {
	if err := validKey(key); err != nil {
		return fmt.Errorf("unable to save: %w", err)
	}

	mutex := s.getMutex(s.namespace)
	mutex.Lock()
	defer mutex.Unlock()

	dir := filepath.Join(s.dir, s.namespace)
	fnlPath := filepath.Join(dir, key+ext)
	tmpPath := fnlPath + ".tmp"

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// records may carry machine addresses; keep them private to the operator
	if err := os.WriteFile(tmpPath, b, 0600); err != nil {
		return err
	}

	return os.Rename(tmpPath, fnlPath)
}

// Get a record from the database
func (s *Storage) Get(key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, fmt.Errorf("unable to read: %w", err)
	}

	b, err := os.ReadFile(filepath.Join(s.dir, s.namespace, key+ext))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s/%s: %w", s.namespace, key, ErrNotFound)
	}
	return b, err
}

func (s *Storage) Delete(key string) error {
	if err := validKey(key); err != nil {
		return fmt.Errorf("unable to delete: %w", err)
	}

	mutex := s.getMutex(s.namespace)
	mutex.Lock()
	defer mutex.Unlock()

	err := os.Remove(filepath.Join(s.dir, s.namespace, key+ext))
	if os.IsNotExist(err) {
		return fmt.Errorf("%s/%s: %w", s.namespace, key, ErrNotFound)
	}
	return err
}

// List returns the keys of the namespace in lexical order.
func (s *Storage) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, s.namespace))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), ext))
	}
	sort.Strings(keys)
	return keys, nil
}

func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("missing key")
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("invalid key %q", key)
	}
	return nil
}

func (s *Storage) getMutex(collection string) *sync.Mutex {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	m, ok := s.mutexes[collection]
	if !ok {
		m = &sync.Mutex{}
		s.mutexes[collection] = m
	}
	return m
}
