package signup

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var ErrNotFound = errors.New("user not found")

type UserStore interface {
	SaveUser(user *UserRecord) error
	GetUserByEmail(email string) (*UserRecord, error)
}

type MemoryUserStore struct {
	users map[string]*UserRecord
	lock  sync.RWMutex
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users: make(map[string]*UserRecord),
	}
}

func (s *MemoryUserStore) SaveUser(user *UserRecord) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.users[strings.ToLower(user.Email)] = user
	return nil
}

func (s *MemoryUserStore) GetUserByEmail(email string) (*UserRecord, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	user, ok := s.users[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return user, nil
}

// FileUserStore keeps the records in memory and snapshots them CBOR-encoded
// to a file on every write.
type FileUserStore struct {
	path  string
	users map[string]*UserRecord
	lock  sync.RWMutex
}

func NewFileUserStore(path string) (*FileUserStore, error) {
	s := &FileUserStore{
		path:  path,
		users: make(map[string]*UserRecord),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("unable to read user store file: %w", err)
	}
	if err := cbor.Unmarshal(data, &s.users); err != nil {
		return nil, fmt.Errorf("unable to decode user store file: %w", err)
	}

	return s, nil
}

func (s *FileUserStore) SaveUser(user *UserRecord) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.users[strings.ToLower(user.Email)] = user

	data, err := cbor.Marshal(s.users)
	if err != nil {
		return fmt.Errorf("unable to encode user store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("unable to write user store file: %w", err)
	}
	return nil
}

func (s *FileUserStore) GetUserByEmail(email string) (*UserRecord, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	user, ok := s.users[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return user, nil
}
