package issuer

import (
	"errors"
	"sync"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	SaveClient(client *Client) error
	GetClient(id string) (*Client, error)
	SaveGrant(grant *Grant) error
	GetGrantByCode(code string) (*Grant, error)
	DeleteGrant(code string) error
}

type memoryStore struct {
	clients map[string]*Client
	grants  map[string]*Grant
	lock    sync.RWMutex
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		clients: make(map[string]*Client),
		grants:  make(map[string]*Grant),
	}
}

func (s *memoryStore) SaveClient(client *Client) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.clients[client.ID] = client
	return nil
}

func (s *memoryStore) GetClient(id string) (*Client, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	client, ok := s.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return client, nil
}

func (s *memoryStore) SaveGrant(grant *Grant) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.grants[grant.Code] = grant
	return nil
}

func (s *memoryStore) GetGrantByCode(code string) (*Grant, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	grant, ok := s.grants[code]
	if !ok {
		return nil, ErrNotFound
	}
	return grant, nil
}

func (s *memoryStore) DeleteGrant(code string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.grants, code)
	return nil
}
