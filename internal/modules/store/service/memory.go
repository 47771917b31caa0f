package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore: Store в памяти процесса. Для локального запуска без Redis и
// для тестов. Expire применяется лениво при обращении к ключу.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	strings map[string]string
	sets    map[string]map[string]struct{}
	lists   map[string][]string
	expires map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		now:     now,
		strings: make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
		lists:   make(map[string][]string),
		expires: make(map[string]time.Time),
	}
}

// evict вызывается под mu
func (s *MemoryStore) evict(key string) {
	until, ok := s.expires[key]
	if !ok || s.now().Before(until) {
		return
	}
	delete(s.strings, key)
	delete(s.sets, key)
	delete(s.lists, key)
	delete(s.expires, key)
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(key)
	v, ok := s.strings[key]
	return v, ok, nil
}

// Set как и в Redis сбрасывает TTL ключа.
func (s *MemoryStore) Set(_ context.Context, key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expires, key)
	s.strings[key] = formatValue(value)
	return nil
}

func (s *MemoryStore) SAdd(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(key)
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (s *MemoryStore) SRem(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(key)
	delete(s.sets[key], member)
	return nil
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(key)
	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) LPush(_ context.Context, key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(key)
	s.lists[key] = append([]string{formatValue(value)}, s.lists[key]...)
	return nil
}

func (s *MemoryStore) LTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(key)
	list := s.lists[key]
	lo, hi, ok := listRange(int64(len(list)), start, stop)
	if !ok {
		delete(s.lists, key)
		return nil
	}
	s.lists[key] = append([]string(nil), list[lo:hi]...)
	return nil
}

func (s *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(key)
	list := s.lists[key]
	lo, hi, ok := listRange(int64(len(list)), start, stop)
	if !ok {
		return []string{}, nil
	}
	return append([]string(nil), list[lo:hi]...), nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(key)
	var n int64
	if raw, ok := s.strings[key]; ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("incr %s: value is not an integer", key)
		}
		n = v
	}
	n++
	s.strings[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(key)
	_, isString := s.strings[key]
	_, isSet := s.sets[key]
	_, isList := s.lists[key]
	if !isString && !isSet && !isList {
		return nil
	}
	s.expires[key] = s.now().Add(ttl)
	return nil
}

// listRange переводит индексы в стиле Redis (отрицательные считаются с конца)
// в полуинтервал [lo, hi).
func listRange(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}
