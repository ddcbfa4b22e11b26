package service

import (
	"container/list"
	"sync"
)

// lruSet 固定容量的最近使用去重集合
//
// 跨服通知器用它记住已通知过的邮件 ID：O(1) 判重，超出容量时
// 淘汰最久未访问的条目，内存有界。
type lruSet struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newLRUSet(capacity int) *lruSet {
	if capacity <= 0 {
		capacity = 1
	}
	return &lruSet{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Add 加入集合，返回是否为新成员；已存在时仅刷新其最近使用位置
func (s *lruSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.index[id]; ok {
		s.order.MoveToFront(elem)
		return false
	}

	s.index[id] = s.order.PushFront(id)
	if s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(string))
	}
	return true
}

// Contains 是否包含，并刷新最近使用位置
func (s *lruSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.index[id]
	if ok {
		s.order.MoveToFront(elem)
	}
	return ok
}

// Len 当前成员数
func (s *lruSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
