package telegram

import (
	"sync"
	"time"
)

const (
	debounce  = 1200 * time.Millisecond
	maxPixels = 18_000_000
)

// chatState: что бот помнит о чате между сообщениями.
type chatState struct {
	mu        sync.Mutex
	hint      string   // контекст задания из /context
	lastFiles []string // file_id последней страницы, для "распознать заново"
}

type photoBatch struct {
	ChatID       int64
	Key          string // "grp:<mediaGroupID>" | "chat:<chatID>"
	MediaGroupID string

	mu      sync.Mutex
	images  [][]byte
	fileIDs []string
	timer   *time.Timer
	closed  bool // забран processBatch; новые фото идут в свежий батч
}

func (r *Router) chat(chatID int64) *chatState {
	v, _ := r.chats.LoadOrStore(chatID, &chatState{})
	return v.(*chatState)
}

func (r *Router) setHint(chatID int64, hint string) {
	s := r.chat(chatID)
	s.mu.Lock()
	s.hint = hint
	s.mu.Unlock()
}

func (r *Router) hint(chatID int64) string {
	s := r.chat(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hint
}

// rememberFiles keeps only Telegram file ids; the bytes are fetched again on retry.
func (r *Router) rememberFiles(chatID int64, fileIDs []string) {
	s := r.chat(chatID)
	s.mu.Lock()
	s.lastFiles = fileIDs
	s.mu.Unlock()
}

func (r *Router) lastFiles(chatID int64) []string {
	s := r.chat(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lastFiles...)
}
