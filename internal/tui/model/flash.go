package model

import (
	"sync"
	"time"
)

// FlashLevel is the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

// FlashMessage is a transient notice with a level and expiry.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Expires time.Time
}

// Flash holds the most recent notice until it expires.
type Flash struct {
	mu      sync.RWMutex
	current FlashMessage
	now     func() time.Time
}

func (f *Flash) Info(msg string) { f.set(msg, FlashInfo, 5*time.Second) }
func (f *Flash) Warn(msg string) { f.set(msg, FlashWarn, 8*time.Second) }
func (f *Flash) Err(err error)   { f.set(err.Error(), FlashErr, 10*time.Second) }

func (f *Flash) set(msg string, level FlashLevel, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = FlashMessage{Text: msg, Level: level, Expires: f.clock().Add(d)}
}

// Current returns the active message, or nil once it has expired.
func (f *Flash) Current() *FlashMessage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current.Text == "" || f.clock().After(f.current.Expires) {
		return nil
	}
	m := f.current
	return &m
}

func (f *Flash) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}
