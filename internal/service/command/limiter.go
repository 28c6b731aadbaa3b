package command

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
)

// Limiter holds one token bucket per user. A nil Limiter allows everything.
type Limiter struct {
	every   rate.Limit
	burst   int
	buckets *lru.Cache[chat.UserID, *rate.Limiter]
}

// NewLimiter allows perMinute messages per user with the given burst,
// tracking at most size users. perMinute 0 returns nil.
func NewLimiter(perMinute, burst, size int) (*Limiter, error) {
	if perMinute <= 0 {
		return nil, nil
	}
	if burst < 1 {
		burst = 1
	}
	if size < 1 {
		size = 1024
	}

	buckets, err := lru.New[chat.UserID, *rate.Limiter](size)
	if err != nil {
		return nil, err
	}
	return &Limiter{
		every:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		buckets: buckets,
	}, nil
}

// Allow reports whether userID may send a message now.
func (l *Limiter) Allow(userID chat.UserID) bool {
	if l == nil {
		return true
	}
	bucket, ok := l.buckets.Get(userID)
	if !ok {
		bucket = rate.NewLimiter(l.every, l.burst)
		if prev, found, _ := l.buckets.PeekOrAdd(userID, bucket); found {
			bucket = prev
		}
	}
	return bucket.Allow()
}
