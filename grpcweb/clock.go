package grpcweb

import "time"

// Clock is an injectable source of "now", so deadline arithmetic can be
// tested deterministically.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
