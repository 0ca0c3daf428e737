package config

import "time"

type TimestampGenerator interface {
	Now() time.Time
}

type RealTimestampGenerator struct{}

func (t RealTimestampGenerator) Now() time.Time {
	return time.Now().UTC()
}

type FixedTimestampGenerator struct {
	Timestamp time.Time
}

func (t FixedTimestampGenerator) Now() time.Time {
	return t.Timestamp
}
