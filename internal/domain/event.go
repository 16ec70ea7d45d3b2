package domain

import "time"

// ConvertedEvent announces a newly persisted init time store.
type ConvertedEvent struct {
	Source      string      `json:"source"`
	InitTime    time.Time   `json:"init_time"`
	Path        string      `json:"path"`
	Steps       int         `json:"steps"`
	Variables   []Parameter `json:"variables"`
	Bytes       int64       `json:"bytes"`
	ConvertedAt time.Time   `json:"converted_at"`
}

// NewConvertedEvent describes ds persisted at p.
func NewConvertedEvent(source string, ds *Dataset, p string, n int64) ConvertedEvent {
	var it time.Time
	if len(ds.InitTimes) > 0 {
		it = ds.InitTimes[0]
	}
	return ConvertedEvent{
		Source:      source,
		InitTime:    it,
		Path:        p,
		Steps:       len(ds.Steps),
		Variables:   ds.Variables,
		Bytes:       n,
		ConvertedAt: Now(),
	}
}
