package pipeline

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Summary tallies the outcome of one command.
type Summary struct {
	RunID             string
	InitTimes         int
	FilesDownloaded   int
	FilesSkipped      int
	FilesFailed       int
	BytesStored       int64
	DatasetsConverted int
	DatasetsSkipped   int
	Incomplete        int // init times left unconverted because raw files are missing
	ConvertFailed     int
	Paths             []string // zarr stores written, in completion order
	LatestPath        string
	Duration          time.Duration

	mu        sync.Mutex
	started   time.Time
	converted []time.Time
}

func newSummary() *Summary {
	return &Summary{RunID: uuid.NewString(), started: domain.Now()}
}

func (s *Summary) addDownload(r downloadResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FilesDownloaded += r.downloaded
	s.FilesSkipped += r.skipped
	s.FilesFailed += r.failed
	s.BytesStored += r.bytes
}

func (s *Summary) addConverted(it time.Time, p string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DatasetsConverted++
	s.BytesStored += n
	s.Paths = append(s.Paths, p)
	s.converted = append(s.converted, it)
}

// convertedInitTimes returns the init times converted so far, oldest first.
func (s *Summary) convertedInitTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	its := slices.Clone(s.converted)
	slices.SortFunc(its, time.Time.Compare)
	return its
}

func (s *Summary) addSkipped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DatasetsSkipped++
}

func (s *Summary) addIncomplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Incomplete++
}

func (s *Summary) addConvertFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConvertFailed++
}

func (s *Summary) addBytes(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BytesStored += n
}

func (s *Summary) finish(logger *slog.Logger, command string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Duration = domain.Since(s.started)
	logger.Info(command+" finished",
		"run_id", s.RunID,
		"init_times", s.InitTimes,
		"files_downloaded", s.FilesDownloaded,
		"files_skipped", s.FilesSkipped,
		"files_failed", s.FilesFailed,
		"datasets_converted", s.DatasetsConverted,
		"datasets_skipped", s.DatasetsSkipped,
		"incomplete", s.Incomplete,
		"convert_failed", s.ConvertFailed,
		"stored", humanize.Bytes(uint64(max(s.BytesStored, 0))),
		"latest", s.LatestPath,
		"duration", s.Duration.Round(time.Millisecond).String(),
	)
}

// RunStatus is a copy of the counters of a finished command.
type RunStatus struct {
	Command           string    `json:"command"`
	RunID             string    `json:"run_id"`
	FinishedAt        time.Time `json:"finished_at"`
	InitTimes         int       `json:"init_times"`
	FilesDownloaded   int       `json:"files_downloaded"`
	FilesFailed       int       `json:"files_failed"`
	DatasetsConverted int       `json:"datasets_converted"`
	Incomplete        int       `json:"incomplete"`
	ConvertFailed     int       `json:"convert_failed"`
	BytesStored       int64     `json:"bytes_stored"`
	LatestPath        string    `json:"latest_path,omitempty"`
	Error             string    `json:"error,omitempty"`
}

func (s *Summary) status(command string, err error) *RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &RunStatus{
		Command:           command,
		RunID:             s.RunID,
		FinishedAt:        domain.Now(),
		InitTimes:         s.InitTimes,
		FilesDownloaded:   s.FilesDownloaded,
		FilesFailed:       s.FilesFailed,
		DatasetsConverted: s.DatasetsConverted,
		Incomplete:        s.Incomplete,
		ConvertFailed:     s.ConvertFailed,
		BytesStored:       s.BytesStored,
		LatestPath:        s.LatestPath,
	}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}
