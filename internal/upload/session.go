package upload

import (
	"sync/atomic"
	"time"
)

// Session is one in-progress chunked upload.
type Session struct {
	ID          string
	FileName    string
	TotalSize   int64
	ContentType string
	TempPath    string
	CreatedAt   time.Time

	uploaded atomic.Int64
	closed   atomic.Bool // Set once the session is claimed for completion or cancel
}

// UploadedSize is the running total of accepted chunk bytes.
func (s *Session) UploadedSize() int64 {
	return s.uploaded.Load()
}

// Progress is a point-in-time view of a session.
type Progress struct {
	SessionID    string `json:"sessionId"`
	FileName     string `json:"fileName"`
	UploadedSize int64  `json:"uploadedSize"`
	TotalSize    int64  `json:"totalSize"`
	Percent      int    `json:"progress"`
}

func (s *Session) progress() Progress {
	uploaded := s.UploadedSize()
	return Progress{
		SessionID:    s.ID,
		FileName:     s.FileName,
		UploadedSize: uploaded,
		TotalSize:    s.TotalSize,
		Percent:      percent(uploaded, s.TotalSize),
	}
}

// percent may exceed 100 since uploads are not capped at the declared size.
func percent(uploaded, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(uploaded * 100 / total)
}
