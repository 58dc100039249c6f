package model

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &FileRecord{CreatedAt: created, ExpiresAt: created.Add(time.Hour)}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"до истечения", created.Add(30 * time.Minute), false},
		{"ровно в момент истечения", created.Add(time.Hour), false},
		{"после истечения", created.Add(time.Hour + time.Nanosecond), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rec.IsExpired(tt.now); got != tt.want {
				t.Errorf("IsExpired: хотели %v, получили %v", tt.want, got)
			}
		})
	}
}

func TestView_NegativeExpiresIn(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &FileRecord{
		OriginalName:  "report.pdf",
		SizeBytes:     42,
		MimeType:      "application/pdf",
		CreatedAt:     created,
		ExpiresAt:     created.Add(time.Hour),
		DownloadCount: 3,
	}

	v := rec.View(created.Add(2 * time.Hour))
	if v.ExpiresIn != -time.Hour {
		t.Errorf("ExpiresIn: хотели -1h, получили %s", v.ExpiresIn)
	}
	if v.Filename != "report.pdf" || v.Size != 42 || v.Downloads != 3 {
		t.Errorf("View: неожиданная проекция %+v", v)
	}
}
