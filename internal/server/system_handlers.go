package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// DatabaseHealth reports the check result for a single database.
type DatabaseHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// SystemHealthResponse combines database checks with host resource usage.
type SystemHealthResponse struct {
	Status      string           `json:"status"` // "healthy" or "degraded"
	Databases   []DatabaseHealth `json:"databases"`
	CPUPercent  float64          `json:"cpu_percent"`
	RAMPercent  float64          `json:"ram_percent"`
	DiskPercent float64          `json:"disk_percent,omitempty"`
	CheckedAt   string           `json:"checked_at"`
}

// DatabaseStatsEntry reports size and page stats for a single database.
type DatabaseStatsEntry struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	SizeBytes    int64  `json:"size_bytes"`
	WALSizeBytes int64  `json:"wal_size_bytes"`
	PageCount    int64  `json:"page_count"`
	PageSize     int64  `json:"page_size"`
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	response := SystemHealthResponse{
		Status:    "healthy",
		Databases: []DatabaseHealth{},
		CheckedAt: time.Now().Format(time.RFC3339),
	}

	for name, db := range s.databases {
		health := DatabaseHealth{Name: name, Healthy: true}
		if err := db.QuickCheck(r.Context()); err != nil {
			health.Healthy = false
			health.Error = err.Error()
			response.Status = "degraded"
			s.logger.Warn().Err(err).Str("database", name).Msg("Database check failed")
		}
		response.Databases = append(response.Databases, health)
	}

	// 100ms sampling keeps the endpoint responsive for dashboard polling.
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		response.CPUPercent = cpuPercent[0]
	} else if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to get CPU percentage")
	}

	if memStat, err := mem.VirtualMemory(); err == nil {
		response.RAMPercent = memStat.UsedPercent
	} else {
		s.logger.Warn().Err(err).Msg("Failed to get memory statistics")
	}

	if s.dataDir != "" {
		if diskStat, err := disk.Usage(s.dataDir); err == nil {
			response.DiskPercent = diskStat.UsedPercent
		} else {
			s.logger.Warn().Err(err).Str("dir", s.dataDir).Msg("Failed to get disk usage")
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	entries := []DatabaseStatsEntry{}

	for name, db := range s.databases {
		stats, err := db.GetStats()
		if err != nil {
			s.logger.Warn().Err(err).Str("database", name).Msg("Failed to get database stats")
			continue
		}
		entries = append(entries, DatabaseStatsEntry{
			Name:         name,
			Path:         db.Path(),
			SizeBytes:    stats.SizeBytes,
			WALSizeBytes: stats.WALSizeBytes,
			PageCount:    stats.PageCount,
			PageSize:     stats.PageSize,
		})
	}

	s.writeJSON(w, http.StatusOK, entries)
}
