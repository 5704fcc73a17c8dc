// Package handler implements HTTP request handlers for manager status
package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Version is the reported manager API version
const Version = "1.0.0"

var appStartTime = time.Now()

// ManagerHandler exposes system status of the manager host
type ManagerHandler struct {
	sender      *Sender
	installPath string
}

// NewManagerHandler creates a new manager handler instance
func NewManagerHandler(sender *Sender, installPath string) *ManagerHandler {
	return &ManagerHandler{
		sender:      sender,
		installPath: installPath,
	}
}

// ManagerStatus represents system health data for the manager host
type ManagerStatus struct {
	Version         string  `json:"version"`
	Uptime          string  `json:"uptime"`
	CPUPercent      float64 `json:"cpu_percent"`
	RAMUsedGB       float64 `json:"ram_used_gb"`
	RAMTotalGB      float64 `json:"ram_total_gb"`
	RAMPercent      float64 `json:"ram_percent"`
	DiskUsedGB      float64 `json:"disk_used_gb"`
	DiskTotalGB     float64 `json:"disk_total_gb"`
	DiskPercent     float64 `json:"disk_percent"`
	GoroutinesCount int     `json:"goroutines_count"`
	InstallPath     string  `json:"install_path"`
}

// GetStatus returns current manager host status
// GET /v1/manager/status
func (h *ManagerHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// CPU usage (average over 1 second)
	cpuPercents, err := cpu.PercentWithContext(ctx, time.Second, false)
	var cpuPercent float64
	if err == nil && len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	// Memory stats
	memStat, err := mem.VirtualMemoryWithContext(ctx)
	var ramUsedGB, ramTotalGB, ramPercent float64
	if err == nil {
		ramUsedGB = float64(memStat.Used) / 1024 / 1024 / 1024
		ramTotalGB = float64(memStat.Total) / 1024 / 1024 / 1024
		ramPercent = memStat.UsedPercent
	}

	// Disk stats for the installation volume
	diskStat, err := disk.UsageWithContext(ctx, h.installPath)
	var diskUsedGB, diskTotalGB, diskPercent float64
	if err == nil {
		diskUsedGB = float64(diskStat.Used) / 1024 / 1024 / 1024
		diskTotalGB = float64(diskStat.Total) / 1024 / 1024 / 1024
		diskPercent = diskStat.UsedPercent
	}

	status := ManagerStatus{
		Version:         Version,
		Uptime:          formatDuration(time.Since(appStartTime)),
		CPUPercent:      roundTo2Decimals(cpuPercent),
		RAMUsedGB:       roundTo2Decimals(ramUsedGB),
		RAMTotalGB:      roundTo2Decimals(ramTotalGB),
		RAMPercent:      roundTo2Decimals(ramPercent),
		DiskUsedGB:      roundTo2Decimals(diskUsedGB),
		DiskTotalGB:     roundTo2Decimals(diskTotalGB),
		DiskPercent:     roundTo2Decimals(diskPercent),
		GoroutinesCount: runtime.NumGoroutine(),
		InstallPath:     h.installPath,
	}

	slog.Debug("Manager status retrieved",
		"cpu", cpuPercent,
		"disk_percent", diskPercent,
	)

	h.sender.Send(w, r, Success(status), http.StatusOK)
}

// Health returns the liveness envelope
// GET /
func (h *ManagerHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.sender.Send(w, r, &Envelope{Error: 0, Message: "rulekeeper is running"}, http.StatusOK)
}

func roundTo2Decimals(val float64) float64 {
	return float64(int(val*100)) / 100
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 24 {
		days := hours / 24
		hours = hours % 24
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
