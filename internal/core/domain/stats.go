package domain

// UsageStats reports used/total pairs for a host resource.
type UsageStats struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Percent float64 `json:"percent"`
}

// ServerStats is the host resource report served to the dashboard widget.
type ServerStats struct {
	CPUPercent       float64    `json:"cpu_percent"`
	Memory           UsageStats `json:"memory"`
	Disk             UsageStats `json:"disk"`
	Uptime           string     `json:"uptime"`
	ActiveStreams    int        `json:"active_streams"`
	ScheduledStreams int        `json:"scheduled_streams"`
	DownloadedFiles  int        `json:"downloaded_files"`
}
