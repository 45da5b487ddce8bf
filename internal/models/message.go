package models

const (
	MsgHealthCheck   = "health_check"
	MsgTransferEvent = "transfer_event"
	MsgTransferList  = "transfer_list"
	MsgFileList      = "file_list"
)

// Transfer event kinds.
const (
	EventNegotiated = "negotiated"
	EventCompleted  = "completed"
	EventFailed     = "failed"
	EventReleased   = "released"
)

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type HealthCheck struct {
	Status          string      `json:"sys_status"`
	Uptime          int64       `json:"uptime"`
	InstanceID      string      `json:"instance_id"`
	Endpoint        string      `json:"zmq_endpoint"`
	PublicEndpoint  string      `json:"public_endpoint,omitempty"`
	ActiveTransfers int         `json:"active_transfers"`
	Capacity        int         `json:"capacity"`
	Host            HostMetrics `json:"host_metrics"`
}

// TransferEvent is pushed to monitor subscribers on every session change.
type TransferEvent struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id,omitempty"`
	Name      string `json:"name"`
	Direction string `json:"direction"`
	Size      int64  `json:"size"`
	Offset    int64  `json:"offset"`
	Reason    string `json:"reason,omitempty"`
	Stats     string `json:"stats,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type FileInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
}

type DirectoryInfo struct {
	Order      string     `json:"order"`
	Files      []FileInfo `json:"files"`
	TotalFiles int        `json:"total_files"`
	TotalSize  int64      `json:"total_size"`
}
