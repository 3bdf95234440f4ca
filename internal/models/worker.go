package models

// WorkerStatus is what a worker reports about itself over the control channel
type WorkerStatus struct {
	NodeID        string   `json:"nodeId"`
	Version       string   `json:"version"`
	UptimeSeconds int64    `json:"uptimeSeconds"`
	Capabilities  []string `json:"capabilities"`
	PeerCount     int      `json:"peerCount"`
	StorageUsed   int64    `json:"storageUsed"`
}

// Peer is one remote node known to a worker
type Peer struct {
	ID           string   `json:"id"`
	Address      string   `json:"address"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// PeerList is the ListPeers payload
type PeerList struct {
	Peers []Peer `json:"peers"`
}
