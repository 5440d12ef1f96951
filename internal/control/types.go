package control

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
)

// Route paths served by coordinators and workers.
const (
	RegisterPath = "/register"
	HostsPath    = "/hosts"
	StatusPath   = "/status"
	MetricsPath  = "/metrics"
	ShutdownPath = "/control/shutdown"
	PingPath     = "/control/ping"
	AppPrefix    = "/app"
)

// TokenParam is the query parameter carrying the shared cluster token.
const TokenParam = "token"

// HostPort is a worker's advertised address. On the wire it is a
// two-element array, ["host", port], not an object.
type HostPort struct {
	Host string
	Port int
}

func (hp HostPort) String() string {
	return net.JoinHostPort(hp.Host, strconv.Itoa(hp.Port))
}

// URL returns the http base URL for the address, without a trailing slash.
func (hp HostPort) URL() string {
	return "http://" + hp.String()
}

func (hp HostPort) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{hp.Host, hp.Port})
}

func (hp *HostPort) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("host/port pair must have 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &hp.Host); err != nil {
		return fmt.Errorf("host element: %w", err)
	}
	if err := json.Unmarshal(raw[1], &hp.Port); err != nil {
		return fmt.Errorf("port element: %w", err)
	}
	return nil
}

type RegisterRequest struct {
	Partition int    `json:"partition"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
}

// HostsResponse is the discovery document served at /hosts.
// ExpectedPartitions and FullCluster are null when the coordinator has no
// partition expectation.
type HostsResponse struct {
	ExpectedPartitions *int             `json:"expected_partitions"`
	FullCluster        *bool            `json:"full_cluster"`
	Hosts              map[int]HostPort `json:"hosts"`
}

// StatusResponse is the summary served at /status.
type StatusResponse struct {
	ExpectedPartitions *int  `json:"expected_partitions"`
	CurrentPartitions  int   `json:"current_partitions"`
	FullCluster        *bool `json:"full_cluster"`
}
