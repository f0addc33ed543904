package openvpn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// ServerInfo holds the network-facing settings read from server.conf
type ServerInfo struct {
	Port     string `json:"port"`
	Protocol string `json:"protocol"`
	Subnet   string `json:"subnet"`
}

// DefaultServerInfo is reported when server.conf is missing or silent
func DefaultServerInfo() ServerInfo {
	return ServerInfo{Port: "N/A", Protocol: "N/A", Subnet: "10.8.0.0/24"}
}

// ParseServerConfig reads the port, proto and server directives
func ParseServerConfig(r io.Reader) ServerInfo {
	info := DefaultServerInfo()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) < 2 {
			continue
		}
		switch parts[0] {
		case "port":
			info.Port = parts[1]
		case "proto":
			info.Protocol = parts[1]
		case "server":
			if len(parts) >= 3 {
				info.Subnet = parts[1] + "/" + parts[2]
			}
		}
	}

	return info
}

// ReadServerConfig parses the server.conf at path, falling back to defaults
// when it does not exist.
func ReadServerConfig(path string) (ServerInfo, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultServerInfo(), nil
	}
	if err != nil {
		return DefaultServerInfo(), fmt.Errorf("failed to open server config: %w", err)
	}
	defer f.Close()

	return ParseServerConfig(f), nil
}
