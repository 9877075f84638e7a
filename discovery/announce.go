// Package discovery lets receivers announce themselves on the local network
// so a sender can pick one without knowing its address.
package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

const (
	TypeHello = "hello"

	Port = 42069
)

var (
	ErrMalformedAnnouncement = errors.New("malformed announcement")

	HelloInterval = time.Second * 2
	// PeerTTL is how long a peer is listed after its last hello.
	PeerTTL = HelloInterval + 2*time.Second
)

// Announcement is what a receiver broadcasts every HelloInterval.
type Announcement struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Port     int    `json:"port"`
	Protocol uint32 `json:"protocol"`
	Version  string `json:"version"`
}

func NewAnnouncement(port int, protocol uint32, version string) *Announcement {
	return &Announcement{
		Type:     TypeHello,
		Name:     hostname(),
		Port:     port,
		Protocol: protocol,
		Version:  version,
	}
}

func (a *Announcement) Encode() ([]byte, error) {
	return json.Marshal(a)
}

func Parse(data []byte) (*Announcement, error) {
	var a Announcement
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnnouncement, err)
	}

	if a.Type != TypeHello {
		return nil, fmt.Errorf("%w: type %q", ErrMalformedAnnouncement, a.Type)
	}

	if a.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrMalformedAnnouncement)
	}

	if a.Port <= 0 || a.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d", ErrMalformedAnnouncement, a.Port)
	}

	return &a, nil
}

func hostname() string {
	hn, err := os.Hostname()
	if err != nil {
		hn = fmt.Sprintf("%s-%s", "unknown", uuid.NewString())
	}
	return hn
}
