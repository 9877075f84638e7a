package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dyastin-0/teleport/discovery"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

var (
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	ErrNoReceivers = errors.New("no receivers found")
)

// PeerSelector picks one receiver from the peers a browser has heard.
type PeerSelector struct {
	selected string
	peers    func() []discovery.Peer
	filter   string
	page     int
	choice   *discovery.Peer
}

func NewPeerSelector(peers func() []discovery.Peer) *PeerSelector {
	return &PeerSelector{
		peers: peers,
		page:  0,
	}
}

// Selected returns the picked receiver, or nil.
func (p *PeerSelector) Selected() *discovery.Peer {
	return p.choice
}

func (p *PeerSelector) filteredPeers() []discovery.Peer {
	peers := p.peers()
	if p.filter == "" {
		return peers
	}

	filtered := make([]discovery.Peer, 0)
	filterLower := strings.ToLower(p.filter)
	for _, peer := range peers {
		if strings.Contains(strings.ToLower(peer.Name), filterLower) ||
			strings.Contains(peer.Addr.String(), filterLower) {
			filtered = append(filtered, peer)
		}
	}
	return filtered
}

func formatPeerOption(peer discovery.Peer, now time.Time) string {
	name := peer.Name
	if len(name) > 20 {
		name = name[:17] + "..."
	}

	text := fmt.Sprintf("%-20s %-21s %ds",
		name,
		peer.Addr.String(),
		int(now.Sub(peer.LastHello).Seconds()),
	)

	if now.Sub(peer.LastHello) > discovery.HelloInterval {
		text = warningStyle.Render(text)
	}

	return text
}

func (p *PeerSelector) options(peers []discovery.Peer, now time.Time) []huh.Option[string] {
	totalItems := len(peers)
	totalPages := (totalItems + PAGESIZE - 1) / PAGESIZE
	if totalPages == 0 {
		totalPages = 1
	}

	p.page = max(0, min(p.page, totalPages-1))

	var options []huh.Option[string]

	filterText := "Filter receivers"
	if p.filter != "" {
		filterText = fmt.Sprintf("Filter: '%s'", p.filter)
	}
	options = append(options, huh.NewOption(filterText, "filter"))

	if totalPages > 1 {
		pageInfo := fmt.Sprintf("Page %d of %d (%d receivers)", p.page+1, totalPages, totalItems)
		options = append(options, huh.NewOption(pageStyle.Render(pageInfo), "page_info"))

		if p.page > 0 {
			options = append(options, huh.NewOption("<-", "prev_page"))
		}
		if p.page < totalPages-1 {
			options = append(options, huh.NewOption("->", "next_page"))
		}
	}

	start := p.page * PAGESIZE
	end := min(start+PAGESIZE, len(peers))

	for i := start; i < end; i++ {
		options = append(options, huh.NewOption(formatPeerOption(peers[i], now), peers[i].Addr.String()))
	}

	options = append(options,
		huh.NewOption("Refresh", "refresh"),
		huh.NewOption("Cancel", "cancel"),
	)

	return options
}

func (p *PeerSelector) RunRecur() error {
	peers := p.filteredPeers()

	title := fmt.Sprintf("Choose a receiver (%d found):", len(peers))
	if p.filter != "" {
		title += fmt.Sprintf(" [Filter: %s]", p.filter)
	}

	form := huh.NewSelect[string]().
		Title(title).
		Options(p.options(peers, time.Now())...).
		Value(&p.selected).
		Height(20)

	err := form.Run()
	if err != nil {
		return err
	}

	switch p.selected {
	case "cancel":
		return ErrCanceled
	case "filter":
		return p.Filter()
	case "prev_page":
		p.page--
		return p.RunRecur()
	case "next_page":
		p.page++
		return p.RunRecur()
	case "refresh", "page_info":
		return p.RunRecur()
	default:
		if p.pick(peers, p.selected) {
			return nil
		}
		return p.RunRecur()
	}
}

func (p *PeerSelector) pick(peers []discovery.Peer, addr string) bool {
	for _, peer := range peers {
		if peer.Addr.String() == addr {
			p.choice = &peer
			return true
		}
	}
	return false
}

func (p *PeerSelector) Filter() error {
	var newFilter string

	form := huh.NewInput().
		Title("Filter receivers (by name or address):").
		Value(&newFilter).
		Placeholder(p.filter)

	err := form.Run()
	if err != nil {
		return p.RunRecur()
	}

	p.filter = strings.TrimSpace(newFilter)
	p.page = 0
	return p.RunRecur()
}
