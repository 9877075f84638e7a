package cmd

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

const PAGESIZE = 25

var (
	dirStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	pageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	sizeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	ErrCanceled = errors.New("canceled")
)

// FileSelector browses directories until one file is picked.
type FileSelector struct {
	selected string
	dir      string
	choice   string
	filter   string
	page     int
}

func NewFileSelector(dir string) *FileSelector {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return &FileSelector{
		dir:  abs,
		page: 0,
	}
}

// Selected returns the picked file, or "" if none yet.
func (f *FileSelector) Selected() string {
	return f.choice
}

func (f *FileSelector) filteredEntries() ([]os.DirEntry, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})

	if f.filter != "" {
		filtered := make([]os.DirEntry, 0)
		filterLower := strings.ToLower(f.filter)
		for _, entry := range entries {
			if strings.Contains(strings.ToLower(entry.Name()), filterLower) {
				filtered = append(filtered, entry)
			}
		}
		return filtered, nil
	}

	return entries, nil
}

// options builds the menu for the current directory and page. Files that do
// not fit the wire format are left out.
func (f *FileSelector) options(entries []os.DirEntry) []huh.Option[string] {
	totalItems := len(entries)
	totalPages := (totalItems + PAGESIZE - 1) / PAGESIZE
	if totalPages == 0 {
		totalPages = 1
	}

	f.page = max(0, min(f.page, totalPages-1))

	var options []huh.Option[string]

	if f.dir != "/" {
		options = append(options, huh.NewOption("../", filepath.Dir(f.dir)))
	}

	filterText := "Filter files"
	if f.filter != "" {
		filterText = fmt.Sprintf("Filter: '%s'", f.filter)
	}

	options = append(options, huh.NewOption(filterText, "filter"))

	if totalPages > 1 {
		pageInfo := fmt.Sprintf("Page %d of %d (%d items)", f.page+1, totalPages, totalItems)
		options = append(options, huh.NewOption(pageStyle.Render(pageInfo), "page_info"))

		if f.page > 0 {
			options = append(options, huh.NewOption("<-", "prev_page"))
		}
		if f.page < totalPages-1 {
			options = append(options, huh.NewOption("->", "next_page"))
		}
	}

	start := f.page * PAGESIZE
	end := min(start+PAGESIZE, len(entries))

	for i := start; i < end; i++ {
		entry := entries[i]
		path := filepath.Join(f.dir, entry.Name())

		if entry.IsDir() {
			options = append(options, huh.NewOption(dirStyle.Render(entry.Name()+"/"), path))
			continue
		}

		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() || info.Size() > math.MaxUint32 {
			continue
		}

		name := entry.Name() + " " + sizeStyle.Render(humanize.IBytes(uint64(info.Size())))
		options = append(options, huh.NewOption(name, path))
	}

	options = append(options, huh.NewOption("Cancel", "cancel"))

	return options
}

func (f *FileSelector) RunRecur() error {
	entries, err := f.filteredEntries()
	if err != nil {
		return err
	}

	title := "Choose a file to send:"
	if f.filter != "" {
		title += fmt.Sprintf(" [Filter: %s]", f.filter)
	}

	form := huh.NewSelect[string]().
		Title(title).
		Options(f.options(entries)...).
		Value(&f.selected).
		Height(20)

	err = form.Run()
	if err != nil {
		return err
	}

	switch f.selected {
	case "cancel":
		return ErrCanceled
	case "filter":
		err := f.Filter()
		if err != nil {
			return err
		}
		return f.RunRecur()
	case "prev_page":
		f.page--
		return f.RunRecur()
	case "next_page":
		f.page++
		return f.RunRecur()
	case "page_info":
		return f.RunRecur()
	default:
		if f.Selection() {
			return nil
		}
		return f.RunRecur()
	}
}

func (f *FileSelector) Filter() error {
	var newFilter string

	form := huh.NewInput().
		Title("Filter:").
		Value(&newFilter).
		Placeholder(f.filter)

	err := form.Run()
	if err != nil {
		return err
	}

	f.filter = strings.TrimSpace(newFilter)
	f.page = 0
	return err
}

// Selection navigates into a directory or picks a file. It reports whether
// a file was picked.
func (f *FileSelector) Selection() bool {
	stat, err := os.Stat(f.selected)
	if err != nil {
		return false
	}

	if stat.IsDir() {
		f.dir = f.selected
		f.page = 0
		f.filter = ""
		return false
	}

	f.choice = f.selected
	return true
}
