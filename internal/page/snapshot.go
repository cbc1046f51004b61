// Package page describes what the agent sees of a web page and the narrow
// browsing contract it drives the page through.
package page

import "sort"

// Snapshot is a point-in-time capture of a page. Element indices are only
// meaningful for the snapshot that produced them.
type Snapshot struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Screenshot []byte    `json:"-"`
	Elements   []Element `json:"elements"`

	byIndex map[int]int
}

// Element is an interactive element on the page.
type Element struct {
	Index       int    `json:"index"`
	Tag         string `json:"tag"`
	Text        string `json:"text,omitempty"`
	Clickable   bool   `json:"clickable"`
	Input       bool   `json:"input"`
	Href        string `json:"href,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Type        string `json:"type,omitempty"`
	Class       string `json:"class,omitempty"`
	ID          string `json:"id,omitempty"`
	Box         Box    `json:"box"`
}

// Box is an element's bounding box in CSS pixels.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the middle point of the box.
func (b Box) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// NewSnapshot orders elements by index and drops duplicate indices, keeping
// the first occurrence.
func NewSnapshot(url, title string, screenshot []byte, elements []Element) *Snapshot {
	sorted := make([]Element, len(elements))
	copy(sorted, elements)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	s := &Snapshot{URL: url, Title: title, Screenshot: screenshot, byIndex: make(map[int]int, len(sorted))}
	for _, el := range sorted {
		if _, dup := s.byIndex[el.Index]; dup {
			continue
		}
		s.byIndex[el.Index] = len(s.Elements)
		s.Elements = append(s.Elements, el)
	}
	return s
}

// Lookup returns the element with the given index.
func (s *Snapshot) Lookup(index int) (Element, bool) {
	if s == nil {
		return Element{}, false
	}
	if s.byIndex == nil {
		for _, el := range s.Elements {
			if el.Index == index {
				return el, true
			}
		}
		return Element{}, false
	}
	i, ok := s.byIndex[index]
	if !ok {
		return Element{}, false
	}
	return s.Elements[i], true
}

// Has reports whether index exists in the snapshot.
func (s *Snapshot) Has(index int) bool {
	_, ok := s.Lookup(index)
	return ok
}

// Len returns the number of interactive elements.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Elements)
}
