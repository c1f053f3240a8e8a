package spc

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var sessionRe = regexp.MustCompile(`session=(0x[0-9A-Fa-f]+)`)

// page is the subset of a web UI document we care about.
type page struct {
	rows      [][]string
	sessionID string
	loginForm bool
}

func parsePage(r io.Reader) (page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return page{}, fmt.Errorf("could not parse page: %w", err)
	}

	var p page
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			for _, attr := range n.Attr {
				if p.sessionID == "" {
					p.sessionID = findSession(attr.Val)
				}
				if n.DataAtom == atom.Input && attr.Key == "name" && attr.Val == "password" {
					p.loginForm = true
				}
			}
			if n.DataAtom == atom.Tr {
				if row := cells(n); len(row) > 0 {
					p.rows = append(p.rows, row)
				}
			}
		case html.TextNode:
			if p.sessionID == "" && n.Parent != nil && n.Parent.DataAtom == atom.Script {
				p.sessionID = findSession(n.Data)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return p, nil
}

func findSession(s string) string {
	if m := sessionRe.FindStringSubmatch(s); len(m) == 2 {
		return m[1]
	}
	return ""
}

func cells(tr *html.Node) []string {
	var row []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
			row = append(row, strings.Join(strings.Fields(text(c)), " "))
		}
	}
	return row
}

func text(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(text(c))
		sb.WriteByte(' ')
	}
	return sb.String()
}

func parseSummary(rows [][]string) Summary {
	var s Summary
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		value := row[1]
		switch strings.TrimSuffix(normalize(row[0]), ":") {
		case "site", "site name":
			s.Site = value
		case "panel type", "model":
			s.Model = value
		case "serial number", "serial no", "serial no.":
			s.SerialNumber = value
		case "firmware", "firmware version":
			s.Firmware = value
		}
	}
	return s
}

// columns finds the first row containing every wanted header and returns
// the index of each header and of the row itself.
func columns(rows [][]string, want ...string) (map[string]int, int, bool) {
	for i, row := range rows {
		idx := map[string]int{}
		for j, cell := range row {
			idx[normalize(cell)] = j
		}
		found := true
		for _, w := range want {
			if _, ok := idx[w]; !ok {
				found = false
				break
			}
		}
		if found {
			return idx, i, true
		}
	}
	return nil, 0, false
}

func cell(row []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func parseAreas(rows [][]string) ([]Area, error) {
	idx, header, ok := columns(rows, "area", "mode")
	if !ok {
		return nil, fmt.Errorf("%w: no area table", ErrUnexpectedPage)
	}

	var areas []Area
	for _, row := range rows[header+1:] {
		if len(row) <= idx["mode"] {
			continue
		}
		number, err := strconv.Atoi(cell(row, idx, "area"))
		if err != nil {
			return nil, fmt.Errorf("invalid area number: %w", err)
		}
		mode, err := parseArmState(cell(row, idx, "mode"))
		if err != nil {
			return nil, err
		}
		areas = append(areas, Area{
			Number: number,
			Name:   cell(row, idx, "name"),
			Mode:   mode,
		})
	}
	return areas, nil
}

// overallArmState is the highest mode any area is set to.
func overallArmState(areas []Area) ArmState {
	state := ArmStateUnset
	for _, area := range areas {
		if area.Mode > state {
			state = area.Mode
		}
	}
	return state
}

func parseZones(rows [][]string) ([]Zone, error) {
	idx, header, ok := columns(rows, "zone", "input")
	if !ok {
		return nil, fmt.Errorf("%w: no zone table", ErrUnexpectedPage)
	}

	var zones []Zone
	for _, row := range rows[header+1:] {
		if len(row) <= idx["input"] {
			continue
		}
		id, err := strconv.Atoi(cell(row, idx, "zone"))
		if err != nil {
			return nil, fmt.Errorf("invalid zone id: %w", err)
		}
		zones = append(zones, Zone{
			ID:     id,
			Name:   cell(row, idx, "description"),
			Area:   cell(row, idx, "area"),
			Type:   cell(row, idx, "type"),
			Input:  parseZoneInput(cell(row, idx, "input")),
			Status: parseZoneStatus(cell(row, idx, "status")),
		})
	}
	return zones, nil
}
