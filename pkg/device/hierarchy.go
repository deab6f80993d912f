package device

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Bounds is an element rectangle in screen pixels.
type Bounds struct {
	X, Y, Width, Height int
}

// Center returns the point a tap on the element should hit.
func (b Bounds) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

func (b Bounds) String() string {
	return fmt.Sprintf("[%d,%d][%d,%d]", b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Element is one node of a UI hierarchy dump.
type Element struct {
	Text        string
	ResourceID  string
	ContentDesc string
	HintText    string
	ClassName   string
	Bounds      Bounds
	Enabled     bool
	Clickable   bool
	Depth       int
}

// Label returns the most readable name of the element.
func (e *Element) Label() string {
	switch {
	case e.Text != "":
		return e.Text
	case e.ContentDesc != "":
		return e.ContentDesc
	case e.HintText != "":
		return e.HintText
	}
	return ""
}

// ParseHierarchy parses a uiautomator dump into a flat element list in
// document order. Both the <node> format and class-named tags are accepted.
func ParseHierarchy(xmlData string) ([]*Element, error) {
	decoder := xml.NewDecoder(strings.NewReader(xmlData))

	var (
		elements []*Element
		found    bool
		depth    int
	)
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if len(elements) == 0 {
				return nil, fmt.Errorf("parse hierarchy: %w", err)
			}
			break
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "hierarchy" {
				found = true
				continue
			}
			elements = append(elements, newElement(t, depth))
			depth++
		case xml.EndElement:
			if t.Name.Local != "hierarchy" {
				depth--
			}
		}
	}

	if !found {
		return nil, fmt.Errorf("invalid hierarchy: no hierarchy element found")
	}
	return elements, nil
}

func newElement(t xml.StartElement, depth int) *Element {
	elem := &Element{ClassName: t.Name.Local, Depth: depth}
	for _, attr := range t.Attr {
		switch attr.Name.Local {
		case "text":
			elem.Text = attr.Value
		case "resource-id":
			elem.ResourceID = attr.Value
		case "content-desc":
			elem.ContentDesc = attr.Value
		case "hint":
			elem.HintText = attr.Value
		case "class":
			elem.ClassName = attr.Value
		case "bounds":
			elem.Bounds = parseBounds(attr.Value)
		case "enabled":
			elem.Enabled = attr.Value == "true"
		case "clickable":
			elem.Clickable = attr.Value == "true"
		}
	}
	return elem
}

// parseBounds parses Android bounds string "[x1,y1][x2,y2]".
func parseBounds(s string) Bounds {
	s = strings.ReplaceAll(s, "][", ",")
	s = strings.Trim(s, "[]")
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bounds{}
	}

	x1, _ := strconv.Atoi(parts[0])
	y1, _ := strconv.Atoi(parts[1])
	x2, _ := strconv.Atoi(parts[2])
	y2, _ := strconv.Atoi(parts[3])
	return Bounds{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// FindByText returns the best element whose text, content-desc or hint
// matches text. Exact matches beat substring matches; among equals the
// deepest clickable element wins.
func FindByText(elements []*Element, text string) *Element {
	var exact, partial []*Element
	for _, e := range elements {
		switch {
		case e.Text == text || e.ContentDesc == text || e.HintText == text:
			exact = append(exact, e)
		case containsIgnoreCase(e.Text, text) ||
			containsIgnoreCase(e.ContentDesc, text) ||
			containsIgnoreCase(e.HintText, text):
			partial = append(partial, e)
		}
	}
	if best := deepest(preferClickable(exact)); best != nil {
		return best
	}
	return deepest(preferClickable(partial))
}

// FindByID returns the first element whose resource-id is id, either fully
// qualified or as the part after ":id/".
func FindByID(elements []*Element, id string) *Element {
	for _, e := range elements {
		if e.ResourceID == "" {
			continue
		}
		if e.ResourceID == id || strings.HasSuffix(e.ResourceID, ":id/"+id) {
			return e
		}
	}
	return nil
}

// Labelled returns the elements a model can address: those with a label or
// a resource id.
func Labelled(elements []*Element) []*Element {
	var out []*Element
	for _, e := range elements {
		if e.Label() != "" || e.ResourceID != "" {
			out = append(out, e)
		}
	}
	return out
}

func containsIgnoreCase(s, substr string) bool {
	return s != "" && strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// preferClickable narrows elements to the clickable ones when there are any.
func preferClickable(elements []*Element) []*Element {
	var clickable, rest []*Element
	for _, e := range elements {
		if e.Clickable {
			clickable = append(clickable, e)
		} else {
			rest = append(rest, e)
		}
	}
	if len(clickable) > 0 {
		return clickable
	}
	return rest
}

func deepest(elements []*Element) *Element {
	if len(elements) == 0 {
		return nil
	}
	best := elements[0]
	for _, e := range elements[1:] {
		if e.Depth > best.Depth {
			best = e
		}
	}
	return best
}
