package testcase

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Labelled fields. Values end at a tab or the end of the line.
var (
	namePatterns = patterns(
		`测试(?:任务|用例)名称[ \x{3000}]*[:：][ \x{3000}]*([^\t\n]+)`,
		`(?im)^[ \t]*(?:test[ \t]*(?:case[ \t]*)?name|name)[ \t]*[:：][ ]*([^\t\n]+)`,
	)
	preconditionPatterns = patterns(
		`前置条件[ \x{3000}]*[:：][ \x{3000}]*([^\t\n]+)`,
		`(?im)^[ \t]*preconditions?[ \t]*[:：][ ]*([^\t\n]+)`,
	)
	verificationPatterns = patterns(
		`验证点[ \x{3000}]*[:：][ \x{3000}]*([^\t\n]+)`,
		`(?im)^[ \t]*(?:verifications?|verify|expected)[ \t]*[:：][ ]*([^\t\n]+)`,
	)
	packagePatterns = patterns(
		`(?:App包名|应用包名|包名)[ \x{3000}]*[:：][ \x{3000}]*([\w.]+)`,
		`(?im)^[ \t]*(?:app[ \t]*)?package[ \t]*[:：][ ]*([\w.]+)`,
		// A bare com.* identifier anywhere in the text.
		`(?:^|[^\w.])(com\.[\w.]*\w)`,
	)
	serialPatterns = patterns(
		`(?:设备序列号|序列号)[ \x{3000}]*[:：][ \x{3000}]*([\w.:-]+)`,
		`(?im)^[ \t]*(?:device(?:[ \t]*serial)?|serial)[ \t]*[:：][ ]*([\w.:-]+)`,
		// An upper-case token of 10+ characters closing the text.
		`(?:^|[^\w.])([A-Z0-9]{10,})\s*$`,
	)
)

var (
	listSeparator = regexp.MustCompile(`[,，;；]`)
	quotedText    = regexp.MustCompile(quoted)
	// Line-anchored so that digits inside identifiers like com.im30.way
	// are never read as step numbers.
	stepLine      = regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]*(.+)$`)
	looseStepLine = regexp.MustCompile(`^\d+[ \t]*[.、)）．][ \t]*(.+)$`)
)

// Parse reads free-form test case text. It never fails: missing labels
// leave their fields empty and unrecognised step text becomes a click.
func Parse(raw string) *TestCase {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	tc := &TestCase{
		Name:          firstMatch(text, namePatterns),
		Preconditions: splitList(firstMatch(text, preconditionPatterns)),
		Verifications: []string{},
		AppPackage:    firstMatch(text, packagePatterns),
		DeviceSerial:  firstMatch(text, serialPatterns),
	}
	if tc.Name == "" {
		tc.Name = DefaultName
	}
	for _, v := range splitList(firstMatch(text, verificationPatterns)) {
		tc.Verifications = append(tc.Verifications, unquote(v))
	}

	stepTexts := stepLines(text)
	tc.Steps = make([]TestStep, 0, len(stepTexts))
	for i, s := range stepTexts {
		tc.Steps = append(tc.Steps, ParseStep(i+1, s))
	}
	return tc
}

func firstMatch(text string, res []*regexp.Regexp) string {
	for _, re := range res {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// splitList splits a labelled value on ASCII and full-width separators.
func splitList(s string) []string {
	out := []string{}
	for _, part := range listSeparator.Split(s, -1) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// unquote reduces s to its first quoted substring, if it has one.
func unquote(s string) string {
	if m := quotedText.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

func stepLines(text string) []string {
	var out []string
	for _, m := range stepLine.FindAllStringSubmatch(text, -1) {
		if s := stepText(m[1]); s != "" {
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		return out
	}

	// Looser numbering such as "1、" or "1)".
	for _, line := range strings.Split(text, "\n") {
		m := looseStepLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		if s := stepText(m[1]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// stepText drops tab-separated trailing columns from a step line.
func stepText(s string) string {
	s, _, _ = strings.Cut(s, "\t")
	return strings.TrimSpace(s)
}

// document is the structured YAML form of a test case.
type document struct {
	Name          string   `yaml:"name"`
	Preconditions []string `yaml:"preconditions"`
	Steps         []string `yaml:"steps"`
	Verifications []string `yaml:"verifications"`
	AppPackage    string   `yaml:"appPackage"`
	Device        string   `yaml:"device"`
}

// ParseFile loads a test case from disk. YAML files are read as structured
// documents; anything else is treated as free-form text.
func ParseFile(path string) (*TestCase, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided test case file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var tc *TestCase
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		tc, err = ParseYAML(data, path)
		if err != nil {
			return nil, err
		}
	default:
		tc = Parse(string(data))
	}
	tc.SourcePath = path
	return tc, nil
}

// ParseYAML decodes a structured test case document. Step strings are
// classified with the same rules as free-form text.
func ParseYAML(data []byte, sourcePath string) (*TestCase, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, wrapYAMLError(sourcePath, err)
	}
	if len(root.Content) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: "empty test case file"}
	}
	body := root.Content[0]
	if body.Kind != yaml.MappingNode {
		return nil, &ParseError{Path: sourcePath, Line: body.Line, Message: "test case must be a mapping"}
	}

	var doc document
	if err := body.Decode(&doc); err != nil {
		return nil, wrapYAMLError(sourcePath, err)
	}

	tc := &TestCase{
		Name:          strings.TrimSpace(doc.Name),
		Preconditions: nonEmpty(doc.Preconditions),
		Verifications: []string{},
		AppPackage:    strings.TrimSpace(doc.AppPackage),
		DeviceSerial:  strings.TrimSpace(doc.Device),
		SourcePath:    sourcePath,
	}
	if tc.Name == "" {
		tc.Name = DefaultName
	}
	for _, v := range nonEmpty(doc.Verifications) {
		tc.Verifications = append(tc.Verifications, unquote(v))
	}
	tc.Steps = make([]TestStep, 0, len(doc.Steps))
	for _, s := range nonEmpty(doc.Steps) {
		tc.Steps = append(tc.Steps, ParseStep(len(tc.Steps)+1, s))
	}
	return tc, nil
}

func nonEmpty(in []string) []string {
	out := []string{}
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func wrapYAMLError(path string, err error) error {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) && len(typeErr.Errors) > 0 {
		return &ParseError{Path: path, Message: typeErr.Errors[0]}
	}
	return &ParseError{Path: path, Message: err.Error()}
}

// ParseDirectory loads every test case file (.txt, .yaml, .yml) directly
// inside dir, sorted by file name.
func ParseDirectory(dir string) ([]*TestCase, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".txt", ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	cases := make([]*TestCase, 0, len(names))
	for _, name := range names {
		tc, err := ParseFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		cases = append(cases, tc)
	}
	return cases, nil
}
