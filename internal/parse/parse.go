// Package parse extracts the animation source and narration script from raw
// model output. Malformed output is an expected outcome and is reported as an
// error value; Parse never panics.
package parse

import (
	"errors"
	"fmt"
	"strings"

	"github.com/grid/explainer/internal/prompt"
)

// ErrMalformedOutput matches every *MalformedError.
var ErrMalformedOutput = errors.New("malformed generation output")

// Reasons reported in MalformedError.
const (
	ReasonMissing      = "missing"
	ReasonEmpty        = "empty"
	ReasonUnterminated = "unterminated"
	ReasonNested       = "nested start marker"
	ReasonStrayEnd     = "end marker before start marker"
)

const fence = "```"

// Section names a delimited region of the model output.
type Section struct {
	Name  string
	Start string
	End   string
}

var (
	AnimationSection = Section{Name: "animation", Start: prompt.AnimationStart, End: prompt.AnimationEnd}
	NarrationSection = Section{Name: "narration", Start: prompt.NarrationStart, End: prompt.NarrationEnd}
)

// Artifacts are the two independently consumable outputs of one generation.
type Artifacts struct {
	AnimationSource string `json:"animation_source"`
	NarrationScript string `json:"narration_script"`
}

// MalformedError describes which section could not be extracted and why.
type MalformedError struct {
	Section string
	Reason  string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s section %s", e.Section, e.Reason)
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedOutput
}

// Parse locates both sections independently. Either both are returned
// non-empty or an error is returned; partial artifacts are never produced.
func Parse(raw string) (Artifacts, error) {
	animation, err := Extract(raw, AnimationSection)
	if err != nil {
		return Artifacts{}, err
	}
	animation = StripFences(animation)
	if animation == "" {
		return Artifacts{}, &MalformedError{Section: AnimationSection.Name, Reason: ReasonEmpty}
	}

	narration, err := Extract(raw, NarrationSection)
	if err != nil {
		return Artifacts{}, err
	}

	return Artifacts{AnimationSource: animation, NarrationScript: narration}, nil
}

// Extract returns the trimmed body of the first well-formed span of s in raw.
// An end marker before the first start marker, a second start marker before
// the matching end, or a missing end marker are all malformed.
func Extract(raw string, s Section) (string, error) {
	start := strings.Index(raw, s.Start)
	if start < 0 {
		if strings.Contains(raw, s.End) {
			return "", &MalformedError{Section: s.Name, Reason: ReasonStrayEnd}
		}
		return "", &MalformedError{Section: s.Name, Reason: ReasonMissing}
	}

	if strings.Contains(raw[:start], s.End) {
		return "", &MalformedError{Section: s.Name, Reason: ReasonStrayEnd}
	}

	rest := raw[start+len(s.Start):]
	end := strings.Index(rest, s.End)
	if end < 0 {
		return "", &MalformedError{Section: s.Name, Reason: ReasonUnterminated}
	}

	body := rest[:end]
	if strings.Contains(body, s.Start) {
		return "", &MalformedError{Section: s.Name, Reason: ReasonNested}
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return "", &MalformedError{Section: s.Name, Reason: ReasonEmpty}
	}
	return body, nil
}

// StripFences removes a leading ``` line (with or without a language tag) and
// a trailing ``` from code, then trims whitespace.
func StripFences(code string) string {
	code = strings.TrimSpace(code)

	if strings.HasPrefix(code, fence) {
		if nl := strings.IndexByte(code, '\n'); nl >= 0 {
			code = code[nl+1:]
		} else {
			// Single line wrapped in fences. A lone word is a language tag.
			code = strings.TrimPrefix(code, fence)
			code = strings.TrimSpace(strings.TrimSuffix(code, fence))
			if isLangTag(code) {
				return ""
			}
			return code
		}
	}

	code = strings.TrimSpace(code)
	if strings.HasSuffix(code, fence) {
		code = strings.TrimSuffix(code, fence)
	}
	return strings.TrimSpace(code)
}

// isLangTag reports whether s looks like a fence info string such as
// "python", "py3" or "c++".
func isLangTag(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '+' || r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}
