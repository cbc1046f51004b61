// Package antibot recognizes pages that block automated access and drives
// the challenge resolution protocol.
package antibot

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Suggestion is the next step the classifier recommends.
type Suggestion string

const (
	Continue     Suggestion = "continue"
	SolveCaptcha Suggestion = "solve_captcha"
	RotateProxy  Suggestion = "rotate_proxy"
	Retry        Suggestion = "retry"
)

func (s Suggestion) valid() bool {
	switch s {
	case Continue, SolveCaptcha, RotateProxy, Retry:
		return true
	}
	return false
}

// DetectionNone is the detection type of a page with no blocking evidence.
const DetectionNone = "none"

// Verdict is the classifier's judgment about one page.
type Verdict struct {
	IsAntiBot       bool       `json:"is_anti_bot"`
	DetectionType   string     `json:"detection_type"`
	Confidence      float64    `json:"confidence"`
	Description     string     `json:"description"`
	CanSolve        bool       `json:"can_solve"`
	SuggestedAction Suggestion `json:"suggested_action"`
}

// IsCaptcha reports whether the verdict names a CAPTCHA.
func (v Verdict) IsCaptcha() bool {
	return v.IsAntiBot && strings.Contains(strings.ToLower(v.DetectionType), "captcha")
}

// Lexicon is the ordered list of blocking indicators used when the model's
// answer cannot be parsed.
var Lexicon = []string{
	"cloudflare",
	"captcha",
	"verification",
	"access denied",
	"blocked",
	"rate limit",
	"checking your browser",
	"security check",
	"automated traffic",
	"unusual activity",
}

// Scan classifies raw model text by keyword. The first matching indicator
// becomes the detection type.
func Scan(raw string) Verdict {
	lower := strings.ToLower(raw)

	var found []string
	for _, kw := range Lexicon {
		if strings.Contains(lower, kw) {
			found = append(found, kw)
		}
	}
	if len(found) == 0 {
		return Verdict{
			DetectionType:   DetectionNone,
			Confidence:      0.5,
			Description:     "No clear anti-bot indicators found",
			SuggestedAction: Continue,
		}
	}

	captcha := false
	for _, kw := range found {
		if kw == "captcha" {
			captcha = true
		}
	}
	v := Verdict{
		IsAntiBot:       true,
		DetectionType:   found[0],
		Confidence:      0.7,
		Description:     "Detected keywords: " + strings.Join(found, ", "),
		CanSolve:        captcha,
		SuggestedAction: RotateProxy,
	}
	if captcha {
		v.SuggestedAction = SolveCaptcha
	}
	return v
}

// failed is the safe default when the model could not be consulted at all.
func failed(err error) Verdict {
	return Verdict{
		DetectionType:   DetectionNone,
		Confidence:      0.0,
		Description:     fmt.Sprintf("Analysis failed: %v", err),
		SuggestedAction: Retry,
	}
}

func verdictFromJSON(obj gjson.Result) Verdict {
	v := Verdict{
		IsAntiBot:       obj.Get("is_anti_bot").Bool(),
		DetectionType:   obj.Get("detection_type").String(),
		Confidence:      clamp(obj.Get("confidence").Float()),
		Description:     obj.Get("description").String(),
		CanSolve:        obj.Get("can_solve").Bool(),
		SuggestedAction: Suggestion(strings.ToLower(strings.TrimSpace(obj.Get("suggested_action").String()))),
	}
	if v.DetectionType == "" {
		v.DetectionType = DetectionNone
	}
	if !v.SuggestedAction.valid() {
		switch {
		case !v.IsAntiBot:
			v.SuggestedAction = Continue
		case v.CanSolve:
			v.SuggestedAction = SolveCaptcha
		default:
			v.SuggestedAction = RotateProxy
		}
	}
	return v
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// SolutionAttempt is the model's answer to a CAPTCHA.
type SolutionAttempt struct {
	CanSolve     bool    `json:"can_solve"`
	SolutionType string  `json:"solution_type"`
	Solution     string  `json:"solution"`
	Confidence   float64 `json:"confidence"`
	Instructions string  `json:"instructions"`
}

// Usable reports whether the attempt carries an answer worth typing in.
func (s SolutionAttempt) Usable() bool {
	return s.CanSolve && strings.TrimSpace(s.Solution) != ""
}

var solutionTypes = map[string]bool{"text": true, "selection": true, "math": true, "unknown": true}

func solutionFromJSON(obj gjson.Result) SolutionAttempt {
	s := SolutionAttempt{
		CanSolve:     obj.Get("can_solve").Bool(),
		SolutionType: strings.ToLower(obj.Get("solution_type").String()),
		Confidence:   clamp(obj.Get("confidence").Float()),
		Instructions: obj.Get("instructions").String(),
	}
	// selections may come back as a list
	sol := obj.Get("solution")
	if sol.IsArray() {
		var items []string
		for _, item := range sol.Array() {
			items = append(items, item.String())
		}
		s.Solution = strings.Join(items, ", ")
	} else {
		s.Solution = sol.String()
	}
	if !solutionTypes[s.SolutionType] {
		s.SolutionType = "unknown"
	}
	return s
}

func unsolved(instructions string) SolutionAttempt {
	return SolutionAttempt{SolutionType: "unknown", Instructions: instructions}
}
