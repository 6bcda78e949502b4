// Package scanner turns the visible DOM into a list of addressable regions.
//
// Every scan writes a fresh identity attribute onto each interactive element
// and addresses it later only through that attribute. Positional locators
// (nth(i)) silently drift when the page inserts ads or controls after a
// scan; an attribute selector is immune to re-ordering.
package scanner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-pilot/internal/browser"
)

// IdentityAttr is the custom attribute written on every tagged element.
const IdentityAttr = "data-pilot-region"

const (
	minRegions    = 5
	maxLabelLen   = 100
	spaIdleWait   = 5 * time.Second
	spaSettleWait = 3 * time.Second
)

// Region is an addressable interactive element found on the page. It lives
// for at most one scan cycle; the ID is the only way to address the element
// afterwards.
type Region struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Role       string  `json:"role"`
	Href       string  `json:"href,omitempty"`
	Box        BBox    `json:"box"`
	Confidence float64 `json:"confidence"`
}

type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Geometry is a sample of the page scroll state.
type Geometry struct {
	ScrollY        float64 `json:"y"`
	ScrollHeight   float64 `json:"h"`
	ViewportHeight float64 `json:"v"`
}

// candidate is the raw per-element record the in-page script returns. Label
// and role derivation happen on the Go side.
type candidate struct {
	ID          string  `json:"id"`
	Tag         string  `json:"tag"`
	AriaRole    string  `json:"ariaRole"`
	AriaLabel   string  `json:"ariaLabel"`
	Name        string  `json:"name"`
	Placeholder string  `json:"placeholder"`
	Text        string  `json:"text"`
	InputType   string  `json:"inputType"`
	HasImg      bool    `json:"hasImg"`
	ImgAlt      string  `json:"imgAlt"`
	Href        string  `json:"href"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	W           float64 `json:"w"`
	H           float64 `json:"h"`
}

// Scanner scans one page and executes region-addressed actions on it.
type Scanner struct {
	page    playwright.Page
	logger  zerolog.Logger
	regions map[string]Region
}

func New(logger zerolog.Logger) *Scanner {
	return &Scanner{logger: logger, regions: map[string]Region{}}
}

// Bind points the scanner at a (possibly new) page. Existing regions are
// dropped; they belonged to the old tab.
func (s *Scanner) Bind(page playwright.Page) {
	s.page = page
	s.regions = map[string]Region{}
}

func (s *Scanner) URL() string {
	if s.page == nil {
		return ""
	}
	return s.page.URL()
}

func (s *Scanner) Title(ctx context.Context) string {
	if s.page == nil || ctx.Err() != nil {
		return ""
	}
	title, err := s.page.Title()
	if err != nil {
		return ""
	}
	return title
}

// Regions returns the regions from the most recent scan.
func (s *Scanner) Regions() []Region {
	out := make([]Region, 0, len(s.regions))
	for _, r := range s.regions {
		out = append(out, r)
	}
	return out
}

func (s *Scanner) Region(id string) (Region, bool) {
	r, ok := s.regions[id]
	return r, ok
}

// Scan rebuilds the region list from the live document. quick disables the
// SPA retry; screenshot-only rescans after ACT must not compound delays.
func (s *Scanner) Scan(ctx context.Context, quick bool) ([]Region, error) {
	if s.page == nil {
		return nil, fmt.Errorf("scanner not bound to a page")
	}
	regions, err := s.scanOnce(ctx)
	if err != nil {
		return nil, err
	}

	if len(regions) == 0 && !quick && browser.IsRealPage(s.page.URL()) {
		// SPA hydration race: the document exists but the framework has not
		// rendered yet. Wait for quiet, then rescan exactly once.
		_ = s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   playwright.LoadStateNetworkidle,
			Timeout: playwright.Float(float64(spaIdleWait.Milliseconds())),
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(spaSettleWait):
		}
		regions, err = s.scanOnce(ctx)
		if err != nil {
			return nil, err
		}
	}

	s.regions = make(map[string]Region, len(regions))
	for _, r := range regions {
		s.regions[r.ID] = r
	}
	return regions, nil
}

func (s *Scanner) scanOnce(ctx context.Context) ([]Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := freshIDs(256)
	cands, err := s.collect(ctx, collectScript, ids)
	if err != nil {
		return nil, fmt.Errorf("collect interactive: %w", err)
	}
	seenHrefs := map[string]bool{}
	regions := buildRegions(cands, 1.0, seenHrefs)

	if len(regions) < minRegions {
		extra, err := s.collect(ctx, pointerSweepScript, freshIDs(64))
		if err != nil {
			s.logger.Debug().Err(err).Msg("cursor:pointer sweep failed")
		} else {
			regions = append(regions, buildRegions(extra, 0.7, seenHrefs)...)
		}
	}
	return regions, nil
}

func (s *Scanner) collect(ctx context.Context, script string, ids []string) ([]candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, err := s.page.Evaluate(script, map[string]any{"attr": IdentityAttr, "ids": ids})
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	var cands []candidate
	if err := json.Unmarshal(raw, &cands); err != nil {
		return nil, err
	}
	return cands, nil
}

// buildRegions derives labels and roles and applies href deduplication.
// Elements whose label comes out empty stay tagged in the DOM; the next
// scan's residual-attribute sweep clears them.
func buildRegions(cands []candidate, confidence float64, seenHrefs map[string]bool) []Region {
	out := make([]Region, 0, len(cands))
	for _, c := range cands {
		label := deriveLabel(c)
		if label == "" {
			continue
		}
		if c.Href != "" {
			if seenHrefs[c.Href] {
				continue
			}
			seenHrefs[c.Href] = true
		}
		r := Region{
			ID:         c.ID,
			Label:      label,
			Role:       deriveRole(c),
			Box:        BBox{X: c.X, Y: c.Y, Width: c.W, Height: c.H},
			Confidence: confidence,
		}
		if r.Role == "link" {
			r.Href = c.Href
		}
		out = append(out, r)
	}
	return out
}

func deriveLabel(c candidate) string {
	for _, s := range []string{c.AriaLabel, c.Name, c.Placeholder, c.Text} {
		if t := collapseSpace(s); t != "" {
			return truncate(t, maxLabelLen)
		}
	}
	if c.HasImg {
		if alt := collapseSpace(c.ImgAlt); alt != "" {
			return truncate("Image: "+alt, maxLabelLen)
		}
		return "Unlabeled Image"
	}
	return ""
}

func deriveRole(c candidate) string {
	switch strings.ToLower(c.AriaRole) {
	case "button":
		return "button"
	case "link":
		return "link"
	case "checkbox":
		return "checkbox"
	case "radio":
		return "radio"
	case "textbox", "searchbox", "combobox":
		return "input"
	}
	switch c.Tag {
	case "a":
		return "link"
	case "button":
		return "button"
	case "textarea":
		return "textarea"
	case "select":
		return "select"
	case "input":
		switch strings.ToLower(c.InputType) {
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "button", "submit":
			return "button"
		default:
			return "input"
		}
	default:
		return "other"
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// freshIDs pre-generates identity strings on the Go side so the in-page
// script never depends on the page's crypto object.
func freshIDs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = FreshID()
	}
	return out
}

// FreshID returns a new region identity: "element-" + 8 hex chars.
func FreshID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return "element-" + hex.EncodeToString(b[:])
}
