package browser

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"sort"
	"strings"
	"sync"
	"time"
)

type simPage struct {
	url    string
	title  string
	fields map[string]string
	clicks []string
}

// Simulated is an in-memory Backend. It records navigation and input and
// renders deterministic placeholder screenshots.
type Simulated struct {
	mu    sync.Mutex
	pages map[string]*simPage
}

// NewSimulated creates an empty simulated backend.
func NewSimulated() *Simulated {
	return &Simulated{pages: make(map[string]*simPage)}
}

func (s *Simulated) page(key string) (*simPage, error) {
	p, ok := s.pages[key]
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoPage, key)
	}
	return p, nil
}

func titleFor(rawURL string) string {
	u, err := ValidateURL(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return u.Host
	}
	return u.Host + " - " + path
}

// Navigate opens or reuses the page for key.
func (s *Simulated) Navigate(ctx context.Context, key, rawURL string) (PageInfo, error) {
	if err := ctx.Err(); err != nil {
		return PageInfo{}, err
	}
	if _, err := ValidateURL(rawURL); err != nil {
		return PageInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[key]
	if !ok {
		p = &simPage{}
		s.pages[key] = p
	}
	p.url = rawURL
	p.title = titleFor(rawURL)
	p.fields = make(map[string]string)
	p.clicks = nil
	return PageInfo{URL: p.url, Title: p.title}, nil
}

// Click records a click on selector.
func (s *Simulated) Click(ctx context.Context, key, selector string) (PageInfo, error) {
	if err := ctx.Err(); err != nil {
		return PageInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.page(key)
	if err != nil {
		return PageInfo{}, err
	}
	p.clicks = append(p.clicks, selector)
	return PageInfo{URL: p.url, Title: p.title}, nil
}

// Fill sets the value of selector.
func (s *Simulated) Fill(ctx context.Context, key, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.page(key)
	if err != nil {
		return err
	}
	p.fields[selector] = value
	return nil
}

// Screenshot renders a PNG whose color is derived from the page URL.
func (s *Simulated) Screenshot(ctx context.Context, key string, fullPage bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	p, err := s.page(key)
	var pageURL string
	if err == nil {
		pageURL = p.url
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	width, height := 160, 100
	if fullPage {
		height = 300
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(pageURL))
	sum := h.Sum32()
	fill := color.RGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 255}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

// ExtractText returns a textual rendering of the page state.
func (s *Simulated) ExtractText(ctx context.Context, key, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.page(key)
	if err != nil {
		return "", err
	}
	if selector != "" {
		if v, ok := p.fields[selector]; ok {
			return v, nil
		}
		return fmt.Sprintf("Content of %s on %s", selector, p.title), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n", p.title, p.url)
	names := make([]string, 0, len(p.fields))
	for name := range p.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "%s = %s\n", name, p.fields[name])
	}
	return b.String(), nil
}

// WaitFor succeeds once the page exists, honoring ctx cancellation.
func (s *Simulated) WaitFor(ctx context.Context, key, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	_, err := s.page(key)
	s.mu.Unlock()
	return err
}

// Close forgets the page for key.
func (s *Simulated) Close(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, key)
	return nil
}

// Shutdown forgets every page.
func (s *Simulated) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = make(map[string]*simPage)
	return nil
}

// Pages returns the number of open pages.
func (s *Simulated) Pages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}
