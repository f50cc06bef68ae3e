// Package generator produces raw mission drafts from history and preferences.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"missionline/internal/domain"
)

// Generator returns one mission draft as a JSON object.
// Implementations must honour ctx cancellation.
type Generator interface {
	Generate(ctx context.Context, in domain.GenerationInput) (json.RawMessage, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, in domain.GenerationInput) (json.RawMessage, error)

func (f Func) Generate(ctx context.Context, in domain.GenerationInput) (json.RawMessage, error) {
	return f(ctx, in)
}

var ErrNoJSON = errors.New("no JSON object in generator reply")

var (
	fencedJSON = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n\\s*```")
	fenced     = regexp.MustCompile("(?s)```(.*?)```")
	embedded   = regexp.MustCompile(`(?s)\{.*\}`)
)

// ExtractJSON pulls a JSON object out of a chat reply: the whole reply,
// a ```json fence, any fence, then the outermost braces.
func ExtractJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	candidates := []string{content}
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := fenced.FindStringSubmatch(content); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := embedded.FindString(content); m != "" {
		candidates = append(candidates, m)
	}
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if !strings.HasPrefix(c, "{") || !json.Valid([]byte(c)) {
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(c)); err != nil {
			continue
		}
		return json.RawMessage(buf.Bytes()), nil
	}
	return nil, ErrNoJSON
}
