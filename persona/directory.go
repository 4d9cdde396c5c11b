// Package persona resolves selector queries ("young female white-collar")
// into synthetic persona records. It prefers an external persona service and
// falls back to a built-in roster when the service is unreachable, so a
// cohort can always be recruited.
package persona

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/surveyflow/config"
	"github.com/BaSui01/surveyflow/types"
)

// Directory looks up personas by selector. Results are deep copies; callers
// may hold them for the lifetime of a cohort without aliasing the roster.
type Directory struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewDirectory creates a directory backed by the persona service at
// cfg.BaseURL. An empty base URL means roster-only operation.
func NewDirectory(cfg config.PersonaConfig, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Directory{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Query returns count personas matching the selector. Service failures fall
// back to the built-in roster; the fallback is deterministic for a given
// (selector, count).
func (d *Directory) Query(ctx context.Context, selector string, count int) ([]types.Persona, error) {
	if count <= 0 {
		return nil, nil
	}

	if d.baseURL != "" {
		personas, err := d.queryService(ctx, selector, count)
		if err == nil && len(personas) > 0 {
			return personas, nil
		}
		if err != nil {
			d.logger.Warn("persona service query failed, using fallback roster",
				zap.String("selector", selector), zap.Error(err))
		}
	}

	return rosterQuery(selector, count), nil
}

// Get fetches a single persona by id, falling back to the roster entry with
// the same id modulo roster size.
func (d *Directory) Get(ctx context.Context, id int) (types.Persona, error) {
	if d.baseURL != "" {
		var raw map[string]any
		err := d.getJSON(ctx, fmt.Sprintf("%s/persona/%d", d.baseURL, id), &raw)
		if err == nil {
			return Enrich(raw), nil
		}
		d.logger.Warn("persona service get failed, using fallback roster",
			zap.Int("id", id), zap.Error(err))
	}
	roster := Roster()
	p := roster[((id%len(roster))+len(roster))%len(roster)].Clone()
	p.ID = id
	return p, nil
}

func (d *Directory) queryService(ctx context.Context, selector string, count int) ([]types.Persona, error) {
	body, err := json.Marshal(map[string]any{"selector": selector, "count": count})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("persona service status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var records []map[string]any
	if err := json.Unmarshal(raw, &records); err != nil {
		// Some deployments wrap the list in {"personas": [...]}.
		var wrapped struct {
			Personas []map[string]any `json:"personas"`
		}
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil {
			return nil, fmt.Errorf("decode persona records: %w", err)
		}
		records = wrapped.Personas
	}

	personas := make([]types.Persona, 0, len(records))
	for _, rec := range records {
		personas = append(personas, Enrich(rec))
	}
	if len(personas) > count {
		personas = personas[:count]
	}
	return personas, nil
}

func (d *Directory) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("persona service status %d", resp.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}

// QueryMatching recruits personas fitting a target audience. Rosters are
// filtered by the audience predicate; when too few match, the remainder is
// filled with diverse picks so the cohort never comes up short.
func (d *Directory) QueryMatching(ctx context.Context, audience types.TargetAudience, count int) ([]types.Persona, error) {
	if count <= 0 {
		return nil, nil
	}

	candidates, err := d.Query(ctx, audienceSelector(audience), count*2)
	if err != nil {
		return nil, err
	}

	matched := make([]types.Persona, 0, count)
	used := make(map[int]bool)
	for _, p := range candidates {
		if audience.Matches(p) && !used[p.ID] {
			matched = append(matched, p)
			used[p.ID] = true
			if len(matched) == count {
				return matched, nil
			}
		}
	}
	for _, p := range rosterDiverse(len(Roster())) {
		if len(matched) == count {
			break
		}
		if !used[p.ID] {
			matched = append(matched, p)
			used[p.ID] = true
		}
	}
	return matched, nil
}

// audienceSelector renders a TargetAudience as a selector phrase.
func audienceSelector(a types.TargetAudience) string {
	var parts []string
	switch {
	case a.AgeMax > 0 && a.AgeMax <= 30:
		parts = append(parts, "young")
	case a.AgeMin >= 50:
		parts = append(parts, "senior")
	case a.AgeMin >= 30:
		parts = append(parts, "middle-aged")
	}
	if a.GenderSkew == "male" || a.GenderSkew == "female" {
		parts = append(parts, a.GenderSkew)
	}
	if len(a.Occupations) > 0 {
		parts = append(parts, a.Occupations[0])
	}
	if a.IncomeBand != "" {
		parts = append(parts, a.IncomeBand+"-income")
	}
	if len(parts) == 0 {
		return "diverse"
	}
	return strings.Join(parts, " ")
}
