package browser

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/BaSui01/surveyflow/types"
)

// ProxyAllocator maps persona ids to proxy credentials deterministically: the
// same persona always receives the same template, so repeat runs reuse the
// same exit IP. It holds no state and performs no I/O.
type ProxyAllocator struct {
	templates []types.ProxyBinding
}

// ParseProxyTemplate parses a host:port:user:password credential template.
// The user field is opaque; both upstream credential formats
// (business_id:auth_key and auth_key alone) pass through unsplit.
func ParseProxyTemplate(s string) (types.ProxyBinding, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) < 2 {
		return types.ProxyBinding{}, fmt.Errorf("proxy template %q: want host:port[:user:password]", s)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return types.ProxyBinding{}, fmt.Errorf("proxy template %q: bad port: %w", s, err)
	}
	b := types.ProxyBinding{Host: parts[0], Port: port}
	if len(parts) > 2 {
		b.User = parts[2]
	}
	if len(parts) > 3 {
		b.Password = parts[3]
	}
	return b, nil
}

// NewProxyAllocator builds an allocator from credential template strings.
// At least one template is required.
func NewProxyAllocator(templates []string) (*ProxyAllocator, error) {
	if len(templates) == 0 {
		return nil, fmt.Errorf("proxy allocator needs at least one credential template")
	}
	parsed := make([]types.ProxyBinding, 0, len(templates))
	for _, t := range templates {
		b, err := ParseProxyTemplate(t)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, b)
	}
	return &ProxyAllocator{templates: parsed}, nil
}

// BindingFor returns the proxy binding for a persona id. Selection is
// personaID mod template count for non-negative ids; negative ids hash first
// so the index stays in range.
func (a *ProxyAllocator) BindingFor(personaID int) types.ProxyBinding {
	idx := personaID
	if idx < 0 {
		h := fnv.New32a()
		fmt.Fprintf(h, "%d", personaID)
		idx = int(h.Sum32())
	}
	return a.templates[idx%len(a.templates)]
}

// Size returns the number of credential templates.
func (a *ProxyAllocator) Size() int {
	return len(a.templates)
}
