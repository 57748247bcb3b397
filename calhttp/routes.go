package calhttp

import (
	"net/http"

	"github.com/go-chi/chi"
)

// MethodPath keys one route table entry.
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps routes to handlers.  Tables stay inert until bound, so
// a binary can mount them under any stem with whatever middleware it
// wants.
type RouteTable map[MethodPath]http.HandlerFunc

// Bind attaches every entry to the router.
func (rt RouteTable) Bind(r chi.Router) {
	for mp, h := range rt {
		r.Method(mp.Method, mp.Path, h)
	}
}

// Endpoints lists the bound method/path pairs, for startup logging.
func (rt RouteTable) Endpoints() []string {
	eps := make([]string, 0, len(rt))
	for mp := range rt {
		eps = append(eps, mp.Method+" "+mp.Path)
	}
	return eps
}
