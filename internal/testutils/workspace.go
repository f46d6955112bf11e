// Package testutils provides shared test infrastructure: an in-memory fake
// of the workspace data API and, for integration tests, a MinIO bucket.
package testutils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// entityTable is one entity type held by the fake.
type entityTable struct {
	idName     string
	attributes []string // First-seen order
	entities   map[string]map[string]string
}

// FakeWorkspace is an httptest server speaking the subset of the workspace
// data API used by terrabulk: describe entity types, paged entity queries
// and flexible TSV import. Entity attributes are stored as strings.
type FakeWorkspace struct {
	Server    *httptest.Server
	Project   string
	Workspace string

	mu          sync.Mutex
	tables      map[string]*entityTable
	failures    []int // Statuses returned by the next requests, in order
	importHook  func(table string) int
	imports     []string
	queries     []url.Values
	requests    int
	authHeaders []string
}

// NewFakeWorkspace starts a fake workspace API. The server is closed when
// the test ends.
func NewFakeWorkspace(t *testing.T, project, workspace string) *FakeWorkspace {
	t.Helper()

	f := &FakeWorkspace{
		Project:   project,
		Workspace: workspace,
		tables:    make(map[string]*entityTable),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the API base URL to configure clients with.
func (f *FakeWorkspace) URL() string {
	return f.Server.URL + "/api/"
}

// Put inserts or updates an entity.
func (f *FakeWorkspace) Put(entityType, name string, attrs map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	// Sorted so attribute order does not depend on map iteration.
	sort.Strings(keys)
	f.put(entityType, entityType+"_id", name, keys, attrs)
}

// Seed inserts n entities named <prefix><index> with one value per
// attribute.
func (f *FakeWorkspace) Seed(entityType string, n int, attrs ...string) {
	for i := 0; i < n; i++ {
		values := make(map[string]string, len(attrs))
		for _, a := range attrs {
			values[a] = fmt.Sprintf("%s-%d", a, i)
		}
		f.Put(entityType, fmt.Sprintf("%s%06d", entityType, i), values)
	}
}

func (f *FakeWorkspace) put(entityType, idName, name string, keys []string, attrs map[string]string) {
	tbl, ok := f.tables[entityType]
	if !ok {
		tbl = &entityTable{idName: idName, entities: make(map[string]map[string]string)}
		f.tables[entityType] = tbl
	}
	e, ok := tbl.entities[name]
	if !ok {
		e = make(map[string]string)
		tbl.entities[name] = e
	}
	for _, k := range keys {
		if !slices.Contains(tbl.attributes, k) {
			tbl.attributes = append(tbl.attributes, k)
		}
		e[k] = attrs[k]
	}
}

// Entities returns a copy of the stored entities of a type.
func (f *FakeWorkspace) Entities(entityType string) map[string]map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]map[string]string)
	if tbl, ok := f.tables[entityType]; ok {
		for name, attrs := range tbl.entities {
			cp := make(map[string]string, len(attrs))
			for k, v := range attrs {
				cp[k] = v
			}
			out[name] = cp
		}
	}
	return out
}

// FailNext makes the next len(statuses) requests fail with the given
// statuses.
func (f *FakeWorkspace) FailNext(statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, statuses...)
}

// OnImport installs a hook consulted for every import request. A non-zero
// return is used as the response status and the table is not stored.
func (f *FakeWorkspace) OnImport(hook func(table string) int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.importHook = hook
}

// Imports returns the bodies of accepted and rejected import requests.
func (f *FakeWorkspace) Imports() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.imports)
}

// Queries returns the query parameters of entity query requests.
func (f *FakeWorkspace) Queries() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.queries)
}

// Requests returns the number of requests received.
func (f *FakeWorkspace) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

// AuthHeaders returns the Authorization headers received.
func (f *FakeWorkspace) AuthHeaders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.authHeaders)
}

func (f *FakeWorkspace) serveHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests++
	f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
	if len(f.failures) > 0 {
		status := f.failures[0]
		f.failures = f.failures[1:]
		f.mu.Unlock()
		http.Error(w, `{"message":"injected failure"}`, status)
		return
	}
	f.mu.Unlock()

	prefix := "/api/workspaces/" + url.PathEscape(f.Project) + "/" + url.PathEscape(f.Workspace) + "/"
	path := r.URL.EscapedPath()
	if !strings.HasPrefix(path, prefix) {
		http.NotFound(w, r)
		return
	}
	rest := strings.TrimPrefix(path, prefix)

	switch {
	case rest == "entities" && r.Method == http.MethodGet:
		f.describe(w)
	case strings.HasPrefix(rest, "entityQuery/") && r.Method == http.MethodGet:
		entityType, err := url.PathUnescape(strings.TrimPrefix(rest, "entityQuery/"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.query(w, entityType, r.URL.Query())
	case rest == "flexibleImportEntities" && r.Method == http.MethodPost:
		f.importEntities(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *FakeWorkspace) describe(w http.ResponseWriter) {
	f.mu.Lock()
	out := make(map[string]any, len(f.tables))
	for name, tbl := range f.tables {
		out[name] = map[string]any{
			"count":          len(tbl.entities),
			"idName":         tbl.idName,
			"attributeNames": append([]string{}, tbl.attributes...),
		}
	}
	f.mu.Unlock()
	writeJSON(w, out)
}

func (f *FakeWorkspace) query(w http.ResponseWriter, entityType string, q url.Values) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	tbl, ok := f.tables[entityType]
	if !ok {
		f.mu.Unlock()
		http.Error(w, `{"message":"entity type not found"}`, http.StatusNotFound)
		return
	}

	page, err1 := strconv.Atoi(q.Get("page"))
	size, err2 := strconv.Atoi(q.Get("pageSize"))
	if err1 != nil || err2 != nil || page < 1 || size < 1 {
		f.mu.Unlock()
		http.Error(w, `{"message":"bad paging"}`, http.StatusBadRequest)
		return
	}

	filter := q.Get("filterTerms")
	names := make([]string, 0, len(tbl.entities))
	for name, attrs := range tbl.entities {
		if filter == "" || matches(name, attrs, filter) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if q.Get("sortDirection") == "desc" {
		slices.Reverse(names)
	}

	start := min((page-1)*size, len(names))
	end := min(start+size, len(names))
	results := make([]map[string]any, 0, end-start)
	for _, name := range names[start:end] {
		attrs := make(map[string]any, len(tbl.entities[name]))
		for k, v := range tbl.entities[name] {
			attrs[k] = v
		}
		results = append(results, map[string]any{
			"name":       name,
			"entityType": entityType,
			"attributes": attrs,
		})
	}
	total := len(names)
	unfiltered := len(tbl.entities)
	f.mu.Unlock()

	writeJSON(w, map[string]any{
		"parameters": map[string]any{"page": page, "pageSize": size},
		"resultMetadata": map[string]any{
			"filteredCount":     total,
			"filteredPageCount": (total + size - 1) / size,
			"unfilteredCount":   unfiltered,
		},
		"results": results,
	})
}

func matches(name string, attrs map[string]string, term string) bool {
	if strings.Contains(name, term) {
		return true
	}
	for _, v := range attrs {
		if strings.Contains(v, term) {
			return true
		}
	}
	return false
}

func (f *FakeWorkspace) importEntities(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	table := r.PostForm.Get("entities")

	f.mu.Lock()
	defer f.mu.Unlock()
	f.imports = append(f.imports, table)

	if f.importHook != nil {
		if status := f.importHook(table); status != 0 {
			http.Error(w, `{"message":"import rejected"}`, status)
			return
		}
	}

	lines := strings.Split(strings.TrimRight(table, "\n"), "\n")
	header := strings.Split(lines[0], "\t")
	idCol := strings.TrimPrefix(header[0], "entity:")
	if idCol == header[0] || !strings.HasSuffix(idCol, "_id") {
		http.Error(w, `{"message":"first column must be entity:<type>_id"}`, http.StatusBadRequest)
		return
	}
	entityType := strings.TrimSuffix(idCol, "_id")

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		values := strings.Split(line, "\t")
		attrs := make(map[string]string, len(header)-1)
		for i, col := range header[1:] {
			if i+1 < len(values) {
				attrs[col] = values[i+1]
			} else {
				attrs[col] = ""
			}
		}
		f.put(entityType, idCol, values[0], header[1:], attrs)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// SampleTable renders an entity table with n rows named <type><index> and
// one column per attribute.
func SampleTable(entityType string, n int, attrs ...string) string {
	var b strings.Builder
	b.WriteString("entity:" + entityType + "_id")
	for _, a := range attrs {
		b.WriteString("\t" + a)
	}
	b.WriteByte('\n')
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%s%06d", entityType, i)
		for _, a := range attrs {
			fmt.Fprintf(&b, "\t%s-%d", a, i)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
