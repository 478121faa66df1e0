package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// Fake token accepted by the fake server.
const (
	FakeTokenID     = "test-id"
	FakeTokenSecret = "test-secret"
)

// Entity is one object stored by FakeBookStack.
type Entity struct {
	ID         int
	Kind       string // shelves, books, chapters, pages, attachments
	Name       string
	BookID     int
	ChapterID  int
	UploadedTo int
	Markdown   string
	Books      []int
	FileName   string
	Content    []byte
}

// Fault makes matching requests fail with Status. Name, when set, matches
// the "name" field of a JSON or multipart create body. Times 0 fails forever.
type Fault struct {
	Method string
	Path   string
	Name   string
	Status int
	Times  int
	// RetryAfter, in seconds, is sent with the failure when non-zero.
	RetryAfter int
}

// FakeBookStack is an in-memory BookStack API served over httptest.
type FakeBookStack struct {
	URL string
	// Latency delays every request.
	Latency time.Duration

	mu       sync.Mutex
	nextID   int
	entities map[string]map[int]*Entity
	faults   []*Fault
	calls    []string
}

// NewFakeBookStack starts a fake server that is closed with the test.
func NewFakeBookStack(t *testing.T) *FakeBookStack {
	t.Helper()
	f := &FakeBookStack{entities: make(map[string]map[int]*Entity)}
	for _, k := range []string{"shelves", "books", "chapters", "pages", "attachments"} {
		f.entities[k] = make(map[int]*Entity)
	}
	srv := httptest.NewServer(f.router())
	t.Cleanup(srv.Close)
	f.URL = srv.URL
	return f
}

func (f *FakeBookStack) router() http.Handler {
	r := chi.NewRouter()
	r.Use(f.middleware)
	r.Route("/api", func(r chi.Router) {
		for _, kind := range []string{"shelves", "books", "chapters", "pages", "attachments"} {
			r.Get("/"+kind, f.list(kind))
		}
		r.Get("/shelves/{id}", f.get("shelves"))
		r.Get("/pages/{id}", f.get("pages"))
		r.Post("/shelves", f.create("shelves"))
		r.Post("/books", f.create("books"))
		r.Post("/chapters", f.create("chapters"))
		r.Post("/pages", f.create("pages"))
		r.Put("/shelves/{id}", f.update("shelves"))
		r.Put("/pages/{id}", f.update("pages"))
		r.Post("/attachments", f.upload)
	})
	return r
}

func (f *FakeBookStack) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.Latency > 0 {
			select {
			case <-time.After(f.Latency):
			case <-r.Context().Done():
				return
			}
		}
		if r.Header.Get("Authorization") != "Token "+FakeTokenID+":"+FakeTokenSecret {
			writeErr(w, http.StatusUnauthorized, "The owner of the used API token does not have permission")
			return
		}
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// Fail registers a fault.
func (f *FakeBookStack) Fail(fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fc := fault
	f.faults = append(f.faults, &fc)
}

// fault consumes and returns a matching fault, if any.
func (f *FakeBookStack) fault(r *http.Request, name string) *Fault {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, ft := range f.faults {
		if ft.Method != "" && ft.Method != r.Method {
			continue
		}
		if ft.Path != "" && ft.Path != r.URL.Path {
			continue
		}
		if ft.Name != "" && ft.Name != name {
			continue
		}
		hit := *ft
		if ft.Times > 0 {
			ft.Times--
			if ft.Times == 0 {
				f.faults = append(f.faults[:i], f.faults[i+1:]...)
			}
		}
		return &hit
	}
	return nil
}

func (f *FakeBookStack) failed(w http.ResponseWriter, r *http.Request, name string) bool {
	ft := f.fault(r, name)
	if ft == nil {
		return false
	}
	if ft.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(ft.RetryAfter))
	}
	writeErr(w, ft.Status, "injected failure")
	return true
}

// Calls counts recorded requests whose "METHOD /path" starts with prefix.
func (f *FakeBookStack) Calls(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// ResetCalls clears the request log.
func (f *FakeBookStack) ResetCalls() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// Mutations counts recorded POST and PUT requests.
func (f *FakeBookStack) Mutations() int {
	return f.Calls("POST ") + f.Calls("PUT ")
}

// All returns a copy of every entity of a kind ordered by ID.
func (f *FakeBookStack) All(kind string) []Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Entity, 0, len(f.entities[kind]))
	for _, e := range f.entities[kind] {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Find returns the first entity of a kind with the given name.
func (f *FakeBookStack) Find(kind, name string) (Entity, bool) {
	for _, e := range f.All(kind) {
		if e.Name == name {
			return e, true
		}
	}
	return Entity{}, false
}

// Add seeds an entity and returns its ID.
func (f *FakeBookStack) Add(e Entity) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.add(e)
}

func (f *FakeBookStack) add(e Entity) int {
	f.nextID++
	e.ID = f.nextID
	if e.Kind == "pages" && e.ChapterID != 0 {
		if ch, ok := f.entities["chapters"][e.ChapterID]; ok {
			e.BookID = ch.BookID
		}
	}
	f.entities[e.Kind][e.ID] = &e
	return e.ID
}

// SetMarkdown overwrites a page body as if edited in the wiki.
func (f *FakeBookStack) SetMarkdown(id int, md string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.entities["pages"][id]; ok {
		p.Markdown = md
	}
}

func (f *FakeBookStack) list(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if f.failed(w, r, "") {
			return
		}
		count, _ := strconv.Atoi(r.URL.Query().Get("count"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if count <= 0 {
			count = 100
		}
		all := f.All(kind)
		end := min(offset+count, len(all))
		data := []map[string]any{}
		if offset < len(all) {
			for _, e := range all[offset:end] {
				data = append(data, summary(e))
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": data, "total": len(all)})
	}
}

func (f *FakeBookStack) get(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if f.failed(w, r, "") {
			return
		}
		e, ok := f.byID(kind, chi.URLParam(r, "id"))
		if !ok {
			writeErr(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, http.StatusOK, f.detail(e))
	}
}

type createBody struct {
	Name      string `json:"name"`
	BookID    int    `json:"book_id"`
	ChapterID int    `json:"chapter_id"`
	Markdown  string `json:"markdown"`
	Books     []int  `json:"books"`
}

func (f *FakeBookStack) create(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in createBody
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		if f.failed(w, r, in.Name) {
			return
		}
		if in.Name == "" {
			writeErr(w, http.StatusUnprocessableEntity, "The name field is required.")
			return
		}
		f.mu.Lock()
		switch {
		case kind == "chapters" && f.entities["books"][in.BookID] == nil,
			kind == "pages" && in.ChapterID == 0 && f.entities["books"][in.BookID] == nil,
			kind == "pages" && in.ChapterID != 0 && f.entities["chapters"][in.ChapterID] == nil:
			f.mu.Unlock()
			writeErr(w, http.StatusNotFound, "parent not found")
			return
		}
		id := f.add(Entity{Kind: kind, Name: in.Name, BookID: in.BookID, ChapterID: in.ChapterID, Markdown: in.Markdown})
		e := *f.entities[kind][id]
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.detail(e))
	}
}

func (f *FakeBookStack) update(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in createBody
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		if f.failed(w, r, in.Name) {
			return
		}
		id, _ := strconv.Atoi(chi.URLParam(r, "id"))
		f.mu.Lock()
		e, ok := f.entities[kind][id]
		if !ok {
			f.mu.Unlock()
			writeErr(w, http.StatusNotFound, "not found")
			return
		}
		if in.Name != "" {
			e.Name = in.Name
		}
		if kind == "pages" {
			e.Markdown = in.Markdown
		}
		if in.Books != nil {
			e.Books = append([]int(nil), in.Books...)
		}
		out := *e
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.detail(out))
	}
}

func (f *FakeBookStack) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	name := r.FormValue("name")
	if f.failed(w, r, name) {
		return
	}
	pageID, _ := strconv.Atoi(r.FormValue("uploaded_to"))
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusUnprocessableEntity, "The file field is required.")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	f.mu.Lock()
	if f.entities["pages"][pageID] == nil {
		f.mu.Unlock()
		writeErr(w, http.StatusNotFound, "page not found")
		return
	}
	id := f.add(Entity{Kind: "attachments", Name: name, UploadedTo: pageID, FileName: hdr.Filename, Content: content})
	e := *f.entities["attachments"][id]
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, summary(e))
}

func (f *FakeBookStack) byID(kind, raw string) (Entity, bool) {
	id, err := strconv.Atoi(raw)
	if err != nil {
		return Entity{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[kind][id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

func summary(e Entity) map[string]any {
	m := map[string]any{"id": e.ID, "name": e.Name, "slug": strings.ToLower(strings.ReplaceAll(e.Name, " ", "-"))}
	switch e.Kind {
	case "chapters":
		m["book_id"] = e.BookID
	case "pages":
		m["book_id"] = e.BookID
		m["chapter_id"] = e.ChapterID
	case "attachments":
		m["uploaded_to"] = e.UploadedTo
		m["extension"] = strings.TrimPrefix(e.FileName[strings.LastIndex(e.FileName, ".")+1:], ".")
	}
	return m
}

func (f *FakeBookStack) detail(e Entity) map[string]any {
	m := summary(e)
	switch e.Kind {
	case "pages":
		m["markdown"] = e.Markdown
	case "shelves":
		books := []map[string]any{}
		f.mu.Lock()
		for _, id := range e.Books {
			if b, ok := f.entities["books"][id]; ok {
				books = append(books, map[string]any{"id": b.ID, "name": b.Name})
			}
		}
		f.mu.Unlock()
		m["books"] = books
	}
	return m
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"code": status, "message": msg}})
}
