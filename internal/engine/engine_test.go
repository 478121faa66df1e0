package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/obsidian2bookstack/internal/apperr"
	"github.com/starford/obsidian2bookstack/internal/bookstack"
	"github.com/starford/obsidian2bookstack/internal/testutil"
	"github.com/starford/obsidian2bookstack/internal/vault"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(fake *testutil.FakeBookStack) *bookstack.Client {
	return bookstack.New(bookstack.Config{
		BaseURL:        fake.URL,
		TokenID:        testutil.FakeTokenID,
		TokenSecret:    testutil.FakeTokenSecret,
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		Timeout:        5 * time.Second,
		PageSize:       50,
		Logger:         quietLogger(),
	})
}

// newEngine builds an engine over a fresh client, so upload dedup state never
// leaks between runs.
func newEngine(fs *vault.FS, fake *testutil.FakeBookStack, opts ...Option) *Engine {
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(fs, newClient(fake), Config{Workers: 3}, opts...)
}

func pageMarkdown(t *testing.T, fake *testutil.FakeBookStack, name string) string {
	t.Helper()
	p, ok := fake.Find("pages", name)
	if !ok {
		t.Fatalf("page %q not found", name)
	}
	return p.Markdown
}

func TestRun_ProjectsScenario(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	_, fs := testutil.TestVault(t, map[string]string{
		"Projects/Alpha.md": "See [[Beta]].",
		"Projects/Beta.md":  "Beta body",
	})

	plan, _, err := newEngine(fs, fake).Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	var got []string
	for _, op := range plan.Ops {
		got = append(got, op.Kind.String()+" "+op.Label())
	}
	want := []string{"create_book Projects", "create_page Projects/Alpha", "create_page Projects/Beta"}
	if strings.Join(got, "; ") != strings.Join(want, "; ") {
		t.Fatalf("plan = %v, want %v", got, want)
	}
	if !plan.Ops[1].Pending || plan.Ops[2].Pending {
		t.Error("only Alpha should wait for the link pass")
	}
	if fake.Mutations() != 0 {
		t.Fatal("Plan must not mutate")
	}

	rep, err := newEngine(fs, fake).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.ExitCode() != 0 {
		t.Fatalf("exit = %d: %+v", rep.ExitCode(), rep.Nodes)
	}
	beta, _ := fake.Find("pages", "Beta")
	if md := pageMarkdown(t, fake, "Alpha"); md != fmt.Sprintf("See [Beta](/link/%d).", beta.ID) {
		t.Errorf("Alpha markdown = %q", md)
	}
	if n := fake.Calls("PUT /api/pages/"); n != 1 {
		t.Errorf("pass-2 updates = %d, want 1", n)
	}
	if res, _ := rep.Find("Projects/Alpha"); res.Action != ActionCreated {
		t.Errorf("Alpha action = %s", res.Action)
	}
}

func TestRun_SharedAttachmentUploadedOnce(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	_, fs := testutil.TestVault(t, map[string]string{
		"one.md":      "![[diagram.png]]",
		"two.md":      "Also ![[diagram.png|300]] here",
		"diagram.png": "PNGDATA",
	})

	plan, _, err := newEngine(fs, fake).Plan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n := plan.Counts()[UploadAttachment]; n != 1 {
		t.Fatalf("upload ops = %d, want 1", n)
	}

	rep, err := newEngine(fs, fake).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.ExitCode() != 0 {
		t.Fatalf("exit = %d: %+v", rep.ExitCode(), rep.Nodes)
	}
	atts := fake.All("attachments")
	if len(atts) != 1 {
		t.Fatalf("attachments = %d, want 1", len(atts))
	}
	embed := fmt.Sprintf("![diagram.png](/attachments/%d?open=true)", atts[0].ID)
	if md := pageMarkdown(t, fake, "one"); md != embed {
		t.Errorf("one = %q, want %q", md, embed)
	}
	if md := pageMarkdown(t, fake, "two"); md != "Also "+embed+" here" {
		t.Errorf("two = %q", md)
	}
	if string(atts[0].Content) != "PNGDATA" {
		t.Errorf("content = %q", atts[0].Content)
	}
}

var richVault = map[string]string{
	"Home.md":                     "Start at [[Work/Alpha/Plan|the plan]] or [[Ideas]].",
	"Work/Alpha/Plan.md":          "---\ntitle: Master Plan\n---\nSee [[Tasks#Next steps]] and ![[chart.png]].",
	"Work/Alpha/Design/Tasks.md":  "Back to [[Home]]. Missing [[Nowhere]].",
	"Work/Alpha/Design/Deep/x.md": "deep note",
	"Work/Beta/Readme.md":         "Attachment [[spec.pdf]]",
	"Work/Intro.md":               "shelf-level note",
	"Ideas/Ideas.md":              "![[chart.png]]",
	"Private/secret.md":           "---\npublish: false\n---\nhidden",
	"chart.png":                   "CHART",
	"docs/spec.pdf":               "%PDF",
	".obsidian/workspace.json":    "{}",
}

func TestRun_SecondRunIsAllSkips(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	_, fs := testutil.TestVault(t, richVault)

	rep, err := newEngine(fs, fake).Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if rep.ExitCode() != 0 {
		t.Fatalf("first exit = %d: %+v", rep.ExitCode(), rep.Nodes)
	}
	fake.ResetCalls()

	plan, _, err := newEngine(fs, fake).Plan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, op := range plan.Ops {
		if op.Kind != Skip {
			t.Errorf("second plan has %s %s", op.Kind, op.Label())
		}
	}

	rep, err = newEngine(fs, fake).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if fake.Mutations() != 0 {
		t.Errorf("second run mutated %d times", fake.Mutations())
	}
	if c := rep.Counts(); c[ActionCreated]+c[ActionUpdated] != 0 {
		t.Errorf("second run counts = %v", c)
	}
}

func TestPlan_ParentsComeFirst(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	_, fs := testutil.TestVault(t, richVault)

	plan, _, err := newEngine(fs, fake).Plan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[string]bool)
	for i, op := range plan.Ops {
		if op.Node == nil {
			continue
		}
		if op.Node.Parent != nil && !seen[op.Node.Parent.Level.String()+op.Node.Parent.Path()] {
			t.Errorf("op %d %s %s precedes its parent", i, op.Kind, op.Label())
		}
		seen[op.Node.Level.String()+op.Node.Path()] = true
	}
}

func TestRun_LinksReachFixpoint(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	_, fs := testutil.TestVault(t, richVault)

	rep, err := newEngine(fs, fake).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range fake.All("pages") {
		md := strings.ReplaceAll(p.Markdown, "[[Nowhere]]"+" _(broken link)_", "")
		if strings.Contains(md, "[[") {
			t.Errorf("page %q keeps a placeholder: %q", p.Name, p.Markdown)
		}
	}
	plan, ok := fake.Find("pages", "Master Plan")
	if !ok {
		t.Fatal("Master Plan not created")
	}
	home := pageMarkdown(t, fake, "Home")
	if !strings.Contains(home, fmt.Sprintf("[the plan](/link/%d)", plan.ID)) {
		t.Errorf("Home = %q", home)
	}
	tasks, _ := fake.Find("pages", "Tasks")
	if md := plan.Markdown; !strings.Contains(md, fmt.Sprintf("(/link/%d#bkmrk-next-steps)", tasks.ID)) {
		t.Errorf("Master Plan = %q", md)
	}

	var unresolved int
	for _, w := range rep.Warnings {
		if w.Kind == "LinkUnresolved" {
			unresolved++
		}
	}
	if unresolved != 1 {
		t.Errorf("unresolved warnings = %d, want 1: %+v", unresolved, rep.Warnings)
	}
	if _, ok := fake.Find("pages", "secret"); ok {
		t.Error("unpublished note synced")
	}
}

func TestRun_CollidingNamesStayDistinct(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	_, fs := testutil.TestVault(t, map[string]string{
		"Notes/a.md": "---\ntitle: Same\n---\none",
		"Notes/b.md": "---\ntitle: Same\n---\ntwo",
	})
	rep, err := newEngine(fs, fake).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	first, ok1 := fake.Find("pages", "Same")
	second, ok2 := fake.Find("pages", "Same (Notes/b.md)")
	if !ok1 || !ok2 || first.Markdown != "one" || second.Markdown != "two" {
		t.Errorf("pages = %+v", fake.All("pages"))
	}
	if len(rep.Warnings) != 1 || rep.Warnings[0].Kind != "MappingConflict" {
		t.Errorf("warnings = %+v", rep.Warnings)
	}
}

func TestRun_ShelvesBooks(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	_, fs := testutil.TestVault(t, map[string]string{
		"Work/Alpha/a.md": "a",
		"Work/Beta/b.md":  "b",
	})
	if _, err := newEngine(fs, fake).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	shelf, ok := fake.Find("shelves", "Work")
	if !ok {
		t.Fatal("shelf missing")
	}
	alpha, _ := fake.Find("books", "Alpha")
	beta, _ := fake.Find("books", "Beta")
	if !slices.Contains(shelf.Books, alpha.ID) || !slices.Contains(shelf.Books, beta.ID) || len(shelf.Books) != 2 {
		t.Errorf("shelf books = %v, want %d and %d", shelf.Books, alpha.ID, beta.ID)
	}
}

func TestRun_KeepsForeignShelfBooks(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	foreign := fake.Add(testutil.Entity{Kind: "books", Name: "Handbook"})
	fake.Add(testutil.Entity{Kind: "shelves", Name: "Work", Books: []int{foreign}})
	_, fs := testutil.TestVault(t, map[string]string{"Work/Alpha/a.md": "a"})

	if _, err := newEngine(fs, fake).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	shelf, _ := fake.Find("shelves", "Work")
	alpha, _ := fake.Find("books", "Alpha")
	if len(shelf.Books) != 2 || shelf.Books[0] != foreign || shelf.Books[1] != alpha.ID {
		t.Errorf("shelf books = %v", shelf.Books)
	}
}

func TestRun_RecoversUnshelvedBook(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	_, fs := testutil.TestVault(t, map[string]string{"Work/Alpha/a.md": "a"})
	fake.Fail(testutil.Fault{Method: http.MethodPut, Status: http.StatusForbidden, Times: 1})

	rep, err := newEngine(fs, fake).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.ExitCode() != 2 {
		t.Fatalf("exit = %d, want 2", rep.ExitCode())
	}
	if res, _ := rep.Find("Work"); res.Action != ActionFailed || res.ErrorKind != "RemoteRejected" {
		t.Errorf("shelf result = %+v", res)
	}
	if res, _ := rep.Find("Work/Alpha/a"); res.Action != ActionCreated {
		t.Errorf("page must still be created: %+v", res)
	}

	fake.ResetCalls()
	rep, err = newEngine(fs, fake).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.ExitCode() != 0 {
		t.Fatalf("second exit = %d: %+v", rep.ExitCode(), rep.Nodes)
	}
	if n := fake.Calls("POST "); n != 0 {
		t.Errorf("second run created %d entities", n)
	}
	if n := fake.Calls("PUT /api/shelves/"); n != 1 {
		t.Errorf("shelf updates = %d, want 1", n)
	}
}

func assertNoChanges(t *testing.T, fs *vault.FS, fake *testutil.FakeBookStack) {
	t.Helper()
	plan, _, err := newEngine(fs, fake).Plan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, op := range plan.Ops {
		if op.Kind != Skip {
			t.Errorf("follow-up plan has %s %s", op.Kind, op.Label())
		}
	}
}

func TestRun_IdenticalFilesShareUpload(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	_, fs := testutil.TestVault(t, map[string]string{
		"one.md": "![[a.png]]",
		"two.md": "![[b.png]]",
		"a.png":  "SAMEBYTES",
		"b.png":  "SAMEBYTES",
	})

	rep, err := newEngine(fs, fake).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.ExitCode() != 0 {
		t.Fatalf("exit = %d: %+v", rep.ExitCode(), rep.Nodes)
	}
	atts := fake.All("attachments")
	if len(atts) != 1 {
		t.Fatalf("attachments = %d, want 1", len(atts))
	}
	embed := fmt.Sprintf("/attachments/%d?open=true", atts[0].ID)
	for _, page := range []string{"one", "two"} {
		if md := pageMarkdown(t, fake, page); !strings.Contains(md, embed) {
			t.Errorf("%s = %q", page, md)
		}
	}

	assertNoChanges(t, fs, fake)
}

func TestRun_StandaloneBookNotMergedIntoShelfBook(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	dir, fs := testutil.TestVault(t, map[string]string{
		"Work/Alpha/x.md": "x",
		"Work/Beta/y.md":  "y",
	})
	if _, err := newEngine(fs, fake).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	shelved, _ := fake.Find("books", "Alpha")

	testutil.WriteFiles(t, dir, map[string]string{"Alpha/z.md": "z"})
	rep, err := newEngine(fs, fake).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res, _ := rep.Find("Alpha"); res.Action != ActionCreated || res.RemoteID == shelved.ID {
		t.Fatalf("standalone Alpha = %+v, shelved book is %d", res, shelved.ID)
	}
	z, _ := fake.Find("pages", "z")
	if z.BookID == shelved.ID {
		t.Error("z was created inside the shelved Alpha book")
	}
	shelf, _ := fake.Find("shelves", "Work")
	if slices.Contains(shelf.Books, z.BookID) {
		t.Errorf("standalone book put on shelf: %v", shelf.Books)
	}

	assertNoChanges(t, fs, fake)
}

func TestRun_ShelfBookDoesNotClaimStandaloneBook(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	dir, fs := testutil.TestVault(t, map[string]string{"Alpha/z.md": "z"})
	if _, err := newEngine(fs, fake).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	standalone, _ := fake.Find("books", "Alpha")

	testutil.WriteFiles(t, dir, map[string]string{
		"Work/Alpha/x.md": "x",
		"Work/Beta/y.md":  "y",
	})
	rep, err := newEngine(fs, fake).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.ExitCode() != 0 {
		t.Fatalf("exit = %d: %+v", rep.ExitCode(), rep.Nodes)
	}
	if res, _ := rep.Find("Work/Alpha"); res.Action != ActionCreated || res.RemoteID == standalone.ID {
		t.Errorf("shelf Alpha = %+v, standalone book is %d", res, standalone.ID)
	}
	shelf, _ := fake.Find("shelves", "Work")
	if slices.Contains(shelf.Books, standalone.ID) {
		t.Errorf("standalone book moved onto shelf: %v", shelf.Books)
	}

	assertNoChanges(t, fs, fake)
}

func TestRun_FailedBookSkipsDescendants(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	_, fs := testutil.TestVault(t, map[string]string{
		"Projects/Alpha.md": "[[Other]]",
		"Projects/Beta.md":  "b",
		"Misc/Other.md":     "[[Alpha]]",
	})
	fake.Fail(testutil.Fault{Method: http.MethodPost, Path: "/api/books", Name: "Projects", Status: http.StatusUnprocessableEntity})

	rep, err := newEngine(fs, fake).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.ExitCode() != 2 {
		t.Errorf("exit = %d, want 2", rep.ExitCode())
	}
	book, _ := rep.Find("Projects")
	if book.Action != ActionFailed || book.ErrorKind != "RemoteRejected" {
		t.Errorf("book = %+v", book)
	}
	for _, p := range []string{"Projects/Alpha", "Projects/Beta"} {
		res, _ := rep.Find(p)
		if res.Action != ActionSkipped || res.ErrorKind != "AncestorFailed" {
			t.Errorf("%s = %+v", p, res)
		}
	}
	if res, _ := rep.Find("Misc/Other"); res.Action != ActionCreated {
		t.Errorf("independent page = %+v", res)
	}
	// Alpha never got an ID, so the link stays a placeholder.
	if md := pageMarkdown(t, fake, "Other"); md != "[[Alpha]]" {
		t.Errorf("Other = %q", md)
	}
}

func TestRun_RemoteUnavailableIsFatal(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	_, fs := testutil.TestVault(t, map[string]string{"a.md": "a"})
	fake.Fail(testutil.Fault{Method: http.MethodGet, Path: "/api/books", Status: http.StatusServiceUnavailable})

	rep, err := newEngine(fs, fake).Run(context.Background())
	if !errors.Is(err, apperr.ErrRemoteUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if rep.ExitCode() != 1 || rep.State != Failed || rep.FatalKind != "RemoteUnavailable" {
		t.Errorf("report = %+v", rep)
	}
	if fake.Mutations() != 0 {
		t.Error("fatal run must not mutate")
	}
}

func TestRun_CancelStopsScheduling(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	_, fs := testutil.TestVault(t, richVault)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newEngine(fs, fake, WithObserver(func(ev Event) {
		if ev.Node == nil && ev.State == ExecutingCreates {
			cancel()
		}
	}))
	rep, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fake.Mutations() != 0 {
		t.Errorf("mutations after cancel = %d", fake.Mutations())
	}
	if rep.ExitCode() != 2 {
		t.Errorf("exit = %d, want 2", rep.ExitCode())
	}
	c := rep.Counts()
	if c[ActionCancelled] == 0 || c[ActionCreated] != 0 {
		t.Errorf("counts = %v", c)
	}
	for _, n := range rep.Nodes {
		if n.Action == ActionCancelled && n.ErrorKind != "Cancelled" {
			t.Errorf("%s kind = %q", n.Path, n.ErrorKind)
		}
	}
}

func TestRun_UpdatesChangedPage(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	dir, fs := testutil.TestVault(t, map[string]string{"Book/a.md": "v1", "Book/b.md": "same"})
	if _, err := newEngine(fs, fake).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFiles(t, dir, map[string]string{"Book/a.md": "v2"})
	fake.ResetCalls()

	rep, err := newEngine(fs, fake).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n := fake.Mutations(); n != 1 {
		t.Errorf("mutations = %d, want 1", n)
	}
	if res, _ := rep.Find("Book/a"); res.Action != ActionUpdated {
		t.Errorf("a = %+v", res)
	}
	if res, _ := rep.Find("Book/b"); res.Action != ActionSkipped {
		t.Errorf("b = %+v", res)
	}
	if md := pageMarkdown(t, fake, "a"); md != "v2" {
		t.Errorf("a = %q", md)
	}
}

func TestRun_EmitsStateTransitions(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	_, fs := testutil.TestVault(t, map[string]string{"a.md": "[[b]]", "b.md": "b"})

	var mu sync.Mutex
	var states []string
	nodes := 0
	e := newEngine(fs, fake, WithObserver(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Node != nil {
			nodes++
			return
		}
		states = append(states, ev.State.String())
	}))
	rep, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := "scanning mapping diffing planning executing_creates resolving_links executing_link_updates done"
	if got := strings.Join(states, " "); got != want {
		t.Errorf("states = %s", got)
	}
	if nodes < len(rep.Nodes) {
		t.Errorf("node events = %d, results = %d", nodes, len(rep.Nodes))
	}
	if rep.RunID == "" || rep.State != Done {
		t.Errorf("report = %+v", rep)
	}
}

func TestRun_FoldsDeepFolders(t *testing.T) {
	fake := testutil.NewFakeBookStack(t)
	_, fs := testutil.TestVault(t, map[string]string{"S/B/C/D/E/n.md": "deep"})
	rep, err := newEngine(fs, fake).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fake.Find("pages", "D / E / n"); !ok {
		t.Errorf("pages = %+v", fake.All("pages"))
	}
	if len(rep.Warnings) != 1 || rep.Warnings[0].Kind != "MappingPolicy" {
		t.Errorf("warnings = %+v", rep.Warnings)
	}
}
