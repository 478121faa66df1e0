package bookstack

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/starford/obsidian2bookstack/internal/checksum"
)

// listAll walks a paginated list endpoint until total is reached.
func listAll[T any](ctx context.Context, c *Client, path string, filter url.Values) ([]T, error) {
	var all []T
	for offset := 0; ; {
		q := url.Values{}
		for k, v := range filter {
			q[k] = v
		}
		q.Set("count", strconv.Itoa(c.cfg.PageSize))
		q.Set("offset", strconv.Itoa(offset))
		q.Set("sort", "+id")

		var resp listResponse[T]
		if err := c.do(ctx, request{method: http.MethodGet, path: path + "?" + q.Encode(), out: &resp}); err != nil {
			return nil, err
		}
		all = append(all, resp.Data...)
		offset += len(resp.Data)
		if len(resp.Data) == 0 || offset >= resp.Total {
			return all, nil
		}
	}
}

// ListShelves returns every shelf, without book membership.
func (c *Client) ListShelves(ctx context.Context) ([]Shelf, error) {
	return listAll[Shelf](ctx, c, "/api/shelves", nil)
}

// GetShelf returns a shelf including its books.
func (c *Client) GetShelf(ctx context.Context, id int) (Shelf, error) {
	var s Shelf
	err := c.do(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/api/shelves/%d", id), out: &s})
	return s, err
}

// CreateShelf creates an empty shelf.
func (c *Client) CreateShelf(ctx context.Context, name string) (Shelf, error) {
	var s Shelf
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/shelves",
		body:   jsonBody(map[string]any{"name": name}),
		out:    &s,
	})
	return s, err
}

// SetShelfBooks replaces the shelf's book list.
func (c *Client) SetShelfBooks(ctx context.Context, id int, bookIDs []int) (Shelf, error) {
	if bookIDs == nil {
		bookIDs = []int{}
	}
	var s Shelf
	err := c.do(ctx, request{
		method: http.MethodPut,
		path:   fmt.Sprintf("/api/shelves/%d", id),
		body:   jsonBody(map[string]any{"books": bookIDs}),
		out:    &s,
	})
	return s, err
}

// ListBooks returns every book.
func (c *Client) ListBooks(ctx context.Context) ([]Book, error) {
	return listAll[Book](ctx, c, "/api/books", nil)
}

// CreateBook creates a book on no shelf.
func (c *Client) CreateBook(ctx context.Context, name string) (Book, error) {
	var b Book
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/books",
		body:   jsonBody(map[string]any{"name": name}),
		out:    &b,
	})
	return b, err
}

// ListChapters returns every chapter.
func (c *Client) ListChapters(ctx context.Context) ([]Chapter, error) {
	return listAll[Chapter](ctx, c, "/api/chapters", nil)
}

// CreateChapter creates a chapter in a book.
func (c *Client) CreateChapter(ctx context.Context, bookID int, name string) (Chapter, error) {
	var ch Chapter
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/chapters",
		body:   jsonBody(map[string]any{"book_id": bookID, "name": name}),
		out:    &ch,
	})
	return ch, err
}

// ListPages returns every page without content; use GetPage for markdown.
func (c *Client) ListPages(ctx context.Context) ([]Page, error) {
	return listAll[Page](ctx, c, "/api/pages", nil)
}

// GetPage returns a page including its markdown.
func (c *Client) GetPage(ctx context.Context, id int) (Page, error) {
	var p Page
	err := c.do(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/api/pages/%d", id), out: &p})
	return p, err
}

// CreatePage creates a page in the book or chapter named by in.
func (c *Client) CreatePage(ctx context.Context, in PageInput) (Page, error) {
	var p Page
	err := c.do(ctx, request{method: http.MethodPost, path: "/api/pages", body: jsonBody(in), out: &p})
	return p, err
}

// UpdatePage replaces a page's name and markdown. Parent fields in in are ignored.
func (c *Client) UpdatePage(ctx context.Context, id int, in PageInput) (Page, error) {
	var p Page
	err := c.do(ctx, request{
		method: http.MethodPut,
		path:   fmt.Sprintf("/api/pages/%d", id),
		body:   jsonBody(map[string]any{"name": in.Name, "markdown": in.Markdown}),
		out:    &p,
	})
	return p, err
}

// ListAttachments returns every attachment, without content.
func (c *Client) ListAttachments(ctx context.Context) ([]Attachment, error) {
	return listAll[Attachment](ctx, c, "/api/attachments", nil)
}

// Upload is the input of UploadAttachment. Open is called once per attempt.
type Upload struct {
	PageID   int
	Name     string
	FileName string
	Open     func() (io.ReadCloser, error)
}

// UploadAttachment uploads a file to a page. Content is deduplicated for the
// lifetime of the client: a second upload of identical bytes returns the
// first result, and concurrent identical uploads share one request.
func (c *Client) UploadAttachment(ctx context.Context, u Upload) (Attachment, error) {
	digest, err := c.digest(u)
	if err != nil {
		return Attachment{}, err
	}

	c.mu.Lock()
	a, ok := c.uploaded[digest]
	c.mu.Unlock()
	if ok {
		return a, nil
	}

	v, err, _ := c.uploads.Do(digest, func() (any, error) {
		var a Attachment
		err := c.do(ctx, request{
			method: http.MethodPost,
			path:   "/api/attachments",
			body:   multipartBody(u),
			out:    &a,
		})
		if err != nil {
			return Attachment{}, err
		}
		c.mu.Lock()
		c.uploaded[digest] = a
		c.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return Attachment{}, err
	}
	return v.(Attachment), nil
}

func (c *Client) digest(u Upload) (string, error) {
	rc, err := u.Open()
	if err != nil {
		return "", fmt.Errorf("bookstack: open %s: %w", u.FileName, err)
	}
	defer rc.Close()
	sum, _, err := checksum.SumReader(rc)
	if err != nil {
		return "", fmt.Errorf("bookstack: read %s: %w", u.FileName, err)
	}
	return sum, nil
}

// multipartBody streams the upload through a pipe so large files are never
// held in memory.
func multipartBody(u Upload) func() (io.Reader, string, error) {
	return func() (io.Reader, string, error) {
		rc, err := u.Open()
		if err != nil {
			return nil, "", err
		}
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			defer rc.Close()
			err := writeUpload(mw, u, rc)
			if cerr := mw.Close(); err == nil {
				err = cerr
			}
			pw.CloseWithError(err)
		}()
		return pr, mw.FormDataContentType(), nil
	}
}

func writeUpload(mw *multipart.Writer, u Upload, r io.Reader) error {
	if err := mw.WriteField("name", u.Name); err != nil {
		return err
	}
	if err := mw.WriteField("uploaded_to", strconv.Itoa(u.PageID)); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", u.FileName)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, r)
	return err
}
